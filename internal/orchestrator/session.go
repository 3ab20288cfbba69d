package orchestrator

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ChainBazaar/internal/llm"
	"ChainBazaar/internal/market"
	"ChainBazaar/internal/registry"
	"ChainBazaar/pkg/logger"
)

// Payer 抽象演示智能体完成链上支付的能力。
type Payer interface {
	Pay(ctx context.Context, priceUSD decimal.Decimal, token, recipient common.Address, decimals int32) (string, error)
}

// Config 描述演示会话的固定参数:买方钱包与收款信息。
type Config struct {
	WalletAddress string
	AgentName     string
	TokenContract string
	Recipient     string
	TokenDecimals int32
	Network       string
}

// observer 是一个观察者连接的投递通道。
type observer struct {
	ch   chan Message
	once sync.Once
}

// Session 是一次演示运行的状态机。每个会话最多执行一遍完整流程,
// 观察者来去不影响执行。
type Session struct {
	id    string
	cfg   Config
	store market.Store
	tools *registry.Registry
	llm   llm.Client
	payer Payer

	mu      sync.Mutex
	agentID string
	started bool

	obsMu     sync.Mutex
	observers map[*observer]struct{}
}

func newSession(id string, deps Deps) *Session {
	return &Session{
		id:        id,
		cfg:       deps.Config,
		store:     deps.Store,
		tools:     deps.Registry,
		llm:       deps.LLM,
		payer:     deps.Payer,
		observers: make(map[*observer]struct{}),
	}
}

// ID 返回会话标识。
func (s *Session) ID() string { return s.id }

// Attach 注册一个观察者,返回事件通道与解除函数。通道在被解除或
// 因消费过慢被丢弃时关闭。
func (s *Session) Attach() (<-chan Message, func()) {
	obs := &observer{ch: make(chan Message, 32)}
	s.obsMu.Lock()
	s.observers[obs] = struct{}{}
	s.obsMu.Unlock()
	return obs.ch, func() { s.drop(obs) }
}

// Observers 返回当前挂接的观察者数量。
func (s *Session) Observers() int {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	return len(s.observers)
}

func (s *Session) drop(obs *observer) {
	s.obsMu.Lock()
	delete(s.observers, obs)
	s.obsMu.Unlock()
	obs.once.Do(func() { close(obs.ch) })
}

// broadcast 将事件推送给当前全部观察者。向慢观察者投递失败时直接
// 丢弃该观察者,广播绝不阻塞状态机。
func (s *Session) broadcast(msg Message) {
	s.obsMu.Lock()
	snapshot := make([]*observer, 0, len(s.observers))
	for obs := range s.observers {
		snapshot = append(snapshot, obs)
	}
	s.obsMu.Unlock()

	for _, obs := range snapshot {
		select {
		case obs.ch <- msg:
		default:
			s.drop(obs)
		}
	}
}

// Reset 清除会话记住的 Agent 身份。不会打断进行中的支付或模型调用。
func (s *Session) Reset() {
	s.mu.Lock()
	s.agentID = ""
	s.mu.Unlock()
	s.broadcast(newMessage(MessageAction, "Agent reset by user", nil))
}

// HandleInbound 处理观察者发来的消息,目前只识别 {"type":"reset"}。
// 无法解析的消息直接忽略。
func (s *Session) HandleInbound(raw []byte) {
	var inbound struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &inbound); err != nil {
		return
	}
	if inbound.Type == "reset" {
		s.Reset()
	}
}

// Run 执行一遍完整的演示流程。重复调用是空操作;任何一步失败都以
// error 事件结束会话,不做重试。
func (s *Session) Run(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if err := s.run(ctx); err != nil {
		logger.L().Error("演示会话失败", "session_id", s.id, "error", err)
		s.broadcast(newMessage(MessageError, "Error: "+err.Error(), nil))
	}
}

func (s *Session) run(ctx context.Context) error {
	// 注册:按钱包地址查找或创建 Agent。
	s.broadcast(newMessage(MessageThought, "Checking agent registration...", nil))

	agent, err := s.registerAgent(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.agentID = agent.ID
	s.mu.Unlock()

	s.broadcast(newMessage(MessageAction, "Initializing payment account...", nil))
	if s.payer == nil {
		return stdErrors.New("未配置支付账户")
	}
	s.broadcast(newMessage(MessageAction, "Payment account ready for transactions", nil))

	// 发现:列出带价签的全部工具。
	s.broadcast(newMessage(MessageThought, "Discovering available data APIs in marketplace...", nil))

	available, err := s.tools.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("列出市场工具失败: %w", err)
	}
	if len(available) == 0 {
		return stdErrors.New("市场中没有可用的工具")
	}

	options := make([]llm.ToolOption, 0, len(available))
	byName := make(map[string]registry.Resolved, len(available))
	names := make([]string, 0, len(available))
	listing := ""
	for _, item := range available {
		options = append(options, llm.ToolOption{
			Name:        item.Tool.Name,
			Description: item.Tool.Description,
			PriceUSD:    item.Tool.PriceUSD,
		})
		byName[item.Tool.Name] = item
		names = append(names, item.Tool.Name)
		listing += fmt.Sprintf("\n- %s: $%s - %s", item.Tool.Name, item.Tool.PriceUSD.String(), item.Tool.Description)
	}

	s.broadcast(newMessage(MessageAction,
		fmt.Sprintf("Found %d data APIs:%s", len(available), listing),
		map[string]any{"tools": names},
	))

	// 决策:由大模型在候选工具中强制选择一个。
	s.broadcast(newMessage(MessageThought, "Analyzing available tools and making autonomous purchase decision...", nil))

	selection, err := s.llm.ChooseTool(ctx, "", options)
	if err != nil {
		return fmt.Errorf("大模型选择工具失败: %w", err)
	}
	chosen, ok := byName[selection.Tool]
	if !ok {
		return fmt.Errorf("大模型选择了不存在的工具: %s", selection.Tool)
	}
	price := chosen.Tool.PriceUSD

	s.broadcast(newMessage(MessageThought,
		fmt.Sprintf("Decision: %s\nReasoning: %s", selection.Tool, selection.Reasoning),
		map[string]any{"tool": selection.Tool, "args": selection.Arguments, "price": price.InexactFloat64()},
	))

	// 支付:为选中的工具发起链上转账并等待确认。失败即终止,不重试。
	s.broadcast(newMessage(MessagePayment,
		fmt.Sprintf("Payment required: $%s", price.String()),
		map[string]any{
			"amount":    price.String(),
			"token":     s.cfg.TokenContract,
			"recipient": s.cfg.Recipient,
			"network":   s.cfg.Network,
		},
	))
	s.broadcast(newMessage(MessageAction, "Executing blockchain payment on "+s.cfg.Network+"...", nil))

	txHash, err := s.payer.Pay(ctx, price,
		common.HexToAddress(s.cfg.TokenContract),
		common.HexToAddress(s.cfg.Recipient),
		s.cfg.TokenDecimals,
	)
	if err != nil {
		return fmt.Errorf("链上支付失败: %w", err)
	}

	s.broadcast(newMessage(MessagePayment,
		fmt.Sprintf("Payment successful! $%s paid on %s", price.String(), s.cfg.Network),
		map[string]any{
			"amount":  price.String(),
			"network": s.cfg.Network,
			"txHash":  txHash,
		},
	))

	// 取数:进程内直连注册表执行,不再绕回 HTTP 网关。
	data, execErr := s.tools.Execute(ctx, chosen, selection.Arguments)
	if execErr != nil {
		return fmt.Errorf("获取工具数据失败: %s", execErr.Error())
	}

	s.broadcast(newMessage(MessageData,
		"Data received from "+selection.Tool,
		map[string]any{"data": data, "preview": preview(data)},
	))

	// 分析:固定的分析师提示词,产出一条简短建议。
	s.broadcast(newMessage(MessageThought, "Analyzing data and formulating trading recommendation...", nil))

	recommendation, err := s.llm.Analyze(ctx, data)
	if err != nil {
		return fmt.Errorf("大模型分析数据失败: %w", err)
	}

	s.broadcast(newMessage(MessageRecommendation, recommendation,
		map[string]any{"totalCost": price.InexactFloat64(), "apiUsed": selection.Tool},
	))

	s.broadcast(newMessage(MessageAction,
		fmt.Sprintf("Demo complete! Total cost: $%s (paid on %s)", price.String(), s.cfg.Network),
		map[string]any{
			"agentId":   agent.ID,
			"totalCost": price.InexactFloat64(),
			"network":   s.cfg.Network,
			"txHash":    txHash,
		},
	))
	return nil
}

// registerAgent 查找或创建演示用的 Agent,两种情形都会广播进度。
func (s *Session) registerAgent(ctx context.Context) (*market.Agent, error) {
	wallet := market.NormalizeAddress(s.cfg.WalletAddress)
	if wallet == "" {
		return nil, stdErrors.New("未配置演示钱包地址")
	}

	agent, err := s.store.AgentByWallet(ctx, wallet)
	switch {
	case err == nil:
		s.broadcast(newMessage(MessageAction,
			"Using existing agent: "+truncateID(agent.ID),
			map[string]any{"agentId": agent.ID},
		))
		return agent, nil
	case stdErrors.Is(err, market.ErrAgentNotFound):
		// 继续走创建分支。
	default:
		return nil, fmt.Errorf("查询演示 Agent 失败: %w", err)
	}

	name := s.cfg.AgentName
	if name == "" {
		name = "Autonomous Demo Agent"
	}
	agent = &market.Agent{
		ID:            uuid.NewString(),
		WalletAddress: wallet,
		Name:          name,
		APIKey:        market.NewAgentKey(),
		TotalSpent:    decimal.Zero,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("创建演示 Agent 失败: %w", err)
	}

	s.broadcast(newMessage(MessageAction,
		"Registered successfully! Agent ID: "+truncateID(agent.ID),
		map[string]any{"agentId": agent.ID},
	))
	return agent, nil
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

func preview(data any) string {
	encoded, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	if len(encoded) > 200 {
		return string(encoded[:200]) + "..."
	}
	return string(encoded)
}
