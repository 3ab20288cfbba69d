package market

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore 提供 Store 的内存实现，用于本地开发与测试。
// TxHash 的唯一性由 payments 索引在锁内保证，与 MySQL 实现的
// 唯一约束语义一致。
type MemoryStore struct {
	mu             sync.RWMutex
	agents         map[string]*Agent
	agentsByKey    map[string]string
	agentsByWallet map[string]string
	providers      map[string]*Provider
	providersByKey map[string]string
	providersByUID map[string]string
	tools          map[string]*Tool
	payments       map[string]*Payment
	paymentsByTx   map[string]string
	usageLogs      []*UsageLog
}

// NewMemoryStore 创建一个空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:         make(map[string]*Agent),
		agentsByKey:    make(map[string]string),
		agentsByWallet: make(map[string]string),
		providers:      make(map[string]*Provider),
		providersByKey: make(map[string]string),
		providersByUID: make(map[string]string),
		tools:          make(map[string]*Tool),
		payments:       make(map[string]*Payment),
		paymentsByTx:   make(map[string]string),
	}
}

// CreateAgent 写入新的 Agent，钱包地址冲突时返回 ErrConflict。
func (m *MemoryStore) CreateAgent(_ context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wallet := NormalizeAddress(agent.WalletAddress)
	if _, ok := m.agents[agent.ID]; ok {
		return ErrConflict
	}
	if _, ok := m.agentsByWallet[wallet]; ok {
		return ErrConflict
	}
	cloned := *agent
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = time.Now()
	}
	m.agents[cloned.ID] = &cloned
	m.agentsByKey[cloned.APIKey] = cloned.ID
	m.agentsByWallet[wallet] = cloned.ID
	return nil
}

// AgentByID 按 id 查找 Agent。
func (m *MemoryStore) AgentByID(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cloned := *agent
	return &cloned, nil
}

// AgentByAPIKey 按 API key 查找 Agent。
func (m *MemoryStore) AgentByAPIKey(_ context.Context, apiKey string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.agentsByKey[apiKey]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cloned := *m.agents[id]
	return &cloned, nil
}

// AgentByWallet 按钱包地址查找 Agent。
func (m *MemoryStore) AgentByWallet(_ context.Context, walletAddress string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.agentsByWallet[NormalizeAddress(walletAddress)]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cloned := *m.agents[id]
	return &cloned, nil
}

// CreditAgent 累加消费额与调用次数。
func (m *MemoryStore) CreditAgent(_ context.Context, id string, amount decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	agent.TotalSpent = agent.TotalSpent.Add(amount)
	agent.RequestCount++
	agent.LastActiveAt = &at
	return nil
}

// CreateProvider 写入新的提供方，userId 冲突时返回 ErrConflict。
func (m *MemoryStore) CreateProvider(_ context.Context, provider *Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[provider.ID]; ok {
		return ErrConflict
	}
	if _, ok := m.providersByUID[provider.UserID]; ok {
		return ErrConflict
	}
	cloned := *provider
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = time.Now()
	}
	m.providers[cloned.ID] = &cloned
	m.providersByKey[cloned.APIKey] = cloned.ID
	m.providersByUID[cloned.UserID] = cloned.ID
	return nil
}

// ProviderByID 按 id 查找提供方。
func (m *MemoryStore) ProviderByID(_ context.Context, id string) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	provider, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cloned := *provider
	return &cloned, nil
}

// ProviderByAPIKey 按 API key 查找提供方。
func (m *MemoryStore) ProviderByAPIKey(_ context.Context, apiKey string) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.providersByKey[apiKey]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cloned := *m.providers[id]
	return &cloned, nil
}

// ProviderByUser 按归属用户查找提供方。
func (m *MemoryStore) ProviderByUser(_ context.Context, userID string) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.providersByUID[userID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cloned := *m.providers[id]
	return &cloned, nil
}

// CreditProvider 累加提供方分成收入。
func (m *MemoryStore) CreditProvider(_ context.Context, id string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	provider, ok := m.providers[id]
	if !ok {
		return ErrProviderNotFound
	}
	provider.TotalEarned = provider.TotalEarned.Add(amount)
	return nil
}

// CreateTool 写入提供方提交的工具。
func (m *MemoryStore) CreateTool(_ context.Context, tool *Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tools[tool.ID]; ok {
		return ErrConflict
	}
	cloned := *tool
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = time.Now()
	}
	m.tools[cloned.ID] = &cloned
	return nil
}

// ToolByID 只返回可达（isActive 且 approved）的工具。
func (m *MemoryStore) ToolByID(_ context.Context, id string) (*Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tool, ok := m.tools[id]
	if !ok || !tool.Reachable() {
		return nil, ErrToolNotFound
	}
	cloned := *tool
	return &cloned, nil
}

// ListActiveTools 返回全部可达的工具，按 id 排序以保证输出稳定。
func (m *MemoryStore) ListActiveTools(_ context.Context) ([]*Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tools := make([]*Tool, 0, len(m.tools))
	for _, tool := range m.tools {
		if !tool.Reachable() {
			continue
		}
		cloned := *tool
		tools = append(tools, &cloned)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID < tools[j].ID })
	return tools, nil
}

// ListToolsByProvider 返回提供方的全部工具，包含未激活与未审核的。
func (m *MemoryStore) ListToolsByProvider(_ context.Context, providerID string) ([]*Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tools []*Tool
	for _, tool := range m.tools {
		if tool.ProviderID != providerID {
			continue
		}
		cloned := *tool
		tools = append(tools, &cloned)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID < tools[j].ID })
	return tools, nil
}

// UpdateTool 应用提供方允许的字段修改，工具必须归属该提供方。
func (m *MemoryStore) UpdateTool(_ context.Context, id, providerID string, patch ToolPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tool, ok := m.tools[id]
	if !ok || tool.ProviderID != providerID {
		return ErrToolNotFound
	}
	if patch.IsActive != nil {
		tool.IsActive = *patch.IsActive
	}
	if patch.PriceUSD != nil {
		tool.PriceUSD = *patch.PriceUSD
	}
	return nil
}

// CreatePayment 写入支付记录。TxHash 已存在时返回 ErrDuplicatePayment，
// 两个并发请求携带同一笔交易时只有一个能通过。
func (m *MemoryStore) CreatePayment(_ context.Context, payment *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := strings.ToLower(payment.TxHash)
	if _, ok := m.paymentsByTx[tx]; ok {
		return ErrDuplicatePayment
	}
	cloned := *payment
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = time.Now()
	}
	m.payments[cloned.ID] = &cloned
	m.paymentsByTx[tx] = cloned.ID
	return nil
}

// ListPayments 返回满足条件的支付记录。
func (m *MemoryStore) ListPayments(_ context.Context, q PaymentQuery) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var payments []*Payment
	for _, payment := range m.payments {
		if !matchPayment(payment, q) {
			continue
		}
		cloned := *payment
		payments = append(payments, &cloned)
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
	return payments, nil
}

// AppendUsageLog 追加一条用量日志。
func (m *MemoryStore) AppendUsageLog(_ context.Context, log *UsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cloned := *log
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = time.Now()
	}
	m.usageLogs = append(m.usageLogs, &cloned)
	return nil
}

// ListUsageLogs 返回满足条件的用量日志，按时间倒序。
func (m *MemoryStore) ListUsageLogs(_ context.Context, q UsageQuery) ([]*UsageLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var logs []*UsageLog
	for _, log := range m.usageLogs {
		if !matchUsage(log, q) {
			continue
		}
		cloned := *log
		logs = append(logs, &cloned)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.After(logs[j].CreatedAt) })
	if q.Limit > 0 && len(logs) > q.Limit {
		logs = logs[:q.Limit]
	}
	return logs, nil
}

// Close 实现 Store 接口，内存实现无资源可释放。
func (m *MemoryStore) Close() error {
	return nil
}

func matchPayment(payment *Payment, q PaymentQuery) bool {
	if !q.Since.IsZero() && payment.CreatedAt.Before(q.Since) {
		return false
	}
	if q.Status != "" && payment.Status != q.Status {
		return false
	}
	if len(q.ToolIDs) > 0 && !containsString(q.ToolIDs, payment.ToolID) {
		return false
	}
	if len(q.AgentIDs) > 0 && !containsString(q.AgentIDs, payment.AgentID) {
		return false
	}
	return true
}

func matchUsage(log *UsageLog, q UsageQuery) bool {
	if !q.Since.IsZero() && log.CreatedAt.Before(q.Since) {
		return false
	}
	if len(q.ToolIDs) > 0 && !containsString(q.ToolIDs, log.ToolID) {
		return false
	}
	if len(q.AgentIDs) > 0 && !containsString(q.AgentIDs, log.AgentID) {
		return false
	}
	return true
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
