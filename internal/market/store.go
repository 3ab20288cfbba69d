package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UsageQuery 描述用量日志的查询条件。零值字段表示不过滤。
type UsageQuery struct {
	Since    time.Time
	ToolIDs  []string
	AgentIDs []string
	Limit    int
}

// PaymentQuery 描述支付记录的查询条件。零值字段表示不过滤。
type PaymentQuery struct {
	Since    time.Time
	ToolIDs  []string
	AgentIDs []string
	Status   PaymentStatus
}

// ToolPatch 描述提供方对已提交工具允许修改的字段。
type ToolPatch struct {
	IsActive *bool
	PriceUSD *decimal.Decimal
}

// Store 抽象市场数据的持久化接口。实现必须并发安全；CreatePayment 对
// TxHash 的唯一性检查必须发生在存储层，因为多个网关实例可能同时运行。
type Store interface {
	// Agent。
	CreateAgent(ctx context.Context, agent *Agent) error
	AgentByID(ctx context.Context, id string) (*Agent, error)
	AgentByAPIKey(ctx context.Context, apiKey string) (*Agent, error)
	AgentByWallet(ctx context.Context, walletAddress string) (*Agent, error)
	// CreditAgent 累加消费额与调用次数并刷新活跃时间。读改写，
	// 不受 TxHash 唯一约束保护，见 DESIGN.md 的开放问题记录。
	CreditAgent(ctx context.Context, id string, amount decimal.Decimal, at time.Time) error

	// Provider。
	CreateProvider(ctx context.Context, provider *Provider) error
	ProviderByID(ctx context.Context, id string) (*Provider, error)
	ProviderByAPIKey(ctx context.Context, apiKey string) (*Provider, error)
	ProviderByUser(ctx context.Context, userID string) (*Provider, error)
	CreditProvider(ctx context.Context, id string, amount decimal.Decimal) error

	// Tool。
	CreateTool(ctx context.Context, tool *Tool) error
	// ToolByID 只返回 isActive 且已审核通过的工具。
	ToolByID(ctx context.Context, id string) (*Tool, error)
	ListActiveTools(ctx context.Context) ([]*Tool, error)
	ListToolsByProvider(ctx context.Context, providerID string) ([]*Tool, error)
	UpdateTool(ctx context.Context, id, providerID string, patch ToolPatch) error

	// Payment 与 UsageLog 是只追加的事件记录。
	CreatePayment(ctx context.Context, payment *Payment) error
	ListPayments(ctx context.Context, q PaymentQuery) ([]*Payment, error)
	AppendUsageLog(ctx context.Context, log *UsageLog) error
	ListUsageLogs(ctx context.Context, q UsageQuery) ([]*UsageLog, error)

	Close() error
}
