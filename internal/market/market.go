package market

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	xerrors "ChainBazaar/internal/errors"
)

// ToolStatus 表示工具在审核生命周期中的状态。
type ToolStatus string

const (
	ToolPending  ToolStatus = "pending"
	ToolApproved ToolStatus = "approved"
	ToolRejected ToolStatus = "rejected"
)

// ProviderStatus 表示提供方账户的状态。
type ProviderStatus string

const (
	ProviderPending   ProviderStatus = "pending"
	ProviderApproved  ProviderStatus = "approved"
	ProviderSuspended ProviderStatus = "suspended"
)

// PaymentStatus 表示链上支付记录的状态。记录只会从 pending 迁移到
// confirmed，不存在其他状态变更。
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

// Tool 描述一个由提供方提交、持久化在市场中的数据工具。
// 平台内置工具不落库，由 registry 包的静态目录承载。
type Tool struct {
	ID           string         `json:"id"`
	ProviderID   string         `json:"provider_id,omitempty"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	ExternalURL  string         `json:"external_url,omitempty"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	RevenueShare int            `json:"revenue_share"`
	Category     string         `json:"category"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	IsActive     bool           `json:"is_active"`
	Status       ToolStatus     `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Reachable 判断工具是否可以被调用方解析到。
func (t *Tool) Reachable() bool {
	return t != nil && t.IsActive && t.Status == ToolApproved
}

// Agent 表示一个以钱包地址注册、凭 API key 调用工具的自动化调用方。
type Agent struct {
	ID            string          `json:"id"`
	WalletAddress string          `json:"wallet_address"`
	Name          string          `json:"name,omitempty"`
	Email         string          `json:"email,omitempty"`
	APIKey        string          `json:"api_key"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	RequestCount  int64           `json:"request_count"`
	LastActiveAt  *time.Time      `json:"last_active_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Provider 表示上架外部工具并按比例分成的第三方。
type Provider struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	WalletAddress string          `json:"wallet_address"`
	APIKey        string          `json:"api_key"`
	TotalEarned   decimal.Decimal `json:"total_earned"`
	Status        ProviderStatus  `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Payment 表示一笔已验证的链上转账。TxHash 全局唯一，是防止同一笔
// 转账解锁多次执行的幂等边界。
type Payment struct {
	ID          string          `json:"id"`
	TxHash      string          `json:"tx_hash"`
	AgentID     string          `json:"agent_id"`
	ToolID      string          `json:"tool_id"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
	AmountToken decimal.Decimal `json:"amount_token"`
	Network     string          `json:"network"`
	Status      PaymentStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
}

// UsageLog 记录一次工具调用的结果，成功与失败都会落一行。
type UsageLog struct {
	ID             string    `json:"id"`
	ToolID         string    `json:"tool_id"`
	AgentID        string    `json:"agent_id"`
	PaymentID      string    `json:"payment_id,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	StatusCode     int       `json:"status_code"`
	Success        bool      `json:"success"`
	ErrorType      string    `json:"error_type,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

var (
	// ErrToolNotFound 表示指定的工具不存在或不可达。
	ErrToolNotFound = xerrors.New(CodeToolNotFound, "tool not found")
	// ErrAgentNotFound 表示指定的 Agent 不存在。
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent not found")
	// ErrProviderNotFound 表示指定的提供方不存在。
	ErrProviderNotFound = xerrors.New(CodeProviderNotFound, "provider not found")
	// ErrDuplicatePayment 表示交易哈希已被消费，存储层的唯一约束是
	// 系统中唯一的互斥原语。
	ErrDuplicatePayment = xerrors.New(CodeDuplicatePayment, "payment transaction already used",
		xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrConflict 表示同名主键的记录已存在。
	ErrConflict = xerrors.New(xerrors.CodeConflict, "record already exists")
)

const (
	CodeToolNotFound     xerrors.Code = "TOOL_NOT_FOUND"
	CodeAgentNotFound    xerrors.Code = "AGENT_NOT_FOUND"
	CodeProviderNotFound xerrors.Code = "PROVIDER_NOT_FOUND"
	CodeDuplicatePayment xerrors.Code = "DUPLICATE_PAYMENT"
)

func init() {
	xerrors.Register(CodeToolNotFound, xerrors.Attributes{
		Message:  "tool not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:  "agent not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeProviderNotFound, xerrors.Attributes{
		Message:  "provider not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeDuplicatePayment, xerrors.Attributes{
		Message:  "payment transaction already used",
		Severity: xerrors.SeverityWarning,
	})
}

const (
	// AgentKeyPrefix 是买方 API key 的前缀。
	AgentKeyPrefix = "bzr_"
	// ProviderKeyPrefix 是提供方 API key 的前缀。
	ProviderKeyPrefix = "prov_"
)

// NewAgentKey 铸造一个买方 API key。
func NewAgentKey() string {
	return AgentKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewProviderKey 铸造一个提供方 API key。
func NewProviderKey() string {
	return ProviderKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NormalizeAddress 统一钱包地址的比较形式。链上地址大小写不敏感。
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Slug 将工具名称转成 id 片段，提供方提交工具时使用。
func Slug(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	return strings.Join(fields, "-")
}
