package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	xerrors "ChainBazaar/internal/errors"
	"ChainBazaar/internal/llm"
	"ChainBazaar/internal/market"
	"ChainBazaar/internal/registry"
)

// CodeRateLimited 表示演示会话触发了频率限制。
const CodeRateLimited xerrors.Code = "RATE_LIMITED"

func init() {
	xerrors.Register(CodeRateLimited, xerrors.Attributes{
		Message:  "demo session rate limit exceeded",
		Severity: xerrors.SeverityWarning,
	})
}

// ErrRateLimited 在身份超出会话配额时返回。
var ErrRateLimited = xerrors.New(CodeRateLimited, "demo session rate limit exceeded")

// Limiter 抽象会话启动的限流判断。限流失效时实现应放行。
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// alwaysAllow 是未配置限流时的空实现。
type alwaysAllow struct{}

func (alwaysAllow) Allow(context.Context, string) bool { return true }

// Deps 汇集会话运行所需的全部依赖。
type Deps struct {
	Store    market.Store
	Registry *registry.Registry
	LLM      llm.Client
	Payer    Payer
	Limiter  Limiter
	Config   Config
}

// Manager 按会话 id 管理演示会话,每个观察者连接对应一个会话实例。
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager 创建会话管理器。
func NewManager(deps Deps) *Manager {
	if deps.Limiter == nil {
		deps.Limiter = alwaysAllow{}
	}
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Start 校验限流后创建一个新会话。identity 标识请求来源,通常取客户端
// 地址。
func (m *Manager) Start(ctx context.Context, identity string) (*Session, error) {
	if !m.deps.Limiter.Allow(ctx, identity) {
		return nil, ErrRateLimited
	}

	session := newSession(uuid.NewString(), m.deps)
	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()
	return session, nil
}

// Session 按 id 查找会话。
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Remove 移除会话。观察者全部断开后由网关调用。
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
