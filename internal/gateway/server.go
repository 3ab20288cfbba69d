package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ChainBazaar/internal/events"
	"ChainBazaar/internal/ledger"
	"ChainBazaar/internal/market"
	"ChainBazaar/internal/observability/metrics"
	"ChainBazaar/internal/orchestrator"
	"ChainBazaar/internal/payment"
	"ChainBazaar/internal/registry"
	"ChainBazaar/internal/web3"
)

// ChainStatus 暴露结算链的基本元数据,用于健康检查。
type ChainStatus interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// PaymentConfig 描述对外公布的收款条件,出现在 402 挑战与工具列表里。
type PaymentConfig struct {
	TokenContract string
	Recipient     string
	Network       string
	TokenDecimals int32
}

// Config 汇集网关的全部依赖。Feed 与 Sessions 可空:为空时相应能力关闭。
type Config struct {
	Addr     string
	Store    market.Store
	Registry *registry.Registry
	Verifier *payment.Verifier
	Ledger   *ledger.Ledger
	Sessions *orchestrator.Manager
	Feed     events.Producer
	Chain    ChainStatus
	Payment  PaymentConfig
}

// Server 是市场的 HTTP 入口。每次请求无状态,幂等性完全依赖存储层对
// tx_hash 的唯一约束。
type Server struct {
	addr     string
	store    market.Store
	tools    *registry.Registry
	verifier *payment.Verifier
	ledger   *ledger.Ledger
	sessions *orchestrator.Manager
	feed     events.Producer
	chain    ChainStatus
	payCfg   PaymentConfig
	upgrader websocket.Upgrader
}

// NewServer 构造网关。
func NewServer(cfg Config) *Server {
	return &Server{
		addr:     cfg.Addr,
		store:    cfg.Store,
		tools:    cfg.Registry,
		verifier: cfg.Verifier,
		ledger:   cfg.Ledger,
		sessions: cfg.Sessions,
		feed:     cfg.Feed,
		chain:    cfg.Chain,
		payCfg:   cfg.Payment,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 演示面板可能跑在任意来源上。
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler 组装全部路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /tools", s.instrument("tools_list", s.withAgent(s.handleListTools)))
	mux.HandleFunc("GET /tools/{id}", s.instrument("tools_get", s.withAgent(s.handleGetTool)))
	mux.HandleFunc("POST /tools/{id}/execute", s.instrument("tools_execute", s.withAgent(s.handleExecuteTool)))

	mux.HandleFunc("POST /agents/register", s.instrument("agents_register", s.handleRegisterAgent))
	mux.HandleFunc("GET /agents/{id}", s.instrument("agents_get", s.handleGetAgent))
	mux.HandleFunc("GET /agents/{id}/stats", s.instrument("agents_stats", s.handleAgentStats))

	mux.HandleFunc("POST /providers/register", s.instrument("providers_register", s.handleRegisterProvider))
	mux.HandleFunc("POST /providers/apis", s.instrument("providers_submit", s.withProvider(s.handleSubmitAPI)))
	mux.HandleFunc("GET /providers/apis", s.instrument("providers_apis", s.withProvider(s.handleListProviderAPIs)))
	mux.HandleFunc("PATCH /providers/apis/{id}", s.instrument("providers_update", s.withProvider(s.handleUpdateAPI)))
	mux.HandleFunc("GET /providers/dashboard", s.instrument("providers_dashboard", s.withProvider(s.handleProviderDashboard)))

	mux.HandleFunc("GET /data", s.instrument("data_list", s.handleListData))
	mux.HandleFunc("GET /data/{kind}", s.instrument("data_get", s.handleData))

	mux.HandleFunc("GET /analytics/overview", s.instrument("analytics_overview", s.handleAnalyticsOverview))
	mux.HandleFunc("GET /analytics/activity", s.instrument("analytics_activity", s.handleAnalyticsActivity))
	mux.HandleFunc("GET /analytics/tools/{id}/stats", s.instrument("analytics_tool", s.handleAnalyticsToolStats))
	mux.HandleFunc("POST /analytics/my-agents", s.instrument("analytics_my_agents", s.handleAnalyticsMyAgents))
	mux.HandleFunc("GET /analytics/my-provider", s.instrument("analytics_my_provider", s.withProvider(s.handleAnalyticsMyProvider)))

	mux.HandleFunc("GET /demo/start", s.instrument("demo_start", s.handleDemoStart))
	mux.HandleFunc("GET /demo/connect", s.handleDemoConnect)

	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleHealth 报告进程存活,并尽力附上结算链的当前状态。链查询失败不影响
// 健康判定。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"time":   time.Now().UnixMilli(),
	}
	if s.chain != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if snapshot, err := s.chain.FetchChainSnapshot(ctx); err == nil {
			body["chain"] = map[string]any{
				"network":     s.payCfg.Network,
				"chainId":     snapshot.ChainID,
				"blockNumber": snapshot.BlockNumber,
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// instrument 记录请求级指标。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
