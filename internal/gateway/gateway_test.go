package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"ChainBazaar/internal/ledger"
	"ChainBazaar/internal/market"
	"ChainBazaar/internal/orchestrator"
	"ChainBazaar/internal/payment"
	"ChainBazaar/internal/registry"
	"ChainBazaar/internal/web3"
)

var (
	testToken     = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	testRecipient = "0x1111111111111111111111111111111111111111"
	testPayer     = common.HexToAddress("0x2222222222222222222222222222222222222222")

	erc20TransferTopic = ethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// fakeChain 以哈希为键伪造链上状态,未登记的哈希视为未找到。
type fakeChain struct {
	receipts map[common.Hash]*types.Receipt
	txs      map[common.Hash]*types.Transaction
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		receipts: make(map[common.Hash]*types.Receipt),
		txs:      make(map[common.Hash]*types.Transaction),
	}
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	return f.receipts[hash], nil
}

func (f *fakeChain) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return f.txs[hash], false, nil
}

func (f *fakeChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{ChainID: "0x2105", BlockNumber: "0x10"}, nil
}

// confirm 登记一笔成功的 ERC-20 转账,units 为代币最小单位金额。
func (f *fakeChain) confirm(txHash string, units int64) {
	hash := common.HexToHash(txHash)
	token := common.HexToAddress(testToken)
	recipient := common.HexToAddress(testRecipient)

	f.receipts[hash] = &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{{
			Address: token,
			Topics: []common.Hash{
				erc20TransferTopic,
				common.BytesToHash(common.LeftPadBytes(testPayer.Bytes(), 32)),
				common.BytesToHash(common.LeftPadBytes(recipient.Bytes(), 32)),
			},
			Data: common.LeftPadBytes(big.NewInt(units).Bytes(), 32),
		}},
	}
	f.txs[hash] = types.NewTx(&types.LegacyTx{To: &token, Gas: 60000, GasPrice: big.NewInt(1)})
}

type testEnv struct {
	server *Server
	store  *market.MemoryStore
	chain  *fakeChain
	agent  *market.Agent
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := market.NewMemoryStore()
	tools, err := registry.New(store, "")
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	chain := newFakeChain()

	agent := &market.Agent{
		ID:            "agent-1",
		WalletAddress: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Name:          "Test Agent",
		APIKey:        "bzr_test_key",
		TotalSpent:    decimal.Zero,
		CreatedAt:     time.Now(),
	}
	if err := store.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	server := NewServer(Config{
		Addr:     ":0",
		Store:    store,
		Registry: tools,
		Verifier: payment.NewVerifier(chain),
		Ledger:   ledger.New(store),
		Chain:    chain,
		Payment: PaymentConfig{
			TokenContract: testToken,
			Recipient:     testRecipient,
			Network:       "base",
			TokenDecimals: 6,
		},
	})
	return &testEnv{server: server, store: store, chain: chain, agent: agent}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	decoded := make(map[string]any)
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func agentHeaders(extra map[string]string) map[string]string {
	headers := map[string]string{"X-API-Key": "bzr_test_key"}
	for key, value := range extra {
		headers[key] = value
	}
	return headers
}

func TestHealthReportsChainStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("expected healthy response, got %d %v", rec.Code, body)
	}
	chain, ok := body["chain"].(map[string]any)
	if !ok {
		t.Fatalf("expected chain block in health response, got %v", body)
	}
	if chain["network"] != "base" || chain["chainId"] != "0x2105" || chain["blockNumber"] != "0x10" {
		t.Fatalf("unexpected chain status %v", chain)
	}
}

func TestExecuteRequiresAPIKey(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/tools/market/execute", nil, nil)
	if rec.Code != http.StatusUnauthorized || body["code"] != "MISSING_API_KEY" {
		t.Fatalf("expected 401 MISSING_API_KEY, got %d %v", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodPost, "/tools/market/execute", nil,
		map[string]string{"X-API-Key": "bzr_wrong"})
	if rec.Code != http.StatusUnauthorized || body["code"] != "INVALID_API_KEY" {
		t.Fatalf("expected 401 INVALID_API_KEY, got %d %v", rec.Code, body)
	}
}

func TestExecuteIssuesPaymentChallenge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/tools/market/execute", nil, agentHeaders(nil))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if body["error"] != "Payment Required" {
		t.Fatalf("expected Payment Required, got %v", body["error"])
	}
	pay, ok := body["payment"].(map[string]any)
	if !ok {
		t.Fatalf("expected payment block, got %v", body)
	}
	if pay["amount"] != "0.01" || pay["token"] != testToken || pay["recipient"] != testRecipient || pay["network"] != "base" {
		t.Fatalf("unexpected payment terms: %v", pay)
	}
}

func TestExecuteWithVerifiedPayment(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.chain.confirm("0xabc", 10000)

	rec, body := env.do(t, http.MethodPost, "/tools/market/execute", nil,
		agentHeaders(map[string]string{"X-Payment-Tx": "0xabc"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, body)
	}
	if body["success"] != true || body["tool"] != "market" {
		t.Fatalf("unexpected response: %v", body)
	}
	pay := body["payment"].(map[string]any)
	if pay["txHash"] != "0xabc" || pay["amount"] != "0.01" {
		t.Fatalf("unexpected payment echo: %v", pay)
	}
	data, ok := body["data"].(map[string]any)
	if !ok || data["sp500"] == nil {
		t.Fatalf("expected market data payload, got %v", body["data"])
	}

	ctx := context.Background()
	agent, err := env.store.AgentByID(ctx, env.agent.ID)
	if err != nil {
		t.Fatalf("reload agent: %v", err)
	}
	if !agent.TotalSpent.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected total spent 0.01, got %s", agent.TotalSpent)
	}
	logs, err := env.store.ListUsageLogs(ctx, market.UsageQuery{})
	if err != nil {
		t.Fatalf("list usage logs: %v", err)
	}
	if len(logs) != 1 || !logs[0].Success || logs[0].ToolID != "market" {
		t.Fatalf("expected one successful usage log, got %+v", logs)
	}
}

func TestExecuteRejectsReplayedTransaction(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.chain.confirm("0xabc", 10000)
	headers := agentHeaders(map[string]string{"X-Payment-Tx": "0xabc"})

	if rec, body := env.do(t, http.MethodPost, "/tools/market/execute", nil, headers); rec.Code != http.StatusOK {
		t.Fatalf("first call should succeed, got %d %v", rec.Code, body)
	}
	rec, body := env.do(t, http.MethodPost, "/tools/market/execute", nil, headers)
	if rec.Code != http.StatusPaymentRequired || body["code"] != "DUPLICATE_PAYMENT" {
		t.Fatalf("expected 402 DUPLICATE_PAYMENT, got %d %v", rec.Code, body)
	}

	logs, err := env.store.ListUsageLogs(context.Background(), market.UsageQuery{})
	if err != nil {
		t.Fatalf("list usage logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("replay must not execute, expected 1 usage log, got %d", len(logs))
	}
}

func TestExecuteRejectsInsufficientPayment(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.chain.confirm("0xlow", 9999)

	rec, body := env.do(t, http.MethodPost, "/tools/market/execute", nil,
		agentHeaders(map[string]string{"X-Payment-Tx": "0xlow"}))
	if rec.Code != http.StatusPaymentRequired || body["code"] != payment.ReasonInsufficientAmount {
		t.Fatalf("expected 402 INSUFFICIENT_AMOUNT, got %d %v", rec.Code, body)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/tools/nope/execute", nil, agentHeaders(nil))
	if rec.Code != http.StatusNotFound || body["error"] != "Tool not found" {
		t.Fatalf("expected 404, got %d %v", rec.Code, body)
	}
}

func TestListToolsIncludesBuiltinsAndProviderTools(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	if err := env.store.CreateTool(context.Background(), &market.Tool{
		ID:          "prov-stocks",
		ProviderID:  "prov-1",
		Name:        "Premium Stocks",
		Description: "Premium stock quotes with fundamentals included",
		ExternalURL: "https://api.example.com/stocks",
		PriceUSD:    decimal.RequireFromString("0.05"),
		Category:    "finance",
		IsActive:    true,
		Status:      market.ToolApproved,
		CreatedAt:   time.Now(),
	}); err != nil {
		t.Fatalf("seed provider tool: %v", err)
	}

	rec, body := env.do(t, http.MethodGet, "/tools", nil, agentHeaders(nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	tools := body["tools"].([]any)
	if len(tools) != 6 {
		t.Fatalf("expected 5 builtins plus 1 provider tool, got %d", len(tools))
	}
	last := tools[len(tools)-1].(map[string]any)
	if last["id"] != "prov-stocks" || last["source"] != "provider" || last["category"] != "finance" {
		t.Fatalf("unexpected provider descriptor: %v", last)
	}
	if last["price"] != "$0.05" {
		t.Fatalf("expected display price $0.05, got %v", last["price"])
	}
}

func TestAgentRegistrationIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	register := map[string]any{
		"walletAddress": "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
		"name":          "Fresh Agent",
	}

	rec, body := env.do(t, http.MethodPost, "/agents/register", register, nil)
	if rec.Code != http.StatusCreated || body["success"] != true {
		t.Fatalf("expected 201, got %d %v", rec.Code, body)
	}
	apiKey, _ := body["apiKey"].(string)
	if !strings.HasPrefix(apiKey, market.AgentKeyPrefix) {
		t.Fatalf("expected agent key prefix, got %q", apiKey)
	}
	agentID := body["agentId"]

	// 同一钱包重复注册返回既有身份,大小写不敏感。
	rec, body = env.do(t, http.MethodPost, "/agents/register", register, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate wallet, got %d", rec.Code)
	}
	if body["agentId"] != agentID || body["apiKey"] != apiKey {
		t.Fatalf("duplicate registration must return existing identity, got %v", body)
	}
}

func TestProviderLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/providers/register", map[string]any{
		"name":          "Data Co",
		"email":         "ops@data.co",
		"walletAddress": "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", rec.Code, body)
	}
	providerKey, _ := body["apiKey"].(string)
	if !strings.HasPrefix(providerKey, market.ProviderKeyPrefix) {
		t.Fatalf("expected provider key prefix, got %q", providerKey)
	}
	providerHeaders := map[string]string{"X-Provider-Key": providerKey}

	rec, body = env.do(t, http.MethodPost, "/providers/apis", map[string]any{
		"name":        "Premium Stocks",
		"description": "Premium stock quotes with fundamentals included",
		"externalUrl": "https://api.example.com/stocks",
		"priceUsd":    "0.05",
		"category":    "finance",
	}, providerHeaders)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("expected submit to succeed, got %d %v", rec.Code, body)
	}
	apiID, _ := body["apiId"].(string)
	if !strings.HasSuffix(apiID, "-premium-stocks") {
		t.Fatalf("unexpected api id %q", apiID)
	}
	if body["endpoint"] != "/tools/"+apiID {
		t.Fatalf("unexpected endpoint %v", body["endpoint"])
	}

	// 上架后调用方立即可见。
	rec, body = env.do(t, http.MethodGet, "/tools/"+apiID, nil, agentHeaders(nil))
	if rec.Code != http.StatusOK || body["source"] != "provider" {
		t.Fatalf("expected provider tool visible, got %d %v", rec.Code, body)
	}

	// 下线后对调用方不可达。
	rec, _ = env.do(t, http.MethodPatch, "/providers/apis/"+apiID, map[string]any{
		"isActive": false,
	}, providerHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected patch to succeed, got %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodGet, "/tools/"+apiID, nil, agentHeaders(nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deactivated tool must be unreachable, got %d", rec.Code)
	}

	// 其他提供方的工具不可改。
	rec, _ = env.do(t, http.MethodPatch, "/providers/apis/market", map[string]any{
		"isActive": false,
	}, providerHeaders)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign tool patch must 404, got %d", rec.Code)
	}
}

func TestProviderAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/providers/dashboard", nil, nil)
	if rec.Code != http.StatusUnauthorized || body["error"] != "Provider API key required" {
		t.Fatalf("expected 401, got %d %v", rec.Code, body)
	}
	rec, body = env.do(t, http.MethodGet, "/providers/dashboard", nil,
		map[string]string{"X-Provider-Key": "prov_wrong"})
	if rec.Code != http.StatusUnauthorized || body["error"] != "Invalid provider API key" {
		t.Fatalf("expected 401 for unknown key, got %d %v", rec.Code, body)
	}
}

func TestDataCatalogAndPaywall(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/data", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	apis := body["apis"].([]any)
	if len(apis) != 5 {
		t.Fatalf("expected 5 data endpoints, got %d", len(apis))
	}
	first := apis[0].(map[string]any)
	if first["id"] != "market" || first["price"] != "$0.01" {
		t.Fatalf("unexpected catalog entry: %v", first)
	}

	// 无支付头返回挑战,不需要任何凭证。
	rec, body = env.do(t, http.MethodGet, "/data/crypto", nil, nil)
	if rec.Code != http.StatusPaymentRequired || body["error"] != "Payment Required" {
		t.Fatalf("expected 402 challenge, got %d %v", rec.Code, body)
	}

	rec, _ = env.do(t, http.MethodGet, "/data/unknown", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown endpoint, got %d", rec.Code)
	}
}

func TestDataEndpointLogsAnonymousUsage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.chain.confirm("0xdata", 10000)

	rec, body := env.do(t, http.MethodGet, "/data/weather?location=Tokyo", nil,
		map[string]string{"X-Payment-Tx": "0xdata"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rec.Code, body)
	}
	if body["location"] != "Tokyo" {
		t.Fatalf("expected location passthrough, got %v", body)
	}

	logs, err := env.store.ListUsageLogs(context.Background(), market.UsageQuery{})
	if err != nil {
		t.Fatalf("list usage logs: %v", err)
	}
	if len(logs) != 1 || logs[0].AgentID != "anonymous" || logs[0].ToolID != "weather" {
		t.Fatalf("expected anonymous usage log, got %+v", logs)
	}
}

func TestAnalyticsActivityShape(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.chain.confirm("0xabc", 10000)
	if rec, body := env.do(t, http.MethodPost, "/tools/market/execute", nil,
		agentHeaders(map[string]string{"X-Payment-Tx": "0xabc"})); rec.Code != http.StatusOK {
		t.Fatalf("execute failed: %d %v", rec.Code, body)
	}

	rec, body := env.do(t, http.MethodGet, "/analytics/activity?limit=5", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	activity, ok := body["activity"].([]any)
	if !ok || len(activity) != 1 {
		t.Fatalf("expected one activity entry, got %v", body)
	}

	rec, _ = env.do(t, http.MethodGet, "/analytics/tools/market/stats", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected tool stats 200, got %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodGet, "/analytics/tools/nope/stats", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tool, got %d", rec.Code)
	}
}

func TestAnalyticsMyAgentsRequiresKeys(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/analytics/my-agents", map[string]any{"apiKeys": []string{}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty key list, got %d", rec.Code)
	}

	rec, body := env.do(t, http.MethodPost, "/analytics/my-agents", map[string]any{
		"apiKeys": []string{"bzr_test_key"},
		"period":  "24h",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rec.Code, body)
	}
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) bool { return false }

func TestDemoStartRateLimited(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.server.sessions = orchestrator.NewManager(orchestrator.Deps{
		Store:   env.store,
		Limiter: denyAll{},
	})

	rec, body := env.do(t, http.MethodGet, "/demo/start", nil, nil)
	if rec.Code != http.StatusTooManyRequests || body["code"] != "RATE_LIMITED" {
		t.Fatalf("expected 429 RATE_LIMITED, got %d %v", rec.Code, body)
	}
}

// waitUntil 轮询直到条件成立或超时。
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDemoSessionSurvivesFirstObserverDisconnect(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	manager := orchestrator.NewManager(orchestrator.Deps{Store: env.store})
	env.server.sessions = manager

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	session, err := manager.Start(context.Background(), "observer-test")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/demo/connect?id=" + session.ID()

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial first observer: %v", err)
	}
	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial second observer: %v", err)
	}
	defer second.Close()
	waitUntil(t, func() bool { return session.Observers() == 2 })

	// 第一个观察者离开,会话必须保留给仍在观看的第二个。
	_ = first.Close()
	waitUntil(t, func() bool { return session.Observers() == 1 })
	if _, ok := manager.Session(session.ID()); !ok {
		t.Fatal("session was evicted while an observer was still attached")
	}

	_ = second.Close()
	waitUntil(t, func() bool {
		_, ok := manager.Session(session.ID())
		return !ok
	})
}

func TestDemoDisabledWithoutManager(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/demo/start", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when demo is not wired, got %d", rec.Code)
	}
}
