package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ChainBazaar/internal/market"
)

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	times := []int64{50, 10, 40, 20, 30}
	cases := []struct {
		p    int
		want int64
	}{
		{50, 30},
		{95, 50},
		{99, 50},
	}
	for _, tc := range cases {
		if got := percentile(times, tc.p); got != tc.want {
			t.Fatalf("p%d of %v = %d, want %d", tc.p, times, got, tc.want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("p50 of empty = %d, want 0", got)
	}
	if got := percentile([]int64{7}, 99); got != 7 {
		t.Fatalf("p99 of single = %d, want 7", got)
	}
}

func seedStore(t *testing.T) market.Store {
	t.Helper()
	store := market.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	agents := []*market.Agent{
		{ID: "agent-1", WalletAddress: "0xaaa", APIKey: "bzr_one", Name: "one"},
		{ID: "agent-2", WalletAddress: "0xbbb", APIKey: "bzr_two", Name: "two"},
	}
	for _, agent := range agents {
		if err := store.CreateAgent(ctx, agent); err != nil {
			t.Fatalf("create agent: %v", err)
		}
	}

	logs := []*market.UsageLog{
		{ID: "l1", ToolID: "market", AgentID: "agent-1", Success: true, ResponseTimeMs: 10, CreatedAt: now.Add(-time.Hour)},
		{ID: "l2", ToolID: "market", AgentID: "agent-1", Success: true, ResponseTimeMs: 20, CreatedAt: now.Add(-time.Hour)},
		{ID: "l3", ToolID: "crypto", AgentID: "agent-2", Success: true, ResponseTimeMs: 30, CreatedAt: now.Add(-time.Hour)},
		{ID: "l4", ToolID: "crypto", AgentID: "agent-2", Success: false, StatusCode: 502, ErrorType: "provider_error", CreatedAt: now.Add(-time.Hour)},
		// 窗口外的旧记录，24h 视图必须排除。
		{ID: "l5", ToolID: "market", AgentID: "agent-1", Success: false, ErrorType: "execution_error", CreatedAt: now.Add(-48 * time.Hour)},
	}
	for _, log := range logs {
		if err := store.AppendUsageLog(ctx, log); err != nil {
			t.Fatalf("append usage log: %v", err)
		}
	}

	payments := []*market.Payment{
		{ID: "p1", TxHash: "0x1", AgentID: "agent-1", ToolID: "market", AmountUSD: decimal.RequireFromString("0.01"), Status: market.PaymentConfirmed, CreatedAt: now.Add(-time.Hour)},
		{ID: "p2", TxHash: "0x2", AgentID: "agent-1", ToolID: "market", AmountUSD: decimal.RequireFromString("0.01"), Status: market.PaymentConfirmed, CreatedAt: now.Add(-time.Hour)},
		{ID: "p3", TxHash: "0x3", AgentID: "agent-2", ToolID: "crypto", AmountUSD: decimal.RequireFromString("0.02"), Status: market.PaymentConfirmed, CreatedAt: now.Add(-time.Hour)},
		{ID: "p4", TxHash: "0x4", AgentID: "agent-2", ToolID: "crypto", AmountUSD: decimal.RequireFromString("0.50"), Status: market.PaymentPending, CreatedAt: now.Add(-time.Hour)},
	}
	for _, payment := range payments {
		if err := store.CreatePayment(ctx, payment); err != nil {
			t.Fatalf("create payment: %v", err)
		}
	}
	return store
}

func TestOverview(t *testing.T) {
	t.Parallel()

	overview, err := New(seedStore(t)).Overview(context.Background(), Period24h)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}

	if overview.TotalRequests != 4 {
		t.Fatalf("expected 4 requests in window, got %d", overview.TotalRequests)
	}
	if overview.SuccessfulRequests != 3 || overview.FailedRequests != 1 {
		t.Fatalf("unexpected split: %d/%d", overview.SuccessfulRequests, overview.FailedRequests)
	}
	if overview.SuccessRate != "75.0" {
		t.Fatalf("expected success rate 75.0, got %s", overview.SuccessRate)
	}
	// pending 的支付不计入营收。
	if overview.TotalRevenue != "0.04" {
		t.Fatalf("expected revenue 0.04, got %s", overview.TotalRevenue)
	}
	if overview.UniqueAgents != 2 {
		t.Fatalf("expected 2 unique agents, got %d", overview.UniqueAgents)
	}
	if overview.Latency.P50 != 20 {
		t.Fatalf("expected p50 20, got %d", overview.Latency.P50)
	}
	if len(overview.TopTools) == 0 || overview.TopTools[0].ToolID != "crypto" && overview.TopTools[0].ToolID != "market" {
		t.Fatalf("unexpected top tools: %+v", overview.TopTools)
	}
	if overview.ErrorBreakdown["provider_error"] != 1 {
		t.Fatalf("expected one provider_error, got %+v", overview.ErrorBreakdown)
	}
}

func TestOverviewEmptyWindow(t *testing.T) {
	t.Parallel()

	overview, err := New(market.NewMemoryStore()).Overview(context.Background(), PeriodAll)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.SuccessRate != "100" {
		t.Fatalf("empty window success rate should be 100, got %s", overview.SuccessRate)
	}
	if overview.TotalRevenue != "0.00" {
		t.Fatalf("empty window revenue should be 0.00, got %s", overview.TotalRevenue)
	}
}

func TestToolStats(t *testing.T) {
	t.Parallel()

	stats, err := New(seedStore(t)).ToolStats(context.Background(), "crypto", PeriodAll)
	if err != nil {
		t.Fatalf("tool stats: %v", err)
	}
	if stats.TotalRequests != 2 || stats.SuccessfulRequests != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.SuccessRate != "50.0" {
		t.Fatalf("expected success rate 50.0, got %s", stats.SuccessRate)
	}
	if stats.Revenue != "0.02" {
		t.Fatalf("expected revenue 0.02, got %s", stats.Revenue)
	}
	if stats.UniqueAgents != 1 {
		t.Fatalf("expected 1 unique agent, got %d", stats.UniqueAgents)
	}
}

func TestAgentsReport(t *testing.T) {
	t.Parallel()

	// 非 bzr_ 前缀与未知 key 都被跳过。
	report, err := New(seedStore(t)).AgentsReport(context.Background(),
		[]string{"bzr_one", "prov_x", "bzr_missing"}, PeriodAll)
	if err != nil {
		t.Fatalf("agents report: %v", err)
	}
	if len(report.Agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(report.Agents))
	}

	agent := report.Agents[0]
	if agent.ID != "agent-1" || agent.RequestCount != 3 {
		t.Fatalf("unexpected agent stats: %+v", agent)
	}
	if agent.TotalSpent != "0.02" {
		t.Fatalf("expected spent 0.02, got %s", agent.TotalSpent)
	}
	if len(agent.TopTools) == 0 || agent.TopTools[0].ToolID != "market" {
		t.Fatalf("unexpected top tools: %+v", agent.TopTools)
	}
	if report.Totals.Requests != 3 || report.Totals.Spent != "0.02" {
		t.Fatalf("unexpected totals: %+v", report.Totals)
	}
}

func TestAgentsReportEmpty(t *testing.T) {
	t.Parallel()

	report, err := New(market.NewMemoryStore()).AgentsReport(context.Background(), nil, PeriodAll)
	if err != nil {
		t.Fatalf("agents report: %v", err)
	}
	if len(report.Agents) != 0 || report.Totals.Spent != "0.00" || report.Totals.SuccessRate != "100" {
		t.Fatalf("unexpected empty report: %+v", report)
	}
}

func TestProviderReport(t *testing.T) {
	t.Parallel()

	store := seedStore(t)
	ctx := context.Background()

	provider := &market.Provider{
		ID: "prov-1", UserID: "0xccc", Name: "acme", APIKey: "prov_acme",
		TotalEarned: decimal.RequireFromString("1.23"),
		Status:      market.ProviderApproved,
	}
	if err := store.CreateProvider(ctx, provider); err != nil {
		t.Fatalf("create provider: %v", err)
	}
	tool := &market.Tool{
		ID: "crypto", ProviderID: "prov-1", Name: "crypto feed",
		PriceUSD: decimal.RequireFromString("0.02"), RevenueShare: 80,
		IsActive: true, Status: market.ToolApproved,
	}
	if err := store.CreateTool(ctx, tool); err != nil {
		t.Fatalf("create tool: %v", err)
	}

	report, err := New(store).ProviderReport(ctx, "prov-1", PeriodAll)
	if err != nil {
		t.Fatalf("provider report: %v", err)
	}

	if report.Provider.TotalEarned != "1.23" {
		t.Fatalf("unexpected provider identity: %+v", report.Provider)
	}
	if len(report.APIs) != 1 {
		t.Fatalf("expected 1 tool row, got %d", len(report.APIs))
	}
	row := report.APIs[0]
	// crypto 有两条日志(一成一败)与 0.02 的已确认营收,分成 80%。
	if row.RequestCount != 2 || row.SuccessCount != 1 {
		t.Fatalf("unexpected counts: %+v", row)
	}
	if row.Revenue != "0.02" || row.Earned != "0.02" {
		t.Fatalf("unexpected revenue split: revenue=%s earned=%s", row.Revenue, row.Earned)
	}
	if report.Totals.Requests != 2 || report.Totals.SuccessRate != "50.0" {
		t.Fatalf("unexpected totals: %+v", report.Totals)
	}
}

func TestProviderReportNoTools(t *testing.T) {
	t.Parallel()

	store := market.NewMemoryStore()
	ctx := context.Background()
	provider := &market.Provider{ID: "prov-1", UserID: "u", Name: "acme", APIKey: "prov_a", Status: market.ProviderApproved}
	if err := store.CreateProvider(ctx, provider); err != nil {
		t.Fatalf("create provider: %v", err)
	}

	report, err := New(store).ProviderReport(ctx, "prov-1", Period24h)
	if err != nil {
		t.Fatalf("provider report: %v", err)
	}
	if len(report.APIs) != 0 || report.Totals.Earned != "0.00" || report.Totals.SuccessRate != "100" {
		t.Fatalf("unexpected empty report: %+v", report)
	}
}

func TestActivityTruncatesAgentID(t *testing.T) {
	t.Parallel()

	store := market.NewMemoryStore()
	log := &market.UsageLog{
		ID: "l1", ToolID: "market", AgentID: "agent-1234567890",
		Success: true, ResponseTimeMs: 12, CreatedAt: time.Now(),
	}
	if err := store.AppendUsageLog(context.Background(), log); err != nil {
		t.Fatalf("append usage log: %v", err)
	}

	entries, err := New(store).Activity(context.Background(), 0)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].AgentID != "agent-12..." {
		t.Fatalf("expected truncated agent id, got %s", entries[0].AgentID)
	}
}

func TestParsePeriod(t *testing.T) {
	t.Parallel()

	if ParsePeriod("24h") != Period24h || ParsePeriod("7d") != Period7d || ParsePeriod("30d") != Period30d {
		t.Fatal("known periods must parse")
	}
	if ParsePeriod("") != PeriodAll || ParsePeriod("bogus") != PeriodAll {
		t.Fatal("unknown periods must fall back to all")
	}
	if !PeriodAll.Since(time.Now()).IsZero() {
		t.Fatal("all period must not filter")
	}
}
