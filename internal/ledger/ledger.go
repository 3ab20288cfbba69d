package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ChainBazaar/internal/market"
)

// Period 表示分析窗口。
type Period string

const (
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
	PeriodAll Period = "all"
)

// ParsePeriod 解析窗口参数，未知取值回落到 all。
func ParsePeriod(raw string) Period {
	switch Period(strings.TrimSpace(raw)) {
	case Period24h:
		return Period24h
	case Period7d:
		return Period7d
	case Period30d:
		return Period30d
	default:
		return PeriodAll
	}
}

// Since 返回窗口起点，all 窗口返回零值表示不过滤。
func (p Period) Since(now time.Time) time.Time {
	switch p {
	case Period24h:
		return now.Add(-24 * time.Hour)
	case Period7d:
		return now.Add(-7 * 24 * time.Hour)
	case Period30d:
		return now.Add(-30 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// Latency 汇总成功请求的响应耗时，单位毫秒。
type Latency struct {
	P50 int64 `json:"p50"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
	Avg int64 `json:"avg"`
}

// ToolCount 是按调用次数排序的工具榜单条目。
type ToolCount struct {
	ToolID string `json:"toolId"`
	Count  int    `json:"count"`
}

// Overview 是平台级的可靠性与营收概览。
type Overview struct {
	Period             string         `json:"period"`
	TotalRevenue       string         `json:"totalRevenue"`
	TotalRequests      int            `json:"totalRequests"`
	SuccessfulRequests int            `json:"successfulRequests"`
	FailedRequests     int            `json:"failedRequests"`
	SuccessRate        string         `json:"successRate"`
	UniqueAgents       int            `json:"uniqueAgents"`
	Latency            Latency        `json:"latency"`
	TopTools           []ToolCount    `json:"topTools"`
	ErrorBreakdown     map[string]int `json:"errorBreakdown"`
}

// ToolStats 是单个工具的窗口统计。
type ToolStats struct {
	ToolID             string  `json:"toolId"`
	Period             string  `json:"period"`
	TotalRequests      int     `json:"totalRequests"`
	SuccessfulRequests int     `json:"successfulRequests"`
	FailedRequests     int     `json:"failedRequests"`
	SuccessRate        string  `json:"successRate"`
	Revenue            string  `json:"revenue"`
	Latency            Latency `json:"latency"`
	UniqueAgents       int     `json:"uniqueAgents"`
}

// AgentStats 是单个 Agent 的窗口统计。
type AgentStats struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	WalletAddress string      `json:"walletAddress"`
	TotalSpent    string      `json:"totalSpent"`
	RequestCount  int         `json:"requestCount"`
	SuccessCount  int         `json:"successCount"`
	FailedCount   int         `json:"failedCount"`
	SuccessRate   string      `json:"successRate"`
	Latency       Latency     `json:"latency"`
	LastActiveAt  *time.Time  `json:"lastActiveAt"`
	TopTools      []ToolCount `json:"topTools"`
}

// AgentsReport 聚合一组 Agent 的统计与合计。
type AgentsReport struct {
	Agents []AgentStats `json:"agents"`
	Totals AgentTotals  `json:"totals"`
}

// AgentTotals 是报表的合计行。
type AgentTotals struct {
	Spent       string  `json:"spent"`
	Requests    int     `json:"requests"`
	SuccessRate string  `json:"successRate"`
	Latency     Latency `json:"latency"`
}

// ActivityEntry 是最近调用流水的一条记录，agent id 做了截断脱敏。
type ActivityEntry struct {
	ID           string    `json:"id"`
	ToolID       string    `json:"toolId"`
	AgentID      string    `json:"agentId"`
	Success      bool      `json:"success"`
	ResponseTime int64     `json:"responseTime"`
	ErrorType    string    `json:"errorType,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Ledger 在用量日志与支付流水之上计算只读分析指标。
type Ledger struct {
	store market.Store
	now   func() time.Time
}

// New 创建账本。
func New(store market.Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Overview 计算平台概览。
func (l *Ledger) Overview(ctx context.Context, period Period) (Overview, error) {
	since := period.Since(l.now())

	logs, err := l.store.ListUsageLogs(ctx, market.UsageQuery{Since: since})
	if err != nil {
		return Overview{}, err
	}
	payments, err := l.store.ListPayments(ctx, market.PaymentQuery{
		Since:  since,
		Status: market.PaymentConfirmed,
	})
	if err != nil {
		return Overview{}, err
	}

	successful, failed := splitLogs(logs)
	agents := make(map[string]struct{})
	toolCounts := make(map[string]int)
	errorCounts := make(map[string]int)
	for _, log := range logs {
		agents[log.AgentID] = struct{}{}
		toolCounts[log.ToolID]++
	}
	for _, log := range failed {
		errorType := log.ErrorType
		if errorType == "" {
			errorType = "unknown"
		}
		errorCounts[errorType]++
	}

	return Overview{
		Period:             string(period),
		TotalRevenue:       sumPayments(payments).StringFixed(2),
		TotalRequests:      len(logs),
		SuccessfulRequests: len(successful),
		FailedRequests:     len(failed),
		SuccessRate:        successRate(len(successful), len(logs)),
		UniqueAgents:       len(agents),
		Latency:            latencyOf(successful),
		TopTools:           topCounts(toolCounts, 5),
		ErrorBreakdown:     errorCounts,
	}, nil
}

// ToolStats 计算单个工具的窗口统计。
func (l *Ledger) ToolStats(ctx context.Context, toolID string, period Period) (ToolStats, error) {
	since := period.Since(l.now())

	logs, err := l.store.ListUsageLogs(ctx, market.UsageQuery{Since: since, ToolIDs: []string{toolID}})
	if err != nil {
		return ToolStats{}, err
	}
	payments, err := l.store.ListPayments(ctx, market.PaymentQuery{
		Since:   since,
		ToolIDs: []string{toolID},
		Status:  market.PaymentConfirmed,
	})
	if err != nil {
		return ToolStats{}, err
	}

	successful, _ := splitLogs(logs)
	agents := make(map[string]struct{})
	for _, log := range logs {
		agents[log.AgentID] = struct{}{}
	}

	return ToolStats{
		ToolID:             toolID,
		Period:             string(period),
		TotalRequests:      len(logs),
		SuccessfulRequests: len(successful),
		FailedRequests:     len(logs) - len(successful),
		SuccessRate:        successRate(len(successful), len(logs)),
		Revenue:            sumPayments(payments).StringFixed(2),
		Latency:            latencyOf(successful),
		UniqueAgents:       len(agents),
	}, nil
}

// AgentsReport 按 API key 列表汇总买方侧统计。未知 key 被静默跳过。
func (l *Ledger) AgentsReport(ctx context.Context, apiKeys []string, period Period) (AgentsReport, error) {
	empty := AgentsReport{
		Agents: []AgentStats{},
		Totals: AgentTotals{Spent: "0.00", SuccessRate: "100"},
	}

	var owned []*market.Agent
	for _, key := range apiKeys {
		if !strings.HasPrefix(key, market.AgentKeyPrefix) {
			continue
		}
		agent, err := l.store.AgentByAPIKey(ctx, key)
		if err != nil {
			continue
		}
		owned = append(owned, agent)
	}
	if len(owned) == 0 {
		return empty, nil
	}

	since := period.Since(l.now())
	agentIDs := make([]string, 0, len(owned))
	for _, agent := range owned {
		agentIDs = append(agentIDs, agent.ID)
	}

	logs, err := l.store.ListUsageLogs(ctx, market.UsageQuery{Since: since, AgentIDs: agentIDs})
	if err != nil {
		return empty, err
	}
	payments, err := l.store.ListPayments(ctx, market.PaymentQuery{
		Since:    since,
		AgentIDs: agentIDs,
		Status:   market.PaymentConfirmed,
	})
	if err != nil {
		return empty, err
	}

	report := AgentsReport{Agents: make([]AgentStats, 0, len(owned))}
	totalSpent := decimal.Zero
	var totalSuccess, totalRequests int
	var allTimes []int64

	for _, agent := range owned {
		var agentLogs []*market.UsageLog
		for _, log := range logs {
			if log.AgentID == agent.ID {
				agentLogs = append(agentLogs, log)
			}
		}
		spent := decimal.Zero
		for _, payment := range payments {
			if payment.AgentID == agent.ID {
				spent = spent.Add(payment.AmountUSD)
			}
		}

		successful, failed := splitLogs(agentLogs)
		toolCounts := make(map[string]int)
		for _, log := range agentLogs {
			toolCounts[log.ToolID]++
		}

		report.Agents = append(report.Agents, AgentStats{
			ID:            agent.ID,
			Name:          agent.Name,
			WalletAddress: agent.WalletAddress,
			TotalSpent:    spent.StringFixed(2),
			RequestCount:  len(agentLogs),
			SuccessCount:  len(successful),
			FailedCount:   len(failed),
			SuccessRate:   successRate(len(successful), len(agentLogs)),
			Latency:       latencyOf(successful),
			LastActiveAt:  agent.LastActiveAt,
			TopTools:      topCounts(toolCounts, 3),
		})

		totalSpent = totalSpent.Add(spent)
		totalSuccess += len(successful)
		totalRequests += len(agentLogs)
		allTimes = append(allTimes, responseTimes(successful)...)
	}

	report.Totals = AgentTotals{
		Spent:       totalSpent.StringFixed(2),
		Requests:    totalRequests,
		SuccessRate: successRate(totalSuccess, totalRequests),
		Latency:     latencyFromTimes(allTimes),
	}
	return report, nil
}

// ProviderToolStats 是提供方报表里单个工具的统计行。
type ProviderToolStats struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Price        string            `json:"price"`
	RequestCount int               `json:"requestCount"`
	SuccessCount int               `json:"successCount"`
	FailedCount  int               `json:"failedCount"`
	SuccessRate  string            `json:"successRate"`
	Latency      Latency           `json:"latency"`
	Revenue      string            `json:"revenue"`
	Earned       string            `json:"earned"`
	IsActive     bool              `json:"isActive"`
	Status       market.ToolStatus `json:"status"`
}

// ProviderTotals 是提供方报表的合计行。
type ProviderTotals struct {
	Earned      string  `json:"earned"`
	Requests    int     `json:"requests"`
	SuccessRate string  `json:"successRate"`
	Latency     Latency `json:"latency"`
}

// ProviderIdentity 是报表头部的提供方信息。
type ProviderIdentity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TotalEarned string `json:"totalEarned"`
}

// ProviderReport 是单个提供方的窗口收益与可靠性报表。
type ProviderReport struct {
	Period   string              `json:"period"`
	Provider ProviderIdentity    `json:"provider"`
	APIs     []ProviderToolStats `json:"apis"`
	Totals   ProviderTotals      `json:"totals"`
}

// ProviderReport 汇总提供方名下全部工具的收益与可靠性。工具收益按各自
// 的分成比例折算,合计行按平均分成比例估算。
func (l *Ledger) ProviderReport(ctx context.Context, providerID string, period Period) (ProviderReport, error) {
	provider, err := l.store.ProviderByID(ctx, providerID)
	if err != nil {
		return ProviderReport{}, err
	}

	report := ProviderReport{
		Period: string(period),
		Provider: ProviderIdentity{
			ID:          provider.ID,
			Name:        provider.Name,
			TotalEarned: provider.TotalEarned.StringFixed(2),
		},
		APIs:   []ProviderToolStats{},
		Totals: ProviderTotals{Earned: "0.00", SuccessRate: "100"},
	}

	tools, err := l.store.ListToolsByProvider(ctx, providerID)
	if err != nil {
		return ProviderReport{}, err
	}
	if len(tools) == 0 {
		return report, nil
	}

	since := period.Since(l.now())
	toolIDs := make([]string, 0, len(tools))
	for _, tool := range tools {
		toolIDs = append(toolIDs, tool.ID)
	}

	logs, err := l.store.ListUsageLogs(ctx, market.UsageQuery{Since: since, ToolIDs: toolIDs})
	if err != nil {
		return ProviderReport{}, err
	}
	payments, err := l.store.ListPayments(ctx, market.PaymentQuery{
		Since:   since,
		ToolIDs: toolIDs,
		Status:  market.PaymentConfirmed,
	})
	if err != nil {
		return ProviderReport{}, err
	}

	totalRevenue := decimal.Zero
	shareSum := 0
	for _, tool := range tools {
		var toolLogs []*market.UsageLog
		for _, log := range logs {
			if log.ToolID == tool.ID {
				toolLogs = append(toolLogs, log)
			}
		}
		revenue := decimal.Zero
		for _, payment := range payments {
			if payment.ToolID == tool.ID {
				revenue = revenue.Add(payment.AmountUSD)
			}
		}

		share := tool.RevenueShare
		if share <= 0 {
			share = 80
		}
		earned := revenue.Mul(decimal.NewFromInt(int64(share))).Div(decimal.NewFromInt(100))

		successful, failed := splitLogs(toolLogs)
		report.APIs = append(report.APIs, ProviderToolStats{
			ID:           tool.ID,
			Name:         tool.Name,
			Price:        tool.PriceUSD.String(),
			RequestCount: len(toolLogs),
			SuccessCount: len(successful),
			FailedCount:  len(failed),
			SuccessRate:  successRate(len(successful), len(toolLogs)),
			Latency:      latencyOf(successful),
			Revenue:      revenue.StringFixed(2),
			Earned:       earned.StringFixed(2),
			IsActive:     tool.IsActive,
			Status:       tool.Status,
		})

		totalRevenue = totalRevenue.Add(revenue)
		shareSum += share
	}

	avgShare := decimal.NewFromInt(int64(shareSum)).Div(decimal.NewFromInt(int64(len(tools))))
	successful, _ := splitLogs(logs)
	report.Totals = ProviderTotals{
		Earned:      totalRevenue.Mul(avgShare).Div(decimal.NewFromInt(100)).StringFixed(2),
		Requests:    len(logs),
		SuccessRate: successRate(len(successful), len(logs)),
		Latency:     latencyOf(successful),
	}
	return report, nil
}

// Activity 返回最近的调用流水。limit 超界时折到 [1,100]，默认 20。
func (l *Ledger) Activity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	logs, err := l.store.ListUsageLogs(ctx, market.UsageQuery{Limit: limit})
	if err != nil {
		return nil, err
	}

	entries := make([]ActivityEntry, 0, len(logs))
	for _, log := range logs {
		entries = append(entries, ActivityEntry{
			ID:           log.ID,
			ToolID:       log.ToolID,
			AgentID:      truncateAgentID(log.AgentID),
			Success:      log.Success,
			ResponseTime: log.ResponseTimeMs,
			ErrorType:    log.ErrorType,
			CreatedAt:    log.CreatedAt,
		})
	}
	return entries, nil
}

func splitLogs(logs []*market.UsageLog) (successful, failed []*market.UsageLog) {
	for _, log := range logs {
		if log.Success {
			successful = append(successful, log)
		} else {
			failed = append(failed, log)
		}
	}
	return successful, failed
}

func responseTimes(logs []*market.UsageLog) []int64 {
	times := make([]int64, 0, len(logs))
	for _, log := range logs {
		if log.ResponseTimeMs > 0 {
			times = append(times, log.ResponseTimeMs)
		}
	}
	return times
}

func latencyOf(successful []*market.UsageLog) Latency {
	return latencyFromTimes(responseTimes(successful))
}

func latencyFromTimes(times []int64) Latency {
	if len(times) == 0 {
		return Latency{}
	}
	var sum int64
	for _, t := range times {
		sum += t
	}
	return Latency{
		P50: percentile(times, 50),
		P95: percentile(times, 95),
		P99: percentile(times, 99),
		Avg: int64(math.Round(float64(sum) / float64(len(times)))),
	}
}

// percentile 取最近秩分位数:排序后第 ceil(p/100*n) 个元素。
func percentile(times []int64, p int) int64 {
	if len(times) == 0 {
		return 0
	}
	sorted := make([]int64, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(math.Ceil(float64(p)/100*float64(len(sorted)))) - 1
	if index < 0 {
		index = 0
	}
	return sorted[index]
}

func successRate(successful, total int) string {
	if total == 0 {
		return "100"
	}
	return fmt.Sprintf("%.1f", float64(successful)/float64(total)*100)
}

func sumPayments(payments []*market.Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, payment := range payments {
		sum = sum.Add(payment.AmountUSD)
	}
	return sum
}

func topCounts(counts map[string]int, limit int) []ToolCount {
	entries := make([]ToolCount, 0, len(counts))
	for toolID, count := range counts {
		entries = append(entries, ToolCount{ToolID: toolID, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count == entries[j].Count {
			return entries[i].ToolID < entries[j].ToolID
		}
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func truncateAgentID(id string) string {
	if len(id) <= 8 {
		return id + "..."
	}
	return id[:8] + "..."
}
