package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ChainBazaar/internal/events"
	"ChainBazaar/internal/market"
	"ChainBazaar/internal/observability/metrics"
	"ChainBazaar/internal/payment"
	"ChainBazaar/internal/registry"
	"ChainBazaar/pkg/logger"
)

// emptyParameters 是未声明参数约束的工具的统一展示形式。
func emptyParameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []string{},
	}
}

func toolDescriptor(res registry.Resolved) map[string]any {
	tool := res.Tool
	params := tool.Parameters
	if params == nil {
		params = emptyParameters()
	}
	descriptor := map[string]any{
		"id":          tool.ID,
		"name":        tool.Name,
		"description": tool.Description,
		"price":       "$" + tool.PriceUSD.String(),
		"priceRaw":    tool.PriceUSD.String(),
		"parameters":  params,
		"source":      string(res.Source),
	}
	if res.Source == registry.SourceProvider && tool.Category != "" {
		descriptor["category"] = tool.Category
	}
	return descriptor
}

func (s *Server) paymentBlock() map[string]any {
	return map[string]any{
		"token":     s.payCfg.TokenContract,
		"network":   s.payCfg.Network,
		"recipient": s.payCfg.Recipient,
	}
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request, _ *market.Agent) {
	resolved, err := s.tools.ListAll(r.Context())
	if err != nil {
		logger.L().Error("列出工具失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	list := make([]map[string]any, 0, len(resolved))
	for _, res := range resolved {
		list = append(list, toolDescriptor(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":   list,
		"payment": s.paymentBlock(),
	})
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request, _ *market.Agent) {
	resolved, err := s.tools.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, market.ErrToolNotFound) {
			writeError(w, http.StatusNotFound, "Tool not found")
			return
		}
		logger.L().Error("查找工具失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	descriptor := toolDescriptor(resolved)
	descriptor["payment"] = s.paymentBlock()
	writeJSON(w, http.StatusOK, descriptor)
}

// handleExecuteTool 实现付费执行协议:无支付头返回 402 挑战;带支付头
// 则校验、落支付记录(tx_hash 唯一约束裁决重放)、记账、执行并计量。
func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request, agent *market.Agent) {
	ctx := r.Context()

	resolved, err := s.tools.Resolve(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, market.ErrToolNotFound) {
			writeError(w, http.StatusNotFound, "Tool not found")
			return
		}
		logger.L().Error("查找工具失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	tool := resolved.Tool

	var body struct {
		Params map[string]any `json:"params"`
	}
	if raw, readErr := io.ReadAll(io.LimitReader(r.Body, 1<<20)); readErr == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	txHash := r.Header.Get("X-Payment-Tx")
	if txHash == "" {
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":   "Payment Required",
			"message": fmt.Sprintf("Tool %q requires payment", tool.Name),
			"payment": map[string]any{
				"amount":    tool.PriceUSD.String(),
				"token":     s.payCfg.TokenContract,
				"recipient": s.payCfg.Recipient,
				"network":   s.payCfg.Network,
			},
			"instructions": "Send an ERC-20 transfer to the recipient, then retry with X-Payment-Tx header",
		})
		return
	}

	result, err := s.verifier.Verify(ctx, txHash, payment.Expectation{
		Token:         common.HexToAddress(s.payCfg.TokenContract),
		Recipient:     common.HexToAddress(s.payCfg.Recipient),
		PriceUSD:      tool.PriceUSD,
		TokenDecimals: s.payCfg.TokenDecimals,
	})
	if err != nil {
		logger.L().Warn("支付校验基础设施错误", "tx_hash", txHash, "error", err)
		writeError(w, http.StatusPaymentRequired, "Payment verification failed")
		return
	}
	if !result.Valid {
		writeCodedError(w, http.StatusPaymentRequired, result.Message, result.Reason)
		return
	}

	// 支付落库。唯一约束是系统里唯一的互斥原语:并发重放同一笔交易时
	// 只有一个请求能走到执行。
	now := time.Now()
	record := &market.Payment{
		ID:          uuid.NewString(),
		TxHash:      txHash,
		AgentID:     agent.ID,
		ToolID:      tool.ID,
		AmountUSD:   tool.PriceUSD,
		AmountToken: tool.PriceUSD,
		Network:     s.payCfg.Network,
		Status:      market.PaymentConfirmed,
		CreatedAt:   now,
		ConfirmedAt: &now,
	}
	if err := s.store.CreatePayment(ctx, record); err != nil {
		if errors.Is(err, market.ErrDuplicatePayment) {
			writeCodedError(w, http.StatusPaymentRequired,
				"Payment transaction already used", "DUPLICATE_PAYMENT")
			return
		}
		logger.L().Error("支付落库失败", "tx_hash", txHash, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	logger.Audit().Info("支付结算",
		"tx_hash", txHash,
		"agent_id", agent.ID,
		"tool_id", tool.ID,
		"amount_usd", tool.PriceUSD.String(),
	)

	// 记账是读改写、尽力而为:失败只记日志,绝不在支付已落库后拦下执行。
	if err := s.store.CreditAgent(ctx, agent.ID, tool.PriceUSD, now); err != nil {
		logger.L().Error("更新调用方累计消费失败", "agent_id", agent.ID, "error", err)
	}
	if resolved.Source == registry.SourceProvider && tool.ProviderID != "" {
		share := tool.RevenueShare
		if share <= 0 {
			share = 80
		}
		earning := tool.PriceUSD.Mul(decimal.NewFromInt(int64(share))).Div(decimal.NewFromInt(100))
		if err := s.store.CreditProvider(ctx, tool.ProviderID, earning); err != nil {
			logger.L().Error("更新提供方收益失败", "provider_id", tool.ProviderID, "error", err)
		}
	}

	start := time.Now()
	data, execErr := s.tools.Execute(ctx, resolved, body.Params)
	responseTime := time.Since(start).Milliseconds()

	statusCode := http.StatusOK
	errorType := ""
	errorMessage := ""
	if execErr != nil {
		statusCode = execErr.StatusCode
		errorType = execErr.Type
		switch execErr.Type {
		case registry.ErrorTypeProvider:
			errorMessage = execErr.Message + ": " + truncate(execErr.Details, 500)
		default:
			errorMessage = truncate(execErr.Error(), 1000)
		}
	}

	s.recordUsage(ctx, &market.UsageLog{
		ID:             uuid.NewString(),
		ToolID:         tool.ID,
		AgentID:        agent.ID,
		PaymentID:      record.ID,
		ResponseTimeMs: responseTime,
		StatusCode:     statusCode,
		Success:        execErr == nil,
		ErrorType:      errorType,
		ErrorMessage:   errorMessage,
		CreatedAt:      time.Now(),
	})
	metrics.ObserveToolExecution(tool.ID, string(resolved.Source), execErr == nil, tool.PriceUSD.InexactFloat64())

	if execErr != nil {
		switch execErr.Type {
		case registry.ErrorTypeProvider:
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":   "Provider API error",
				"details": execErr.Details,
			})
		case registry.ErrorTypeConfiguration:
			writeError(w, http.StatusInternalServerError, execErr.Message)
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":   "Execution failed",
				"details": execErr.Details,
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"tool":         tool.ID,
		"responseTime": responseTime,
		"payment": map[string]any{
			"txHash": txHash,
			"amount": tool.PriceUSD.String(),
		},
		"data": data,
	})
}

// recordUsage 落一条用量日志并向事件流尽力投递。两者失败都不影响请求。
func (s *Server) recordUsage(ctx context.Context, log *market.UsageLog) {
	if err := s.store.AppendUsageLog(ctx, log); err != nil {
		logger.L().Error("写入用量日志失败", "tool_id", log.ToolID, "error", err)
	}
	if s.feed == nil {
		return
	}
	event := events.UsageEvent{
		ToolID:         log.ToolID,
		AgentID:        log.AgentID,
		PaymentID:      log.PaymentID,
		Success:        log.Success,
		StatusCode:     log.StatusCode,
		ErrorType:      log.ErrorType,
		ResponseTimeMs: log.ResponseTimeMs,
		OccurredAt:     log.CreatedAt,
	}
	if err := s.feed.Publish(ctx, event); err != nil {
		logger.L().Warn("投递用量事件失败", "tool_id", log.ToolID, "error", err)
	}
}
