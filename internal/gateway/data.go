package gateway

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ChainBazaar/internal/market"
	"ChainBazaar/internal/payment"
	"ChainBazaar/pkg/logger"
)

// dataEndpoint 是匿名数据端点的价签。这里是一张独立于注册表的扁平
// 价格表,端点集合与内置工具一一对应。
type dataEndpoint struct {
	Price       string
	Name        string
	Description string
	Category    string
}

var dataPricing = map[string]dataEndpoint{
	"market": {
		Price:       "0.01",
		Name:        "Market Data API",
		Description: "Real-time stock market data including S&P 500, NASDAQ, and Dow Jones",
		Category:    "finance",
	},
	"crypto": {
		Price:       "0.01",
		Name:        "Crypto Prices API",
		Description: "Current cryptocurrency prices for Bitcoin, Ethereum and stablecoins",
		Category:    "crypto",
	},
	"weather": {
		Price:       "0.01",
		Name:        "Weather Data API",
		Description: "Current weather data for any location worldwide",
		Category:    "weather",
	},
	"sentiment": {
		Price:       "0.01",
		Name:        "Social Sentiment API",
		Description: "Social media sentiment analysis for any topic",
		Category:    "ai",
	},
	"web3": {
		Price:       "0.01",
		Name:        "Web3 Analytics API",
		Description: "Web3 analytics including TVL, gas prices, and DEX volume",
		Category:    "crypto",
	},
}

var dataOrder = []string{"market", "crypto", "weather", "sentiment", "web3"}

// handleListData 是数据端点的公开目录,不要求任何凭证。
func (s *Server) handleListData(w http.ResponseWriter, r *http.Request) {
	apis := make([]map[string]any, 0, len(dataOrder))
	for _, id := range dataOrder {
		entry := dataPricing[id]
		apis = append(apis, map[string]any{
			"id":          id,
			"name":        entry.Name,
			"description": entry.Description,
			"endpoint":    "/data/" + id,
			"price":       "$" + entry.Price,
			"category":    entry.Category,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"apis": apis})
}

// handleData 实现匿名版的付费协议:同样的 402 挑战与链上校验,但身份
// 只取自可选的 X-Agent-ID 头,也不落支付记录。
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	entry, ok := dataPricing[kind]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown data endpoint")
		return
	}
	ctx := r.Context()

	txHash := r.Header.Get("X-Payment-Tx")
	if txHash == "" {
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":   "Payment Required",
			"message": "This endpoint requires payment",
			"payment": map[string]any{
				"amount":      entry.Price,
				"token":       s.payCfg.TokenContract,
				"recipient":   s.payCfg.Recipient,
				"network":     s.payCfg.Network,
				"description": entry.Description,
			},
		})
		return
	}

	price := decimal.RequireFromString(entry.Price)
	result, err := s.verifier.Verify(ctx, txHash, payment.Expectation{
		Token:         common.HexToAddress(s.payCfg.TokenContract),
		Recipient:     common.HexToAddress(s.payCfg.Recipient),
		PriceUSD:      price,
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

	resolved, err := s.tools.Resolve(ctx, kind)
	if err != nil {
		logger.L().Error("数据端点缺少内置工具", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	params := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	start := time.Now()
	data, execErr := s.tools.Execute(ctx, resolved, params)

	agentID := r.Header.Get("X-Agent-ID")
	if agentID == "" {
		agentID = "anonymous"
	}
	statusCode := http.StatusOK
	errorType := ""
	if execErr != nil {
		statusCode = execErr.StatusCode
		errorType = execErr.Type
	}
	s.recordUsage(ctx, &market.UsageLog{
		ID:             uuid.NewString(),
		ToolID:         kind,
		AgentID:        agentID,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		StatusCode:     statusCode,
		Success:        execErr == nil,
		ErrorType:      errorType,
		CreatedAt:      time.Now(),
	})

	if execErr != nil {
		writeError(w, execErr.StatusCode, execErr.Message)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
