package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ChainBazaar/internal/market"
	"ChainBazaar/pkg/logger"
)

// handleRegisterProvider 注册提供方账户。用钱包地址充当 userId,重复
// 注册返回既有身份。提交即审核通过。
func (s *Server) handleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name          string `json:"name"`
		Email         string `json:"email"`
		WalletAddress string `json:"walletAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(strings.TrimSpace(body.Name)) < 2 {
		writeError(w, http.StatusBadRequest, "name must be at least 2 characters")
		return
	}
	if !strings.Contains(body.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}
	if !strings.HasPrefix(body.WalletAddress, "0x") {
		writeError(w, http.StatusBadRequest, "walletAddress must start with 0x")
		return
	}

	ctx := r.Context()
	userID := market.NormalizeAddress(body.WalletAddress)

	existing, err := s.store.ProviderByUser(ctx, userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "Already registered as provider",
			"providerId": existing.ID,
			"apiKey":     existing.APIKey,
		})
		return
	case errors.Is(err, market.ErrProviderNotFound):
	default:
		logger.L().Error("查询提供方注册状态失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	provider := &market.Provider{
		ID:            uuid.NewString(),
		UserID:        userID,
		Name:          body.Name,
		Email:         body.Email,
		WalletAddress: userID,
		APIKey:        market.NewProviderKey(),
		TotalEarned:   decimal.Zero,
		Status:        market.ProviderApproved,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateProvider(ctx, provider); err != nil {
		logger.L().Error("创建提供方失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"providerId": provider.ID,
		"apiKey":     provider.APIKey,
		"message":    "Provider account created",
	})
}

// handleSubmitAPI 上架一个外部数据工具。id 由提供方 id 前缀与名称
// slug 拼成,提交即审核通过。
func (s *Server) handleSubmitAPI(w http.ResponseWriter, r *http.Request, provider *market.Provider) {
	var body struct {
		Name            string         `json:"name"`
		Description     string         `json:"description"`
		ExternalURL     string         `json:"externalUrl"`
		PriceUSD        string         `json:"priceUsd"`
		Category        string         `json:"category"`
		Parameters      map[string]any `json:"parameters"`
		ExampleResponse any            `json:"exampleResponse"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(strings.TrimSpace(body.Name)) < 2 {
		writeError(w, http.StatusBadRequest, "name must be at least 2 characters")
		return
	}
	if len(strings.TrimSpace(body.Description)) < 10 {
		writeError(w, http.StatusBadRequest, "description must be at least 10 characters")
		return
	}
	if !strings.HasPrefix(body.ExternalURL, "http://") && !strings.HasPrefix(body.ExternalURL, "https://") {
		writeError(w, http.StatusBadRequest, "externalUrl must be a valid URL")
		return
	}
	price, err := decimal.NewFromString(body.PriceUSD)
	if err != nil || price.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "priceUsd must be a positive decimal")
		return
	}

	prefix := provider.ID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	toolID := prefix + "-" + market.Slug(body.Name)

	tool := &market.Tool{
		ID:           toolID,
		ProviderID:   provider.ID,
		Name:         body.Name,
		Description:  body.Description,
		ExternalURL:  body.ExternalURL,
		PriceUSD:     price,
		RevenueShare: 80,
		Category:     body.Category,
		Parameters:   body.Parameters,
		IsActive:     true,
		Status:       market.ToolApproved,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateTool(r.Context(), tool); err != nil {
		if errors.Is(err, market.ErrConflict) {
			writeError(w, http.StatusBadRequest, "API with this name already exists")
			return
		}
		logger.L().Error("上架工具失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"apiId":    toolID,
		"endpoint": "/tools/" + toolID,
		"message":  "API submitted and approved",
	})
}

func (s *Server) handleListProviderAPIs(w http.ResponseWriter, r *http.Request, provider *market.Provider) {
	tools, err := s.store.ListToolsByProvider(r.Context(), provider.ID)
	if err != nil {
		logger.L().Error("查询提供方工具失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"apis": tools})
}

// handleUpdateAPI 允许提供方改价和上下线自己的工具。
func (s *Server) handleUpdateAPI(w http.ResponseWriter, r *http.Request, provider *market.Provider) {
	var body struct {
		IsActive *bool   `json:"isActive"`
		PriceUSD *string `json:"priceUsd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	patch := market.ToolPatch{IsActive: body.IsActive}
	if body.PriceUSD != nil {
		price, err := decimal.NewFromString(*body.PriceUSD)
		if err != nil || price.Sign() <= 0 {
			writeError(w, http.StatusBadRequest, "priceUsd must be a positive decimal")
			return
		}
		patch.PriceUSD = &price
	}

	if err := s.store.UpdateTool(r.Context(), r.PathValue("id"), provider.ID, patch); err != nil {
		if errors.Is(err, market.ErrToolNotFound) {
			writeError(w, http.StatusNotFound, "API not found or not owned by you")
			return
		}
		logger.L().Error("更新工具失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "API updated"})
}

// handleProviderDashboard 汇总提供方的收益与上架情况。
func (s *Server) handleProviderDashboard(w http.ResponseWriter, r *http.Request, provider *market.Provider) {
	ctx := r.Context()

	tools, err := s.store.ListToolsByProvider(ctx, provider.ID)
	if err != nil {
		logger.L().Error("查询提供方工具失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	toolIDs := make([]string, 0, len(tools))
	for _, tool := range tools {
		toolIDs = append(toolIDs, tool.ID)
	}

	totalEarnings := decimal.Zero
	totalRequests := 0
	if len(toolIDs) > 0 {
		payments, err := s.store.ListPayments(ctx, market.PaymentQuery{
			ToolIDs: toolIDs,
			Status:  market.PaymentConfirmed,
		})
		if err != nil {
			logger.L().Error("查询提供方收入失败", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		shares := make(map[string]decimal.Decimal, len(tools))
		for _, tool := range tools {
			share := tool.RevenueShare
			if share <= 0 {
				share = 80
			}
			shares[tool.ID] = decimal.NewFromInt(int64(share)).Div(decimal.NewFromInt(100))
		}
		for _, p := range payments {
			totalEarnings = totalEarnings.Add(p.AmountUSD.Mul(shares[p.ToolID]))
			totalRequests++
		}
	}

	apis := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		apis = append(apis, map[string]any{
			"id":       tool.ID,
			"name":     tool.Name,
			"endpoint": "/tools/" + tool.ID,
			"price":    tool.PriceUSD.String(),
			"status":   tool.Status,
			"isActive": tool.IsActive,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"provider": map[string]any{
			"id":            provider.ID,
			"name":          provider.Name,
			"email":         provider.Email,
			"walletAddress": provider.WalletAddress,
			"status":        provider.Status,
		},
		"stats": map[string]any{
			"totalEarnings": totalEarnings.StringFixed(2),
			"totalRequests": totalRequests,
			"apiCount":      len(tools),
		},
		"apis": apis,
	})
}
