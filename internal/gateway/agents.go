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

// handleRegisterAgent 以钱包地址注册调用方。重复注册返回既有身份而不是
// 铸造新 key,调用方丢失响应后可以安全重试。
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WalletAddress string `json:"walletAddress"`
		Name          string `json:"name"`
		Email         string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !strings.HasPrefix(body.WalletAddress, "0x") {
		writeError(w, http.StatusBadRequest, "walletAddress must start with 0x")
		return
	}

	ctx := r.Context()
	wallet := market.NormalizeAddress(body.WalletAddress)

	existing, err := s.store.AgentByWallet(ctx, wallet)
	switch {
	case err == nil:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":         "Agent already registered",
			"agentId":       existing.ID,
			"apiKey":        existing.APIKey,
			"walletAddress": existing.WalletAddress,
		})
		return
	case errors.Is(err, market.ErrAgentNotFound):
		// 正常注册路径。
	default:
		logger.L().Error("查询钱包注册状态失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	agent := &market.Agent{
		ID:            uuid.NewString(),
		WalletAddress: wallet,
		Name:          body.Name,
		Email:         body.Email,
		APIKey:        market.NewAgentKey(),
		TotalSpent:    decimal.Zero,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		logger.L().Error("创建调用方失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"agentId":       agent.ID,
		"apiKey":        agent.APIKey,
		"walletAddress": agent.WalletAddress,
		"message":       "Agent registered successfully",
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.AgentByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, market.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "Agent not found")
			return
		}
		logger.L().Error("查询调用方失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":            agent.ID,
		"walletAddress": agent.WalletAddress,
		"name":          agent.Name,
		"email":         agent.Email,
		"totalSpent":    agent.TotalSpent.String(),
		"requestCount":  agent.RequestCount,
		"lastActiveAt":  agent.LastActiveAt,
		"createdAt":     agent.CreatedAt,
	})
}

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.AgentByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, market.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "Agent not found")
			return
		}
		logger.L().Error("查询调用方失败", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalSpent":   agent.TotalSpent.String(),
		"requestCount": agent.RequestCount,
		"lastActiveAt": agent.LastActiveAt,
	})
}
