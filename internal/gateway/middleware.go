package gateway

import (
	"errors"
	"net/http"

	"ChainBazaar/internal/market"
	"ChainBazaar/pkg/logger"
)

type agentHandler func(w http.ResponseWriter, r *http.Request, agent *market.Agent)

// withAgent 用 X-API-Key 解析调用方身份。
func (s *Server) withAgent(next agentHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeCodedError(w, http.StatusUnauthorized, "API key required", "MISSING_API_KEY")
			return
		}

		agent, err := s.store.AgentByAPIKey(r.Context(), apiKey)
		if err != nil {
			if errors.Is(err, market.ErrAgentNotFound) {
				logger.Audit().Warn("拒绝无效的 API key",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeCodedError(w, http.StatusUnauthorized, "Invalid API key", "INVALID_API_KEY")
				return
			}
			logger.L().Error("查询调用方身份失败", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		next(w, r, agent)
	}
}

type providerHandler func(w http.ResponseWriter, r *http.Request, provider *market.Provider)

// withProvider 用 X-Provider-Key 解析提供方身份,未审核通过的账户拒绝。
func (s *Server) withProvider(next providerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Provider-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "Provider API key required")
			return
		}

		provider, err := s.store.ProviderByAPIKey(r.Context(), apiKey)
		if err != nil {
			if errors.Is(err, market.ErrProviderNotFound) {
				logger.Audit().Warn("拒绝无效的提供方 key",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeError(w, http.StatusUnauthorized, "Invalid provider API key")
				return
			}
			logger.L().Error("查询提供方身份失败", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		if provider.Status != market.ProviderApproved {
			writeError(w, http.StatusForbidden, "Provider account not approved")
			return
		}
		next(w, r, provider)
	}
}
