package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"ChainBazaar/internal/ledger"
	"ChainBazaar/internal/market"
)

func periodParam(r *http.Request) ledger.Period {
	return ledger.ParsePeriod(r.URL.Query().Get("period"))
}

func (s *Server) handleAnalyticsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.ledger.Overview(r.Context(), periodParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute overview")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleAnalyticsActivity(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}
	entries, err := s.ledger.Activity(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load activity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

func (s *Server) handleAnalyticsToolStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.tools.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, market.ErrToolNotFound) {
			writeError(w, http.StatusNotFound, "Tool not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load tool")
		return
	}
	stats, err := s.ledger.ToolStats(r.Context(), id, periodParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute tool stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAnalyticsMyAgents 用 POST 承载 API Key 列表,避免密钥进入
// 查询串与访问日志。
func (s *Server) handleAnalyticsMyAgents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKeys []string `json:"apiKeys"`
		Period  string   `json:"period"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.APIKeys) == 0 {
		writeError(w, http.StatusBadRequest, "apiKeys is required")
		return
	}
	report, err := s.ledger.AgentsReport(r.Context(), req.APIKeys, ledger.ParsePeriod(req.Period))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute agent report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAnalyticsMyProvider(w http.ResponseWriter, r *http.Request, provider *market.Provider) {
	report, err := s.ledger.ProviderReport(r.Context(), provider.ID, periodParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute provider report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
