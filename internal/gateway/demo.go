package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"

	"ChainBazaar/internal/orchestrator"
	"ChainBazaar/pkg/logger"
)

// clientIdentity 提取限流键。优先取反向代理透传的真实地址。
func clientIdentity(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleDemoStart 创建一个演示会话并返回 WebSocket 接入地址。会话此时
// 尚未运行,第一个观察者连上后才启动。
func (s *Server) handleDemoStart(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Demo is not enabled")
		return
	}

	session, err := s.sessions.Start(r.Context(), clientIdentity(r))
	if err != nil {
		if errors.Is(err, orchestrator.ErrRateLimited) {
			writeCodedError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.", "RATE_LIMITED")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to start demo session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": session.ID(),
		"wsUrl":     "/demo/connect?id=" + session.ID(),
	})
}

// handleDemoConnect 将观察者升级为 WebSocket 并挂到会话的事件流上。
// 第一个观察者触发会话运行;最后一个观察者断开后会话被移除。
func (s *Server) handleDemoConnect(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Demo is not enabled")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing session id")
		return
	}
	session, ok := s.sessions.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown session")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写过响应。
		logger.L().Warn("WebSocket 升级失败", "session_id", id, "error", err)
		return
	}

	messages, detach := session.Attach()
	go session.Run(context.Background())

	// 读循环:接收控制消息(目前只有 reset)。连接断开时解除挂接,
	// 事件通道随之关闭,写循环得以退出。
	go func() {
		defer detach()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			session.HandleInbound(raw)
		}
	}()

	// 写循环:事件流关闭或写失败即收尾。
	for msg := range messages {
		if err := conn.WriteJSON(msg); err != nil {
			break
		}
	}

	detach()
	_ = conn.Close()
	if session.Observers() == 0 {
		s.sessions.Remove(id)
	}
}
