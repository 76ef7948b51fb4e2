package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"KlimaFlow-Chain/internal/agent"
	xerrors "KlimaFlow-Chain/internal/errors"
	"KlimaFlow-Chain/pkg/logger"
)

// ChatMessage 是 WebSocket 通道上传输的消息结构，
// 与前端聊天窗口的 {role, content} 协议保持一致。
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	TxHash  string `json:"tx_hash,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 前端与服务可能部署在不同域名下。
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleChatSocket 将 WebSocket 连接桥接到对话网关。
// 每条用户消息同步处理，回复按到达顺序写回。
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	if s.gateway == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "对话网关未初始化")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Warn("WebSocket 升级失败", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		var incoming ChatMessage
		if err := conn.ReadJSON(&incoming); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.L().Warn("WebSocket 连接异常断开", slog.Any("error", err))
			}
			return
		}
		if incoming.Role != "user" || strings.TrimSpace(incoming.Content) == "" {
			continue
		}

		result, chatErr := s.gateway.Chat(ctx, agent.ChatRequest{Message: incoming.Content})
		var outgoing ChatMessage
		if chatErr != nil {
			outgoing = ChatMessage{
				Role:    "assistant",
				Content: "处理消息时出现问题，请稍后再试。",
				Error:   chatErr.Error(),
			}
		} else {
			outgoing = ChatMessage{
				Role:    "assistant",
				Content: result.Reply,
				TxHash:  result.TxHash,
				RunID:   result.RunID,
				Error:   result.ErrorMessage,
			}
		}
		if err := conn.WriteJSON(outgoing); err != nil {
			logger.L().Warn("WebSocket 写入失败", slog.Any("error", err))
			return
		}
	}
}
