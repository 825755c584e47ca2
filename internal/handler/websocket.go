package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bubbleboard/internal/ingest"
	"bubbleboard/internal/model"
)

// maxFrameBytes limits a single inbound websocket frame
const maxFrameBytes = 64 << 10

// createUpgrader creates a WebSocket upgrader with the given allowed origins
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowedMap[origin] {
				return true
			}
			// 同一ホストから配信したページは許可
			u, err := url.Parse(origin)
			return err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// HandleWebSocket handles GET /ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// IP は接続時に確定させる
	ip := ingest.ClientIP(r)

	upgrader := createUpgrader(h.Config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn().Err(err).Str("ip", ip).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	id := uuid.NewString()
	h.Logger.Info().Str("conn", id).Str("ip", ip).Msg("websocket connected")

	h.Board.Join(conn, id)
	defer h.Board.Leave(conn)

	for {
		var ev model.InboundEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.Logger.Debug().Err(err).Str("conn", id).Msg("websocket read failed")
			}
			return
		}

		switch ev.Type {
		case model.EventNewText:
			// 不正な投稿は何も返さず破棄する
			h.Board.Submit(ev.Payload, ip)
		default:
			// keepalive 等は無視
		}
	}
}
