package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/ratelimit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents connect from arbitrary networks and authenticate per message.
	CheckOrigin: func(*http.Request) bool { return true },
}

type welcomeFrame struct {
	Welcome string `json:"welcome"`
}

// ServeWS upgrades the connection and runs the heartbeat stream. Every frame
// is a standalone HeartbeatRequest carrying its own token; a bad frame gets
// an error ack and the connection stays open.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ClawTrace Telemetry Gateway"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(welcomeFrame{Welcome: "ClawTrace Gateway Ready"}); err != nil {
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			// Normal close or network drop; either way the stream is over.
			return
		}

		if err := conn.WriteJSON(g.handleFrame(r, payload)); err != nil {
			return
		}
	}
}

// handleFrame processes one heartbeat frame and returns the reply to write:
// an ack, an error frame, or a rate-limit frame carrying the retry hint.
func (g *Gateway) handleFrame(r *http.Request, payload []byte) any {
	var req models.HeartbeatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		g.registry.HeartbeatsMalformed.Inc()
		return models.ErrorResponse{Error: "invalid payload"}
	}
	if req.Token == "" {
		g.registry.HeartbeatsMalformed.Inc()
		return models.ErrorResponse{Error: "unauthorized"}
	}

	agentID, err := g.Authenticate(req.Token)
	if err != nil {
		return models.ErrorResponse{Error: "unauthorized"}
	}

	ack, err := g.HandleHeartbeat(r.Context(), agentID, req.Status, req.Metrics)
	if err != nil {
		var limited *ratelimit.LimitedError
		if errors.As(err, &limited) {
			return models.RateLimitedResponse{
				Error:      "Too many requests",
				Type:       string(limited.Route),
				RetryAfter: int64(limited.RetryAfter),
			}
		}
		return models.ErrorResponse{Error: "invalid payload"}
	}
	return ack
}
