package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *WsSignalConn) {
	pingPeriod := ctl.pingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Info().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, connID core.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump closing")
		// Teardown must run even though ctx is being cancelled.
		ctl.Orch.OnDisconnect(context.Background(), connID)
		cancel()
		c.Close()
	}()

	// A missed pong means the read deadline fires and ReadMessage errors
	// out, which runs the teardown above.
	pongWait := ctl.pingPeriod * 10 / 9
	if pongWait > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, connID, c, data)
		}
	}
}

// envelope is decoded first; rid ties a reply back to its request.
type envelope struct {
	Type string `json:"type"`
	Rid  string `json:"rid,omitempty"`
}

func (ctl *Controller) handleSignal(ctx context.Context, connID core.ConnID, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "", core.Validation("Malformed message"))
		return
	}

	switch env.Type {
	case "get-rtp-capabilities":
		ctl.handleCapabilities(c, env.Rid)
	case "login":
		ctl.handleLogin(connID, c, data)
	case "join-room":
		ctl.handleJoinRoom(ctx, connID, c, env.Rid, data)
	case "connect-transport":
		ctl.handleConnectTransport(ctx, connID, c, env.Rid, data)
	case "produce":
		ctl.handleProduce(ctx, connID, c, env.Rid, data)
	case "consume":
		ctl.handleConsume(ctx, connID, c, env.Rid, data)
	case "leave-room":
		ctl.handleLeaveRoom(ctx, connID, c, env.Rid)
	case "call-user":
		ctl.handleCallUser(connID, c, data)
	case "answer-call":
		ctl.handleAnswerCall(connID, c, data)
	case "reject-call":
		ctl.handleRejectCall(connID, c, data)
	case "ice-candidate":
		ctl.handleICECandidate(connID, c, data)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, env.Rid, core.Validation("Unknown message type"))
	}
}

func (ctl *Controller) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

// sendError converts any taxonomy error into an error event; no inbound
// failure ever terminates the connection.
func (ctl *Controller) sendError(c *WsSignalConn, rid string, err error) {
	log.Warn().Err(err).Str("module", "signal").Str("kind", core.KindOf(err).String()).Msg("request failed")
	ctl.sendJSON(c, core.ErrorEvent{
		Type:  core.EventError,
		Rid:   rid,
		Error: core.Message(err),
	})
}
