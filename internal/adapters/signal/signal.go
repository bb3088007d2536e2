// Package signal is the websocket transport adapter: it upgrades HTTP
// connections, decodes inbound events at the boundary and dispatches them
// to the orchestration layer.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch       *app.Orchestrator
	limiter    *AttemptLimiter
	readLimit  int64
	pingPeriod time.Duration
}

func NewController(orch *app.Orchestrator, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		Orch:       orch,
		limiter:    NewAttemptLimiter(10, time.Minute),
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
	}
}

// WsSignalConn implements core.SignalConnection over one websocket.
type WsSignalConn struct {
	conn  *websocket.Conn
	send  chan core.Frame
	token string

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and starts the connection's pumps.
// Every connection gets its own id; identities attach at login.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	connID := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &WsSignalConn{
		conn:  ws,
		send:  make(chan core.Frame, 32),
		token: c.GetString("client_token"),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, connID, conn)
}
