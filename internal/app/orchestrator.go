package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
)

// Orchestrator sequences a connection's lifecycle: login, room membership,
// media negotiation and teardown. Whatever step a connection reached,
// OnDisconnect releases everything it acquired exactly once.
type Orchestrator struct {
	Presence *PresenceRegistry
	Rooms    *RoomManager
	Relay    *SignalRelay
}

func NewOrchestrator(presence *PresenceRegistry, rooms *RoomManager, relay *SignalRelay) *Orchestrator {
	return &Orchestrator{Presence: presence, Rooms: rooms, Relay: relay}
}

func (o *Orchestrator) Login(connID core.ConnID, conn core.SignalConnection, name domain.Identity) error {
	return o.Presence.Login(name, connID, conn)
}

// OnDisconnect unbinds presence first so in-flight joins observe the
// connection as gone, then unwinds any room membership.
func (o *Orchestrator) OnDisconnect(ctx context.Context, connID core.ConnID) {
	name, loggedIn := o.Presence.LogoutConn(connID)
	left := o.Rooms.Leave(ctx, connID)
	if loggedIn || left {
		log.Info().Str("module", "app.orchestrator").Str("identity", string(name)).
			Bool("left_room", left).Msg("connection unwound")
	}
}
