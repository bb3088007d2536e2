package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
)

// SignalRelay routes point-to-point call signaling by identity. It keeps
// no state of its own and is deliberately independent of room membership,
// so peers can negotiate a call before any room exists.
type SignalRelay struct {
	presence *PresenceRegistry
}

func NewSignalRelay(presence *PresenceRegistry) *SignalRelay {
	return &SignalRelay{presence: presence}
}

// Forward delivers one signaling message to the target identity, tagged
// with the sender. Messages are not durable: an offline target is an
// error to the sender, never a queue.
func (s *SignalRelay) Forward(from core.ConnID, to domain.Identity, event string, payload json.RawMessage) error {
	sender, ok := s.presence.IdentityOf(from)
	if !ok {
		return core.Validation("Not logged in")
	}
	if to == "" {
		return core.Validation("Target user required")
	}
	conn, ok := s.presence.Resolve(to)
	if !ok {
		return core.NotFound("User not found")
	}

	frame, err := core.Encode(core.CallEvent{Type: event, From: sender, Payload: payload})
	if err != nil {
		return core.Validation("Invalid payload")
	}
	if err := conn.TrySend(frame); err != nil {
		// No acknowledgement protocol; a slow target just misses it.
		log.Warn().Err(err).Str("module", "app.relay").Str("event", event).
			Str("to", string(to)).Msg("relay send dropped")
	}
	log.Debug().Str("module", "app.relay").Str("event", event).
		Str("from", string(sender)).Str("to", string(to)).Msg("relayed")
	return nil
}
