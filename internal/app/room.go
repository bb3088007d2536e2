package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/dkeye/parley/internal/media"
)

// Room is a threadsafe participant set. Only the RoomManager mutates the
// set; the room never touches engine resources itself.
type Room struct {
	id domain.RoomID

	mu           sync.RWMutex
	participants map[core.ConnID]*Participant
	closed       bool
}

func newRoom(id domain.RoomID) *Room {
	return &Room{
		id:           id,
		participants: make(map[core.ConnID]*Participant),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// add registers p unless the room was already emptied and removed from the
// registry; callers retry against a fresh room in that case.
func (r *Room) add(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.participants[p.connID] = p
	log.Info().Str("module", "app.room").Str("room", string(r.id)).
		Str("identity", string(p.identity)).Msg("participant added")
	return true
}

// remove takes the participant out and reports how many remain. The room
// marks itself closed the moment it empties.
func (r *Room) remove(connID core.ConnID) (*Participant, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[connID]
	if !ok {
		return nil, len(r.participants), false
	}
	delete(r.participants, connID)
	remaining := len(r.participants)
	if remaining == 0 {
		r.closed = true
	}
	log.Info().Str("module", "app.room").Str("room", string(r.id)).
		Str("identity", string(p.identity)).Int("remaining", remaining).Msg("participant removed")
	return p, remaining, true
}

func (r *Room) participant(connID core.ConnID) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[connID]
	return p, ok
}

// contains double-checks membership after an engine call completed.
func (r *Room) contains(p *Participant) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participants[p.connID] == p
}

// findProducer scans the room for a live producer with the given id.
func (r *Room) findProducer(producerID string) (*Participant, media.Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		if prod, ok := p.producerByID(producerID); ok {
			return p, prod, true
		}
	}
	return nil, nil, false
}

func (r *Room) identities() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Identity, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.identity)
	}
	return out
}

// broadcast fans a frame out to every participant except one. Slow
// consumers drop the frame; that is the backpressure policy here.
func (r *Room) broadcast(except core.ConnID, frame core.Frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID, p := range r.participants {
		if connID == except {
			continue
		}
		if err := p.conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.room").Str("room", string(r.id)).
				Str("identity", string(p.identity)).Msg("broadcast dropped")
		}
	}
}
