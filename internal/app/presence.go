package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
)

type presenceEntry struct {
	ConnID core.ConnID
	Conn   core.SignalConnection
	Room   domain.RoomID
}

// PresenceRegistry is the single source of truth for who is online.
// An identity is bound to at most one live connection.
type PresenceRegistry struct {
	mu     sync.RWMutex
	byName map[domain.Identity]*presenceEntry
	byConn map[core.ConnID]domain.Identity
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		byName: make(map[domain.Identity]*presenceEntry),
		byConn: make(map[core.ConnID]domain.Identity),
	}
}

// Login binds name to conn and broadcasts the new presence list. The
// broadcast happens under the registry lock so observers never see a
// partially updated list.
func (r *PresenceRegistry) Login(name domain.Identity, connID core.ConnID, conn core.SignalConnection) error {
	if err := domain.ValidateIdentity(string(name)); err != nil {
		return core.Validation("Invalid username")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return core.Conflict("Username already taken")
	}
	if prev, ok := r.byConn[connID]; ok {
		log.Warn().Str("module", "app.presence").Str("identity", string(prev)).Msg("connection already logged in")
		return core.Conflict("Already logged in")
	}
	r.byName[name] = &presenceEntry{ConnID: connID, Conn: conn}
	r.byConn[connID] = name
	log.Info().Str("module", "app.presence").Str("identity", string(name)).Msg("logged in")
	r.broadcastPresenceLocked()
	return nil
}

// Logout removes name and re-broadcasts presence. Unknown names are a no-op.
func (r *PresenceRegistry) Logout(name domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	delete(r.byConn, e.ConnID)
	log.Info().Str("module", "app.presence").Str("identity", string(name)).Msg("logged out")
	r.broadcastPresenceLocked()
}

// LogoutConn is the disconnect path: it unbinds whatever identity the
// connection holds and reports which one it was.
func (r *PresenceRegistry) LogoutConn(connID core.ConnID) (domain.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byName, name)
	delete(r.byConn, connID)
	log.Info().Str("module", "app.presence").Str("identity", string(name)).Msg("logged out on disconnect")
	r.broadcastPresenceLocked()
	return name, true
}

// BindRoom records the identity's current room so later events can resolve
// it without a room scan.
func (r *PresenceRegistry) BindRoom(name domain.Identity, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byName[name]; ok {
		e.Room = room
	}
}

func (r *PresenceRegistry) ClearRoom(name domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byName[name]; ok {
		e.Room = ""
	}
}

func (r *PresenceRegistry) RoomOf(name domain.Identity) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok || e.Room == "" {
		return "", false
	}
	return e.Room, true
}

// Resolve maps an identity to its connection; absence means offline.
func (r *PresenceRegistry) Resolve(name domain.Identity) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

func (r *PresenceRegistry) IdentityOf(connID core.ConnID) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byConn[connID]
	return name, ok
}

func (r *PresenceRegistry) Online(connID core.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[connID]
	return ok
}

func (r *PresenceRegistry) Snapshot() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *PresenceRegistry) snapshotLocked() []domain.Identity {
	out := make([]domain.Identity, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *PresenceRegistry) broadcastPresenceLocked() {
	frame, err := core.Encode(core.OnlineUsersEvent{
		Type:  core.EventOnlineUsers,
		Users: r.snapshotLocked(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("encode presence")
		return
	}
	for name, e := range r.byName {
		if err := e.Conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.presence").Str("identity", string(name)).Msg("presence send dropped")
		}
	}
}
