package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/dkeye/parley/internal/media"
)

// RoomManager owns the room map and the connection→room index; all room
// mutation goes through it. Engine calls run outside the map locks.
type RoomManager struct {
	router   media.Router
	presence *PresenceRegistry

	mu     sync.RWMutex
	rooms  map[domain.RoomID]*Room
	byConn map[core.ConnID]domain.RoomID
}

func NewRoomManager(router media.Router, presence *PresenceRegistry) *RoomManager {
	return &RoomManager{
		router:   router,
		presence: presence,
		rooms:    make(map[domain.RoomID]*Room),
		byConn:   make(map[core.ConnID]domain.RoomID),
	}
}

func (m *RoomManager) Capabilities() media.RTPCapabilities {
	return m.router.Capabilities()
}

type RoomInfo struct {
	ID           domain.RoomID `json:"id"`
	Participants int           `json:"participant_count"`
}

func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for id, r := range m.rooms {
		out = append(out, RoomInfo{ID: id, Participants: r.ParticipantCount()})
	}
	return out
}

// FindRoom resolves a connection's room via the index. Absence is the
// expected outcome for media operations racing a disconnect.
func (m *RoomManager) FindRoom(connID core.ConnID) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomID, ok := m.byConn[connID]
	if !ok {
		return nil, false
	}
	room, ok := m.rooms[roomID]
	return room, ok
}

func (m *RoomManager) find(connID core.ConnID) (*Room, *Participant, error) {
	room, ok := m.FindRoom(connID)
	if !ok {
		return nil, nil, core.NotFound("Room not found")
	}
	p, ok := room.participant(connID)
	if !ok {
		return nil, nil, core.NotFound("Room not found")
	}
	return room, p, nil
}

// Join creates or reuses the room, allocates a transport for the new
// participant and announces the arrival. The transport descriptor goes
// back to the caller only.
func (m *RoomManager) Join(ctx context.Context, connID core.ConnID, conn core.SignalConnection, roomID domain.RoomID) (*media.TransportInfo, error) {
	if err := domain.ValidateRoomID(string(roomID)); err != nil {
		return nil, core.Validation("Invalid room id")
	}
	identity, ok := m.presence.IdentityOf(connID)
	if !ok {
		return nil, core.Validation("Not logged in")
	}

	// Rejoining moves the participant: the old binding is torn down first.
	if _, joined := m.FindRoom(connID); joined {
		m.Leave(ctx, connID)
	}

	p := newParticipant(identity, connID, conn)
	transport, err := m.router.CreateTransport(ctx)
	if err != nil {
		return nil, core.EngineErr("Transport creation failed", err)
	}
	if err := p.setTransport(ctx, transport); err != nil {
		transport.Close()
		return nil, core.EngineErr("Transport creation failed", err)
	}

	// Commit under the map lock: room get-or-create, membership and the
	// connection index move together. The connection may have dropped
	// while the engine allocated the transport, so re-check presence.
	for {
		m.mu.Lock()
		if !m.presence.Online(connID) {
			m.mu.Unlock()
			p.close(ctx)
			return nil, core.NotFound("Connection closed")
		}
		room, ok := m.rooms[roomID]
		if !ok {
			room = newRoom(roomID)
			m.rooms[roomID] = room
		}
		if room.add(p) {
			m.byConn[connID] = roomID
			m.mu.Unlock()
			break
		}
		// The room emptied out concurrently; drop it and retry with a
		// fresh one.
		if m.rooms[roomID] == room {
			delete(m.rooms, roomID)
		}
		m.mu.Unlock()
	}

	m.presence.BindRoom(identity, roomID)

	if room, ok := m.FindRoom(connID); ok {
		if frame, err := core.Encode(core.ParticipantJoinedEvent{
			Type:     core.EventParticipantIn,
			Identity: identity,
		}); err == nil {
			room.broadcast(connID, frame)
		}
	}

	info := transport.Info()
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).
		Str("identity", string(identity)).Str("transport_id", info.ID).Msg("joined room")
	return &info, nil
}

// ConnectTransport forwards the caller's security parameters to its
// transport. Failure keeps the binding alive so the caller may retry.
func (m *RoomManager) ConnectTransport(ctx context.Context, connID core.ConnID, transportID string, params media.ConnectParams) error {
	_, p, err := m.find(connID)
	if err != nil {
		return err
	}
	transport, ok := p.transportByID(transportID)
	if !ok {
		return core.NotFound("Transport not found")
	}
	if err := transport.Connect(ctx, params); err != nil {
		return mapMediaErr("Transport connect failed", err)
	}
	if err := p.markConnected(ctx); err != nil {
		return core.EngineErr("Transport in wrong state", err)
	}
	return nil
}

// Produce binds an outgoing stream to the participant's transport and
// announces the new producer to everyone else in the room.
func (m *RoomManager) Produce(ctx context.Context, connID core.ConnID, transportID string, kind media.Kind, params media.RTPParameters) (string, error) {
	room, p, err := m.find(connID)
	if err != nil {
		return "", err
	}
	if !p.mediaReady() {
		return "", core.EngineErr("Transport not connected", media.ErrNotConnected)
	}
	if p.hasProducer() {
		return "", core.Conflict("Already producing")
	}
	transport, ok := p.transportByID(transportID)
	if !ok {
		return "", core.NotFound("Transport not found")
	}

	producer, err := transport.Produce(ctx, kind, params)
	if err != nil {
		return "", mapMediaErr("Produce failed", err)
	}

	// The participant may have left while the engine worked.
	if !room.contains(p) {
		producer.Close()
		return "", core.NotFound("Room not found")
	}
	if err := p.setProducer(ctx, producer); err != nil {
		producer.Close()
		return "", err
	}

	if frame, err := core.Encode(core.NewProducerEvent{
		Type:       core.EventNewProducer,
		ProducerID: producer.ID(),
		Identity:   p.identity,
	}); err == nil {
		room.broadcast(connID, frame)
	}

	log.Info().Str("module", "app.rooms").Str("room", string(room.id)).
		Str("identity", string(p.identity)).Str("producer_id", producer.ID()).Msg("producing")
	return producer.ID(), nil
}

// Consume checks compatibility, creates the consumer paused and registers
// it. The caller resumes it after delivering the description, so media
// never flows before the client knows the consumer's identity.
func (m *RoomManager) Consume(ctx context.Context, connID core.ConnID, producerID string, caps media.RTPCapabilities) (*media.ConsumerInfo, error) {
	room, p, err := m.find(connID)
	if err != nil {
		return nil, err
	}
	if !p.mediaReady() {
		return nil, core.EngineErr("Transport not connected", media.ErrNotConnected)
	}
	if _, _, ok := room.findProducer(producerID); !ok {
		return nil, core.NotFound("Producer not found")
	}
	if !m.router.CanConsume(producerID, caps) {
		return nil, core.EngineErr("Cannot consume producer", media.ErrIncompatibleCaps)
	}
	transport, ok := p.currentTransport()
	if !ok {
		return nil, core.NotFound("Transport not found")
	}

	consumer, err := transport.Consume(ctx, producerID, caps)
	if err != nil {
		return nil, mapMediaErr("Consume failed", err)
	}

	if !room.contains(p) {
		consumer.Close()
		return nil, core.NotFound("Room not found")
	}
	if err := p.addConsumer(consumer); err != nil {
		consumer.Close()
		return nil, err
	}

	info := consumer.Info()
	log.Info().Str("module", "app.rooms").Str("room", string(room.id)).
		Str("identity", string(p.identity)).Str("consumer_id", info.ID).
		Str("producer_id", producerID).Msg("consuming")
	return &info, nil
}

// ResumeConsumer unpauses a consumer once its description reached the
// caller. A missing consumer is benign; the participant already left.
func (m *RoomManager) ResumeConsumer(connID core.ConnID, consumerID string) {
	_, p, err := m.find(connID)
	if err != nil {
		return
	}
	if c, ok := p.consumerByID(consumerID); ok {
		c.Resume()
	}
}

// Leave removes membership and the index entry together, releases engine
// resources outside the locks, deletes the room once empty and notifies
// the remaining participants.
func (m *RoomManager) Leave(ctx context.Context, connID core.ConnID) bool {
	m.mu.Lock()
	roomID, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.byConn, connID)
	room := m.rooms[roomID]
	p, remaining, removed := room.remove(connID)
	if remaining == 0 && m.rooms[roomID] == room {
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()
	if !removed {
		return false
	}

	p.close(ctx)
	m.presence.ClearRoom(p.identity)

	if frame, err := core.Encode(core.ParticipantLeftEvent{
		Type:     core.EventParticipantOut,
		Identity: p.identity,
	}); err == nil {
		room.broadcast(connID, frame)
	}

	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).
		Str("identity", string(p.identity)).Int("remaining", remaining).Msg("left room")
	return true
}

// mapMediaErr converts engine sentinel errors to the client-facing taxonomy.
func mapMediaErr(msg string, err error) error {
	switch {
	case errors.Is(err, media.ErrProducerNotFound):
		return core.NotFound("Producer not found")
	case errors.Is(err, media.ErrUnsupportedKind):
		return core.Validation("Unsupported media kind")
	case errors.Is(err, media.ErrIncompatibleCaps):
		return core.EngineErr("Cannot consume producer", err)
	default:
		return core.EngineErr(msg, err)
	}
}
