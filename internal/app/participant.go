package app

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/dkeye/parley/internal/media"
)

// Participant lifecycle states. The binding owns one transport, at most one
// producer and a set of consumers; all of them release together on close.
const (
	StateJoining        = "joining"
	StateTransportReady = "transport_ready"
	StateConnected      = "connected"
	StateProducing      = "producing"
	StateLeaving        = "leaving"
	StateClosed         = "closed"
)

func newParticipantFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateJoining,
		fsm.Events{
			{Name: "transport_ready", Src: []string{StateJoining}, Dst: StateTransportReady},
			{Name: "connect", Src: []string{StateTransportReady}, Dst: StateConnected},
			{Name: "produce", Src: []string{StateConnected}, Dst: StateProducing},
			{Name: "leave", Src: []string{StateJoining, StateTransportReady, StateConnected, StateProducing}, Dst: StateLeaving},
			{Name: "close", Src: []string{StateLeaving}, Dst: StateClosed},
		}, nil,
	)
}

// Participant is the per (room, connection) media binding.
type Participant struct {
	identity domain.Identity
	connID   core.ConnID
	conn     core.SignalConnection

	fsm *fsm.FSM

	mu        sync.Mutex
	transport media.Transport
	producer  media.Producer
	consumers map[string]media.Consumer
}

func newParticipant(identity domain.Identity, connID core.ConnID, conn core.SignalConnection) *Participant {
	return &Participant{
		identity:  identity,
		connID:    connID,
		conn:      conn,
		fsm:       newParticipantFSM(),
		consumers: make(map[string]media.Consumer),
	}
}

func (p *Participant) Identity() domain.Identity { return p.identity }
func (p *Participant) State() string             { return p.fsm.Current() }

func (p *Participant) setTransport(ctx context.Context, t media.Transport) error {
	p.mu.Lock()
	p.transport = t
	p.mu.Unlock()
	return p.fsm.Event(ctx, "transport_ready")
}

func (p *Participant) transportByID(id string) (media.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport == nil || p.transport.ID() != id {
		return nil, false
	}
	return p.transport, true
}

func (p *Participant) markConnected(ctx context.Context) error {
	return p.fsm.Event(ctx, "connect")
}

// mediaReady reports whether the transport can carry producers/consumers.
func (p *Participant) mediaReady() bool {
	switch p.fsm.Current() {
	case StateConnected, StateProducing:
		return true
	}
	return false
}

func (p *Participant) hasProducer() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.producer != nil
}

// setProducer commits a freshly created producer. It fails when another
// produce won the race or the participant is already leaving, so the
// caller must close prod.
func (p *Participant) setProducer(ctx context.Context, prod media.Producer) error {
	p.mu.Lock()
	if s := p.fsm.Current(); s == StateLeaving || s == StateClosed {
		p.mu.Unlock()
		return core.NotFound("Room not found")
	}
	if p.producer != nil {
		p.mu.Unlock()
		return core.Conflict("Already producing")
	}
	p.producer = prod
	p.mu.Unlock()
	if err := p.fsm.Event(ctx, "produce"); err != nil {
		// Lost the race against leave; the teardown path owns the cleanup.
		return core.NotFound("Room not found")
	}
	return nil
}

func (p *Participant) producerByID(id string) (media.Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.producer == nil || p.producer.ID() != id {
		return nil, false
	}
	return p.producer, true
}

func (p *Participant) currentTransport() (media.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport, p.transport != nil
}

// addConsumer registers c unless the participant is already leaving; the
// caller closes c on failure.
func (p *Participant) addConsumer(c media.Consumer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.fsm.Current(); s == StateLeaving || s == StateClosed {
		return core.NotFound("Room not found")
	}
	p.consumers[c.ID()] = c
	return nil
}

func (p *Participant) consumerByID(id string) (media.Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.consumers[id]
	return c, ok
}

// close releases consumers, then the producer, then the transport. Each
// step runs regardless of earlier failures and repeated calls are no-ops.
func (p *Participant) close(ctx context.Context) {
	if err := p.fsm.Event(ctx, "leave"); err != nil {
		// Already leaving or closed.
		return
	}

	p.mu.Lock()
	consumers := make([]media.Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = make(map[string]media.Consumer)
	producer := p.producer
	p.producer = nil
	transport := p.transport
	p.transport = nil
	p.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	if producer != nil {
		producer.Close()
	}
	if transport != nil {
		transport.Close()
	}

	if err := p.fsm.Event(ctx, "close"); err != nil {
		log.Warn().Err(err).Str("module", "app.participant").
			Str("identity", string(p.identity)).Msg("close transition")
	}
	log.Info().Str("module", "app.participant").
		Str("identity", string(p.identity)).Msg("participant closed")
}
