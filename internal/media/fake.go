package media

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// FakeEngine implements Engine entirely in memory for tests. Routers count
// their live handles so tests can assert nothing leaked.
type FakeEngine struct {
	mu      sync.Mutex
	routers []*FakeRouter
}

func NewFakeEngine() *FakeEngine { return &FakeEngine{} }

func (e *FakeEngine) NewRouter(_ context.Context) (Router, error) {
	r := &FakeRouter{
		caps: RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}}},
		transports: make(map[string]*FakeTransport),
		producers:  make(map[string]*FakeProducer),
	}
	e.mu.Lock()
	e.routers = append(e.routers, r)
	e.mu.Unlock()
	return r, nil
}

func (e *FakeEngine) Close() error {
	e.mu.Lock()
	routers := e.routers
	e.routers = nil
	e.mu.Unlock()
	for _, r := range routers {
		r.Close()
	}
	return nil
}

type FakeRouter struct {
	// Failure knobs; when set the matching operation fails with the error.
	TransportErr error
	ProduceErr   error
	ConsumeErr   error

	mu         sync.Mutex
	caps       RTPCapabilities
	transports map[string]*FakeTransport
	producers  map[string]*FakeProducer
	closed     bool
}

func (r *FakeRouter) Capabilities() RTPCapabilities { return r.caps }

func (r *FakeRouter) CreateTransport(_ context.Context) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.TransportErr != nil {
		return nil, r.TransportErr
	}
	t := &FakeTransport{
		id:        uuid.NewString(),
		router:    r,
		consumers: make(map[string]*FakeConsumer),
	}
	r.transports[t.id] = t
	return t, nil
}

func (r *FakeRouter) CanConsume(producerID string, caps RTPCapabilities) bool {
	r.mu.Lock()
	_, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return capsSupport(caps, r.caps.Codecs[0])
}

func (r *FakeRouter) Close() {
	r.mu.Lock()
	transports := make([]*FakeTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.closed = true
	r.mu.Unlock()
	for _, t := range transports {
		t.Close()
	}
}

// OpenTransports reports live transport handles; the lifecycle tests use
// these counters to prove cleanup is exact.
func (r *FakeRouter) OpenTransports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transports)
}

// Consumer finds a live consumer by id across all transports.
func (r *FakeRouter) Consumer(id string) (*FakeConsumer, bool) {
	for _, t := range r.snapshotTransports() {
		t.mu.Lock()
		c, ok := t.consumers[id]
		t.mu.Unlock()
		if ok {
			return c, true
		}
	}
	return nil, false
}

func (r *FakeRouter) snapshotTransports() []*FakeTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*FakeTransport, 0, len(r.transports))
	for _, t := range r.transports {
		out = append(out, t)
	}
	return out
}

func (r *FakeRouter) OpenProducers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers)
}

func (r *FakeRouter) OpenConsumers() int {
	n := 0
	for _, t := range r.snapshotTransports() {
		t.mu.Lock()
		n += len(t.consumers)
		t.mu.Unlock()
	}
	return n
}

type FakeTransport struct {
	id     string
	router *FakeRouter

	mu        sync.Mutex
	connected bool
	closed    bool
	producer  *FakeProducer
	consumers map[string]*FakeConsumer
}

func (t *FakeTransport) ID() string { return t.id }

func (t *FakeTransport) Info() TransportInfo {
	return TransportInfo{
		ID:            t.id,
		ICEParameters: webrtc.ICEParameters{UsernameFragment: "fake", Password: "fake"},
	}
}

func (t *FakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *FakeTransport) Connect(_ context.Context, _ ConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.connected {
		return ErrAlreadyConnected
	}
	t.connected = true
	return nil
}

func (t *FakeTransport) Produce(_ context.Context, kind Kind, _ RTPParameters) (Producer, error) {
	if kind != KindAudio {
		return nil, ErrUnsupportedKind
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if !t.connected {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	t.mu.Unlock()

	if err := t.router.ProduceErr; err != nil {
		return nil, err
	}

	p := &FakeProducer{id: uuid.NewString(), kind: kind, transport: t}
	t.mu.Lock()
	t.producer = p
	t.mu.Unlock()
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *FakeTransport) Consume(_ context.Context, producerID string, caps RTPCapabilities) (Consumer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if !t.connected {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	t.mu.Unlock()

	if err := t.router.ConsumeErr; err != nil {
		return nil, err
	}

	t.router.mu.Lock()
	src, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, ErrProducerNotFound
	}
	if !capsSupport(caps, t.router.caps.Codecs[0]) {
		return nil, ErrIncompatibleCaps
	}

	c := &FakeConsumer{
		id:         uuid.NewString(),
		kind:       src.kind,
		producerID: producerID,
		transport:  t,
		paused:     true,
	}
	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()
	return c, nil
}

func (t *FakeTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	consumers := make([]*FakeConsumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	producer := t.producer
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	if producer != nil {
		producer.Close()
	}
	t.router.mu.Lock()
	delete(t.router.transports, t.id)
	t.router.mu.Unlock()
}

type FakeProducer struct {
	id        string
	kind      Kind
	transport *FakeTransport
	closeOnce sync.Once
}

func (p *FakeProducer) ID() string { return p.id }
func (p *FakeProducer) Kind() Kind { return p.kind }

func (p *FakeProducer) Close() {
	p.closeOnce.Do(func() {
		p.transport.router.mu.Lock()
		delete(p.transport.router.producers, p.id)
		p.transport.router.mu.Unlock()
		p.transport.mu.Lock()
		if p.transport.producer == p {
			p.transport.producer = nil
		}
		p.transport.mu.Unlock()
	})
}

type FakeConsumer struct {
	id         string
	kind       Kind
	producerID string
	transport  *FakeTransport

	mu        sync.Mutex
	paused    bool
	closeOnce sync.Once
}

func (c *FakeConsumer) ID() string         { return c.id }
func (c *FakeConsumer) Kind() Kind         { return c.kind }
func (c *FakeConsumer) ProducerID() string { return c.producerID }

func (c *FakeConsumer) Info() ConsumerInfo {
	return ConsumerInfo{ID: c.id, Kind: c.kind, ProducerID: c.producerID}
}

func (c *FakeConsumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *FakeConsumer) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

func (c *FakeConsumer) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *FakeConsumer) Close() {
	c.closeOnce.Do(func() {
		c.transport.mu.Lock()
		delete(c.transport.consumers, c.id)
		c.transport.mu.Unlock()
	})
}
