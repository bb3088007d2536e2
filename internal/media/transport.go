package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// CreateTransport allocates an ICE+DTLS endpoint and gathers its local
// candidates so the caller can hand them to the remote peer.
func (r *pionRouter) CreateTransport(ctx context.Context) (Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}
	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather: %w", err)
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local candidates: %w", err)
	}
	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	t := &pionTransport{
		id:       uuid.NewString(),
		router:   r,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		info: TransportInfo{
			ICEParameters:  iceParams,
			ICECandidates:  candidates,
			DTLSParameters: dtlsParams,
		},
		consumers: make(map[string]*pionConsumer),
	}
	t.info.ID = t.id

	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()

	log.Info().Str("module", "media").Str("transport_id", t.id).
		Int("candidates", len(candidates)).Msg("transport created")
	return t, nil
}

type pionTransport struct {
	id     string
	router *pionRouter

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	info     TransportInfo

	mu        sync.Mutex
	connected bool
	closed    bool
	producer  *pionProducer
	consumers map[string]*pionConsumer
}

func (t *pionTransport) ID() string          { return t.id }
func (t *pionTransport) Info() TransportInfo { return t.info }

func (t *pionTransport) Connect(_ context.Context, params ConnectParams) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.connected {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.connected = true
	t.mu.Unlock()

	// The transport stays valid on failure so the caller can retry.
	fail := func(err error) error {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		return err
	}

	if err := t.ice.SetRemoteCandidates(params.ICECandidates); err != nil {
		return fail(fmt.Errorf("set remote candidates: %w", err))
	}
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, params.ICEParameters, &role); err != nil {
		return fail(fmt.Errorf("ice start: %w", err))
	}
	if err := t.dtls.Start(params.DTLSParameters); err != nil {
		return fail(fmt.Errorf("dtls start: %w", err))
	}
	log.Info().Str("module", "media").Str("transport_id", t.id).Msg("transport connected")
	return nil
}

func (t *pionTransport) Produce(_ context.Context, kind Kind, params RTPParameters) (Producer, error) {
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

	receiver, err := t.router.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp receiver: %w", err)
	}
	encodings := make([]webrtc.RTPDecodingParameters, 0, len(params.Encodings))
	for _, e := range params.Encodings {
		encodings = append(encodings, webrtc.RTPDecodingParameters{RTPCodingParameters: e})
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{Encodings: encodings}); err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("receive: %w", err)
	}

	codec := webrtc.RTPCodecCapability{
		MimeType:  params.MimeType,
		ClockRate: params.ClockRate,
		Channels:  params.Channels,
	}
	fanCtx, cancel := context.WithCancel(context.Background())
	p := &pionProducer{
		id:        uuid.NewString(),
		kind:      kind,
		codec:     codec,
		receiver:  receiver,
		fan:       newFanout(receiver.Track(), cancel),
		transport: t,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		_ = receiver.Stop()
		return nil, ErrClosed
	}
	t.producer = p
	t.mu.Unlock()
	t.router.registerProducer(p)

	logger := log.With().Str("module", "media").Str("producer_id", p.id).Logger()
	go p.fan.loop(fanCtx, &logger)

	logger.Info().Str("transport_id", t.id).Msg("producer created")
	return p, nil
}

func (t *pionTransport) Consume(_ context.Context, producerID string, caps RTPCapabilities) (Consumer, error) {
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

	src, ok := t.router.producer(producerID)
	if !ok {
		return nil, ErrProducerNotFound
	}
	if !capsSupport(caps, src.codec) {
		return nil, ErrIncompatibleCaps
	}

	localTrack, err := webrtc.NewTrackLocalStaticRTP(src.codec, uuid.NewString(), "parley")
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := t.router.api.NewRTPSender(localTrack, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp sender: %w", err)
	}
	if err := sender.Send(sender.GetParameters()); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("send: %w", err)
	}

	params := RTPParameters{
		MimeType:  src.codec.MimeType,
		ClockRate: src.codec.ClockRate,
		Channels:  src.codec.Channels,
	}
	for _, e := range sender.GetParameters().Encodings {
		params.Encodings = append(params.Encodings, e.RTPCodingParameters)
	}

	c := &pionConsumer{
		id:         uuid.NewString(),
		kind:       src.kind,
		producerID: producerID,
		params:     params,
		sender:     sender,
		out:        newOutTrack(localTrack),
		transport:  t,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sender.Stop()
		return nil, ErrClosed
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	// Attached paused; media flows only after Resume.
	src.fan.add(c.id, c.out)

	log.Info().Str("module", "media").Str("consumer_id", c.id).
		Str("producer_id", producerID).Str("transport_id", t.id).Msg("consumer created")
	return c, nil
}

// Close cascades to consumers and the producer, then tears the network
// stack down. Safe to call more than once.
func (t *pionTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	consumers := make([]*pionConsumer, 0, len(t.consumers))
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
	if err := t.dtls.Stop(); err != nil {
		log.Warn().Err(err).Str("module", "media").Str("transport_id", t.id).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		log.Warn().Err(err).Str("module", "media").Str("transport_id", t.id).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		log.Warn().Err(err).Str("module", "media").Str("transport_id", t.id).Msg("gatherer close")
	}
	t.router.removeTransport(t.id)
	log.Info().Str("module", "media").Str("transport_id", t.id).Msg("transport closed")
}

func (t *pionTransport) removeConsumer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}

func (t *pionTransport) clearProducer(p *pionProducer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.producer == p {
		t.producer = nil
	}
}

type pionProducer struct {
	id        string
	kind      Kind
	codec     webrtc.RTPCodecCapability
	receiver  *webrtc.RTPReceiver
	fan       *fanout
	transport *pionTransport

	closeOnce sync.Once
}

func (p *pionProducer) ID() string { return p.id }
func (p *pionProducer) Kind() Kind { return p.kind }

func (p *pionProducer) Close() {
	p.closeOnce.Do(func() {
		p.fan.stop()
		if err := p.receiver.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("producer_id", p.id).Msg("receiver stop")
		}
		p.transport.router.removeProducer(p.id)
		p.transport.clearProducer(p)
		log.Info().Str("module", "media").Str("producer_id", p.id).Msg("producer closed")
	})
}

type pionConsumer struct {
	id         string
	kind       Kind
	producerID string
	params     RTPParameters
	sender     *webrtc.RTPSender
	out        *outTrack
	transport  *pionTransport

	closeOnce sync.Once
}

func (c *pionConsumer) ID() string         { return c.id }
func (c *pionConsumer) Kind() Kind         { return c.kind }
func (c *pionConsumer) ProducerID() string { return c.producerID }

func (c *pionConsumer) Info() ConsumerInfo {
	return ConsumerInfo{
		ID:            c.id,
		Kind:          c.kind,
		ProducerID:    c.producerID,
		RTPParameters: c.params,
	}
}

func (c *pionConsumer) Resume() { c.out.markActive() }
func (c *pionConsumer) Pause()  { c.out.markPaused() }

func (c *pionConsumer) Close() {
	c.closeOnce.Do(func() {
		c.out.markClosed()
		if err := c.sender.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("consumer_id", c.id).Msg("sender stop")
		}
		c.transport.removeConsumer(c.id)
	})
}
