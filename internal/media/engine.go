package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// EngineConfig is the network shape of the SFU side.
type EngineConfig struct {
	// AnnouncedIP is the address remote peers should reach us on. Empty
	// means the engine advertises whatever the interfaces expose.
	AnnouncedIP string
	// MinPort/MaxPort bound the ephemeral UDP range; zero values keep the
	// OS default. The range is finite, so leaked transports exhaust it.
	MinPort uint16
	MaxPort uint16
	// EnableTCP additionally offers ICE over TCP4.
	EnableTCP bool
}

// pionEngine builds ORTC-style transports from a shared webrtc.API.
type pionEngine struct {
	api  *webrtc.API
	caps RTPCapabilities

	mu      sync.Mutex
	routers []*pionRouter
	closed  bool
}

// NewEngine configures pion and returns an Engine. This is the only fatal
// init in the process; failure here aborts startup.
func NewEngine(cfg EngineConfig) (Engine, error) {
	se := webrtc.SettingEngine{}
	if cfg.MinPort != 0 || cfg.MaxPort != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.MinPort, cfg.MaxPort); err != nil {
			return nil, fmt.Errorf("set udp port range: %w", err)
		}
	}
	if cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	nets := []webrtc.NetworkType{webrtc.NetworkTypeUDP4}
	if cfg.EnableTCP {
		nets = append(nets, webrtc.NetworkTypeTCP4)
	}
	se.SetNetworkTypes(nets)

	opus := webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
	me := &webrtc.MediaEngine{}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: opus,
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me))
	log.Info().Str("module", "media").Str("announced_ip", cfg.AnnouncedIP).
		Uint16("min_port", cfg.MinPort).Uint16("max_port", cfg.MaxPort).
		Msg("engine ready")

	return &pionEngine{
		api:  api,
		caps: RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{opus}},
	}, nil
}

func (e *pionEngine) NewRouter(_ context.Context) (Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	r := &pionRouter{
		api:        e.api,
		caps:       e.caps,
		transports: make(map[string]*pionTransport),
		producers:  make(map[string]*pionProducer),
	}
	e.routers = append(e.routers, r)
	return r, nil
}

func (e *pionEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	routers := e.routers
	e.routers = nil
	e.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
	return nil
}

// pionRouter tracks live transports and producers so consume requests can
// be checked against what actually exists.
type pionRouter struct {
	api  *webrtc.API
	caps RTPCapabilities

	mu         sync.RWMutex
	transports map[string]*pionTransport
	producers  map[string]*pionProducer
	closed     bool
}

func (r *pionRouter) Capabilities() RTPCapabilities { return r.caps }

func (r *pionRouter) CanConsume(producerID string, caps RTPCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return capsSupport(caps, p.codec)
}

func (r *pionRouter) producer(id string) (*pionProducer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *pionRouter) registerProducer(p *pionProducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *pionRouter) removeProducer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *pionRouter) removeTransport(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

func (r *pionRouter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*pionTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
}
