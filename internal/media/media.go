// Package media wraps the SFU engine behind a narrow contract: routers
// negotiate capabilities, transports carry media, producers publish and
// consumers subscribe. The orchestration layer only sees these interfaces.
package media

import (
	"context"
	"errors"
	"strings"

	"github.com/pion/webrtc/v4"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

var (
	ErrUnsupportedKind  = errors.New("unsupported media kind")
	ErrProducerNotFound = errors.New("producer not found")
	ErrIncompatibleCaps = errors.New("incompatible rtp capabilities")
	ErrAlreadyConnected = errors.New("transport already connected")
	ErrNotConnected     = errors.New("transport not connected")
	ErrClosed           = errors.New("closed")
)

// RTPCapabilities is the codec set one side can handle.
type RTPCapabilities struct {
	Codecs []webrtc.RTPCodecCapability `json:"codecs"`
}

// RTPParameters describe one negotiated media stream.
type RTPParameters struct {
	MimeType  string                       `json:"mimeType"`
	ClockRate uint32                       `json:"clockRate"`
	Channels  uint16                       `json:"channels,omitempty"`
	Encodings []webrtc.RTPCodingParameters `json:"encodings"`
}

// TransportInfo is what the remote peer needs to connect to a transport.
// It is returned to the owning caller only, never broadcast.
type TransportInfo struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// ConnectParams carry the remote peer's security parameters.
type ConnectParams struct {
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// ConsumerInfo is the description returned to a consuming caller.
type ConsumerInfo struct {
	ID            string        `json:"id"`
	Kind          Kind          `json:"kind"`
	ProducerID    string        `json:"producerId"`
	RTPParameters RTPParameters `json:"rtpParameters"`
}

type Engine interface {
	NewRouter(ctx context.Context) (Router, error)
	Close() error
}

type Router interface {
	Capabilities() RTPCapabilities
	CreateTransport(ctx context.Context) (Transport, error)
	// CanConsume reports whether a peer with the given receive capabilities
	// can consume the producer. False when the producer is unknown.
	CanConsume(producerID string, caps RTPCapabilities) bool
	Close()
}

type Transport interface {
	ID() string
	Info() TransportInfo
	Connect(ctx context.Context, params ConnectParams) error
	Produce(ctx context.Context, kind Kind, params RTPParameters) (Producer, error)
	// Consume creates a consumer bound to this transport in a paused state;
	// the caller resumes it once the description has been delivered.
	Consume(ctx context.Context, producerID string, caps RTPCapabilities) (Consumer, error)
	Close()
}

type Producer interface {
	ID() string
	Kind() Kind
	Close()
}

type Consumer interface {
	ID() string
	Kind() Kind
	ProducerID() string
	Info() ConsumerInfo
	Resume()
	Pause()
	Close()
}

// capsSupport reports whether caps contain a codec able to receive codec.
func capsSupport(caps RTPCapabilities, codec webrtc.RTPCodecCapability) bool {
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, codec.MimeType) && c.ClockRate == codec.ClockRate {
			return true
		}
	}
	return false
}
