package media

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type trackState int32

const (
	trackStatePaused trackState = iota
	trackStateActive
	trackStateClosed
)

// outTrack is a single outgoing track feeding one consumer.
// New out-tracks start paused; the consumer resumes them.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func newOutTrack(track *webrtc.TrackLocalStaticRTP) *outTrack {
	return &outTrack{track: track}
}

func (ot *outTrack) getState() trackState {
	return trackState(ot.state.Load())
}

func (ot *outTrack) markActive() { ot.state.Store(int32(trackStateActive)) }
func (ot *outTrack) markPaused() { ot.state.Store(int32(trackStatePaused)) }
func (ot *outTrack) markClosed() { ot.state.Store(int32(trackStateClosed)) }

// fanout reads RTP from one producer's source track and forwards packets
// to every active out-track.
type fanout struct {
	src *webrtc.TrackRemote

	mu   sync.RWMutex
	outs map[string]*outTrack

	cancel context.CancelFunc
}

func newFanout(src *webrtc.TrackRemote, cancel context.CancelFunc) *fanout {
	return &fanout{
		src:    src,
		outs:   make(map[string]*outTrack),
		cancel: cancel,
	}
}

func (f *fanout) add(consumerID string, ot *outTrack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outs[consumerID] = ot
}

func (f *fanout) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("fanout ctx done, closing out tracks")
			f.closeAll()
			return
		default:
		}
		pkt, _, err := f.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("fanout source ended")
			f.closeAll()
			return
		}
		f.forward(pkt, logger)
	}
}

func (f *fanout) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[string]*outTrack, len(f.outs))
	f.mu.RLock()
	maps.Copy(snapshot, f.outs)
	f.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for id, ot := range snapshot {
		switch ot.getState() {
		case trackStateClosed:
			dirty = append(dirty, id)
		case trackStatePaused:
		case trackStateActive:
			if err := ot.track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("consumer_id", id).Msg("fanout write RTP error, closing out track")
				ot.markClosed()
				dirty = append(dirty, id)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		f.cleanupClosed(dirty)
	}
}

func (f *fanout) cleanupClosed(dirty []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range dirty {
		delete(f.outs, id)
	}
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ot := range f.outs {
		ot.markClosed()
	}
}

func (f *fanout) stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.closeAll()
}
