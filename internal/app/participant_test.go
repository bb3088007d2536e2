package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/media"
)

func newMediaParticipant(t *testing.T) (*Participant, media.Transport) {
	t.Helper()
	router, err := media.NewFakeEngine().NewRouter(context.Background())
	require.NoError(t, err)
	transport, err := router.CreateTransport(context.Background())
	require.NoError(t, err)

	p := newParticipant("alice", "c1", &fakeConn{})
	require.NoError(t, p.setTransport(context.Background(), transport))
	return p, transport
}

func TestParticipantStateFlow(t *testing.T) {
	p, transport := newMediaParticipant(t)
	ctx := context.Background()

	assert.Equal(t, StateTransportReady, p.State())
	assert.False(t, p.mediaReady())

	require.NoError(t, transport.Connect(ctx, media.ConnectParams{}))
	require.NoError(t, p.markConnected(ctx))
	assert.Equal(t, StateConnected, p.State())
	assert.True(t, p.mediaReady())

	producer, err := transport.Produce(ctx, media.KindAudio, media.RTPParameters{})
	require.NoError(t, err)
	require.NoError(t, p.setProducer(ctx, producer))
	assert.Equal(t, StateProducing, p.State())
	assert.True(t, p.mediaReady())
	assert.True(t, p.hasProducer())

	got, ok := p.producerByID(producer.ID())
	require.True(t, ok)
	assert.Equal(t, producer.ID(), got.ID())
}

func TestParticipantConnectOutOfOrder(t *testing.T) {
	p := newParticipant("alice", "c1", &fakeConn{})
	err := p.markConnected(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateJoining, p.State())
}

func TestParticipantSetProducerAfterClose(t *testing.T) {
	p, transport := newMediaParticipant(t)
	ctx := context.Background()

	require.NoError(t, transport.Connect(ctx, media.ConnectParams{}))
	require.NoError(t, p.markConnected(ctx))
	producer, err := transport.Produce(ctx, media.KindAudio, media.RTPParameters{})
	require.NoError(t, err)

	p.close(ctx)
	assert.Equal(t, StateClosed, p.State())

	err = p.setProducer(ctx, producer)
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestParticipantCloseReleasesEverything(t *testing.T) {
	router, err := media.NewFakeEngine().NewRouter(context.Background())
	require.NoError(t, err)
	fr := router.(*media.FakeRouter)
	ctx := context.Background()

	transport, err := router.CreateTransport(ctx)
	require.NoError(t, err)
	p := newParticipant("alice", "c1", &fakeConn{})
	require.NoError(t, p.setTransport(ctx, transport))
	require.NoError(t, transport.Connect(ctx, media.ConnectParams{}))
	require.NoError(t, p.markConnected(ctx))

	producer, err := transport.Produce(ctx, media.KindAudio, media.RTPParameters{})
	require.NoError(t, err)
	require.NoError(t, p.setProducer(ctx, producer))
	consumer, err := transport.Consume(ctx, producer.ID(), fr.Capabilities())
	require.NoError(t, err)
	require.NoError(t, p.addConsumer(consumer))

	p.close(ctx)

	assert.Equal(t, 0, fr.OpenTransports())
	assert.Equal(t, 0, fr.OpenProducers())
	assert.Equal(t, 0, fr.OpenConsumers())

	// repeated close is a no-op
	p.close(ctx)
	assert.Equal(t, StateClosed, p.State())
}

func TestParticipantAddConsumerWhileLeaving(t *testing.T) {
	router, err := media.NewFakeEngine().NewRouter(context.Background())
	require.NoError(t, err)
	fr := router.(*media.FakeRouter)
	ctx := context.Background()

	transport, err := router.CreateTransport(ctx)
	require.NoError(t, err)
	p := newParticipant("alice", "c1", &fakeConn{})
	require.NoError(t, p.setTransport(ctx, transport))
	require.NoError(t, transport.Connect(ctx, media.ConnectParams{}))
	require.NoError(t, p.markConnected(ctx))

	producer, err := transport.Produce(ctx, media.KindAudio, media.RTPParameters{})
	require.NoError(t, err)
	require.NoError(t, p.setProducer(ctx, producer))
	consumer, err := transport.Consume(ctx, producer.ID(), fr.Capabilities())
	require.NoError(t, err)

	p.close(ctx)
	err = p.addConsumer(consumer)
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}
