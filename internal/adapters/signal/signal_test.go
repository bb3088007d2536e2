package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/media"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	router, err := media.NewFakeEngine().NewRouter(context.Background())
	require.NoError(t, err)
	presence := app.NewPresenceRegistry()
	rooms := app.NewRoomManager(router, presence)
	relay := app.NewSignalRelay(presence)
	return NewController(app.NewOrchestrator(presence, rooms, relay), 32768, 54*time.Second)
}

// testConn builds a WsSignalConn with only the send channel wired, which
// is all the handlers touch.
func testConn() *WsSignalConn {
	return &WsSignalConn{send: make(chan core.Frame, 32), token: "tok"}
}

func drain(t *testing.T, c *WsSignalConn) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case f := <-c.send:
			var m map[string]any
			require.NoError(t, json.Unmarshal(f, &m))
			out = append(out, m)
		default:
			return out
		}
	}
}

func lastOfType(t *testing.T, c *WsSignalConn, typ string) map[string]any {
	t.Helper()
	var found map[string]any
	for _, m := range drain(t, c) {
		if m["type"] == typ {
			found = m
		}
	}
	require.NotNil(t, found, "no %q frame", typ)
	return found
}

func TestHandleSignalMalformedJSON(t *testing.T) {
	ctl := newTestController(t)
	conn := testConn()

	ctl.handleSignal(context.Background(), "c1", conn, []byte("{nope"))

	ev := lastOfType(t, conn, core.EventError)
	assert.Equal(t, "Malformed message", ev["error"])
}

func TestHandleSignalUnknownType(t *testing.T) {
	ctl := newTestController(t)
	conn := testConn()

	ctl.handleSignal(context.Background(), "c1", conn, []byte(`{"type":"teleport","rid":"r9"}`))

	ev := lastOfType(t, conn, core.EventError)
	assert.Equal(t, "Unknown message type", ev["error"])
	assert.Equal(t, "r9", ev["rid"])
}

func TestHandlePing(t *testing.T) {
	ctl := newTestController(t)
	conn := testConn()

	ctl.handleSignal(context.Background(), "c1", conn, []byte(`{"type":"ping"}`))
	lastOfType(t, conn, "pong")
}

func TestHandleCapabilities(t *testing.T) {
	ctl := newTestController(t)
	conn := testConn()

	ctl.handleSignal(context.Background(), "c1", conn, []byte(`{"type":"get-rtp-capabilities","rid":"r1"}`))

	ev := lastOfType(t, conn, "rtp-capabilities")
	assert.Equal(t, "r1", ev["rid"])
	caps, ok := ev["capabilities"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, caps["codecs"])
}

func TestLoginFlow(t *testing.T) {
	ctl := newTestController(t)
	conn := testConn()
	ctx := context.Background()

	ctl.handleSignal(ctx, "c1", conn, []byte(`{"type":"login","name":"alice"}`))

	ev := lastOfType(t, conn, core.EventOnlineUsers)
	assert.Equal(t, []any{"alice"}, ev["users"])

	// a second login on the same connection is rejected
	ctl.handleSignal(ctx, "c1", conn, []byte(`{"type":"login","name":"alice2"}`))
	errEv := lastOfType(t, conn, core.EventError)
	assert.NotEmpty(t, errEv["error"])
}

func TestLoginNameTaken(t *testing.T) {
	ctl := newTestController(t)
	first := testConn()
	second := testConn()
	ctx := context.Background()

	ctl.handleSignal(ctx, "c1", first, []byte(`{"type":"login","name":"alice"}`))
	ctl.handleSignal(ctx, "c2", second, []byte(`{"type":"login","name":"alice"}`))

	ev := lastOfType(t, second, core.EventError)
	assert.Equal(t, "Username already taken", ev["error"])
}

func TestLoginRateLimited(t *testing.T) {
	ctl := newTestController(t)
	conn := testConn()
	ctx := context.Background()

	// burn the whole window on rejected empty names
	for i := 0; i < 10; i++ {
		ctl.handleSignal(ctx, "c1", conn, []byte(`{"type":"login","name":""}`))
	}
	drain(t, conn)

	ctl.handleSignal(ctx, "c1", conn, []byte(`{"type":"login","name":"alice"}`))
	ev := lastOfType(t, conn, core.EventError)
	assert.Equal(t, "Too many login attempts", ev["error"])
}

func TestJoinProduceConsumeOverSignal(t *testing.T) {
	ctl := newTestController(t)
	alice := testConn()
	bob := testConn()
	ctx := context.Background()

	ctl.handleSignal(ctx, "c1", alice, []byte(`{"type":"login","name":"alice"}`))
	ctl.handleSignal(ctx, "c2", bob, []byte(`{"type":"login","name":"bob"}`))

	ctl.handleSignal(ctx, "c1", alice, []byte(`{"type":"join-room","rid":"r1","roomId":"lobby"}`))
	joined := lastOfType(t, alice, "room-joined")
	assert.Equal(t, "r1", joined["rid"])
	transport, ok := joined["transport"].(map[string]any)
	require.True(t, ok)
	aliceTID, _ := transport["id"].(string)
	require.NotEmpty(t, aliceTID)

	ctl.handleSignal(ctx, "c2", bob, []byte(`{"type":"join-room","rid":"r2","roomId":"lobby"}`))
	joined = lastOfType(t, bob, "room-joined")
	bobTID := joined["transport"].(map[string]any)["id"].(string)

	msg := fmt.Sprintf(`{"type":"connect-transport","rid":"r3","transportId":%q}`, aliceTID)
	ctl.handleSignal(ctx, "c1", alice, []byte(msg))
	lastOfType(t, alice, "transport-connected")

	msg = fmt.Sprintf(`{"type":"connect-transport","rid":"r4","transportId":%q}`, bobTID)
	ctl.handleSignal(ctx, "c2", bob, []byte(msg))
	lastOfType(t, bob, "transport-connected")

	msg = fmt.Sprintf(`{"type":"produce","rid":"r5","transportId":%q,"kind":"audio"}`, aliceTID)
	ctl.handleSignal(ctx, "c1", alice, []byte(msg))
	produced := lastOfType(t, alice, "produced")
	producerID, _ := produced["id"].(string)
	require.NotEmpty(t, producerID)

	announce := lastOfType(t, bob, core.EventNewProducer)
	assert.Equal(t, producerID, announce["producerId"])
	assert.Equal(t, "alice", announce["identity"])

	msg = fmt.Sprintf(`{"type":"consume","rid":"r6","producerId":%q,"rtpCapabilities":{"codecs":[{"mimeType":"audio/opus","clockRate":48000,"channels":2}]}}`, producerID)
	ctl.handleSignal(ctx, "c2", bob, []byte(msg))
	consumed := lastOfType(t, bob, "consumed")
	consumer, ok := consumed["consumer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, producerID, consumer["producerId"])

	ctl.handleSignal(ctx, "c1", alice, []byte(`{"type":"leave-room","rid":"r7"}`))
	lastOfType(t, alice, "left-room")
	left := lastOfType(t, bob, core.EventParticipantOut)
	assert.Equal(t, "alice", left["identity"])
}

func TestConnectTransportRequiresID(t *testing.T) {
	ctl := newTestController(t)
	conn := testConn()

	ctl.handleSignal(context.Background(), "c1", conn, []byte(`{"type":"connect-transport","rid":"r1"}`))
	ev := lastOfType(t, conn, core.EventError)
	assert.Equal(t, "Transport id required", ev["error"])
	assert.Equal(t, "r1", ev["rid"])
}

func TestConsumeRequiresProducerID(t *testing.T) {
	ctl := newTestController(t)
	conn := testConn()

	ctl.handleSignal(context.Background(), "c1", conn, []byte(`{"type":"consume","rid":"r1"}`))
	ev := lastOfType(t, conn, core.EventError)
	assert.Equal(t, "Producer id required", ev["error"])
}

func TestCallSignaling(t *testing.T) {
	ctl := newTestController(t)
	alice := testConn()
	bob := testConn()
	ctx := context.Background()

	ctl.handleSignal(ctx, "c1", alice, []byte(`{"type":"login","name":"alice"}`))
	ctl.handleSignal(ctx, "c2", bob, []byte(`{"type":"login","name":"bob"}`))

	ctl.handleSignal(ctx, "c1", alice, []byte(`{"type":"call-user","to":"bob","offer":{"sdp":"v=0"}}`))
	call := lastOfType(t, bob, core.EventIncomingCall)
	assert.Equal(t, "alice", call["from"])

	ctl.handleSignal(ctx, "c2", bob, []byte(`{"type":"answer-call","to":"alice","answer":{"sdp":"v=0"}}`))
	answer := lastOfType(t, alice, core.EventCallAnswered)
	assert.Equal(t, "bob", answer["from"])

	ctl.handleSignal(ctx, "c1", alice, []byte(`{"type":"ice-candidate","to":"bob","candidate":{"c":"1"}}`))
	cand := lastOfType(t, bob, core.EventICECandidate)
	assert.Equal(t, "alice", cand["from"])

	ctl.handleSignal(ctx, "c2", bob, []byte(`{"type":"reject-call","to":"alice"}`))
	lastOfType(t, alice, core.EventCallRejected)
}

func TestCallUserRequiresOffer(t *testing.T) {
	ctl := newTestController(t)
	conn := testConn()

	ctl.handleSignal(context.Background(), "c1", conn, []byte(`{"type":"login","name":"alice"}`))
	drain(t, conn)

	ctl.handleSignal(context.Background(), "c1", conn, []byte(`{"type":"call-user","to":"bob"}`))
	ev := lastOfType(t, conn, core.EventError)
	assert.Equal(t, "Offer required", ev["error"])
}

func TestCallUnknownTarget(t *testing.T) {
	ctl := newTestController(t)
	conn := testConn()
	ctx := context.Background()

	ctl.handleSignal(ctx, "c1", conn, []byte(`{"type":"login","name":"alice"}`))
	drain(t, conn)

	ctl.handleSignal(ctx, "c1", conn, []byte(`{"type":"call-user","to":"ghost","offer":{"sdp":"v=0"}}`))
	ev := lastOfType(t, conn, core.EventError)
	assert.Equal(t, "User not found", ev["error"])
}
