package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/media"
)

// fakeConn captures outbound frames for assertions.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return core.EngineErr("backpressure", nil)
	}
	buf := make(core.Frame, len(f))
	copy(buf, f)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) eventsOfType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, e := range c.events(t) {
		if e["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}

// lastUsers returns the presence list from the most recent online-users
// event this connection saw.
func (c *fakeConn) lastUsers(t *testing.T) []string {
	t.Helper()
	evs := c.eventsOfType(t, core.EventOnlineUsers)
	require.NotEmpty(t, evs)
	raw, ok := evs[len(evs)-1]["users"].([]any)
	require.True(t, ok)
	users := make([]string, 0, len(raw))
	for _, u := range raw {
		users = append(users, u.(string))
	}
	return users
}

func newTestEnv(t *testing.T) (*Orchestrator, *media.FakeRouter) {
	t.Helper()
	router, err := media.NewFakeEngine().NewRouter(context.Background())
	require.NoError(t, err)
	fr, ok := router.(*media.FakeRouter)
	require.True(t, ok)

	presence := NewPresenceRegistry()
	rooms := NewRoomManager(router, presence)
	relay := NewSignalRelay(presence)
	return NewOrchestrator(presence, rooms, relay), fr
}
