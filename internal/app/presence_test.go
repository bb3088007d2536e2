package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
)

func TestPresenceLoginBroadcast(t *testing.T) {
	reg := NewPresenceRegistry()
	alice := &fakeConn{}
	bob := &fakeConn{}

	require.NoError(t, reg.Login("alice", "c1", alice))
	require.NoError(t, reg.Login("bob", "c2", bob))

	assert.ElementsMatch(t, []string{"alice", "bob"}, alice.lastUsers(t))
	assert.ElementsMatch(t, []string{"alice", "bob"}, bob.lastUsers(t))

	reg.Logout("alice")
	assert.ElementsMatch(t, []string{"bob"}, bob.lastUsers(t))
}

func TestPresenceNameConflict(t *testing.T) {
	reg := NewPresenceRegistry()
	first := &fakeConn{}

	require.NoError(t, reg.Login("alice", "c1", first))
	err := reg.Login("alice", "c2", &fakeConn{})
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))
	assert.Equal(t, "Username already taken", core.Message(err))

	// first binding stays intact
	conn, ok := reg.Resolve("alice")
	require.True(t, ok)
	assert.Same(t, first, conn)
	id, ok := reg.IdentityOf("c1")
	require.True(t, ok)
	assert.Equal(t, domain.Identity("alice"), id)
}

func TestPresenceDoubleLoginSameConn(t *testing.T) {
	reg := NewPresenceRegistry()
	conn := &fakeConn{}

	require.NoError(t, reg.Login("alice", "c1", conn))
	err := reg.Login("alice2", "c1", conn)
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))
}

func TestPresenceInvalidName(t *testing.T) {
	reg := NewPresenceRegistry()

	err := reg.Login("", "c1", &fakeConn{})
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	long := domain.Identity(make([]byte, domain.MaxIdentityLen+1))
	err = reg.Login(long, "c1", &fakeConn{})
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestPresenceLogoutIdempotent(t *testing.T) {
	reg := NewPresenceRegistry()
	require.NoError(t, reg.Login("alice", "c1", &fakeConn{}))

	reg.Logout("alice")
	reg.Logout("alice")
	reg.Logout("ghost")

	assert.Empty(t, reg.Snapshot())
	assert.False(t, reg.Online("c1"))
}

func TestPresenceLogoutConn(t *testing.T) {
	reg := NewPresenceRegistry()
	require.NoError(t, reg.Login("alice", "c1", &fakeConn{}))

	name, ok := reg.LogoutConn("c1")
	require.True(t, ok)
	assert.Equal(t, domain.Identity("alice"), name)

	_, ok = reg.LogoutConn("c1")
	assert.False(t, ok)
}

func TestPresenceRoomBinding(t *testing.T) {
	reg := NewPresenceRegistry()
	require.NoError(t, reg.Login("alice", "c1", &fakeConn{}))

	_, ok := reg.RoomOf("alice")
	assert.False(t, ok)

	reg.BindRoom("alice", "lobby")
	room, ok := reg.RoomOf("alice")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("lobby"), room)

	reg.ClearRoom("alice")
	_, ok = reg.RoomOf("alice")
	assert.False(t, ok)
}

func TestPresenceConcurrentLogins(t *testing.T) {
	reg := NewPresenceRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := domain.Identity(fmt.Sprintf("user-%d", n))
			connID := core.ConnID(fmt.Sprintf("conn-%d", n))
			assert.NoError(t, reg.Login(name, connID, &fakeConn{}))
		}(i)
	}
	wg.Wait()

	assert.Len(t, reg.Snapshot(), 20)
}

func TestPresenceConcurrentSameName(t *testing.T) {
	reg := NewPresenceRegistry()

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			connID := core.ConnID(fmt.Sprintf("conn-%d", n))
			if reg.Login("alice", connID, &fakeConn{}) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, []domain.Identity{"alice"}, reg.Snapshot())
}
