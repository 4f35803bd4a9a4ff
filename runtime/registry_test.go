package runtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	id      uuid.UUID
	mu      sync.Mutex
	frames  [][]byte
	pushErr error
	closed  bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{id: uuid.New()}
}

func (s *fakeSink) ID() uuid.UUID { return s.id }

func (s *fakeSink) Push(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// frameTypes decodes the "type" discriminator of every pushed frame.
func (s *fakeSink) frameTypes(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, frame := range s.frames {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(frame, &env))
		types = append(types, env.Type)
	}
	return types
}

func (s *fakeSink) lastFrame(t *testing.T, into any) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.frames)
	require.NoError(t, json.Unmarshal(s.frames[len(s.frames)-1], into))
}

func TestRegistry_Register_First_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()
	sink := newFakeSink()

	// Given no user is connected
	req.Empty(registry.OnlineUsers())

	// When a user registers its first connection
	cameOnline := registry.Register(userID, sink)

	// Then the user is online with exactly that connection
	req.True(cameOnline)
	req.Equal([]string{userID}, registry.OnlineUsers())
	req.Len(registry.ConnectionsFor(userID), 1)
}

func TestRegistry_Register_Second_Connection_Same_User(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()

	cameOnline := registry.Register(userID, newFakeSink())
	req.True(cameOnline)

	// A second device does not change the online set
	cameOnline = registry.Register(userID, newFakeSink())
	req.False(cameOnline)
	req.Len(registry.ConnectionsFor(userID), 2)
	req.Len(registry.OnlineUsers(), 1)
}

func TestRegistry_Register_Is_Idempotent_Per_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()
	sink := newFakeSink()

	registry.Register(userID, sink)
	registry.Register(userID, sink)

	req.Len(registry.ConnectionsFor(userID), 1)
}

func TestRegistry_Deregister_Last_Connection_Removes_Entry(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()
	sink1 := newFakeSink()
	sink2 := newFakeSink()

	registry.Register(userID, sink1)
	registry.Register(userID, sink2)

	// Dropping one connection keeps the user online
	wentOffline := registry.Deregister(userID, sink1)
	req.False(wentOffline)
	req.Len(registry.OnlineUsers(), 1)

	// Dropping the last one removes the entry entirely
	wentOffline = registry.Deregister(userID, sink2)
	req.True(wentOffline)
	req.Empty(registry.OnlineUsers())
	req.Empty(registry.ConnectionsFor(userID))
}

func TestRegistry_Deregister_Unknown_Connection_Is_Noop(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()

	// Never registered at all
	req.False(registry.Deregister(userID, newFakeSink()))

	// Registered user, foreign connection
	registry.Register(userID, newFakeSink())
	req.False(registry.Deregister(userID, newFakeSink()))
	req.Len(registry.ConnectionsFor(userID), 1)

	// Double close of the same connection
	sink := newFakeSink()
	registry.Register(userID, sink)
	registry.Deregister(userID, sink)
	req.False(registry.Deregister(userID, sink))
}

func TestRegistry_Snapshot_Matches_State(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	alice := uuid.NewString()
	bob := uuid.NewString()

	registry.Register(alice, newFakeSink())
	registry.Register(alice, newFakeSink())
	registry.Register(bob, newFakeSink())

	online, sinks := registry.Snapshot()
	req.ElementsMatch([]string{alice, bob}, online)
	req.Len(sinks, 3)
}

func TestRegistry_Shutdown_Closes_All_Connections(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sink1 := newFakeSink()
	sink2 := newFakeSink()
	registry.Register(uuid.NewString(), sink1)
	registry.Register(uuid.NewString(), sink2)

	registry.Shutdown()

	req.True(sink1.closed)
	req.True(sink2.closed)
	req.Empty(registry.OnlineUsers())
}

func TestRegistry_Concurrent_Mutations_Keep_Invariant(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	// Each goroutine registers and fully deregisters its own user while
	// readers take snapshots. Afterwards the online set must be empty:
	// a user ID is a key if and only if its connection set is non-empty.
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := uuid.NewString()
			sink := newFakeSink()
			registry.Register(userID, sink)
			registry.ConnectionsFor(userID)
			registry.Snapshot()
			registry.Deregister(userID, sink)
		}()
	}
	wg.Wait()

	req.Empty(registry.OnlineUsers())
}
