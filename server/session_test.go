package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"dm-chat/domain"
	errs "dm-chat/errors"
	"dm-chat/mocks"
	"dm-chat/protocol"
	"dm-chat/runtime"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// testConn stands in for a transport connection: it records every
// pushed frame and refuses pushes once closed, like the real one.
type testConn struct {
	id     uuid.UUID
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newTestConn() *testConn {
	return &testConn{id: uuid.New()}
}

func (c *testConn) ID() uuid.UUID { return c.id }

func (c *testConn) Push(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.ErrConnectionClosed
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *testConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *testConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *testConn) frameTypes(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []string
	for _, frame := range c.frames {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(frame, &env))
		types = append(types, env.Type)
	}
	return types
}

func (c *testConn) decodeFrame(t *testing.T, index int, into any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Greater(t, len(c.frames), index)
	require.NoError(t, json.Unmarshal(c.frames[index], into))
}

type sessionFixture struct {
	tokens   *mocks.MockITokenValidator
	store    *mocks.MockIMessageStore
	registry *runtime.Registry
	presence *runtime.Broadcaster
	relay    *runtime.Relay
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	tokens := mocks.NewMockITokenValidator(ctrl)
	store := mocks.NewMockIMessageStore(ctrl)
	registry := runtime.NewRegistry()
	presence := runtime.NewBroadcaster(slog.Default(), registry)
	relay := runtime.NewRelay(slog.Default(), registry, store, presence)
	return &sessionFixture{tokens: tokens, store: store, registry: registry, presence: presence, relay: relay}
}

func (f *sessionFixture) newSession(conn *testConn) *Session {
	return NewSession(slog.Default(), f.tokens, f.registry, f.presence, f.relay, conn)
}

// connect authenticates a connection for the given user.
func (f *sessionFixture) connect(t *testing.T, userID string) (*Session, *testConn) {
	t.Helper()
	conn := newTestConn()
	session := f.newSession(conn)
	f.tokens.EXPECT().Validate("token-"+userID).Return(userID, nil).Times(1)
	session.HandleFrame(context.Background(), []byte(`{"type":"auth","token":"token-`+userID+`"}`))
	require.Contains(t, conn.frameTypes(t), protocol.TypeAuthSuccess)
	return session, conn
}

func TestSession_Frame_Before_Auth_Keeps_Connection_Open(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	conn := newTestConn()
	session := fixture.newSession(conn)

	session.HandleFrame(context.Background(), []byte(`{"type":"send_message","receiverId":"bob","content":"hi"}`))

	req.Equal([]string{protocol.TypeError}, conn.frameTypes(t))
	req.False(conn.isClosed())
	req.Empty(fixture.registry.OnlineUsers())

	// A subsequent auth on the same connection still succeeds.
	fixture.tokens.EXPECT().Validate("good-token").Return("id-alice", nil).Times(1)
	session.HandleFrame(context.Background(), []byte(`{"type":"auth","token":"good-token"}`))

	req.Contains(conn.frameTypes(t), protocol.TypeAuthSuccess)
	req.Equal([]string{"id-alice"}, fixture.registry.OnlineUsers())
}

func TestSession_Failed_Auth_Closes_Connection(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	conn := newTestConn()
	session := fixture.newSession(conn)

	fixture.tokens.EXPECT().Validate("bad-token").Return("", errs.ErrInvalidToken).Times(1)

	session.HandleFrame(context.Background(), []byte(`{"type":"auth","token":"bad-token"}`))

	// Exactly one auth_error, then closure, and no registry entry.
	req.Equal([]string{protocol.TypeAuthError}, conn.frameTypes(t))
	req.True(conn.isClosed())
	req.Empty(fixture.registry.OnlineUsers())
}

func TestSession_Auth_Success_Broadcasts_Presence(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	_, conn := fixture.connect(t, "id-alice")

	req.Equal([]string{protocol.TypeAuthSuccess, protocol.TypeOnlineUsers}, conn.frameTypes(t))

	var snapshot protocol.OnlineUsers
	conn.decodeFrame(t, 1, &snapshot)
	req.Equal([]string{"id-alice"}, snapshot.Users)
}

func TestSession_Second_Device_Gets_Its_Own_Snapshot(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	_, first := fixture.connect(t, "id-alice")

	// The same user opens a second connection; the roster does not
	// change, but the new device still receives it.
	conn := newTestConn()
	session := fixture.newSession(conn)
	fixture.tokens.EXPECT().Validate("t2").Return("id-alice", nil).Times(1)
	session.HandleFrame(context.Background(), []byte(`{"type":"auth","token":"t2"}`))

	req.Equal([]string{protocol.TypeAuthSuccess, protocol.TypeOnlineUsers}, conn.frameTypes(t))
	// No second broadcast reached the first device.
	req.Equal([]string{protocol.TypeAuthSuccess, protocol.TypeOnlineUsers}, first.frameTypes(t))
}

func TestSession_Reauth_Is_Rejected_Without_Closing(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	session, conn := fixture.connect(t, "id-alice")

	session.HandleFrame(context.Background(), []byte(`{"type":"auth","token":"token-id-alice"}`))

	req.Contains(conn.frameTypes(t), protocol.TypeError)
	req.False(conn.isClosed())
	req.Len(fixture.registry.ConnectionsFor("id-alice"), 1)
}

func TestSession_Malformed_Frame_Keeps_Connection_Open(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	conn := newTestConn()
	session := fixture.newSession(conn)

	session.HandleFrame(context.Background(), []byte(`{not json at all`))
	session.HandleFrame(context.Background(), []byte(`{"type":"subscribe"}`))

	req.Equal([]string{protocol.TypeError, protocol.TypeError}, conn.frameTypes(t))
	req.False(conn.isClosed())
}

func TestSession_Send_Message_Between_Two_Users(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	aliceSession, aliceConn := fixture.connect(t, "id-alice")
	_, bobConn := fixture.connect(t, "id-bob")

	record := domain.Message{
		ID:        uuid.New(),
		Sender:    domain.UserRef{ID: "id-alice", Username: "alice"},
		Receiver:  domain.UserRef{ID: "id-bob", Username: "bob"},
		Content:   "hi",
		CreatedAt: time.Now().UTC(),
	}
	fixture.store.EXPECT().
		Persist(gomock.Any(), "id-alice", "id-bob", "hi").
		Return(record, nil).
		Times(1)

	aliceSession.HandleFrame(context.Background(), []byte(`{"type":"send_message","receiverId":"id-bob","content":"hi"}`))

	// A gets the ack, B gets the delivery, both stay online.
	var ack protocol.MessageSent
	aliceConn.decodeFrame(t, len(aliceConn.frameTypes(t))-1, &ack)
	req.Equal(protocol.TypeMessageSent, ack.Type)
	req.Equal("hi", ack.Message.Content)

	var delivered protocol.NewMessage
	bobConn.decodeFrame(t, len(bobConn.frameTypes(t))-1, &delivered)
	req.Equal(protocol.TypeNewMessage, delivered.Type)
	req.Equal("hi", delivered.Message.Content)
	req.Equal("id-alice", delivered.Message.Sender.ID)

	req.ElementsMatch([]string{"id-alice", "id-bob"}, fixture.registry.OnlineUsers())
}

func TestSession_Empty_Message_Rejected_Without_Persistence(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	session, conn := fixture.connect(t, "id-alice")

	fixture.store.EXPECT().
		Persist(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Times(0)

	session.HandleFrame(context.Background(), []byte(`{"type":"send_message","receiverId":"id-bob","content":"   "}`))

	req.Contains(conn.frameTypes(t), protocol.TypeError)
	req.False(conn.isClosed())
}

func TestSession_Store_Failure_Reported_To_Sender_Only(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	aliceSession, aliceConn := fixture.connect(t, "id-alice")
	_, bobConn := fixture.connect(t, "id-bob")
	bobFramesBefore := len(bobConn.frameTypes(t))

	fixture.store.EXPECT().
		Persist(gomock.Any(), "id-alice", "id-bob", "hi").
		Return(domain.Message{}, errs.ErrMessageStore).
		Times(1)

	aliceSession.HandleFrame(context.Background(), []byte(`{"type":"send_message","receiverId":"id-bob","content":"hi"}`))

	req.Contains(aliceConn.frameTypes(t), protocol.TypeError)
	req.Len(bobConn.frameTypes(t), bobFramesBefore)
}

func TestSession_Typing_Relayed_To_Receiver(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	aliceSession, _ := fixture.connect(t, "id-alice")
	_, bobConn := fixture.connect(t, "id-bob")

	aliceSession.HandleFrame(context.Background(), []byte(`{"type":"typing","receiverId":"id-bob","isTyping":true}`))

	var notice protocol.Typing
	bobConn.decodeFrame(t, len(bobConn.frameTypes(t))-1, &notice)
	req.Equal(protocol.TypeTyping, notice.Type)
	req.Equal("id-alice", notice.SenderID)
	req.True(notice.IsTyping)
}

func TestSession_Teardown_Refires_Presence_To_Remaining(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	_, aliceConn := fixture.connect(t, "id-alice")
	bobSession, _ := fixture.connect(t, "id-bob")

	bobSession.Teardown()

	// B is gone from the roster pushed to A.
	var snapshot protocol.OnlineUsers
	aliceConn.decodeFrame(t, len(aliceConn.frameTypes(t))-1, &snapshot)
	req.Equal(protocol.TypeOnlineUsers, snapshot.Type)
	req.Equal([]string{"id-alice"}, snapshot.Users)
	req.Empty(fixture.registry.ConnectionsFor("id-bob"))
}

func TestSession_Teardown_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	session, _ := fixture.connect(t, "id-alice")

	session.Teardown()
	session.Teardown()

	req.Empty(fixture.registry.OnlineUsers())
}

func TestSession_Teardown_During_Auth_Leaves_No_Registration(t *testing.T) {
	req := require.New(t)
	fixture := newSessionFixture(t)
	conn := newTestConn()
	session := fixture.newSession(conn)

	validating := make(chan struct{})
	release := make(chan struct{})
	fixture.tokens.EXPECT().
		Validate("slow-token").
		DoAndReturn(func(string) (string, error) {
			close(validating)
			<-release
			return "id-alice", nil
		}).
		Times(1)

	done := make(chan struct{})
	go func() {
		session.HandleFrame(context.Background(), []byte(`{"type":"auth","token":"slow-token"}`))
		close(done)
	}()

	// The transport dies while the token check is still in flight. The
	// completing auth must not register the torn-down connection.
	<-validating
	_ = conn.Close()
	session.Teardown()
	close(release)
	<-done

	req.Empty(fixture.registry.OnlineUsers())
	req.Empty(fixture.registry.ConnectionsFor("id-alice"))
}

func TestSession_Unauthenticated_Teardown_Is_A_Noop(t *testing.T) {
	fixture := newSessionFixture(t)
	conn := newTestConn()
	session := fixture.newSession(conn)

	// Transport closed before any auth frame arrived.
	session.Teardown()
}
