package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dm-chat/contract"
	errs "dm-chat/errors"
	"dm-chat/protocol"
	"dm-chat/runtime"
)

// Session is the per-connection protocol state machine. It starts
// unauthenticated, binds an identity exactly once on a successful auth
// frame, and dispatches the following frames to the relay. Frames
// arrive sequentially on the read pump, but Teardown can fire from the
// write pump or from a registry shutdown, so the identity binding is
// guarded by a mutex.
type Session struct {
	log      *slog.Logger
	tokens   contract.ITokenValidator
	registry *runtime.Registry
	presence *runtime.Broadcaster
	relay    *runtime.Relay
	conn     contract.FrameSink

	mu sync.Mutex
	// Empty until authentication succeeds.
	userID string
	// Set by Teardown. Once set, the session must never register its
	// connection: the transport is already gone.
	tornDown bool
}

func NewSession(log *slog.Logger, tokens contract.ITokenValidator, registry *runtime.Registry,
	presence *runtime.Broadcaster, relay *runtime.Relay, conn contract.FrameSink) *Session {
	return &Session{
		log:      log,
		tokens:   tokens,
		registry: registry,
		presence: presence,
		relay:    relay,
		conn:     conn,
	}
}

// HandleFrame interprets one inbound frame. A frame that fails to parse
// is answered with an error frame and the connection stays open; only a
// failed authentication closes it.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) {
	frame, err := protocol.ParseClientFrame(raw)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrUnknownFrameType):
			s.pushError("Unknown message type")
		default:
			s.pushError("Invalid message format")
		}
		return
	}

	switch f := frame.(type) {
	case protocol.AuthFrame:
		s.handleAuth(f)
	case protocol.SendMessageFrame:
		s.handleSend(ctx, f)
	case protocol.TypingFrame:
		s.handleTyping(f)
	}
}

func (s *Session) handleAuth(f protocol.AuthFrame) {
	if s.currentUserID() != "" {
		s.pushError("Already authenticated")
		return
	}

	userID, err := s.tokens.Validate(f.Token)
	if err != nil {
		// Fatal: exactly one auth_error, then the connection closes.
		// A fresh connection is required to retry.
		_ = s.conn.Push(protocol.Encode(protocol.NewAuthError("Invalid token")))
		_ = s.conn.Close()
		return
	}

	// The transport may have died while the token was being validated.
	// Registration happens under the session lock so it can never race
	// past a teardown and leave a dead connection in the registry.
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return
	}
	s.userID = userID
	cameOnline := s.registry.Register(userID, s.conn)
	s.mu.Unlock()

	_ = s.conn.Push(protocol.Encode(protocol.NewAuthSuccess(userID)))

	if cameOnline {
		s.presence.Broadcast()
	} else {
		// The user was already online, so no broadcast fires; this
		// connection still needs its own view of the roster.
		_ = s.conn.Push(protocol.Encode(protocol.NewOnlineUsers(s.registry.OnlineUsers())))
	}
	s.log.Info("connection authenticated", "user_id", userID)
}

func (s *Session) handleSend(ctx context.Context, f protocol.SendMessageFrame) {
	userID := s.currentUserID()
	if userID == "" {
		s.pushError("Not authenticated")
		return
	}

	if _, err := s.relay.Send(ctx, userID, s.conn, f.ReceiverID, f.Content); err != nil {
		switch {
		case errors.Is(err, errs.ErrEmptyContent):
			s.pushError("Message content is empty")
		default:
			s.log.Error(fmt.Sprintf("relay failed: %v", err), "user_id", userID)
			s.pushError("Failed to send message")
		}
	}
}

func (s *Session) handleTyping(f protocol.TypingFrame) {
	userID := s.currentUserID()
	if userID == "" {
		s.pushError("Not authenticated")
		return
	}
	s.relay.Typing(userID, f.ReceiverID, f.IsTyping)
}

// Teardown runs when the transport closes, in any state. The transport
// guarantees it fires exactly once, so an in-flight double close never
// deregisters twice. Marking the session torn down under the lock also
// fences an authentication still in flight on the read pump: whichever
// side wins the lock, the connection ends up out of the registry.
func (s *Session) Teardown() {
	s.mu.Lock()
	s.tornDown = true
	userID := s.userID
	s.mu.Unlock()

	if userID == "" {
		return
	}
	if s.registry.Deregister(userID, s.conn) {
		s.presence.Broadcast()
	}
}

func (s *Session) currentUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) pushError(message string) {
	_ = s.conn.Push(protocol.Encode(protocol.NewError(message)))
}
