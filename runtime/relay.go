package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dm-chat/contract"
	"dm-chat/domain"
	errs "dm-chat/errors"
	"dm-chat/protocol"
)

// Relay validates a send request, persists it through the message
// store, and fans the stored record out: one new_message per live
// receiver connection, one message_sent ack to the originating
// connection only.
type Relay struct {
	log      *slog.Logger
	registry *Registry
	store    contract.IMessageStore
	presence *Broadcaster
}

func NewRelay(log *slog.Logger, registry *Registry, store contract.IMessageStore, presence *Broadcaster) *Relay {
	return &Relay{log: log, registry: registry, store: store, presence: presence}
}

// Send relays one direct message. The receiver is never notified of a
// message that was not durably stored: validation and persistence
// errors return to the caller before any push happens.
//
// origin may be nil when the message enters over HTTP rather than a
// live connection; no ack is pushed in that case.
func (r *Relay) Send(ctx context.Context, senderID string, origin contract.FrameSink, receiverID, content string) (domain.Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return domain.Message{}, errs.ErrEmptyContent
	}

	record, err := r.store.Persist(ctx, senderID, receiverID, trimmed)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errs.ErrMessageStore, err)
	}

	// Best effort, at most once per currently-open receiver connection.
	// A failed push must not abort the fan-out to the remaining ones.
	delivery := protocol.Encode(protocol.NewNewMessage(record))
	for _, sink := range r.registry.ConnectionsFor(receiverID) {
		if err := sink.Push(delivery); err != nil {
			r.cleanup(receiverID, sink)
		}
	}

	if origin != nil {
		ack := protocol.Encode(protocol.NewMessageSent(record))
		if err := origin.Push(ack); err != nil {
			r.cleanup(senderID, origin)
		}
	}

	return record, nil
}

// Typing relays a typing notice to the receiver's live connections.
// Nothing is persisted and failures are absorbed.
func (r *Relay) Typing(senderID, receiverID string, isTyping bool) {
	frame := protocol.Encode(protocol.NewTyping(senderID, isTyping))
	for _, sink := range r.registry.ConnectionsFor(receiverID) {
		if err := sink.Push(frame); err != nil {
			r.cleanup(receiverID, sink)
		}
	}
}

// cleanup treats a failed push as the connection being gone or stuck.
// Closing the sink tears the transport down so the peer observes the
// disconnect; deregistering re-fires presence if the user dropped
// offline. The close handler's own deregistration then finds a no-op.
func (r *Relay) cleanup(userID string, sink contract.FrameSink) {
	r.log.Debug(fmt.Sprintf("dropping dead connection %s of user %s", sink.ID(), userID))
	_ = sink.Close()
	if r.registry.Deregister(userID, sink) {
		r.presence.Broadcast()
	}
}
