//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"

	"dm-chat/domain"

	"github.com/google/uuid"
)

// FrameSink is the send capability of one live client connection.
// Push must be safe for concurrent use and must report the peer being
// gone with an error instead of blocking.
type FrameSink interface {
	ID() uuid.UUID
	Push(frame []byte) error
	Close() error
}

// ITokenValidator resolves an opaque credential to a stable user ID.
type ITokenValidator interface {
	Validate(token string) (string, error)
}

// IMessageStore durably persists a message and returns it enriched with
// sender/receiver display data.
type IMessageStore interface {
	Persist(ctx context.Context, senderID, receiverID, content string) (domain.Message, error)
}
