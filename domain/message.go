// Package domain contains core concepts of the messaging system.
// This file defines the immutable message record exchanged between users.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserRef is the denormalized display data attached to a stored message.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message represents a direct message after persistence. Sender and
// Receiver carry resolved usernames so clients can render without a
// second lookup. Immutable once created.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Sender    UserRef   `json:"sender"`
	Receiver  UserRef   `json:"receiver"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
