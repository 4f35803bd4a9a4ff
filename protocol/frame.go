// Package protocol defines the JSON wire frames exchanged over a
// connection. One JSON object per frame, discriminated by "type".
package protocol

import (
	"encoding/json"

	"dm-chat/domain"
	errs "dm-chat/errors"
)

const (
	// Client -> server.
	TypeAuth        = "auth"
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"

	// Server -> client.
	TypeAuthSuccess = "auth_success"
	TypeAuthError   = "auth_error"
	TypeNewMessage  = "new_message"
	TypeMessageSent = "message_sent"
	TypeOnlineUsers = "online_users"
	TypeError       = "error"
)

// ClientFrame is the closed set of frames a client may send. The sealed
// marker keeps dispatch exhaustive: a new frame type requires a new
// variant here, not a string case somewhere else.
type ClientFrame interface {
	isClientFrame()
}

type AuthFrame struct {
	Token string `json:"token"`
}

type SendMessageFrame struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type TypingFrame struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

func (AuthFrame) isClientFrame()        {}
func (SendMessageFrame) isClientFrame() {}
func (TypingFrame) isClientFrame()      {}

// ParseClientFrame decodes a raw frame into exactly one variant.
// A frame that is not valid JSON yields ErrMalformedFrame; a valid
// envelope with an unrecognized discriminator yields ErrUnknownFrameType.
func ParseClientFrame(raw []byte) (ClientFrame, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.ErrMalformedFrame
	}

	switch env.Type {
	case TypeAuth:
		var f AuthFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, errs.ErrMalformedFrame
		}
		return f, nil
	case TypeSendMessage:
		var f SendMessageFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, errs.ErrMalformedFrame
		}
		return f, nil
	case TypeTyping:
		var f TypingFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, errs.ErrMalformedFrame
		}
		return f, nil
	default:
		return nil, errs.ErrUnknownFrameType
	}
}

type AuthSuccess struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type AuthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type NewMessage struct {
	Type    string         `json:"type"`
	Message domain.Message `json:"message"`
}

type MessageSent struct {
	Type    string         `json:"type"`
	Message domain.Message `json:"message"`
}

type Typing struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId"`
	IsTyping bool   `json:"isTyping"`
}

type OnlineUsers struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAuthSuccess(userID string) AuthSuccess {
	return AuthSuccess{Type: TypeAuthSuccess, UserID: userID}
}

func NewAuthError(message string) AuthError {
	return AuthError{Type: TypeAuthError, Message: message}
}

func NewNewMessage(m domain.Message) NewMessage {
	return NewMessage{Type: TypeNewMessage, Message: m}
}

func NewMessageSent(m domain.Message) MessageSent {
	return MessageSent{Type: TypeMessageSent, Message: m}
}

func NewTyping(senderID string, isTyping bool) Typing {
	return Typing{Type: TypeTyping, SenderID: senderID, IsTyping: isTyping}
}

func NewOnlineUsers(users []string) OnlineUsers {
	if users == nil {
		users = []string{}
	}
	return OnlineUsers{Type: TypeOnlineUsers, Users: users}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// Encode marshals a server frame. The frame structs above contain
// nothing json.Marshal can reject, so a failure is a programming error
// and is reported as an empty payload for the caller to drop.
func Encode(frame any) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil
	}
	return data
}
