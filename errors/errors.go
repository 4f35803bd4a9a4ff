package errors

import "fmt"

var (
	// Connection protocol errors. None of these close the connection on
	// their own except ErrInvalidToken, which is fatal to the session.
	ErrInvalidToken         = fmt.Errorf("invalid or expired token")
	ErrNotAuthenticated     = fmt.Errorf("not authenticated")
	ErrAlreadyAuthenticated = fmt.Errorf("already authenticated")
	ErrMalformedFrame       = fmt.Errorf("malformed frame")
	ErrUnknownFrameType     = fmt.Errorf("unknown frame type")

	// Relay errors, reported to the sender only.
	ErrEmptyContent = fmt.Errorf("message content is empty")
	ErrMessageStore = fmt.Errorf("message could not be stored")

	// A push to a connection whose peer is gone.
	ErrConnectionClosed = fmt.Errorf("connection closed")

	// Account errors.
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity rules")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")
)
