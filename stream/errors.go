package stream

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrClosed            = errors.New("session closed")
	ErrNotConnected      = errors.New("not connected")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrAuthTimeout       = errors.New("timed out waiting for auth response")
	ErrStaleConnection   = errors.New("connection stale (no traffic)")
)

// AuthError is returned by Connect when the server rejects the credential.
// It is terminal for the session: the client never reconnects after an
// authentication failure.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (code %d): %s", e.Code, e.Message)
}

// ServerError is a server-pushed error surfaced through the error event.
// It does not by itself close the connection.
type ServerError struct {
	Code    int
	Message string
}

func (e ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}
