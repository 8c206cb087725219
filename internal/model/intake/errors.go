package intake

import "errors"

var (
	ErrDuplicateSession = errors.New("session already exists")
	ErrCorruptSession   = errors.New("corrupt session document")
	ErrSessionClosed    = errors.New("session is closed")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrSessionNotFound  = errors.New("session not found")
	ErrEmptyAnswer      = errors.New("answer is required")
	ErrUnknownProtocol  = errors.New("unknown protocol")
	ErrInvalidPatientID = errors.New("invalid patient id")
)
