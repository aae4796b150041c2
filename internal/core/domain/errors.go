package domain

import "errors"

var (
	ErrStreamNotFound      = errors.New("stream not found")
	ErrStreamExists        = errors.New("stream already exists")
	ErrStreamEnded         = errors.New("stream already ended")
	ErrInvalidTransition   = errors.New("invalid session state transition")
	ErrSessionClosed       = errors.New("peer session closed")
	ErrUnexpectedAnswer    = errors.New("answer received in unexpected state")
	ErrSubscribeTimeout    = errors.New("signaling subscription timed out")
	ErrRetriesExhausted    = errors.New("retry budget exhausted")
	ErrPermissionDenied    = errors.New("media permission denied")
	ErrDeviceUnavailable   = errors.New("media device unavailable")
	ErrNoCapture           = errors.New("no local capture acquired")
	ErrNoSupportedEncoding = errors.New("no supported recording encoding")
)
