package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownType       = errors.New("protocol: unknown message type")
	ErrMalformedPayload  = errors.New("protocol: malformed payload")
	ErrWrongDirection    = errors.New("protocol: message type not allowed in this direction")
	ErrMalformedEnvelope = errors.New("protocol: malformed envelope")
	ErrDuplicateType     = errors.New("protocol: duplicate message type")
)

// TypeError carries the offending type code with one of the sentinel errors.
type TypeError struct {
	Type MessageType
	Err  error
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Type)
}

func (e *TypeError) Unwrap() error {
	return e.Err
}

func typeErr(t MessageType, err error) error {
	return &TypeError{Type: t, Err: err}
}

func malformed(t MessageType, format string, args ...any) error {
	return typeErr(t, fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...)))
}
