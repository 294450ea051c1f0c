package beatsage

import (
	"errors"
	"fmt"
)

// ErrorKind classifies client failures so the pipeline can map them onto
// its own terminal failure taxonomy.
type ErrorKind string

const (
	// KindTransport covers network failures and unexpected HTTP statuses.
	KindTransport ErrorKind = "transport"
	// KindMalformedResponse covers bodies that are not valid JSON or lack
	// the fields the wire contract promises.
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindPayloadTooLarge is reported when the service rejects an upload
	// with HTTP 413 (file size or song length over the limit).
	KindPayloadTooLarge ErrorKind = "payload_too_large"
)

// Error is a kind-tagged failure from one client operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a client error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var clientErr *Error
	return errors.As(err, &clientErr) && clientErr.Kind == kind
}
