package xrpl

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited reports an HTTP 429 from an endpoint.
	ErrRateLimited = errors.New("rate limited by endpoint")

	// ErrMalformedResponse reports a reply that was not valid JSON-RPC.
	ErrMalformedResponse = errors.New("malformed response")
)

// StatusError reports a non-2xx HTTP status from an endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d", e.Code)
}

// IsUnauthorized reports whether err is an HTTP auth failure.
func IsUnauthorized(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 401 || se.Code == 403
	}
	return false
}

// LedgerError is a protocol-valid error result returned by the ledger
// itself (for example actNotFound or txnNotFound). It means the endpoint
// is alive and answered; it must never be treated as an endpoint failure.
type LedgerError struct {
	Code    string
	Message string
}

func (e *LedgerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger error %s", e.Code)
	}
	return fmt.Sprintf("ledger error %s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is the ledger saying an entity does not
// exist. Confirmation polling treats this as "keep waiting".
func IsNotFound(err error) bool {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Code == "txnNotFound" || le.Code == "actNotFound"
	}
	return false
}

// IsLedgerError reports whether err came back inside a valid response
// envelope rather than from the network or the endpoint's HTTP layer.
func IsLedgerError(err error) bool {
	var le *LedgerError
	return errors.As(err, &le)
}
