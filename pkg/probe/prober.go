package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/xrplink/xrplink/pkg/xrpl"
	"go.uber.org/zap"
)

// ErrorKind classifies why a probe failed.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindConnectionRefused ErrorKind = "connection_refused"
	KindProtocolError     ErrorKind = "protocol_error"
	KindUnauthorized      ErrorKind = "unauthorized"
)

// Error is the typed result of a failed probe. Expected network
// conditions always come back as one of these, never as a panic or an
// untyped error.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps an underlying call error to a probe error kind.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnectionRefused
	case xrpl.IsUnauthorized(err):
		return KindUnauthorized
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return KindConnectionRefused
		}
		// Read or write failure on an established connection; the
		// request may already be on the wire.
		return KindProtocolError
	}
	return KindProtocolError
}

// Liveness is what a successful probe learned about an endpoint.
// Reserve values are in drops, taken from the validated-ledger info the
// server reports; callers use them to compute spendable balances.
type Liveness struct {
	URL          string
	ServerState  string
	LedgerIndex  uint64
	BaseReserve  uint64
	OwnerReserve uint64
	Latency      time.Duration
	CheckedAt    time.Time
}

// Opts configures a Prober.
type Opts struct {
	// Timeout bounds one probe round-trip. Defaults to 4s.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Prober performs lightweight liveness checks: a single read-only
// server_info call with a bounded timeout. It never issues business
// requests and never mutates endpoint state itself; bookkeeping belongs
// to the failover controller.
type Prober struct {
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Prober.
func New(o Opts) *Prober {
	if o.Timeout <= 0 {
		o.Timeout = 4 * time.Second
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{timeout: o.Timeout, logger: logger}
}

// Timeout returns the per-probe deadline.
func (p *Prober) Timeout() time.Duration {
	return p.timeout
}

// Probe checks one endpoint. A ledger-level error reply still proves the
// endpoint is alive, so it counts as success with whatever info we got.
// On failure the returned error is always a *Error.
func (p *Prober) Probe(ctx context.Context, t *xrpl.Transport) (Liveness, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	var res xrpl.ServerInfoResult
	err := t.Call(ctx, xrpl.MethodServerInfo, nil, &res)
	latency := time.Since(started)

	if err != nil && !xrpl.IsLedgerError(err) {
		kind := Classify(err)
		p.logger.Debug("probe failed",
			zap.String("endpoint", t.URL()),
			zap.String("kind", string(kind)),
			zap.Duration("latency", latency),
			zap.Error(err))
		return Liveness{}, &Error{Kind: kind, URL: t.URL(), Err: err}
	}

	info := Liveness{
		URL:         t.URL(),
		ServerState: res.Info.ServerState,
		Latency:     latency,
		CheckedAt:   started,
	}
	if vl := res.Info.ValidatedLedger; vl != nil {
		info.LedgerIndex = vl.Seq
		info.BaseReserve = dropsNumber(vl.BaseReserve.String())
		info.OwnerReserve = dropsNumber(vl.IncReserve.String())
	}

	p.logger.Debug("probe ok",
		zap.String("endpoint", t.URL()),
		zap.String("serverState", info.ServerState),
		zap.Uint64("ledgerIndex", info.LedgerIndex),
		zap.Duration("latency", latency))
	return info, nil
}

// dropsNumber parses a reserve figure that servers report either as an
// integer drop count or a bare number; anything unparsable reads as 0.
func dropsNumber(s string) uint64 {
	var n uint64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0
	}
	return n
}
