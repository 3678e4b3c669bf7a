package submit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/xrplink/xrplink/pkg/failover"
	"github.com/xrplink/xrplink/pkg/probe"
	"github.com/xrplink/xrplink/pkg/retry"
	"github.com/xrplink/xrplink/pkg/xrpl"
	"go.uber.org/zap"
)

var (
	// ErrIndeterminate marks outcomes the network left ambiguous. It is
	// never coerced into success or failure: the transaction may still
	// land, so the caller must not rebuild it with a fresh sequence.
	ErrIndeterminate = errors.New("transaction outcome indeterminate")

	// ErrUnknownTransaction is returned for a LocalID the submitter is
	// not tracking.
	ErrUnknownTransaction = errors.New("unknown transaction")

	// ErrEmptyBlob rejects a submission without a signed payload.
	ErrEmptyBlob = errors.New("empty signed blob")
)

// RejectedError is a definitive rejection from the ledger itself, such
// as a malformed transaction or an insufficient reserve. It is terminal
// and never retried.
type RejectedError struct {
	Code   string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("rejected by ledger: %s", e.Code)
	}
	return fmt.Sprintf("rejected by ledger: %s: %s", e.Code, e.Reason)
}

// Opts configures a Submitter.
type Opts struct {
	Controller *failover.Controller

	// Retry controls the submission sweeps: MaxRetries is the sweep
	// count, delays double between sweeps up to MaxDelay.
	Retry retry.Config

	// ConfirmInterval is the gap between ledger-inclusion polls.
	// Defaults to 3s.
	ConfirmInterval time.Duration

	// MaxConfirmWait bounds confirmation polling. Exceeding it yields
	// StateUnknown, never StateFailed. Defaults to 60s.
	MaxConfirmWait time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
}

// Submitter dispatches signed payloads through the failover controller
// and tracks each one to a terminal outcome. The central property: a
// network-level failure is always retried with the identical blob, and
// only the ledger itself can declare failure.
type Submitter struct {
	ctrl    *failover.Controller
	pending *xsync.Map[string, *Pending]

	retryCfg        retry.Config
	confirmInterval time.Duration
	maxConfirmWait  time.Duration

	clock  clock.Clock
	logger *zap.Logger

	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Submitter.
func New(o Opts) (*Submitter, error) {
	if o.Controller == nil {
		return nil, errors.New("submit: controller is required")
	}
	if o.Retry.MaxRetries <= 0 {
		o.Retry = retry.DefaultConfig()
	}
	if o.ConfirmInterval <= 0 {
		o.ConfirmInterval = 3 * time.Second
	}
	if o.MaxConfirmWait <= 0 {
		o.MaxConfirmWait = 60 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Submitter{
		ctrl:            o.Controller,
		pending:         xsync.NewMap[string, *Pending](),
		retryCfg:        o.Retry,
		confirmInterval: o.ConfirmInterval,
		maxConfirmWait:  o.MaxConfirmWait,
		clock:           o.Clock,
		logger:          o.Logger,
		baseCtx:         ctx,
		cancel:          cancel,
	}, nil
}

// Submit registers signedBlob for submission and starts tracking it in
// the background. The returned handle reaches a terminal state through
// Wait or Status. The caller's context is not retained: cancelling it
// later never aborts the submission.
func (s *Submitter) Submit(_ context.Context, signedBlob string) (*Pending, error) {
	if signedBlob == "" {
		return nil, ErrEmptyBlob
	}

	p := newPending(uuid.New().String(), signedBlob)
	s.pending.Store(p.LocalID, p)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.track(p)
	}()

	return p, nil
}

// Status reports the state of a tracked transaction.
func (s *Submitter) Status(localID string) (TxState, error) {
	p, ok := s.pending.Load(localID)
	if !ok {
		return StateUnknown, ErrUnknownTransaction
	}
	return p.State(), nil
}

// Get returns the handle for localID.
func (s *Submitter) Get(localID string) (*Pending, bool) {
	return s.pending.Load(localID)
}

// Release drops a transaction that reached a terminal outcome. Releasing
// a still-tracked transaction is refused.
func (s *Submitter) Release(localID string) error {
	p, ok := s.pending.Load(localID)
	if !ok {
		return ErrUnknownTransaction
	}
	if !p.State().Terminal() {
		return fmt.Errorf("transaction %s still in state %s", localID, p.State())
	}
	s.pending.Delete(localID)
	return nil
}

// Close stops background tracking. Transactions that have not reached a
// terminal state finish as unknown.
func (s *Submitter) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// track drives one transaction from dispatch to a terminal outcome.
func (s *Submitter) track(p *Pending) {
	accepted, err := s.submitSweeps(p)
	if err != nil {
		var rej *RejectedError
		switch {
		case errors.As(err, &rej):
			p.finish(StateFailed, err)
		case !p.Dispatched():
			// Nothing ever reached the network; failing here is safe
			// and the caller may resubmit the same blob later.
			p.finish(StateFailed, err)
		default:
			p.finish(StateUnknown, fmt.Errorf("%w: %w", ErrIndeterminate, err))
		}
		s.logger.Warn("submission ended without acceptance",
			zap.String("localId", p.LocalID),
			zap.String("state", p.State().String()),
			zap.Error(err))
		return
	}

	p.setAccepted(accepted.TxJSON.Hash, accepted.TxJSON.Sequence)
	s.logger.Info("transaction accepted, awaiting validation",
		zap.String("localId", p.LocalID),
		zap.String("hash", accepted.TxJSON.Hash),
		zap.String("engineResult", accepted.EngineResult))

	s.confirmLoop(p)
}

// submitSweeps dispatches the blob, retrying whole sweeps with backoff.
// The identical blob is used on every attempt; only acceptance, a
// definitive ledger rejection, or sweep exhaustion ends the loop.
func (s *Submitter) submitSweeps(p *Pending) (*xrpl.SubmitResult, error) {
	var accepted *xrpl.SubmitResult

	err := retry.WithBackoff(s.baseCtx, s.retryCfg, s.logger, "submit "+p.LocalID, func() error {
		var res xrpl.SubmitResult
		err := s.ctrl.Do(s.baseCtx, func(ctx context.Context, t *xrpl.Transport) error {
			p.noteAttempt()
			callErr := t.Call(ctx, xrpl.MethodSubmit, xrpl.SubmitParams{TxBlob: p.SignedBlob()}, &res)
			if mayHaveDispatched(callErr) {
				p.markDispatched(s.clock.Now())
			}
			return callErr
		})
		if err != nil {
			if xrpl.IsLedgerError(err) {
				// The ledger itself refused the payload; terminal.
				var le *xrpl.LedgerError
				errors.As(err, &le)
				return retry.Permanent(&RejectedError{Code: le.Code, Reason: le.Message})
			}
			return err
		}

		switch xrpl.ClassifyEngineResult(res.EngineResult) {
		case xrpl.EngineSuccess, xrpl.EngineQueued:
			accepted = &res
			return nil
		case xrpl.EngineFailed:
			return retry.Permanent(&RejectedError{Code: res.EngineResult, Reason: res.EngineResultMessage})
		default:
			// Retryable or unrecognized provisional code: resubmit the
			// same blob on the next sweep.
			p.setAccepted(res.TxJSON.Hash, res.TxJSON.Sequence)
			return fmt.Errorf("provisional result %s: %s", res.EngineResult, res.EngineResultMessage)
		}
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// mayHaveDispatched reports whether a failed submit call could still
// have reached the server. A dial that never connected or a rate-limit
// reply means the payload was never processed; a timeout, reset, or
// protocol error on an established connection is ambiguous and counts
// as dispatched.
func mayHaveDispatched(err error) bool {
	if err == nil || xrpl.IsLedgerError(err) {
		return true
	}
	if errors.Is(err, xrpl.ErrRateLimited) {
		return false
	}
	switch probe.Classify(err) {
	case probe.KindConnectionRefused, probe.KindUnauthorized:
		return false
	default:
		return true
	}
}

// confirmLoop polls for ledger inclusion on a cache-bypassing read path
// until validation, a definitive rejection, or the confirmation window
// closes. Ambiguity ends as unknown, never failed.
func (s *Submitter) confirmLoop(p *Pending) {
	hash := p.TxHash()
	if hash == "" {
		p.finish(StateUnknown, fmt.Errorf("%w: accepted without a transaction hash", ErrIndeterminate))
		return
	}

	deadline := s.clock.Now().Add(s.maxConfirmWait)
	ticker := s.clock.Ticker(s.confirmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			p.finish(StateUnknown, fmt.Errorf("%w: submitter closed while awaiting validation", ErrIndeterminate))
			return
		case <-ticker.C:
		}

		if s.clock.Now().After(deadline) {
			p.finish(StateUnknown, fmt.Errorf("%w: no validated ledger record within %s", ErrIndeterminate, s.maxConfirmWait))
			return
		}

		var res xrpl.TxResult
		err := s.ctrl.Do(s.baseCtx, func(ctx context.Context, t *xrpl.Transport) error {
			return t.Call(ctx, xrpl.MethodTx, xrpl.TxParams{Transaction: hash}, &res)
		})
		if err != nil {
			if !xrpl.IsNotFound(err) {
				s.logger.Debug("confirmation poll failed, will retry",
					zap.String("localId", p.LocalID),
					zap.Error(err))
			}
			// Not found yet, or the network is away: both mean keep
			// polling until the window closes.
			continue
		}
		if !res.Validated {
			continue
		}

		switch xrpl.ClassifyEngineResult(res.Meta.TransactionResult) {
		case xrpl.EngineSuccess:
			s.logger.Info("transaction validated",
				zap.String("localId", p.LocalID),
				zap.String("hash", hash),
				zap.Uint64("ledgerIndex", res.LedgerIndex))
			p.confirm(res.LedgerIndex)
			return
		case xrpl.EngineFailed:
			p.finish(StateFailed, &RejectedError{Code: res.Meta.TransactionResult})
			return
		default:
			continue
		}
	}
}
