package submit

import (
	"context"
	"sync"
	"time"
)

// TxState is the lifecycle of one pending transaction.
type TxState int

const (
	// StateBuilt: the signed blob exists but nothing was dispatched yet.
	StateBuilt TxState = iota
	// StateSubmitted: the blob reached at least one endpoint.
	StateSubmitted
	// StateConfirmed: the transaction appeared in a validated ledger
	// with a success result.
	StateConfirmed
	// StateFailed: the ledger definitively rejected the transaction.
	// Never inferred from a timeout.
	StateFailed
	// StateUnknown: the outcome could not be determined within the
	// confirmation window. The transaction may still land; the caller
	// must not build a replacement with the same sequence.
	StateUnknown
)

func (s TxState) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	case StateUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Terminal reports whether the state is an outcome.
func (s TxState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateUnknown
}

// Pending is the handle for one submitted transaction. The signed blob
// is fixed at creation and reused verbatim for every retry; nothing here
// ever constructs a second payload.
type Pending struct {
	LocalID string

	mu                sync.RWMutex
	signedBlob        string
	txHash            string
	attempts          int
	firstSubmitAt     time.Time
	lastKnownSequence uint32
	ledgerIndex       uint64
	state             TxState
	err               error

	done chan struct{}
}

func newPending(localID, signedBlob string) *Pending {
	return &Pending{
		LocalID:    localID,
		signedBlob: signedBlob,
		state:      StateBuilt,
		done:       make(chan struct{}),
	}
}

// SignedBlob returns the immutable signed payload.
func (p *Pending) SignedBlob() string {
	return p.signedBlob
}

// State returns the current lifecycle state.
func (p *Pending) State() TxState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Err returns the terminal error, if any.
func (p *Pending) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// TxHash returns the ledger hash once known.
func (p *Pending) TxHash() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.txHash
}

// Attempts returns how many endpoint dispatch attempts were made.
func (p *Pending) Attempts() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.attempts
}

// LastKnownSequence returns the sequence number the ledger reported for
// this transaction, or zero if never seen.
func (p *Pending) LastKnownSequence() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastKnownSequence
}

// LedgerIndex returns the ledger the transaction validated in, once
// confirmed.
func (p *Pending) LedgerIndex() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledgerIndex
}

// Wait blocks until the transaction reaches a terminal state or ctx is
// cancelled. Cancelling the wait never stops the underlying submission:
// tracking continues in the background until an outcome or timeout.
func (p *Pending) Wait(ctx context.Context) (TxState, error) {
	select {
	case <-ctx.Done():
		return p.State(), ctx.Err()
	case <-p.done:
		return p.State(), p.Err()
	}
}

// noteAttempt counts one dispatch attempt toward an endpoint.
func (p *Pending) noteAttempt() {
	p.mu.Lock()
	p.attempts++
	p.mu.Unlock()
}

// markDispatched records that the blob (possibly) reached an endpoint.
func (p *Pending) markDispatched(now time.Time) {
	p.mu.Lock()
	if p.state == StateBuilt {
		p.state = StateSubmitted
		p.firstSubmitAt = now
	}
	p.mu.Unlock()
}

// Dispatched reports whether the blob may have reached any endpoint.
func (p *Pending) Dispatched() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state != StateBuilt
}

// setAccepted records the provisional submit reply.
func (p *Pending) setAccepted(txHash string, sequence uint32) {
	p.mu.Lock()
	if txHash != "" {
		p.txHash = txHash
	}
	if sequence != 0 {
		p.lastKnownSequence = sequence
	}
	p.mu.Unlock()
}

func (p *Pending) finish(state TxState, err error) {
	p.mu.Lock()
	if p.state.Terminal() {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *Pending) confirm(ledgerIndex uint64) {
	p.mu.Lock()
	p.ledgerIndex = ledgerIndex
	p.mu.Unlock()
	p.finish(StateConfirmed, nil)
}
