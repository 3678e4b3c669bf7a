package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xrplink/xrplink/pkg/utils"
)

// Transport issues JSON-RPC calls against a single endpoint URL. Endpoint
// selection and failover live above it; Transport only knows how to talk
// to one server, with a bounded timeout and a token-bucket rate limit.
type Transport struct {
	url    string
	client *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time
}

// TransportOpts is the set of options for a new Transport.
type TransportOpts struct {
	Timeout    time.Duration
	RPS        int
	Burst      int
	HTTPClient *http.Client
}

// NewTransport creates a Transport for one endpoint URL.
func NewTransport(url string, o TransportOpts) *Transport {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	t := &Transport{
		url:         strings.TrimRight(url, "/"),
		client:      client,
		maxTokens:   int64(o.Burst),
		refillEvery: time.Second / time.Duration(o.RPS),
	}
	t.tokens = t.maxTokens
	t.lastRefill.Store(time.Now())
	return t
}

// URL returns the endpoint this transport talks to.
func (t *Transport) URL() string {
	return t.url
}

// refill refills the token-bucket with new tokens if necessary.
func (t *Transport) refill() {
	last := t.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= t.refillEvery {
		if atomic.LoadInt64(&t.tokens) < t.maxTokens {
			atomic.AddInt64(&t.tokens, 1)
		}
		t.lastRefill.Store(now)
	}
}

// acquire acquires a token from the token-bucket, blocking if necessary.
func (t *Transport) acquire(ctx context.Context) error {
	for {
		t.refill()
		if atomic.LoadInt64(&t.tokens) > 0 {
			atomic.AddInt64(&t.tokens, -1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.refillEvery / 2):
		}
	}
}

// Call sends one JSON-RPC request and decodes the result into out (which
// may be nil to discard the payload). Error returns are typed:
//
//   - transport-level failures come back as the underlying net error,
//     *StatusError, or ErrRateLimited — the endpoint misbehaved;
//   - a valid response envelope whose result says status "error" comes
//     back as *LedgerError — the endpoint is healthy;
//   - undecodable payloads come back wrapping ErrMalformedResponse.
func (t *Transport) Call(ctx context.Context, method string, params any, out any) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}

	reqBody := Request{Method: method}
	if params != nil {
		reqBody.Params = []any{params}
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		_ = utils.DrainAndClose(resp.Body)
		return fmt.Errorf("%s %s: %w", method, t.url, ErrRateLimited)
	}
	if resp.StatusCode >= 300 {
		_ = utils.DrainAndClose(resp.Body)
		return &StatusError{Code: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		_ = utils.DrainAndClose(resp.Body)
		return fmt.Errorf("%s %s: %w: %v", method, t.url, ErrMalformedResponse, err)
	}
	if cerr := utils.DrainAndClose(resp.Body); cerr != nil {
		return cerr
	}
	if len(env.Result) == 0 {
		return fmt.Errorf("%s %s: %w: missing result", method, t.url, ErrMalformedResponse)
	}

	var hdr resultHeader
	if err := json.Unmarshal(env.Result, &hdr); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, t.url, ErrMalformedResponse, err)
	}
	if hdr.Status == "error" || hdr.Error != "" {
		return &LedgerError{Code: hdr.Error, Message: hdr.ErrorMessage}
	}

	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("%s %s: %w: %v", method, t.url, ErrMalformedResponse, err)
		}
	}
	return nil
}
