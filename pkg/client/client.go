package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/xrplink/xrplink/pkg/cache"
	"github.com/xrplink/xrplink/pkg/connstate"
	"github.com/xrplink/xrplink/pkg/endpoint"
	"github.com/xrplink/xrplink/pkg/failover"
	"github.com/xrplink/xrplink/pkg/probe"
	"github.com/xrplink/xrplink/pkg/retry"
	"github.com/xrplink/xrplink/pkg/submit"
	"github.com/xrplink/xrplink/pkg/xrpl"
	"go.uber.org/zap"
)

// ErrUnavailableOffline is returned for a read that cannot be served
// while every endpoint is unreachable and no cached value exists.
var ErrUnavailableOffline = errors.New("unavailable while offline")

// DefaultCacheTTLs is the allow-list of idempotent, read-only methods
// eligible for caching, with per-method TTLs. Allow-list, not deny-list:
// anything absent goes straight to the network.
func DefaultCacheTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		xrpl.MethodServerInfo:    30 * time.Second,
		xrpl.MethodFee:           15 * time.Second,
		xrpl.MethodLedgerCurrent: 10 * time.Second,
		xrpl.MethodAccountInfo:   6 * time.Second,
		xrpl.MethodAccountTx:     6 * time.Second,
	}
}

// Result is a read reply annotated with cache provenance. Age is time
// since the value was fetched; Stale marks a value past its TTL served
// because the network was unavailable.
type Result struct {
	Value  json.RawMessage
	Cached bool
	Age    time.Duration
	Stale  bool
}

// Opts configures a Client.
type Opts struct {
	// Endpoints lists candidate servers. Required; an empty list is a
	// fatal configuration error.
	Endpoints []endpoint.Spec

	// DisableAfter permanently disables an endpoint after this many
	// consecutive failures. Zero keeps endpoints forever.
	DisableAfter int

	// Policy selects the endpoint ordering strategy. Defaults to sticky.
	Policy endpoint.SelectionPolicy

	ProbeTimeout    time.Duration
	PerCallTimeout  time.Duration
	ReprobeInterval time.Duration

	// CacheTTLs overrides the cacheable-method allow-list.
	CacheTTLs          map[string]time.Duration
	CacheSweepInterval time.Duration

	// Debounce knobs for the connectivity state, see connstate.Opts.
	ConfirmCount int
	MinDwell     time.Duration

	SubmitRetry     retry.Config
	ConfirmInterval time.Duration
	MaxConfirmWait  time.Duration

	Transport xrpl.TransportOpts
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Client is the connectivity core exposed to collaborators: endpoint
// failover, response caching, offline detection, and safe transaction
// submission behind one surface. Signing stays outside; Submit takes an
// already-signed blob.
type Client struct {
	reg       *endpoint.Registry
	prober    *probe.Prober
	states    *connstate.Manager
	ctrl      *failover.Controller
	cache     *cache.Cache
	submitter *submit.Submitter

	ttls   map[string]time.Duration
	clock  clock.Clock
	logger *zap.Logger

	sweepTicker *clock.Ticker
	sweepStop   chan struct{}
	closeOnce   sync.Once
}

// New builds a Client. The endpoint list is validated immediately.
func New(o Opts) (*Client, error) {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.CacheTTLs == nil {
		o.CacheTTLs = DefaultCacheTTLs()
	}
	if o.CacheSweepInterval <= 0 {
		o.CacheSweepInterval = time.Minute
	}

	reg, err := endpoint.New(endpoint.Config{
		Endpoints:    o.Endpoints,
		DisableAfter: o.DisableAfter,
		Policy:       o.Policy,
	})
	if err != nil {
		return nil, err
	}

	states := connstate.New(connstate.Opts{
		Initial:      connstate.StateOffline,
		ConfirmCount: o.ConfirmCount,
		MinDwell:     o.MinDwell,
		Clock:        o.Clock,
		Logger:       o.Logger,
	})

	prober := probe.New(probe.Opts{
		Timeout: o.ProbeTimeout,
		Logger:  o.Logger,
	})

	ctrl, err := failover.New(failover.Opts{
		Registry:        reg,
		Prober:          prober,
		States:          states,
		PerCallTimeout:  o.PerCallTimeout,
		ReprobeInterval: o.ReprobeInterval,
		Transport:       o.Transport,
		Clock:           o.Clock,
		Logger:          o.Logger,
	})
	if err != nil {
		return nil, err
	}

	submitter, err := submit.New(submit.Opts{
		Controller:      ctrl,
		Retry:           o.SubmitRetry,
		ConfirmInterval: o.ConfirmInterval,
		MaxConfirmWait:  o.MaxConfirmWait,
		Clock:           o.Clock,
		Logger:          o.Logger,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		reg:       reg,
		prober:    prober,
		states:    states,
		ctrl:      ctrl,
		cache:     cache.New(cache.Opts{Clock: o.Clock, Logger: o.Logger}),
		submitter: submitter,
		ttls:      o.CacheTTLs,
		clock:     o.Clock,
		logger:    o.Logger,
		sweepStop: make(chan struct{}),
	}

	c.sweepTicker = o.Clock.Ticker(o.CacheSweepInterval)
	go c.sweepLoop()

	return c, nil
}

// sweepLoop bounds cache memory between lazy evictions.
func (c *Client) sweepLoop() {
	for {
		select {
		case <-c.sweepStop:
			return
		case <-c.sweepTicker.C:
			c.cache.Sweep()
		}
	}
}

// Connect runs an initial probe sweep and returns the resulting state.
func (c *Client) Connect(ctx context.Context) connstate.State {
	c.ctrl.ProbeAll(ctx)
	return c.states.Current()
}

// State returns the current connectivity state.
func (c *Client) State() connstate.State {
	return c.states.Current()
}

// SubscribeConnectivity returns a channel of state changes for banners
// and indicators. Pair with UnsubscribeConnectivity.
func (c *Client) SubscribeConnectivity() chan connstate.State {
	return c.states.Subscribe()
}

// UnsubscribeConnectivity releases a subscription channel.
func (c *Client) UnsubscribeConnectivity(ch chan connstate.State) {
	c.states.Unsubscribe(ch)
}

// ActiveEndpoint returns the URL currently preferred for operations.
func (c *Client) ActiveEndpoint() string {
	return c.ctrl.Active()
}

// Endpoints returns every registered endpoint with health metadata.
func (c *Client) Endpoints() []endpoint.Endpoint {
	return c.reg.All()
}

// Refresh probes every endpoint now and returns the resulting state.
// Operational schedulers call this periodically.
func (c *Client) Refresh(ctx context.Context) connstate.State {
	c.ctrl.ProbeAll(ctx)
	return c.states.Current()
}

// Request performs one logical read against the ledger. Methods on the
// cacheable allow-list are memoized with single-flight coalescing; when
// every endpoint is unreachable a cached value is served stale-marked,
// and its absence yields ErrUnavailableOffline.
func (c *Client) Request(ctx context.Context, method string, params any) (*Result, error) {
	ttl, cacheable := c.ttls[method]
	if !cacheable {
		raw, err := c.fetch(ctx, method, params)
		if err != nil {
			return nil, err
		}
		return &Result{Value: raw}, nil
	}

	sig := cache.Signature(method, params)

	if v, age, stale, ok := c.cache.GetStale(sig); ok {
		if !stale {
			return &Result{Value: v, Cached: true, Age: age}, nil
		}
		if c.states.Current() == connstate.StateOffline {
			return &Result{Value: v, Cached: true, Age: age, Stale: true}, nil
		}
	}

	v, err := c.cache.GetOrFetch(ctx, sig, ttl, func(fctx context.Context) (json.RawMessage, error) {
		return c.fetch(fctx, method, params)
	})
	if err != nil {
		if errors.Is(err, failover.ErrAllEndpointsUnreachable) {
			if v, age, stale, ok := c.cache.GetStale(sig); ok {
				return &Result{Value: v, Cached: true, Age: age, Stale: stale}, nil
			}
			return nil, fmt.Errorf("%w: %w", ErrUnavailableOffline, err)
		}
		return nil, err
	}

	return &Result{Value: v}, nil
}

// fetch routes one call through the failover controller.
func (c *Client) fetch(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.ctrl.Do(ctx, func(cctx context.Context, t *xrpl.Transport) error {
		return t.Call(cctx, method, params, &raw)
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// SubmitTransaction dispatches an already-signed blob and returns its
// tracking handle. Signing is the caller's concern.
func (c *Client) SubmitTransaction(ctx context.Context, signedBlob string) (*submit.Pending, error) {
	return c.submitter.Submit(ctx, signedBlob)
}

// PollStatus reports the lifecycle state for a submission handle.
func (c *Client) PollStatus(localID string) (submit.TxState, error) {
	return c.submitter.Status(localID)
}

// ReleaseTransaction forgets a submission that reached a terminal state.
func (c *Client) ReleaseTransaction(localID string) error {
	return c.submitter.Release(localID)
}

// FlushCache drops every memoized response.
func (c *Client) FlushCache() {
	c.cache.Flush()
}

// Close stops background work. Pending submissions finish as unknown.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.sweepStop)
		c.sweepTicker.Stop()
		c.submitter.Close()
		c.ctrl.Close()
	})
}
