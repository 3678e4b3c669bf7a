package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/benbjohnson/clock"
	"github.com/xrplink/xrplink/pkg/connstate"
	"github.com/xrplink/xrplink/pkg/endpoint"
	"github.com/xrplink/xrplink/pkg/probe"
	"github.com/xrplink/xrplink/pkg/xrpl"
	"go.uber.org/zap"
)

// ErrAllEndpointsUnreachable is returned when one full sweep exhausted
// every enabled endpoint without a single usable reply.
var ErrAllEndpointsUnreachable = errors.New("all endpoints unreachable")

// Operation is one logical RPC executed against a chosen endpoint. The
// controller retries the same operation across endpoints within a sweep.
type Operation func(ctx context.Context, t *xrpl.Transport) error

// Opts configures a Controller.
type Opts struct {
	Registry *endpoint.Registry
	Prober   *probe.Prober
	States   *connstate.Manager

	// PerCallTimeout bounds one operation attempt against one endpoint.
	// Defaults to 10s. Worst-case sweep latency is endpoint count times
	// this value.
	PerCallTimeout time.Duration

	// ReprobeInterval is the delay before a background probe sweep after
	// the controller went offline. Defaults to 20s.
	ReprobeInterval time.Duration

	// MaxProbeWorkers caps the parallel probe fan-out. Defaults to 4.
	MaxProbeWorkers int

	Transport xrpl.TransportOpts
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Controller chooses the endpoint for each operation, fails over across
// the registry within one bounded sweep, and owns the connectivity
// state: nothing else writes to the state manager, and per-endpoint
// counters are only mutated here.
type Controller struct {
	reg    *endpoint.Registry
	prober *probe.Prober
	states *connstate.Manager

	// transports is built once at construction; the registry never grows.
	transports map[string]*xrpl.Transport

	// sweepMu serializes sweeps: an in-flight sweep completes before the
	// next begins.
	sweepMu sync.Mutex

	activeMu sync.RWMutex
	active   string

	pool pond.Pool

	reprobeMu      sync.Mutex
	reprobePending bool
	reprobeTimer   *clock.Timer

	perCallTimeout  time.Duration
	reprobeInterval time.Duration

	clock  clock.Clock
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Controller. Registry, Prober and States are required.
func New(o Opts) (*Controller, error) {
	if o.Registry == nil {
		return nil, errors.New("failover: registry is required")
	}
	if o.Prober == nil {
		return nil, errors.New("failover: prober is required")
	}
	if o.States == nil {
		return nil, errors.New("failover: state manager is required")
	}
	if o.PerCallTimeout <= 0 {
		o.PerCallTimeout = 10 * time.Second
	}
	if o.ReprobeInterval <= 0 {
		o.ReprobeInterval = 20 * time.Second
	}
	if o.MaxProbeWorkers <= 0 {
		o.MaxProbeWorkers = 4
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	c := &Controller{
		reg:             o.Registry,
		prober:          o.Prober,
		states:          o.States,
		transports:      make(map[string]*xrpl.Transport),
		pool:            pond.NewPool(o.MaxProbeWorkers),
		perCallTimeout:  o.PerCallTimeout,
		reprobeInterval: o.ReprobeInterval,
		clock:           o.Clock,
		logger:          o.Logger,
		closed:          make(chan struct{}),
	}

	for _, ep := range o.Registry.All() {
		c.transports[ep.URL] = xrpl.NewTransport(ep.URL, o.Transport)
	}

	if list := o.Registry.List(); len(list) > 0 {
		c.active = list[0].URL
	}

	return c, nil
}

// Active returns the URL of the endpoint currently preferred for
// operations. Exactly one endpoint is active at any instant.
func (c *Controller) Active() string {
	c.activeMu.RLock()
	defer c.activeMu.RUnlock()
	return c.active
}

func (c *Controller) setActive(url string) {
	c.activeMu.Lock()
	if c.active != url {
		c.logger.Info("active endpoint changed",
			zap.String("from", c.active),
			zap.String("to", url))
		c.active = url
	}
	c.activeMu.Unlock()
}

// Do runs one serialized sweep of op across enabled endpoints in policy
// order. Network-class failures mark the endpoint failed and advance to
// the next; a ledger-level error reply is a healthy endpoint answering
// and is returned to the caller unchanged. When every endpoint fails the
// controller flips offline, schedules a background re-probe, and returns
// ErrAllEndpointsUnreachable wrapping the last cause.
func (c *Controller) Do(ctx context.Context, op Operation) error {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	order := c.reg.List()
	if len(order) == 0 {
		// Every endpoint has been disabled; nothing left to try.
		c.states.Set(connstate.StateOffline)
		c.scheduleReprobe()
		return fmt.Errorf("%w: %w", ErrAllEndpointsUnreachable, endpoint.ErrNoEndpoints)
	}

	var lastErr error
	for hop, ep := range order {
		t := c.transports[ep.URL]

		opCtx, cancel := context.WithTimeout(ctx, c.perCallTimeout)
		err := op(opCtx, t)
		cancel()

		if err == nil || xrpl.IsLedgerError(err) {
			c.recordSuccess(ep.URL, hop)
			return err
		}

		if ctx.Err() != nil {
			// The caller went away; this says nothing about the network.
			return ctx.Err()
		}

		c.logger.Warn("endpoint failed, advancing sweep",
			zap.String("endpoint", ep.URL),
			zap.Int("hop", hop),
			zap.Error(err))
		c.reg.MarkFailure(ep.URL, c.clock.Now(), err)
		lastErr = err
	}

	c.states.Set(connstate.StateOffline)
	c.scheduleReprobe()

	if lastErr != nil {
		return fmt.Errorf("%w: last error: %w", ErrAllEndpointsUnreachable, lastErr)
	}
	return ErrAllEndpointsUnreachable
}

// recordSuccess does the bookkeeping for a usable reply from url.
func (c *Controller) recordSuccess(url string, hop int) {
	c.reg.MarkSuccess(url, c.clock.Now())
	c.setActive(url)

	if c.states.Current() == connstate.StateOffline || hop == 0 {
		// First success after offline always reads as connected.
		c.states.Set(connstate.StateConnected)
		return
	}
	if hop > 0 {
		// The call went through, but only after failing over past dead
		// endpoints; surface that as degraded until a clean first-hop
		// success or probe sweep clears it.
		c.states.Set(connstate.StateDegraded)
	}
}

// ProbeAll probes every enabled endpoint in parallel, updates health
// bookkeeping, and recomputes the connectivity state from the latest
// results. Any healthy endpoint reads as connected. An all-failed sweep
// is reported through the debounce rather than applied directly: one
// flaky sweep must not flip a connected client offline, while an
// exhausted operation sweep in Do still does so immediately.
func (c *Controller) ProbeAll(ctx context.Context) []probe.Liveness {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	order := c.reg.List()
	if len(order) == 0 {
		return nil
	}

	results := make([]*probe.Liveness, len(order))
	group := c.pool.NewGroupContext(ctx)
	for i, ep := range order {
		i, ep := i, ep
		group.Submit(func() {
			info, err := c.prober.Probe(ctx, c.transports[ep.URL])
			if err != nil {
				c.reg.MarkFailure(ep.URL, c.clock.Now(), err)
				return
			}
			c.reg.MarkSuccess(ep.URL, c.clock.Now())
			results[i] = &info
		})
	}
	_ = group.Wait()

	healthy := make([]probe.Liveness, 0, len(order))
	var firstUp string
	for i := range results {
		if results[i] != nil {
			if firstUp == "" {
				firstUp = order[i].URL
			}
			healthy = append(healthy, *results[i])
		}
	}

	if len(healthy) == 0 {
		c.states.Report(connstate.StateOffline)
		c.scheduleReprobe()
		return nil
	}

	// firstUp is the best healthy endpoint in policy order; stick to it.
	c.setActive(firstUp)
	c.states.Set(connstate.StateConnected)
	return healthy
}

// scheduleReprobe arms one background probe sweep after the re-probe
// interval. At most one is pending at a time; if the sweep still finds
// nothing it re-arms itself.
func (c *Controller) scheduleReprobe() {
	c.reprobeMu.Lock()
	defer c.reprobeMu.Unlock()
	if c.reprobePending {
		return
	}
	c.reprobePending = true

	c.reprobeTimer = c.clock.AfterFunc(c.reprobeInterval, func() {
		c.reprobeMu.Lock()
		c.reprobePending = false
		c.reprobeMu.Unlock()

		select {
		case <-c.closed:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.reg.Len())*c.prober.Timeout())
		defer cancel()
		c.logger.Debug("background re-probe sweep")
		c.ProbeAll(ctx)
	})
}

// Transport returns the transport for url, for callers that must pin an
// endpoint (none today outside tests).
func (c *Controller) Transport(url string) *xrpl.Transport {
	return c.transports[url]
}

// Close stops background work. In-flight sweeps finish normally.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.reprobeMu.Lock()
		if c.reprobeTimer != nil {
			c.reprobeTimer.Stop()
		}
		c.reprobeMu.Unlock()
		c.pool.StopAndWait()
	})
}
