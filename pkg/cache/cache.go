package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultStaleRetention is how long an expired entry is kept around for
// explicit stale reads before the sweep removes it.
const DefaultStaleRetention = 5 * time.Minute

// FetchFunc produces a fresh value for a signature on cache miss.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// entry is one memoized response.
type entry struct {
	value      json.RawMessage
	insertedAt time.Time
	ttl        time.Duration
}

// Opts configures a Cache.
type Opts struct {
	// StaleRetention bounds how long expired entries stay readable via
	// GetStale. Defaults to DefaultStaleRetention.
	StaleRetention time.Duration
	Clock          clock.Clock
	Logger         *zap.Logger
}

// Cache is a short-TTL memoization layer for read-only calls. Concurrent
// callers asking for the same signature coalesce into a single
// outstanding fetch. Fresh reads never return a value past its TTL;
// expired entries are only reachable through GetStale, which reports
// their age, until the periodic sweep removes them.
type Cache struct {
	entries   *xsync.Map[string, *entry]
	group     singleflight.Group
	retention time.Duration
	clock     clock.Clock
	logger    *zap.Logger
}

// New creates a Cache.
func New(o Opts) *Cache {
	if o.StaleRetention <= 0 {
		o.StaleRetention = DefaultStaleRetention
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Cache{
		entries:   xsync.NewMap[string, *entry](),
		retention: o.StaleRetention,
		clock:     o.Clock,
		logger:    o.Logger,
	}
}

// Signature derives the cache key from the logical request: method plus
// canonical JSON of the parameters. It is independent of which endpoint
// ends up serving the call.
func Signature(method string, params any) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	if params != nil {
		// encoding/json emits map keys in sorted order, which makes the
		// encoding canonical for the param shapes we cache.
		if b, err := json.Marshal(params); err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrFetch returns the fresh cached value for sig, or invokes fetch
// exactly once across concurrent callers and stores the result with ttl.
func (c *Cache) GetOrFetch(ctx context.Context, sig string, ttl time.Duration, fetch FetchFunc) (json.RawMessage, error) {
	if v, ok := c.fresh(sig); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(sig, func() (any, error) {
		// A racing caller may have populated the entry while we waited
		// for the flight lock.
		if v, ok := c.fresh(sig); ok {
			return v, nil
		}
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.entries.Store(sig, &entry{
			value:      value,
			insertedAt: c.clock.Now(),
			ttl:        ttl,
		})
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// fresh returns the value for sig if it has not outlived its TTL.
func (c *Cache) fresh(sig string) (json.RawMessage, bool) {
	e, ok := c.entries.Load(sig)
	if !ok {
		return nil, false
	}
	if c.clock.Since(e.insertedAt) >= e.ttl {
		// Expired entries stay for GetStale; the sweep reaps them.
		return nil, false
	}
	return e.value, true
}

// GetStale returns whatever value is recorded for sig, together with its
// age and whether it is past its TTL. Offline reads use this path so the
// caller can annotate staleness explicitly.
func (c *Cache) GetStale(sig string) (value json.RawMessage, age time.Duration, stale bool, ok bool) {
	e, found := c.entries.Load(sig)
	if !found {
		return nil, 0, false, false
	}
	age = c.clock.Since(e.insertedAt)
	return e.value, age, age >= e.ttl, true
}

// Sweep removes entries that expired longer than the retention window
// ago. It is cheap enough to run on a timer.
func (c *Cache) Sweep() int {
	now := c.clock.Now()
	removed := 0
	c.entries.Range(func(sig string, e *entry) bool {
		if now.Sub(e.insertedAt) >= e.ttl+c.retention {
			c.entries.Delete(sig)
			removed++
		}
		return true
	})
	if removed > 0 {
		c.logger.Debug("cache sweep", zap.Int("removed", removed), zap.Int("remaining", c.entries.Size()))
	}
	return removed
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.entries.Clear()
}

// Len returns the number of stored entries, expired included.
func (c *Cache) Len() int {
	return c.entries.Size()
}
