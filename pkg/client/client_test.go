package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xrplink/xrplink/pkg/connstate"
	"github.com/xrplink/xrplink/pkg/endpoint"
	"github.com/xrplink/xrplink/pkg/failover"
	"github.com/xrplink/xrplink/pkg/xrpl"
)

type fakeNode struct {
	srv     *httptest.Server
	failing atomic.Bool
	calls   atomic.Int64
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{}
	n.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.calls.Add(1)
		if n.failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"result": {
			"status": "success",
			"info": {"server_state": "full", "validated_ledger": {"seq": 100, "reserve_base_xrp": "10", "reserve_inc_xrp": "2"}}
		}}`))
	}))
	t.Cleanup(n.srv.Close)
	return n
}

func newClient(t *testing.T, mock *clock.Mock, nodes ...*fakeNode) *Client {
	t.Helper()
	specs := make([]endpoint.Spec, 0, len(nodes))
	for i, n := range nodes {
		specs = append(specs, endpoint.Spec{URL: n.srv.URL, Priority: i + 1})
	}
	c, err := New(Opts{
		Endpoints:      specs,
		ProbeTimeout:   time.Second,
		PerCallTimeout: time.Second,
		Clock:          mock,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewRequiresEndpoints(t *testing.T) {
	_, err := New(Opts{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, endpoint.ErrNoEndpoints))
}

func TestConnect(t *testing.T) {
	n := newFakeNode(t)
	c := newClient(t, clock.NewMock(), n)

	assert.Equal(t, connstate.StateOffline, c.State())
	assert.Equal(t, connstate.StateConnected, c.Connect(context.Background()))
	assert.Equal(t, n.srv.URL, c.ActiveEndpoint())
}

func TestRequestCachesAllowListedMethods(t *testing.T) {
	n := newFakeNode(t)
	c := newClient(t, clock.NewMock(), n)
	c.Connect(context.Background())
	base := n.calls.Load()

	res, err := c.Request(context.Background(), xrpl.MethodServerInfo, nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.NotEmpty(t, res.Value)

	res, err = c.Request(context.Background(), xrpl.MethodServerInfo, nil)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.False(t, res.Stale)

	assert.Equal(t, base+1, n.calls.Load())
}

func TestRequestExpiredTTLRefetches(t *testing.T) {
	n := newFakeNode(t)
	mock := clock.NewMock()
	c := newClient(t, mock, n)
	c.Connect(context.Background())
	base := n.calls.Load()

	_, err := c.Request(context.Background(), xrpl.MethodServerInfo, nil)
	require.NoError(t, err)

	mock.Add(31 * time.Second)
	res, err := c.Request(context.Background(), xrpl.MethodServerInfo, nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, base+2, n.calls.Load())
}

func TestRequestNonCacheableAlwaysHitsNetwork(t *testing.T) {
	n := newFakeNode(t)
	c := newClient(t, clock.NewMock(), n)
	c.Connect(context.Background())
	base := n.calls.Load()

	for i := 0; i < 2; i++ {
		res, err := c.Request(context.Background(), "random", nil)
		require.NoError(t, err)
		assert.False(t, res.Cached)
	}
	assert.Equal(t, base+2, n.calls.Load())
}

func TestRequestServesStaleWhileOffline(t *testing.T) {
	n := newFakeNode(t)
	mock := clock.NewMock()
	c := newClient(t, mock, n)
	c.Connect(context.Background())

	_, err := c.Request(context.Background(), xrpl.MethodServerInfo, nil)
	require.NoError(t, err)

	// Endpoint dies and the cached value outlives its TTL.
	n.failing.Store(true)
	mock.Add(31 * time.Second)

	res, err := c.Request(context.Background(), xrpl.MethodServerInfo, nil)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.True(t, res.Stale)
	assert.Equal(t, 31*time.Second, res.Age)
	assert.Equal(t, connstate.StateOffline, c.State())
}

func TestRequestOfflineWithoutCache(t *testing.T) {
	n := newFakeNode(t)
	n.failing.Store(true)
	c := newClient(t, clock.NewMock(), n)
	c.Connect(context.Background())
	require.Equal(t, connstate.StateOffline, c.State())

	_, err := c.Request(context.Background(), xrpl.MethodFee, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailableOffline))
	assert.True(t, errors.Is(err, failover.ErrAllEndpointsUnreachable))
}

func TestRequestFailsOverBetweenEndpoints(t *testing.T) {
	a, b := newFakeNode(t), newFakeNode(t)
	c := newClient(t, clock.NewMock(), a, b)
	c.Connect(context.Background())
	require.Equal(t, a.srv.URL, c.ActiveEndpoint())

	a.failing.Store(true)
	res, err := c.Request(context.Background(), xrpl.MethodFee, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Value)
	assert.Equal(t, b.srv.URL, c.ActiveEndpoint())
	assert.Equal(t, connstate.StateDegraded, c.State())
}

func TestSubscribeConnectivity(t *testing.T) {
	n := newFakeNode(t)
	c := newClient(t, clock.NewMock(), n)

	ch := c.SubscribeConnectivity()
	c.Connect(context.Background())
	assert.Equal(t, connstate.StateConnected, <-ch)
	c.UnsubscribeConnectivity(ch)
}

func TestEndpointsSnapshot(t *testing.T) {
	a, b := newFakeNode(t), newFakeNode(t)
	c := newClient(t, clock.NewMock(), a, b)
	c.Connect(context.Background())

	eps := c.Endpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, a.srv.URL, eps[0].URL)
	assert.False(t, eps[0].LastSuccessAt.IsZero())
}

func TestSubmitTransactionValidation(t *testing.T) {
	n := newFakeNode(t)
	c := newClient(t, clock.NewMock(), n)

	_, err := c.SubmitTransaction(context.Background(), "")
	require.Error(t, err)
}

func TestFlushCache(t *testing.T) {
	n := newFakeNode(t)
	c := newClient(t, clock.NewMock(), n)
	c.Connect(context.Background())
	base := n.calls.Load()

	_, err := c.Request(context.Background(), xrpl.MethodServerInfo, nil)
	require.NoError(t, err)

	c.FlushCache()
	res, err := c.Request(context.Background(), xrpl.MethodServerInfo, nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, base+2, n.calls.Load())
}
