package endpoint

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmpty(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoEndpoints))
}

func TestNewDedupsURLs(t *testing.T) {
	r, err := New(Config{Endpoints: []Spec{
		{URL: "https://a.example.com", Priority: 1},
		{URL: "https://a.example.com/", Priority: 2},
		{URL: "https://b.example.com", Priority: 3},
	}})
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	all := r.All()
	assert.Equal(t, "https://a.example.com", all[0].URL)
	assert.Equal(t, 1, all[0].Priority)
}

func TestFromURLsPriorityFollowsPosition(t *testing.T) {
	r, err := FromURLs([]string{"https://b.example.com", "https://a.example.com"})
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "https://b.example.com", list[0].URL)
	assert.Equal(t, "https://a.example.com", list[1].URL)
}

func TestStickyOrderDemotesFailedEndpoint(t *testing.T) {
	r, err := FromURLs([]string{"https://a.example.com", "https://b.example.com", "https://c.example.com"})
	require.NoError(t, err)

	now := time.Now()
	r.MarkFailure("https://a.example.com", now, errors.New("connection refused"))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "https://b.example.com", list[0].URL)
	assert.Equal(t, "https://c.example.com", list[1].URL)
	assert.Equal(t, "https://a.example.com", list[2].URL)

	// A success puts it back at the front of its priority band.
	r.MarkSuccess("https://a.example.com", now.Add(time.Second))
	list = r.List()
	assert.Equal(t, "https://a.example.com", list[0].URL)
}

func TestMarkFailureBookkeeping(t *testing.T) {
	r, err := FromURLs([]string{"https://a.example.com"})
	require.NoError(t, err)

	now := time.Now()
	r.MarkFailure("https://a.example.com", now, errors.New("dial tcp: refused"))
	r.MarkFailure("https://a.example.com", now.Add(time.Second), errors.New("timeout"))

	ep := r.All()[0]
	assert.Equal(t, 2, ep.ConsecutiveFailures)
	assert.Equal(t, "timeout", ep.LastError)
	assert.Equal(t, now.Add(time.Second), ep.LastFailureAt)

	r.MarkSuccess("https://a.example.com", now.Add(2*time.Second))
	ep = r.All()[0]
	assert.Equal(t, 0, ep.ConsecutiveFailures)
	assert.Empty(t, ep.LastError)
}

func TestDisableAfterThreshold(t *testing.T) {
	r, err := New(Config{
		Endpoints:    []Spec{{URL: "https://a.example.com", Priority: 1}, {URL: "https://b.example.com", Priority: 2}},
		DisableAfter: 2,
	})
	require.NoError(t, err)

	now := time.Now()
	r.MarkFailure("https://a.example.com", now, errors.New("refused"))
	require.Len(t, r.List(), 2)

	r.MarkFailure("https://a.example.com", now, errors.New("refused"))
	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "https://b.example.com", list[0].URL)

	// Disabled endpoints stay visible for status reporting.
	all := r.All()
	require.Len(t, all, 2)
	assert.True(t, all[0].Disabled)
}

func TestMarkUnknownURLIsNoop(t *testing.T) {
	r, err := FromURLs([]string{"https://a.example.com"})
	require.NoError(t, err)

	r.MarkFailure("https://nope.example.com", time.Now(), errors.New("x"))
	r.MarkSuccess("https://nope.example.com", time.Now())
	assert.Equal(t, 1, r.Len())
}

func TestRoundRobinRotatesStart(t *testing.T) {
	r, err := New(Config{
		Endpoints: []Spec{
			{URL: "https://a.example.com", Priority: 1},
			{URL: "https://b.example.com", Priority: 2},
			{URL: "https://c.example.com", Priority: 3},
		},
		Policy: &RoundRobinPolicy{},
	})
	require.NoError(t, err)

	first := r.List()
	second := r.List()
	third := r.List()
	fourth := r.List()

	assert.Equal(t, "https://a.example.com", first[0].URL)
	assert.Equal(t, "https://b.example.com", second[0].URL)
	assert.Equal(t, "https://c.example.com", third[0].URL)
	assert.Equal(t, "https://a.example.com", fourth[0].URL)
}
