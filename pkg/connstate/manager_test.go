package connstate

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAppliesImmediately(t *testing.T) {
	m := New(Opts{Initial: StateOffline})

	m.Set(StateConnected)
	assert.Equal(t, StateConnected, m.Current())

	m.Set(StateOffline)
	assert.Equal(t, StateOffline, m.Current())
}

func TestReportUpwardAppliesImmediately(t *testing.T) {
	m := New(Opts{Initial: StateOffline})

	m.Report(StateConnected)
	assert.Equal(t, StateConnected, m.Current())
}

func TestReportDownwardNeedsConfirmation(t *testing.T) {
	m := New(Opts{Initial: StateConnected, ConfirmCount: 2})

	m.Report(StateOffline)
	assert.Equal(t, StateConnected, m.Current())

	m.Report(StateOffline)
	assert.Equal(t, StateOffline, m.Current())
}

func TestSetConfirmingStateResetsStreak(t *testing.T) {
	m := New(Opts{Initial: StateConnected, ConfirmCount: 2})

	// The healthy observation in the middle means the two offline
	// observations are not consecutive.
	m.Report(StateOffline)
	m.Set(StateConnected)
	m.Report(StateOffline)
	assert.Equal(t, StateConnected, m.Current())

	m.Report(StateOffline)
	assert.Equal(t, StateOffline, m.Current())
}

func TestReportStreakResetsOnRecovery(t *testing.T) {
	m := New(Opts{Initial: StateConnected, ConfirmCount: 2})

	m.Report(StateOffline)
	m.Report(StateConnected) // matches current state, clears the streak
	m.Report(StateOffline)
	assert.Equal(t, StateConnected, m.Current())

	m.Report(StateOffline)
	assert.Equal(t, StateOffline, m.Current())
}

func TestReportDownTargetChangeResetsStreak(t *testing.T) {
	m := New(Opts{Initial: StateConnected, ConfirmCount: 2})

	m.Report(StateDegraded)
	m.Report(StateOffline) // different downward target starts over
	assert.Equal(t, StateConnected, m.Current())

	m.Report(StateOffline)
	assert.Equal(t, StateOffline, m.Current())
}

func TestMinDwellSuppressesFlip(t *testing.T) {
	mock := clock.NewMock()
	m := New(Opts{Initial: StateOffline, ConfirmCount: 1, MinDwell: 10 * time.Second, Clock: mock})

	m.Report(StateConnected)
	require.Equal(t, StateConnected, m.Current())

	m.Report(StateOffline)
	assert.Equal(t, StateConnected, m.Current())

	mock.Add(11 * time.Second)
	m.Report(StateOffline)
	assert.Equal(t, StateOffline, m.Current())
}

func TestSubscribeReceivesChanges(t *testing.T) {
	m := New(Opts{Initial: StateOffline})
	ch := m.Subscribe()

	m.Set(StateConnected)
	m.Set(StateDegraded)

	assert.Equal(t, StateConnected, <-ch)
	assert.Equal(t, StateDegraded, <-ch)
}

func TestSetSameStateDoesNotNotify(t *testing.T) {
	m := New(Opts{Initial: StateConnected})
	ch := m.Subscribe()

	m.Set(StateConnected)

	select {
	case s := <-ch:
		t.Fatalf("unexpected notification: %v", s)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := New(Opts{})
	ch := m.Subscribe()
	m.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Further transitions must not panic on the removed channel.
	m.Set(StateConnected)
}

func TestSlowSubscriberNeverBlocks(t *testing.T) {
	m := New(Opts{Initial: StateOffline})
	_ = m.Subscribe() // never drained

	for i := 0; i < 50; i++ {
		m.Set(StateConnected)
		m.Set(StateOffline)
	}
	assert.Equal(t, StateOffline, m.Current())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "offline", StateOffline.String())
}
