package connstate

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// State is the process-wide connectivity state exposed to collaborators.
type State int

const (
	// StateOffline: every registered endpoint failed its latest probe.
	StateOffline State = iota
	// StateDegraded: some but not all endpoints failed their latest probe.
	StateDegraded
	// StateConnected: the active endpoint is healthy.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "offline"
	}
}

// Opts configures a Manager.
type Opts struct {
	// Initial is the state before the first probe. Defaults to offline.
	Initial State

	// ConfirmCount is how many consecutive confirming reports a downward
	// transition needs before it is applied. Defaults to 2.
	ConfirmCount int

	// MinDwell suppresses a downward flip until the current state has
	// been held this long. Zero disables the dwell check.
	MinDwell time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
}

// Manager owns the connectivity state and fans changes out to
// subscribers. The failover controller is the sole writer; everything
// else reads via Current or a subscription.
//
// Downward transitions (toward offline) are debounced so flapping
// connectivity does not flicker the UI; recovery is applied immediately.
type Manager struct {
	mu          sync.RWMutex
	state       State
	subscribers []chan State

	confirmCount int
	minDwell     time.Duration
	lastFlip     time.Time
	downTarget   State
	downStreak   int

	clock  clock.Clock
	logger *zap.Logger
}

// New creates a Manager.
func New(o Opts) *Manager {
	if o.ConfirmCount <= 0 {
		o.ConfirmCount = 2
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Manager{
		state:        o.Initial,
		confirmCount: o.ConfirmCount,
		minDwell:     o.MinDwell,
		clock:        o.Clock,
		logger:       o.Logger,
	}
}

// Current returns the current state.
func (m *Manager) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe returns a channel that receives state changes. The channel
// is buffered; slow consumers miss intermediate states, never block the
// controller.
func (m *Manager) Subscribe() chan State {
	ch := make(chan State, 8)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Set applies target immediately, bypassing the debounce. The controller
// uses it for authoritative transitions: a fully exhausted sweep (every
// endpoint just failed) and the first success after offline.
func (m *Manager) Set(target State) {
	m.mu.Lock()
	if target >= m.state {
		// A confirming or upward observation interrupts any pending
		// downward streak, even when the state does not change.
		m.downStreak = 0
	}
	changed := m.apply(target)
	m.mu.Unlock()
	if changed {
		m.emit(target)
	}
}

// Report feeds one observation into the debounce. Upward observations
// (recovery) apply immediately; downward observations need ConfirmCount
// consecutive confirmations and, when configured, the MinDwell to have
// elapsed since the last flip.
func (m *Manager) Report(target State) {
	m.mu.Lock()

	if target == m.state {
		m.downStreak = 0
		m.mu.Unlock()
		return
	}

	if target > m.state {
		changed := m.apply(target)
		m.mu.Unlock()
		if changed {
			m.emit(target)
		}
		return
	}

	if target != m.downTarget {
		m.downTarget = target
		m.downStreak = 0
	}
	m.downStreak++

	if m.downStreak < m.confirmCount {
		m.mu.Unlock()
		return
	}
	if m.minDwell > 0 && m.clock.Since(m.lastFlip) < m.minDwell {
		m.mu.Unlock()
		return
	}

	changed := m.apply(target)
	m.mu.Unlock()
	if changed {
		m.emit(target)
	}
}

// apply flips the state. Caller holds m.mu.
func (m *Manager) apply(target State) bool {
	if target == m.state {
		return false
	}
	m.logger.Info("connectivity state changed",
		zap.String("from", m.state.String()),
		zap.String("to", target.String()))
	m.state = target
	m.lastFlip = m.clock.Now()
	m.downStreak = 0
	return true
}

// emit notifies subscribers without blocking on any of them.
func (m *Manager) emit(s State) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subscribers {
		select {
		case sub <- s:
		default:
			// Skip notification if the subscriber's channel is full.
		}
	}
}
