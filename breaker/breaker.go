// Package breaker implements per-key circuit breakers for domains and
// upstream sources. Callers consult Allow before dispatching and report the
// outcome afterwards; the breaker itself never wraps I/O.
package breaker

import (
	"sync"
	"time"

	"github.com/graphmind-ai/graphmind/common"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Defaults per the control-plane policy.
const (
	DefaultFailureThreshold = 5
	DefaultWindow           = 60 * time.Second
	DefaultRecovery         = 30 * time.Second
)

type circuit struct {
	state         State
	failures      []time.Time
	lastFailureAt time.Time
	openedAt      time.Time
	probing       bool
	forced        bool
}

// Breakers manages one circuit per key.
type Breakers struct {
	mu sync.Mutex

	failureThreshold int
	window           time.Duration
	recovery         time.Duration

	circuits map[string]*circuit
	now      func() time.Time
}

// New builds a breaker set with the default parameters.
func New() *Breakers {
	return &Breakers{
		failureThreshold: DefaultFailureThreshold,
		window:           DefaultWindow,
		recovery:         DefaultRecovery,
		circuits:         make(map[string]*circuit),
		now:              time.Now,
	}
}

// NewWithParams builds a breaker set with explicit parameters.
func NewWithParams(threshold int, window, recovery time.Duration) *Breakers {
	b := New()
	b.failureThreshold = threshold
	b.window = window
	b.recovery = recovery
	return b
}

// Allow reports whether a request for key may proceed. An open circuit past
// its recovery period moves to half_open and admits exactly one probe.
func (b *Breakers) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(key)
	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if c.forced {
			return false
		}
		if b.now().Sub(c.openedAt) >= b.recovery {
			c.state = StateHalfOpen
			c.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	}
	return false
}

// AllowErr wraps Allow in the typed error used across component boundaries.
func (b *Breakers) AllowErr(key string) error {
	if !b.Allow(key) {
		return &common.CircuitOpenError{Key: key}
	}
	return nil
}

// RecordSuccess closes a half-open circuit and clears its failure history.
func (b *Breakers) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(key)
	if c.state == StateHalfOpen {
		c.state = StateClosed
		c.forced = false
	}
	c.probing = false
	c.failures = nil
}

// RecordFailure notes a failure. A closed circuit opens once the failure
// count within the window reaches the threshold; a half-open probe failure
// reopens immediately.
func (b *Breakers) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	c := b.circuit(key)
	c.lastFailureAt = now

	switch c.state {
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = now
		c.probing = false
		c.failures = nil
	case StateClosed:
		cutoff := now.Add(-b.window)
		trimmed := c.failures[:0]
		for _, ts := range c.failures {
			if ts.After(cutoff) {
				trimmed = append(trimmed, ts)
			}
		}
		c.failures = append(trimmed, now)
		if len(c.failures) >= b.failureThreshold {
			c.state = StateOpen
			c.openedAt = now
		}
	}
}

// ForceOpen is an administrative kill switch: the circuit stays open until
// ForceClose, ignoring the recovery timer.
func (b *Breakers) ForceOpen(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(key)
	c.state = StateOpen
	c.openedAt = b.now()
	c.forced = true
	c.probing = false
}

// ForceClose resets a circuit to closed and clears its history.
func (b *Breakers) ForceClose(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(key)
	c.state = StateClosed
	c.forced = false
	c.probing = false
	c.failures = nil
}

// StateOf returns the current state of a key's circuit, accounting for the
// recovery timer.
func (b *Breakers) StateOf(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return StateClosed
	}
	if c.state == StateOpen && !c.forced && b.now().Sub(c.openedAt) >= b.recovery {
		return StateHalfOpen
	}
	return c.state
}

// Snapshot lists keys grouped by effective state, for telemetry.
func (b *Breakers) Snapshot() map[State][]string {
	b.mu.Lock()
	keys := make([]string, 0, len(b.circuits))
	for key := range b.circuits {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	out := map[State][]string{}
	for _, key := range keys {
		state := b.StateOf(key)
		out[state] = append(out[state], key)
	}
	return out
}

func (b *Breakers) circuit(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[key] = c
	}
	return c
}
