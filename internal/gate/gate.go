// Package gate implements the bounded-concurrency semaphore shared by every
// scan stage. It follows the same "buffered channel as a counting
// semaphore" idiom the teacher uses for icmpbase.activeConns, generalized
// into a reusable type with a context-aware Acquire.
package gate

import "context"

// Gate bounds the number of in-flight probes. Capacity is fixed at
// construction; acquiring beyond it blocks (or, with AcquireCtx, can be
// cancelled) until a unit is released.
type Gate struct {
	slots chan struct{}
}

// New creates a Gate with the given capacity. A non-positive capacity
// panics: a gate of zero would deadlock every caller.
func New(capacity int) *Gate {
	if capacity <= 0 {
		panic("gate: capacity must be positive")
	}
	return &Gate{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a unit is available.
func (g *Gate) Acquire() {
	g.slots <- struct{}{}
}

// AcquireCtx blocks until a unit is available or ctx is done, whichever
// comes first. It returns ctx.Err() on cancellation without consuming a
// unit.
func (g *Gate) AcquireCtx(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a unit to the gate. Callers must call Release exactly
// once for every successful Acquire/AcquireCtx, on every exit path
// (success, failure, or timeout) — see spec §5.
func (g *Gate) Release() {
	<-g.slots
}

// InUse returns the number of units currently held. It exists for tests
// asserting the global in-flight count never exceeds capacity (spec §8).
func (g *Gate) InUse() int {
	return len(g.slots)
}

// Capacity returns the configured capacity.
func (g *Gate) Capacity() int {
	return cap(g.slots)
}

// Default gate capacities from spec §4.2/§5.
const (
	// DefaultCapacity is used for UDP and service-detection probes, and the
	// MAC/ping paths when they don't use their own gate.
	DefaultCapacity = 64

	// TCPCapacity is used specifically for the TCP port scan stage.
	TCPCapacity = 100
)
