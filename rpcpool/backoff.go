package rpcpool

import (
	"sync"
	"time"
)

// FibonacciBackoff produces retry delays following the Fibonacci sequence
// scaled from a floor, clamped to a ceiling, and exhausting after a fixed
// number of steps. The first two delays equal the floor, then each delay is
// the sum of the previous two until the ceiling caps it.
type FibonacciBackoff struct {
	mu       sync.Mutex
	floor    time.Duration
	ceiling  time.Duration
	maxSteps int

	prev time.Duration
	curr time.Duration
	step int
}

// NewFibonacciBackoff creates a backoff with the given bounds. Non-positive
// arguments fall back to 100ms floor, 10s ceiling and 8 steps.
func NewFibonacciBackoff(floor, ceiling time.Duration, maxSteps int) *FibonacciBackoff {
	if floor <= 0 {
		floor = 100 * time.Millisecond
	}
	if ceiling < floor {
		ceiling = 10 * time.Second
	}
	if maxSteps <= 0 {
		maxSteps = 8
	}
	return &FibonacciBackoff{floor: floor, ceiling: ceiling, maxSteps: maxSteps}
}

// Next returns the next delay and true, or zero and false once the step
// budget is exhausted.
func (b *FibonacciBackoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.step >= b.maxSteps {
		return 0, false
	}
	b.step++

	var delay time.Duration
	switch {
	case b.step == 1:
		delay = b.floor
		b.prev, b.curr = 0, b.floor
	case b.step == 2:
		delay = b.floor
		b.prev, b.curr = b.floor, b.floor
	default:
		delay = b.prev + b.curr
		b.prev, b.curr = b.curr, delay
	}

	if delay > b.ceiling {
		delay = b.ceiling
		b.curr = b.ceiling
	}
	return delay, true
}

// Reset restarts the sequence from the floor with a fresh step budget.
func (b *FibonacciBackoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prev, b.curr, b.step = 0, 0, 0
}

// Remaining returns how many steps are left before exhaustion.
func (b *FibonacciBackoff) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxSteps - b.step
}
