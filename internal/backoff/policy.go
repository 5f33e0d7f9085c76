// Package backoff provides the exponential backoff primitives shared by the
// transport, completion, and dispatch retry paths.
package backoff

import "time"

// Policy defines an exponential backoff curve.
type Policy struct {
	// Base is the delay for attempt zero.
	Base time.Duration

	// Cap is the upper bound applied after doubling.
	Cap time.Duration
}

// DefaultPolicy matches the transport retry curve: 1s base doubling up to 60s.
func DefaultPolicy() Policy {
	return Policy{
		Base: time.Second,
		Cap:  60 * time.Second,
	}
}

// Delay returns the wait before retrying after the given failed attempt,
// computed as min(base * 2^attempt, cap). Attempts are zero-indexed.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Cap || d <= 0 {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// State tracks consecutive failures for one retry stream. Each independent
// stream (long-poll fetch, cursor refresh) owns its own State so that failures
// in one do not inflate delays in the other.
type State struct {
	policy  Policy
	attempt int
}

// NewState creates a State at attempt zero.
func NewState(policy Policy) *State {
	return &State{policy: policy}
}

// Next returns the delay for the current failure and advances the counter.
func (s *State) Next() time.Duration {
	d := s.policy.Delay(s.attempt)
	s.attempt++
	return d
}

// Reset returns the counter to zero. Called after any successful attempt.
func (s *State) Reset() {
	s.attempt = 0
}

// Attempt returns the number of consecutive failures recorded so far.
func (s *State) Attempt() int {
	return s.attempt
}
