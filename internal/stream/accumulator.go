// Package stream reconciles streamed model output into the current answer.
package stream

import (
	"fmt"
	"sync"
)

// Policy describes how a model capability delivers its chunks. It is a static
// property of the capability, never inferred from the chunks themselves.
type Policy int

const (
	// Incremental chunks carry only newly generated text.
	Incremental Policy = iota
	// Cumulative chunks carry everything generated so far.
	Cumulative
)

func (p Policy) String() string {
	switch p {
	case Incremental:
		return "incremental"
	case Cumulative:
		return "cumulative"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Accumulator holds the answer of the assistant turn currently streaming.
type Accumulator struct {
	mu         sync.Mutex
	policy     Policy
	current    string
	checkpoint string
}

func NewAccumulator(policy Policy) *Accumulator {
	return &Accumulator{policy: policy}
}

func (a *Accumulator) Policy() Policy {
	return a.policy
}

// Begin opens a new assistant turn. The answer is cleared so nothing from the
// previous turn leaks, and the cleared value becomes the rollback point.
func (a *Accumulator) Begin() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = ""
	a.checkpoint = a.current
}

func (a *Accumulator) Apply(delta string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.policy {
	case Cumulative:
		a.current = delta
	default:
		a.current += delta
	}
	return a.current
}

// Complete overwrites the running answer with the authoritative final text and
// reports whether the two had drifted apart.
func (a *Accumulator) Complete(final string) (drifted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	drifted = a.current != final
	a.current = final
	a.checkpoint = final
	return drifted
}

// Fail restores the answer to its value before the failed request began and
// returns the partial text that was discarded.
func (a *Accumulator) Fail() (discarded string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	discarded = a.current
	a.current = a.checkpoint
	return discarded
}

func (a *Accumulator) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
