package gate

import (
	"context"
	"errors"
	"sync"
)

var ErrBusy = errors.New("a request is already in flight")

type Status string

const (
	StatusIdle  Status = "idle"
	StatusBusy  Status = "busy"
	StatusError Status = "error"
)

type State struct {
	Status    Status `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (s State) Busy() bool {
	return s.Status == StatusBusy
}

// Gate allows at most one in-flight request per conversation.
type Gate struct {
	mu    sync.RWMutex
	state State
	done  chan struct{}
}

func New() *Gate {
	return &Gate{state: State{Status: StatusIdle}}
}

// TryBegin marks the gate busy for requestID. It returns false and changes
// nothing if another request is still in flight.
func (g *Gate) TryBegin(requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.Busy() {
		return false
	}
	g.state = State{Status: StatusBusy, RequestID: requestID}
	g.done = make(chan struct{})
	return true
}

// MarkIdle ends the in-flight request after success. It reports whether a
// request was actually released.
func (g *Gate) MarkIdle() bool {
	return g.release(State{Status: StatusIdle})
}

// MarkError ends the in-flight request after failure, keeping the message
// visible until the next request begins.
func (g *Gate) MarkError(message string) bool {
	return g.release(State{Status: StatusError, Message: message})
}

func (g *Gate) release(next State) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.Busy() {
		return false
	}
	next.RequestID = g.state.RequestID
	g.state = next
	close(g.done)
	g.done = nil
	return true
}

func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Wait blocks until the in-flight request, if any, reaches a terminal state.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.RLock()
	done := g.done
	g.mu.RUnlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
