package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/eleven-am/vision-chat/internal/stream"
)

type EventType string

const (
	EventDelta    EventType = "delta"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

type Event struct {
	Type      EventType
	RequestID string
	Text      string
	Err       error
}

type Observer interface {
	OnDelta(text string)
	OnComplete(finalText string)
	OnError(err error)
}

// Session executes one request against a model off the caller's goroutine.
type Session struct {
	req     Request
	model   Model
	logger  *slog.Logger
	events  chan Event
	started atomic.Bool
}

func NewSession(model Model, req *Request, logger *slog.Logger) (*Session, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: no model", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := req.clone()
	if r.ID == "" {
		r.ID = NewRequestID()
	}
	if r.Model == "" {
		r.Model = model.Name()
	}

	return &Session{
		req:    r,
		model:  model,
		logger: logger.With("component", "inference-session", "request_id", r.ID),
		events: make(chan Event, 64),
	}, nil
}

func (s *Session) ID() string {
	return s.req.ID
}

func (s *Session) Request() Request {
	return s.req
}

// Start dispatches the model call and returns at once. The channel yields
// deltas in emission order, then exactly one complete or error event, and is
// closed afterwards. Start may only be called once.
func (s *Session) Start(ctx context.Context) <-chan Event {
	if !s.started.CompareAndSwap(false, true) {
		panic("inference: session started twice")
	}
	go s.run(ctx)
	return s.events
}

func (s *Session) run(ctx context.Context) {
	defer close(s.events)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("model stream panicked", "panic", r)
			s.fail(fmt.Errorf("panic: %v", r))
		}
	}()

	start := time.Now()
	final, err := s.consume(ctx)
	if err != nil {
		s.logger.Error("inference failed", "error", err, "elapsed", time.Since(start))
		s.fail(err)
		return
	}

	s.logger.Debug("inference complete", "answer_len", len(final), "elapsed", time.Since(start))
	s.events <- Event{Type: EventComplete, RequestID: s.req.ID, Text: final}
}

func (s *Session) consume(ctx context.Context) (string, error) {
	st, err := s.model.StreamComplete(ctx, s.req.Completion())
	if err != nil {
		return "", err
	}
	defer st.Close()

	acc := stream.NewAccumulator(s.model.Delivery())
	for {
		chunk, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return acc.Current(), nil
		}
		if err != nil {
			return "", err
		}

		if chunk.Text != "" {
			acc.Apply(chunk.Text)
			s.events <- Event{Type: EventDelta, RequestID: s.req.ID, Text: chunk.Text}
		}
		if chunk.Done {
			return acc.Current(), nil
		}
	}
}

func (s *Session) fail(err error) {
	var callErr *ModelCallError
	if !errors.As(err, &callErr) {
		err = &ModelCallError{Model: s.req.Model, Err: err}
	}
	s.events <- Event{Type: EventError, RequestID: s.req.ID, Err: err}
}

// Deliver forwards events to obs in order until the channel is closed.
func Deliver(events <-chan Event, obs Observer) {
	for ev := range events {
		switch ev.Type {
		case EventDelta:
			obs.OnDelta(ev.Text)
		case EventComplete:
			obs.OnComplete(ev.Text)
		case EventError:
			obs.OnError(ev.Err)
		}
	}
}
