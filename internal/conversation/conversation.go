package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/vision-chat/internal/gate"
	"github.com/eleven-am/vision-chat/internal/inference"
	"github.com/eleven-am/vision-chat/internal/media"
	"github.com/eleven-am/vision-chat/internal/metrics"
	"github.com/eleven-am/vision-chat/internal/shared"
	"github.com/eleven-am/vision-chat/internal/stream"
)

const (
	persistTimeout   = 5 * time.Second
	subscriberBuffer = 256
)

type EventType string

const (
	EventDelta    EventType = "delta"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	EventState    EventType = "state"
	EventMedia    EventType = "media"
	EventCleared  EventType = "cleared"
)

type Event struct {
	Type           EventType      `json:"type"`
	ConversationID string         `json:"conversation_id"`
	RequestID      string         `json:"request_id,omitempty"`
	Delta          string         `json:"delta,omitempty"`
	Answer         string         `json:"answer,omitempty"`
	Error          string         `json:"error,omitempty"`
	State          gate.State     `json:"state"`
	Media          *media.Summary `json:"media,omitempty"`
}

type Snapshot struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	State      gate.State     `json:"state"`
	Answer     string         `json:"current_answer"`
	Transcript Transcript     `json:"transcript"`
	Rendered   string         `json:"rendered"`
	Media      *media.Summary `json:"media,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
}

type TurnRecorder interface {
	Record(ctx context.Context, rec *TurnRecord) error
}

type Config struct {
	ID        string
	Model     inference.Model
	ModelName string
	Models    []string
	MaxTokens int
	Store     SnapshotStore
	History   TurnRecorder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Message is a question submitted against the conversation's media.
type Message struct {
	Question  string
	Model     string
	MaxTokens int
	Sampling  bool
	Options   map[string]any
}

// Conversation binds one media input, one transcript and one gate. At most
// one model call runs at a time; its output is folded into the last
// assistant turn and fanned out to subscribers.
type Conversation struct {
	id        string
	model     inference.Model
	modelName string
	models    []string
	maxTokens int
	store     SnapshotStore
	history   TurnRecorder
	metrics   *metrics.Metrics
	base      *slog.Logger
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	gate *gate.Gate
	acc  *stream.Accumulator

	mu         sync.Mutex
	transcript Transcript
	media      *media.Input
	createdAt  time.Time
	updatedAt  time.Time

	subMu       sync.Mutex
	subscribers map[string]chan Event
	closed      bool
	discarded   bool
}

func New(cfg Config) (*Conversation, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("%w: no model", inference.ErrInvalidRequest)
	}
	if cfg.ID == "" {
		cfg.ID = shared.NewID("conv_")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = cfg.Model.Name()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = inference.DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	base := cfg.Logger.With("conversation_id", cfg.ID)
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	return &Conversation{
		id:          cfg.ID,
		model:       cfg.Model,
		modelName:   cfg.ModelName,
		models:      cfg.Models,
		maxTokens:   cfg.MaxTokens,
		store:       cfg.Store,
		history:     cfg.History,
		metrics:     cfg.Metrics,
		base:        base,
		logger:      base.With("component", "conversation"),
		ctx:         ctx,
		cancel:      cancel,
		gate:        gate.New(),
		acc:         stream.NewAccumulator(cfg.Model.Delivery()),
		createdAt:   now,
		updatedAt:   now,
		subscribers: make(map[string]chan Event),
	}, nil
}

func (c *Conversation) ID() string {
	return c.id
}

func (c *Conversation) Model() string {
	return c.modelName
}

func (c *Conversation) State() gate.State {
	return c.gate.State()
}

// Wait blocks until the in-flight request, if any, has finished.
func (c *Conversation) Wait(ctx context.Context) error {
	return c.gate.Wait(ctx)
}

// SetMedia replaces the media the conversation is about. The transcript
// starts over. Refused while a request is in flight.
func (c *Conversation) SetMedia(in *media.Input) error {
	if err := in.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.gate.State().Busy() {
		c.mu.Unlock()
		return gate.ErrBusy
	}
	c.media = in
	c.transcript.Reset()
	c.acc.Begin()
	c.updatedAt = time.Now()
	snap := c.snapshotLocked(c.gate.State())
	c.mu.Unlock()

	summary := in.Summary()
	c.metrics.MediaSampled(string(in.Kind), in.Len())
	c.logger.Info("media set", "kind", in.Kind, "source", in.Source, "frames", in.Len())
	c.save(snap)
	c.publish(Event{Type: EventMedia, State: snap.State, Media: &summary})
	return nil
}

func (c *Conversation) Media() *media.Input {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media
}

// Clear drops the transcript but keeps the media. Refused while a request is
// in flight.
func (c *Conversation) Clear() error {
	c.mu.Lock()
	if c.gate.State().Busy() {
		c.mu.Unlock()
		return gate.ErrBusy
	}
	c.transcript.Reset()
	c.acc.Begin()
	c.updatedAt = time.Now()
	snap := c.snapshotLocked(c.gate.State())
	c.mu.Unlock()

	c.save(snap)
	c.publish(Event{Type: EventCleared, State: snap.State})
	return nil
}

// Submit validates msg, claims the gate and starts the model call in the
// background. It returns the request id without waiting for any output.
func (c *Conversation) Submit(msg Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.media.Len() == 0 {
		return "", media.ErrEmptySource
	}

	model := msg.Model
	if model == "" {
		model = c.modelName
	}
	if !c.allowed(model) {
		return "", fmt.Errorf("%w %q", ErrUnknownModel, model)
	}
	maxTokens := msg.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	question := strings.TrimSpace(msg.Question)

	session, err := inference.NewSession(c.model, &inference.Request{
		ID:        inference.NewRequestID(),
		Model:     model,
		Media:     c.media,
		Question:  question,
		MaxTokens: maxTokens,
		Sampling:  msg.Sampling,
		Options:   msg.Options,
		History:   c.transcript.History(),
	}, c.base)
	if err != nil {
		return "", err
	}

	if !c.gate.TryBegin(session.ID()) {
		c.metrics.SessionRejected()
		c.logger.Debug("submit rejected, request in flight", "in_flight", c.gate.State().RequestID)
		return "", gate.ErrBusy
	}

	c.acc.Begin()
	c.transcript.Begin(session.ID(), question)
	c.updatedAt = time.Now()

	t := &turn{
		c:         c,
		requestID: session.ID(),
		model:     model,
		question:  question,
		media:     c.media,
		start:     time.Now(),
		finish:    c.metrics.SessionStarted(model),
	}

	c.logger.Info("request started", "request_id", t.requestID, "model", model, "frames", c.media.Len())
	c.publish(Event{Type: EventState, RequestID: t.requestID, State: c.gate.State()})

	go inference.Deliver(session.Start(c.ctx), t)
	return t.requestID, nil
}

// allowed reports whether a per-message model override may be used. The
// conversation's own model is always allowed.
func (c *Conversation) allowed(model string) bool {
	return model == c.modelName || slices.Contains(c.models, model)
}

func (c *Conversation) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(c.gate.State())
}

func (c *Conversation) snapshotLocked(state gate.State) *Snapshot {
	snap := &Snapshot{
		ID:         c.id,
		Model:      c.modelName,
		State:      state,
		Answer:     c.acc.Current(),
		Transcript: c.transcript.Clone(),
		Rendered:   c.transcript.Render(),
		CreatedAt:  c.createdAt,
		UpdatedAt:  c.updatedAt,
	}
	if c.media != nil {
		summary := c.media.Summary()
		snap.Media = &summary
	}
	return snap
}

// Subscribe returns a channel of events and the func that ends the
// subscription. A subscriber that falls too far behind is dropped and its
// channel closed.
func (c *Conversation) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	id := shared.NewID("sub_")

	c.subMu.Lock()
	if c.closed {
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subscribers[id] = ch
	c.subMu.Unlock()

	return ch, func() { c.unsubscribe(id) }
}

func (c *Conversation) unsubscribe(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		delete(c.subscribers, id)
		close(ch)
	}
}

func (c *Conversation) SubscriberCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subscribers)
}

func (c *Conversation) publish(ev Event) {
	ev.ConversationID = c.id

	c.subMu.Lock()
	defer c.subMu.Unlock()

	for id, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			c.logger.Warn("dropping slow subscriber", "subscriber_id", id)
			delete(c.subscribers, id)
			close(ch)
		}
	}
}

// Close stops any in-flight model call and ends all subscriptions.
func (c *Conversation) Close() {
	c.cancel()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
}

// discard closes the conversation and stops it from persisting anything
// further, including the outcome of the request Close cancels.
func (c *Conversation) discard() {
	c.subMu.Lock()
	c.discarded = true
	c.subMu.Unlock()
	c.Close()
}

func (c *Conversation) isDiscarded() bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.discarded
}

func (c *Conversation) save(snap *Snapshot) {
	if c.store == nil || c.isDiscarded() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.Save(ctx, snap); err != nil {
		c.logger.Warn("failed to save snapshot", "error", err)
	}
}

func (c *Conversation) record(rec *TurnRecord) {
	if c.history == nil || c.isDiscarded() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.history.Record(ctx, rec); err != nil {
		c.logger.Warn("failed to record turn", "request_id", rec.RequestID, "error", err)
	}
}

// turn receives the events of one request. Terminal events update the
// transcript, persist it, release the gate and only then notify subscribers.
type turn struct {
	c         *Conversation
	requestID string
	model     string
	question  string
	media     *media.Input
	start     time.Time
	sawDelta  bool
	finish    func(status string)
}

func (t *turn) OnDelta(text string) {
	c := t.c

	c.mu.Lock()
	answer := c.acc.Apply(text)
	c.transcript.Update(answer)
	c.mu.Unlock()

	c.metrics.Delta(t.model, !t.sawDelta, time.Since(t.start))
	t.sawDelta = true
	c.publish(Event{Type: EventDelta, RequestID: t.requestID, Delta: text, Answer: answer, State: c.gate.State()})
}

func (t *turn) OnComplete(finalText string) {
	c := t.c

	c.mu.Lock()
	if c.acc.Complete(finalText) {
		c.metrics.Drifted(t.model, c.acc.Policy().String())
		c.logger.Warn("streamed answer drifted from final text", "request_id", t.requestID, "policy", c.acc.Policy())
	}
	c.transcript.Finish(finalText)
	c.updatedAt = time.Now()
	next := gate.State{Status: gate.StatusIdle, RequestID: t.requestID}
	snap := c.snapshotLocked(next)
	c.mu.Unlock()

	c.save(snap)
	c.record(t.record(TurnComplete, finalText, ""))
	c.gate.MarkIdle()
	t.finish("complete")

	c.logger.Info("request complete", "request_id", t.requestID, "answer_len", len(finalText), "elapsed", time.Since(t.start))
	c.publish(Event{Type: EventComplete, RequestID: t.requestID, Answer: finalText, State: next})
}

func (t *turn) OnError(err error) {
	c := t.c
	message := err.Error()
	if errors.Is(err, context.Canceled) {
		message = "request canceled"
	}

	c.mu.Lock()
	discarded := c.acc.Fail()
	answer := c.acc.Current()
	c.transcript.Fail(answer, message)
	c.updatedAt = time.Now()
	next := gate.State{Status: gate.StatusError, RequestID: t.requestID, Message: message}
	snap := c.snapshotLocked(next)
	c.mu.Unlock()

	c.save(snap)
	c.record(t.record(TurnFailed, answer, message))
	c.gate.MarkError(message)
	t.finish("error")

	c.logger.Error("request failed", "request_id", t.requestID, "error", err, "discarded_len", len(discarded))
	c.publish(Event{Type: EventError, RequestID: t.requestID, Answer: answer, Error: message, State: next})
}

func (t *turn) record(status TurnStatus, answer, message string) *TurnRecord {
	rec := &TurnRecord{
		ConversationID: t.c.id,
		RequestID:      t.requestID,
		Model:          t.model,
		Question:       t.question,
		Answer:         answer,
		Error:          message,
		Status:         status,
		LatencyMs:      time.Since(t.start).Milliseconds(),
	}
	if t.media != nil {
		rec.MediaKind = string(t.media.Kind)
		rec.MediaSource = t.media.Source
		rec.FrameCount = t.media.Len()
	}
	return rec
}
