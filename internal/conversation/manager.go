package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/eleven-am/vision-chat/internal/inference"
	"github.com/eleven-am/vision-chat/internal/metrics"
	"github.com/eleven-am/vision-chat/internal/shared"
)

var ErrUnknownModel = fmt.Errorf("%w: unknown model", inference.ErrInvalidRequest)

type SnapshotLoader interface {
	SnapshotStore
	Load(ctx context.Context, id string) (*Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// HistoryDeleter is implemented by turn recorders that can forget a
// conversation.
type HistoryDeleter interface {
	DeleteConversation(ctx context.Context, conversationID string) error
}

type ManagerConfig struct {
	Model     inference.Model
	Models    []string
	MaxTokens int
	Store     SnapshotLoader
	History   TurnRecorder
	Metrics   *metrics.Metrics
	Log       *slog.Logger
}

// Manager owns the live conversations. Conversations that are no longer in
// memory can still be read back from the snapshot store.
type Manager struct {
	model     inference.Model
	models    []string
	maxTokens int
	store     SnapshotLoader
	history   TurnRecorder
	metrics   *metrics.Metrics
	log       *slog.Logger

	mu            sync.RWMutex
	conversations map[string]*Conversation
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	models := cfg.Models
	if cfg.Model != nil && !slices.Contains(models, cfg.Model.Name()) {
		models = append([]string{cfg.Model.Name()}, models...)
	}

	return &Manager{
		model:         cfg.Model,
		models:        models,
		maxTokens:     cfg.MaxTokens,
		store:         cfg.Store,
		history:       cfg.History,
		metrics:       cfg.Metrics,
		log:           cfg.Log,
		conversations: make(map[string]*Conversation),
	}
}

// Models lists the model names a conversation may be created with.
func (m *Manager) Models() []string {
	return slices.Clone(m.models)
}

func (m *Manager) allowed(model string) bool {
	return model == "" || slices.Contains(m.models, model)
}

func (m *Manager) Create(model string) (*Conversation, error) {
	if !m.allowed(model) {
		return nil, fmt.Errorf("%w %q", ErrUnknownModel, model)
	}

	conv, err := New(Config{
		Model:     m.model,
		ModelName: model,
		Models:    m.models,
		MaxTokens: m.maxTokens,
		Store:     m.store,
		History:   m.history,
		Metrics:   m.metrics,
		Logger:    m.log,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.conversations[conv.ID()] = conv
	m.mu.Unlock()

	conv.save(conv.Snapshot())
	m.log.Info("conversation created", "component", "conversation_manager", "conversation_id", conv.ID(), "model", conv.Model())
	return conv, nil
}

func (m *Manager) Get(id string) (*Conversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	return conv, ok
}

// Snapshot returns the live state of a conversation, or its last stored
// snapshot when it is not held in memory.
func (m *Manager) Snapshot(ctx context.Context, id string) (*Snapshot, error) {
	if conv, ok := m.Get(id); ok {
		return conv.Snapshot(), nil
	}
	if m.store == nil {
		return nil, shared.ErrNotFound
	}
	return m.store.Load(ctx, id)
}

func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	conv, ok := m.conversations[id]
	if ok {
		delete(m.conversations, id)
	}
	m.mu.Unlock()

	if conv != nil {
		conv.discard()
		if err := conv.Wait(ctx); err != nil {
			return err
		}
	}

	if m.store != nil {
		if !ok {
			if _, err := m.store.Load(ctx, id); err != nil {
				return err
			}
		}
		if err := m.store.Delete(ctx, id); err != nil {
			return err
		}
	} else if !ok {
		return shared.ErrNotFound
	}

	if d, isDeleter := m.history.(HistoryDeleter); isDeleter {
		if err := d.DeleteConversation(ctx, id); err != nil {
			return err
		}
	}

	m.log.Info("conversation removed", "component", "conversation_manager", "conversation_id", id)
	return nil
}

type Info struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	State string `json:"state"`
	Turns int    `json:"turns"`
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

func (m *Manager) BusyCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, c := range m.conversations {
		if c.State().Busy() {
			n++
		}
	}
	return n
}

func (m *Manager) List() []Info {
	m.mu.RLock()
	conversations := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		conversations = append(conversations, c)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(conversations))
	for _, c := range conversations {
		snap := c.Snapshot()
		infos = append(infos, Info{
			ID:    snap.ID,
			Model: snap.Model,
			State: string(snap.State.Status),
			Turns: snap.Transcript.Len(),
		})
	}
	slices.SortFunc(infos, func(a, b Info) int {
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

func (m *Manager) Close() error {
	m.mu.Lock()
	conversations := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		conversations = append(conversations, c)
	}
	m.conversations = make(map[string]*Conversation)
	m.mu.Unlock()

	for _, c := range conversations {
		c.Close()
	}
	return nil
}
