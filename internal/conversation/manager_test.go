package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/eleven-am/vision-chat/internal/gate"
	"github.com/eleven-am/vision-chat/internal/inference"
	"github.com/eleven-am/vision-chat/internal/shared"
)

func newTestManager(t *testing.T, model inference.Model, store SnapshotLoader, history TurnRecorder) *Manager {
	t.Helper()
	m := NewManager(ManagerConfig{
		Model:   model,
		Models:  []string{"llava:13b"},
		Store:   store,
		History: history,
		Log:     testLogger(),
	})
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManager_Models(t *testing.T) {
	m := newTestManager(t, &fakeModel{}, nil, nil)

	models := m.Models()
	if len(models) != 2 || models[0] != "fake-vl" || models[1] != "llava:13b" {
		t.Errorf("expected configured model first, got %v", models)
	}
}

func TestManager_CreateGetRemove(t *testing.T) {
	m := newTestManager(t, &fakeModel{}, nil, nil)

	conv, err := m.Create("")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if conv.Model() != "fake-vl" {
		t.Errorf("expected default model, got %s", conv.Model())
	}

	got, ok := m.Get(conv.ID())
	if !ok || got != conv {
		t.Fatal("expected to find created conversation")
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 conversation, got %d", m.Count())
	}

	if err := m.Remove(context.Background(), conv.ID()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := m.Get(conv.ID()); ok {
		t.Error("expected conversation to be removed")
	}
	if err := m.Remove(context.Background(), conv.ID()); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_CreateUnknownModel(t *testing.T) {
	m := newTestManager(t, &fakeModel{}, nil, nil)

	if _, err := m.Create("gpt-nope"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}

	conv, err := m.Create("llava:13b")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if conv.Model() != "llava:13b" {
		t.Errorf("expected chosen model, got %s", conv.Model())
	}
}

func TestManager_PersistsAndRestoresSnapshots(t *testing.T) {
	store, _ := newTestStore(t)
	history := newTestHistory(t)
	model := &fakeModel{chunks: []inference.Chunk{{Text: "A "}, {Text: "cat."}}}
	m := newTestManager(t, model, store, history)
	ctx := context.Background()

	conv, _ := m.Create("")
	conv.SetMedia(oneImage())
	conv.Submit(Message{Question: "describe"})
	waitIdle(t, conv)

	stored, err := store.Load(ctx, conv.ID())
	if err != nil {
		t.Fatalf("expected stored snapshot, got %v", err)
	}
	if stored.Answer != "A cat." || stored.State.Status != gate.StatusIdle {
		t.Errorf("unexpected stored snapshot %+v", stored)
	}

	records, _ := history.List(ctx, conv.ID(), 0)
	if len(records) != 1 || records[0].Answer != "A cat." || records[0].FrameCount != 1 {
		t.Errorf("unexpected history %+v", records)
	}

	restarted := newTestManager(t, model, store, history)
	snap, err := restarted.Snapshot(ctx, conv.ID())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Rendered != "#### describe\n\n>>>> A cat.\n\n" {
		t.Errorf("unexpected rendered transcript %q", snap.Rendered)
	}

	if err := restarted.Remove(ctx, conv.ID()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := store.Load(ctx, conv.ID()); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected snapshot deleted, got %v", err)
	}
	if records, _ := history.List(ctx, conv.ID(), 0); len(records) != 0 {
		t.Errorf("expected history deleted, got %d records", len(records))
	}
}

func TestManager_RemoveDuringRequest(t *testing.T) {
	store, _ := newTestStore(t)
	history := newTestHistory(t)
	m := newTestManager(t, blockingModel{}, store, history)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		conv, _ := m.Create("")
		conv.SetMedia(oneImage())
		if _, err := conv.Submit(Message{Question: "describe"}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}

		if err := m.Remove(ctx, conv.ID()); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if conv.State().Busy() {
			t.Fatal("Remove returned while the request was still in flight")
		}

		if _, err := m.Snapshot(ctx, conv.ID()); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected removed conversation to stay gone, got %v", err)
		}
		if _, err := store.Load(ctx, conv.ID()); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected snapshot deleted, got %v", err)
		}
		if records, _ := history.List(ctx, conv.ID(), 0); len(records) != 0 {
			t.Errorf("expected no history, got %d records", len(records))
		}
	}
}

func TestManager_SnapshotMissing(t *testing.T) {
	m := newTestManager(t, &fakeModel{}, nil, nil)
	if _, err := m.Snapshot(context.Background(), "conv_missing"); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_ListAndBusyCount(t *testing.T) {
	release := make(chan struct{})
	m := newTestManager(t, &fakeModel{release: release}, nil, nil)

	a, _ := m.Create("")
	m.Create("")
	a.SetMedia(oneImage())
	a.Submit(Message{Question: "q"})

	if m.BusyCount() != 1 {
		t.Errorf("expected 1 busy conversation, got %d", m.BusyCount())
	}
	if len(m.List()) != 2 {
		t.Errorf("expected 2 listed conversations, got %d", len(m.List()))
	}

	close(release)
	waitIdle(t, a)
	if m.BusyCount() != 0 {
		t.Errorf("expected no busy conversations, got %d", m.BusyCount())
	}
}
