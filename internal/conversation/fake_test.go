package conversation

import (
	"context"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/vision-chat/internal/inference"
	"github.com/eleven-am/vision-chat/internal/media"
	"github.com/eleven-am/vision-chat/internal/stream"
)

type fakeStream struct {
	chunks  []inference.Chunk
	err     error
	release <-chan struct{}
	pos     int
}

func (s *fakeStream) Recv() (inference.Chunk, error) {
	if s.pos == 0 && s.release != nil {
		<-s.release
	}
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.err != nil {
		return inference.Chunk{}, s.err
	}
	return inference.Chunk{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

type fakeModel struct {
	delivery stream.Policy
	chunks   []inference.Chunk
	err      error
	release  chan struct{}

	mu    sync.Mutex
	calls []inference.Completion
}

func (m *fakeModel) Name() string            { return "fake-vl" }
func (m *fakeModel) Delivery() stream.Policy { return m.delivery }

func (m *fakeModel) StreamComplete(ctx context.Context, req inference.Completion) (inference.Stream, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	return &fakeStream{chunks: m.chunks, err: m.err, release: m.release}, nil
}

func (m *fakeModel) lastCall(t *testing.T) inference.Completion {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		t.Fatal("model was never called")
	}
	return m.calls[len(m.calls)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func oneImage() *media.Input {
	return &media.Input{
		Kind:        media.KindImage,
		Source:      "cat.png",
		SourceCount: 1,
		Frames:      []media.Frame{media.NewFrame(0, image.NewRGBA(image.Rect(0, 0, 8, 8)))},
	}
}

func newConversation(t *testing.T, model inference.Model) *Conversation {
	t.Helper()
	conv, err := New(Config{Model: model, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(conv.Close)
	return conv
}

func waitIdle(t *testing.T, conv *Conversation) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conv.Wait(ctx); err != nil {
		t.Fatalf("conversation did not finish: %v", err)
	}
}
