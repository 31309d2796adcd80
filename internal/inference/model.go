package inference

import (
	"context"
	"fmt"
	"image"

	"github.com/eleven-am/vision-chat/internal/stream"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role    Role
	Content string
	Images  []image.Image
}

type Completion struct {
	Model     string
	Messages  []Message
	MaxTokens int
	Sampling  bool
	Options   map[string]any
}

// Chunk is one unit read from a model stream. Text is either a suffix or the
// whole answer so far, depending on the model's Delivery policy.
type Chunk struct {
	Text string
	Done bool
}

// Stream is read until Recv returns io.EOF. Any other error ends the stream.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Model is the opaque model capability.
type Model interface {
	Name() string
	Delivery() stream.Policy
	StreamComplete(ctx context.Context, req Completion) (Stream, error)
}

// ModelCallError wraps any failure raised by a model capability.
type ModelCallError struct {
	Model string
	Err   error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Model, e.Err)
}

func (e *ModelCallError) Unwrap() error {
	return e.Err
}
