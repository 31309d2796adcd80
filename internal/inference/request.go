package inference

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/eleven-am/vision-chat/internal/media"
	"github.com/google/uuid"
)

const DefaultMaxTokens = 1000

var ErrInvalidRequest = errors.New("invalid inference request")

type Request struct {
	ID        string
	Model     string
	Media     *media.Input
	Question  string
	MaxTokens int
	Sampling  bool
	Options   map[string]any
	History   []Message
}

func NewRequestID() string {
	return "req_" + uuid.NewString()
}

func (r *Request) Validate() error {
	if err := r.Media.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("%w: question is empty", ErrInvalidRequest)
	}
	if r.MaxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be positive", ErrInvalidRequest)
	}
	return nil
}

func (r *Request) clone() Request {
	c := *r
	c.Options = maps.Clone(r.Options)
	c.History = append([]Message(nil), r.History...)
	if c.Media != nil {
		m := *r.Media
		m.Frames = append([]media.Frame(nil), r.Media.Frames...)
		c.Media = &m
	}
	return c
}

// Completion builds the model call: prior turns as text, then one user
// message carrying every frame followed by the question.
func (r *Request) Completion() Completion {
	messages := make([]Message, 0, len(r.History)+1)
	messages = append(messages, r.History...)
	messages = append(messages, Message{
		Role:    RoleUser,
		Content: strings.TrimSpace(r.Question),
		Images:  r.Media.Images(),
	})

	return Completion{
		Model:     r.Model,
		Messages:  messages,
		MaxTokens: r.MaxTokens,
		Sampling:  r.Sampling,
		Options:   r.Options,
	}
}
