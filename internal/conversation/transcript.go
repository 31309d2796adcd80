package conversation

import (
	"strings"
	"time"

	"github.com/eleven-am/vision-chat/internal/inference"
)

type Turn struct {
	Role      inference.Role `json:"role"`
	Text      string         `json:"text"`
	RequestID string         `json:"request_id,omitempty"`
	Streaming bool           `json:"streaming,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Transcript is append-only. Only the last assistant turn changes, and only
// while it is streaming. Callers serialise access.
type Transcript struct {
	Turns []Turn `json:"turns"`
}

func (t *Transcript) Len() int {
	return len(t.Turns)
}

func (t *Transcript) Reset() {
	t.Turns = nil
}

// Begin appends the question and an empty streaming assistant turn.
func (t *Transcript) Begin(requestID, question string) {
	now := time.Now()
	t.Turns = append(t.Turns,
		Turn{Role: inference.RoleUser, Text: question, RequestID: requestID, CreatedAt: now},
		Turn{Role: inference.RoleAssistant, RequestID: requestID, Streaming: true, CreatedAt: now},
	)
}

func (t *Transcript) streaming() *Turn {
	if len(t.Turns) == 0 {
		return nil
	}
	last := &t.Turns[len(t.Turns)-1]
	if last.Role != inference.RoleAssistant || !last.Streaming {
		return nil
	}
	return last
}

func (t *Transcript) Update(answer string) bool {
	turn := t.streaming()
	if turn == nil {
		return false
	}
	turn.Text = answer
	return true
}

func (t *Transcript) Finish(answer string) bool {
	turn := t.streaming()
	if turn == nil {
		return false
	}
	turn.Text = answer
	turn.Streaming = false
	return true
}

// Fail closes the streaming turn with the rolled back answer and the error
// shown in its place.
func (t *Transcript) Fail(answer, message string) bool {
	turn := t.streaming()
	if turn == nil {
		return false
	}
	turn.Text = answer
	turn.Error = message
	turn.Streaming = false
	return true
}

func (t *Transcript) LastAssistant() (Turn, bool) {
	for i := len(t.Turns) - 1; i >= 0; i-- {
		if t.Turns[i].Role == inference.RoleAssistant {
			return t.Turns[i], true
		}
	}
	return Turn{}, false
}

func (t *Transcript) Clone() Transcript {
	return Transcript{Turns: append([]Turn(nil), t.Turns...)}
}

// History returns the finished exchanges as model context. Exchanges whose
// answer failed are left out together with their question.
func (t *Transcript) History() []inference.Message {
	var messages []inference.Message
	for i := 0; i+1 < len(t.Turns); i += 2 {
		q, a := t.Turns[i], t.Turns[i+1]
		if q.Role != inference.RoleUser || a.Role != inference.RoleAssistant {
			continue
		}
		if a.Streaming || a.Error != "" {
			continue
		}
		messages = append(messages,
			inference.Message{Role: inference.RoleUser, Content: q.Text},
			inference.Message{Role: inference.RoleAssistant, Content: a.Text},
		)
	}
	return messages
}

// Render formats the transcript for display: questions behind "####",
// answers behind ">>>>", a blank line between turns.
func (t *Transcript) Render() string {
	var b strings.Builder
	for _, turn := range t.Turns {
		switch turn.Role {
		case inference.RoleUser:
			b.WriteString("#### ")
			b.WriteString(turn.Text)
		default:
			b.WriteString(">>>> ")
			b.WriteString(turn.Text)
			if turn.Error != "" {
				b.WriteString("[error: ")
				b.WriteString(turn.Error)
				b.WriteString("]")
			}
		}
		if !turn.Streaming {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}
