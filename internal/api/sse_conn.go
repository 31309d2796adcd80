package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/eleven-am/vision-chat/internal/conversation"
)

const sseKeepAliveInterval = 30 * time.Second

// sseConn writes conversation events as Server-Sent Events.
type sseConn struct {
	writer    http.ResponseWriter
	flusher   http.Flusher
	keepAlive time.Duration
}

func newSSEConn(w http.ResponseWriter) (*sseConn, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, http.ErrNotSupported
	}
	return &sseConn{writer: w, flusher: flusher, keepAlive: sseKeepAliveInterval}, nil
}

// Run forwards events until the channel closes or ctx ends.
func (c *sseConn) Run(ctx context.Context, events <-chan conversation.Event) error {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.writeEvent(ev); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.writeKeepAlive(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *sseConn) writeEvent(ev any) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if _, err := c.writer.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.writer.Write(data); err != nil {
		return err
	}
	if _, err := c.writer.Write([]byte("\n\n")); err != nil {
		return err
	}

	c.flusher.Flush()
	return nil
}

func (c *sseConn) writeKeepAlive() error {
	if _, err := c.writer.Write([]byte(":keepalive\n\n")); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}
