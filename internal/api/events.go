package api

import (
	"net/http"
	"strings"

	"github.com/eleven-am/vision-chat/internal/conversation"
	"github.com/eleven-am/vision-chat/internal/dto"
	"github.com/eleven-am/vision-chat/internal/shared"
	"github.com/labstack/echo/v4"
)

// Events streams a conversation's events. Clients that accept
// text/event-stream get SSE; everyone else is upgraded to a WebSocket.
func (h *Handler) Events(c echo.Context) error {
	conv, err := h.conversation(c)
	if err != nil {
		return err
	}

	accept := c.Request().Header.Get("Accept")
	if !strings.Contains(accept, "text/event-stream") {
		return h.handleWebSocket(c, conv)
	}
	return h.handleSSE(c, conv)
}

func currentState(conv *conversation.Conversation) conversation.Event {
	snap := conv.Snapshot()
	return conversation.Event{
		Type:           conversation.EventState,
		ConversationID: snap.ID,
		RequestID:      snap.State.RequestID,
		Answer:         snap.Answer,
		State:          snap.State,
		Media:          snap.Media,
	}
}

func (h *Handler) handleSSE(c echo.Context, conv *conversation.Conversation) error {
	events, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	conn, err := newSSEConn(c.Response())
	if err != nil {
		h.logger.Error("failed to create SSE connection", "error", err)
		return shared.InternalError("sse_unsupported", "failed to create SSE connection")
	}

	if err := conn.writeEvent(currentState(conv)); err != nil {
		return nil
	}

	h.logger.Info("events client connected (SSE)", "conversation_id", conv.ID())
	_ = conn.Run(c.Request().Context(), events)
	h.logger.Info("events client disconnected (SSE)", "conversation_id", conv.ID())
	return nil
}

func (h *Handler) handleWebSocket(c echo.Context, conv *conversation.Conversation) error {
	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	conn := newWSConn(ws, h.logger.With("conversation_id", conv.ID()))
	events, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	conn.Send(currentState(conv))

	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					conn.Close()
					return
				}
				conn.Send(ev)
			case <-conn.Done():
				return
			}
		}
	}()

	h.logger.Info("events client connected (WebSocket)", "conversation_id", conv.ID())

	ctx := c.Request().Context()
	go conn.writePump(ctx)
	conn.readPump(ctx, func(msg dto.SocketMessage) {
		switch msg.Type {
		case "submit":
			resp, err := h.submit(conv, msg.SubmitMessageRequest)
			if err != nil {
				conn.Send(socketErrorFrom(err))
				return
			}
			conn.Send(socketFrame{Type: "accepted", SubmitMessageResponse: resp})
		case "ping":
			conn.Send(socketFrame{Type: "pong"})
		default:
			conn.Send(socketError("unknown_type", "unsupported message type "+msg.Type))
		}
	})

	h.logger.Info("events client disconnected (WebSocket)", "conversation_id", conv.ID())
	return nil
}

func socketErrorFrom(err error) socketFrame {
	if apiErr, ok := toHTTPError(err).Message.(*shared.APIError); ok {
		return socketError(apiErr.Code, apiErr.Message)
	}
	return socketError("internal_error", "internal error")
}
