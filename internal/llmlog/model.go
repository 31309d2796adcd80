// Package llmlog records every model call, its input messages and the answer
// it produced, through a dedicated logger.
package llmlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/eleven-am/vision-chat/internal/inference"
	"github.com/eleven-am/vision-chat/internal/stream"
)

type modelDecorator struct {
	wrapped inference.Model
	logger  *slog.Logger
	counter atomic.Int64
}

func NewModelDecorator(wrapped inference.Model, logger *slog.Logger) inference.Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &modelDecorator{
		wrapped: wrapped,
		logger:  logger.With("component", "llm-log"),
	}
}

func (d *modelDecorator) Name() string {
	return d.wrapped.Name()
}

func (d *modelDecorator) Delivery() stream.Policy {
	return d.wrapped.Delivery()
}

func (d *modelDecorator) StreamComplete(ctx context.Context, req inference.Completion) (inference.Stream, error) {
	n := d.counter.Add(1)
	model := req.Model
	if model == "" {
		model = d.Name()
	}
	logger := d.logger.With("conversation", n, "model", model)

	for i, m := range req.Messages {
		logger.Info("input message",
			"index", i,
			"role", m.Role,
			"content", m.Content,
			"images", len(m.Images),
		)
	}
	logger.Info("request options",
		"max_tokens", req.MaxTokens,
		"sampling", req.Sampling,
		"options", req.Options,
	)

	st, err := d.wrapped.StreamComplete(ctx, req)
	if err != nil {
		logger.Error("model call failed", "error", err)
		return nil, err
	}

	return &loggedStream{
		wrapped: st,
		logger:  logger,
		acc:     stream.NewAccumulator(d.wrapped.Delivery()),
		start:   time.Now(),
	}, nil
}

type loggedStream struct {
	wrapped inference.Stream
	logger  *slog.Logger
	acc     *stream.Accumulator
	start   time.Time
	chunks  int
	logged  bool
}

func (s *loggedStream) Recv() (inference.Chunk, error) {
	chunk, err := s.wrapped.Recv()
	switch {
	case errors.Is(err, io.EOF):
		s.finish(nil)
	case err != nil:
		s.finish(err)
	default:
		if chunk.Text != "" {
			s.chunks++
			s.acc.Apply(chunk.Text)
		}
		if chunk.Done {
			s.finish(nil)
		}
	}
	return chunk, err
}

func (s *loggedStream) Close() error {
	if !s.logged {
		s.logger.Warn("stream closed before completion", "partial", s.acc.Current())
		s.logged = true
	}
	return s.wrapped.Close()
}

func (s *loggedStream) finish(err error) {
	if s.logged {
		return
	}
	s.logged = true

	elapsed := time.Since(s.start).Milliseconds()
	if err != nil {
		s.logger.Error("model stream failed",
			"error", err,
			"partial", s.acc.Current(),
			"chunks", s.chunks,
			"took_ms", elapsed,
		)
		return
	}
	s.logger.Info("model response",
		"response", s.acc.Current(),
		"chunks", s.chunks,
		"took_ms", elapsed,
	)
}
