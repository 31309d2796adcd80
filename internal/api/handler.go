package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/eleven-am/vision-chat/internal/conversation"
	"github.com/eleven-am/vision-chat/internal/dto"
	"github.com/eleven-am/vision-chat/internal/inference"
	"github.com/eleven-am/vision-chat/internal/media"
	"github.com/eleven-am/vision-chat/internal/sampler"
	"github.com/eleven-am/vision-chat/internal/shared"
	"github.com/labstack/echo/v4"
)

var errNoMedia = fmt.Errorf("%w: upload media first", inference.ErrInvalidRequest)

type FrameExtractor interface {
	ExtractFrames(ctx context.Context, path string, maxCount int, scale float64) (*media.Input, error)
}

type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

type HistoryLister interface {
	List(ctx context.Context, conversationID string, limit int) ([]*conversation.TurnRecord, error)
}

type Config struct {
	UploadDir string
	NumFrames int
	Scale     float64
}

type Handler struct {
	manager   *conversation.Manager
	extractor FrameExtractor
	models    ModelLister
	history   HistoryLister
	cfg       Config
	logger    *slog.Logger
}

func NewHandler(
	manager *conversation.Manager,
	extractor FrameExtractor,
	models ModelLister,
	history HistoryLister,
	cfg Config,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NumFrames <= 0 {
		cfg.NumFrames = 16
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}

	return &Handler{
		manager:   manager,
		extractor: extractor,
		models:    models,
		history:   history,
		cfg:       cfg,
		logger:    logger.With("component", "api"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/models", h.ListModels)
	g.GET("/conversations", h.List)
	g.POST("/conversations", h.Create)
	g.GET("/conversations/:id", h.Get)
	g.DELETE("/conversations/:id", h.Delete)
	g.POST("/conversations/:id/media", h.UploadMedia)
	g.POST("/conversations/:id/messages", h.Submit)
	g.POST("/conversations/:id/clear", h.Clear)
	g.GET("/conversations/:id/history", h.History)
	g.GET("/conversations/:id/events", h.Events)
}

func (h *Handler) conversation(c echo.Context) (*conversation.Conversation, error) {
	conv, ok := h.manager.Get(c.Param("id"))
	if !ok {
		return nil, shared.NotFound("not_found", "conversation not found")
	}
	return conv, nil
}

func toResponse(s *conversation.Snapshot) dto.ConversationResponse {
	turns := s.Transcript.Turns
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return dto.ConversationResponse{
		ID:        s.ID,
		Model:     s.Model,
		State:     s.State,
		Answer:    s.Answer,
		Turns:     turns,
		Rendered:  s.Rendered,
		Media:     s.Media,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) ListModels(c echo.Context) error {
	configured := h.manager.Models()
	resp := dto.ModelsResponse{Configured: configured}
	if len(configured) > 0 {
		resp.Default = configured[0]
	}

	if h.models != nil {
		installed, err := h.models.ListModels(c.Request().Context())
		if err != nil {
			h.logger.Warn("failed to list installed models", "error", err)
		} else {
			resp.Installed = installed
		}
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) List(c echo.Context) error {
	infos := h.manager.List()
	return c.JSON(http.StatusOK, dto.ConversationListResponse{
		Conversations: infos,
		Count:         len(infos),
	})
}

func (h *Handler) Create(c echo.Context) error {
	var req dto.CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}

	conv, err := h.manager.Create(strings.TrimSpace(req.Model))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusCreated, toResponse(conv.Snapshot()))
}

func (h *Handler) Get(c echo.Context) error {
	snap, err := h.manager.Snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("failed to load conversation", "error", err, "conversation_id", c.Param("id"))
		}
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toResponse(snap))
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.manager.Remove(c.Request().Context(), c.Param("id")); err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("failed to remove conversation", "error", err, "conversation_id", c.Param("id"))
		}
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Clear(c echo.Context) error {
	conv, err := h.conversation(c)
	if err != nil {
		return err
	}
	if err := conv.Clear(); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toResponse(conv.Snapshot()))
}

func (h *Handler) History(c echo.Context) error {
	if h.history == nil {
		return shared.ServiceUnavailable("history_unavailable", "turn history is not configured")
	}

	id := c.Param("id")
	if _, err := h.manager.Snapshot(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return shared.BadRequest("invalid_limit", "limit must be a non-negative integer")
		}
		limit = n
	}

	records, err := h.history.List(c.Request().Context(), id, limit)
	if err != nil {
		h.logger.Error("failed to list history", "error", err, "conversation_id", id)
		return shared.InternalError("history_failed", "failed to list history")
	}
	if records == nil {
		records = []*conversation.TurnRecord{}
	}

	return c.JSON(http.StatusOK, dto.HistoryResponse{ConversationID: id, Turns: records})
}

func (h *Handler) UploadMedia(c echo.Context) error {
	conv, err := h.conversation(c)
	if err != nil {
		return err
	}

	numFrames := h.cfg.NumFrames
	if v := c.FormValue("num_frames"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return shared.BadRequest("invalid_num_frames", "num_frames must be a positive integer")
		}
		numFrames = n
	}

	scale := h.cfg.Scale
	if v := c.FormValue("scale"); v != "" {
		s, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return shared.BadRequest("invalid_scale", "scale must be a number")
		}
		scale = s
	}
	if err := sampler.ValidateScale(scale); err != nil {
		return toHTTPError(err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return shared.BadRequest("missing_file", "multipart field 'file' is required")
	}

	kind, err := media.KindOf(file.Filename)
	if err != nil {
		return shared.BadRequest("unsupported_media", err.Error())
	}

	var in *media.Input
	switch kind {
	case media.KindVideo:
		in, err = h.extractVideo(c.Request().Context(), file, numFrames, scale)
	default:
		in, err = h.decodeImage(file, scale)
	}
	if err != nil {
		if errors.Is(err, media.ErrEmptySource) {
			return toHTTPError(err)
		}
		h.logger.Warn("failed to read media", "error", err, "kind", kind, "filename", file.Filename)
		return shared.Unprocessable("invalid_media", err.Error())
	}

	if err := conv.SetMedia(in); err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, dto.MediaResponse{
		ConversationID: conv.ID(),
		Media:          in.Summary(),
	})
}

func (h *Handler) decodeImage(file *multipart.FileHeader, scale float64) (*media.Input, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return media.DecodeImage(src, file.Filename, scale)
}

func (h *Handler) extractVideo(ctx context.Context, file *multipart.FileHeader, numFrames int, scale float64) (*media.Input, error) {
	if h.extractor == nil {
		return nil, errors.New("video extraction is not configured")
	}

	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	dst, err := os.CreateTemp(h.cfg.UploadDir, "upload-*"+filepath.Ext(file.Filename))
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	defer os.Remove(dst.Name())

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	in, err := h.extractor.ExtractFrames(ctx, dst.Name(), numFrames, scale)
	if err != nil {
		return nil, err
	}
	in.Source = file.Filename
	return in, nil
}

func (h *Handler) submit(conv *conversation.Conversation, req dto.SubmitMessageRequest) (*dto.SubmitMessageResponse, error) {
	if conv.Media() == nil {
		return nil, errNoMedia
	}

	sampling := true
	if req.Sampling != nil {
		sampling = *req.Sampling
	}

	id, err := conv.Submit(conversation.Message{
		Question:  req.Question,
		Model:     strings.TrimSpace(req.Model),
		MaxTokens: req.MaxTokens,
		Sampling:  sampling,
		Options:   req.Options,
	})
	if err != nil {
		return nil, err
	}

	return &dto.SubmitMessageResponse{
		ConversationID: conv.ID(),
		RequestID:      id,
		State:          conv.State(),
	}, nil
}

func (h *Handler) Submit(c echo.Context) error {
	conv, err := h.conversation(c)
	if err != nil {
		return err
	}

	var req dto.SubmitMessageRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if req.MaxTokens < 0 {
		return shared.BadRequest("invalid_request", "max_tokens must be positive")
	}

	resp, err := h.submit(conv, req)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusAccepted, resp)
}
