package api

import (
	"errors"
	"net/http"

	"github.com/eleven-am/vision-chat/internal/conversation"
	"github.com/eleven-am/vision-chat/internal/gate"
	"github.com/eleven-am/vision-chat/internal/inference"
	"github.com/eleven-am/vision-chat/internal/media"
	"github.com/eleven-am/vision-chat/internal/sampler"
	"github.com/eleven-am/vision-chat/internal/shared"
	"github.com/labstack/echo/v4"
)

func toHTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, gate.ErrBusy):
		return shared.Conflict("session_busy", "a request is already in flight for this conversation")
	case errors.Is(err, media.ErrEmptySource):
		return shared.Unprocessable("empty_source", "the media yielded no frames")
	case errors.Is(err, sampler.ErrInvalidScale):
		return shared.NewAPIError("invalid_scale", err.Error()).
			WithDetails(map[string]float64{"min": sampler.MinScale, "max": sampler.MaxScale}).
			ToHTTP(http.StatusBadRequest)
	case errors.Is(err, conversation.ErrUnknownModel):
		return shared.BadRequest("unknown_model", err.Error())
	case errors.Is(err, inference.ErrInvalidRequest):
		return shared.BadRequest("invalid_request", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		return shared.NotFound("not_found", "conversation not found")
	default:
		return shared.InternalError("internal_error", "internal error")
	}
}
