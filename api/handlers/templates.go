package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/delahq/dela/engine"
	"github.com/delahq/dela/types"
)

// TemplatesHandler serves learned templates and their automation policies.
type TemplatesHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewTemplatesHandler creates a templates handler.
func NewTemplatesHandler(e *engine.Engine, logger *zap.Logger) *TemplatesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplatesHandler{engine: e, logger: logger.With(zap.String("handler", "templates"))}
}

// HandleList handles GET /v1/templates?user=U.
func (h *TemplatesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"user query parameter is required", h.logger)
		return
	}
	views, err := h.engine.Templates(r.Context(), user)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, views)
}

// HandleGet handles GET /v1/templates/{id}?user=U.
func (h *TemplatesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"user query parameter is required", h.logger)
		return
	}
	view, err := h.engine.Template(r.Context(), r.PathValue("id"), user)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, view)
}

type setModeRequest struct {
	User           string `json:"user"`
	Mode           string `json:"mode"` // "supervised" or "autonomous"
	SuperviseSteps []int  `json:"supervise_steps,omitempty"`
}

// HandleSetMode handles POST /v1/templates/{id}/mode: the user accepting a
// suggestion or changing the oversight level.
func (h *TemplatesHandler) HandleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.User == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"user is required", h.logger)
		return
	}

	var target types.PolicyState
	switch req.Mode {
	case "supervised":
		target = types.PolicySupervised
	case "autonomous":
		target = types.PolicyAutonomous
	default:
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"mode must be \"supervised\" or \"autonomous\"", h.logger)
		return
	}

	pol, err := h.engine.SetMode(r.Context(), r.PathValue("id"), req.User, target, req.SuperviseSteps)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, pol)
}

type userRequest struct {
	User string `json:"user"`
}

// HandleDecline handles POST /v1/templates/{id}/decline.
func (h *TemplatesHandler) HandleDecline(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.User == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"user is required", h.logger)
		return
	}
	pol, err := h.engine.Decline(r.Context(), r.PathValue("id"), req.User)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, pol)
}

// HandleDisable handles POST /v1/templates/{id}/disable.
func (h *TemplatesHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.User == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"user is required", h.logger)
		return
	}
	pol, err := h.engine.Disable(r.Context(), r.PathValue("id"), req.User)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, pol)
}

// HandleRelated handles GET /v1/entities/{id}/related?depth=N: the workflow
// graph neighborhood of an entity.
func (h *TemplatesHandler) HandleRelated(w http.ResponseWriter, r *http.Request) {
	depth := 1
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"depth must be a positive integer", h.logger)
			return
		}
		depth = n
	}
	related, err := h.engine.Related(r.Context(), r.PathValue("id"), depth)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, related)
}
