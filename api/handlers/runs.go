package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/delahq/dela/engine"
	"github.com/delahq/dela/types"
)

// RunsHandler serves workflow run lifecycle operations.
type RunsHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewRunsHandler creates a runs handler.
func NewRunsHandler(e *engine.Engine, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{engine: e, logger: logger.With(zap.String("handler", "runs"))}
}

type startRunRequest struct {
	User       string `json:"user"`
	TemplateID string `json:"template_id"`
}

// HandleStart handles POST /v1/runs: trigger a run of a template.
func (h *RunsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.User == "" || req.TemplateID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"user and template_id are required", h.logger)
		return
	}

	run, err := h.engine.TriggerRun(r.Context(), req.TemplateID, req.User)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{Success: true, Data: run})
}

// HandleGet handles GET /v1/runs/{id}.
func (h *RunsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, run)
}

type approvalRequest struct {
	Step int `json:"step"`
}

// HandleApprove handles POST /v1/runs/{id}/approve: release a paused run.
func (h *RunsHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.engine.ApproveStep(r.Context(), r.PathValue("id"), req.Step); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]bool{"approved": true})
}

// HandleReject handles POST /v1/runs/{id}/reject: decline the pending step;
// the run stops as cancelled.
func (h *RunsHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.engine.RejectStep(r.Context(), r.PathValue("id"), req.Step); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]bool{"rejected": true})
}

// HandleCancel handles POST /v1/runs/{id}/cancel. Idempotent: cancelling a
// finished run returns its terminal state.
func (h *RunsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.CancelRun(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, run)
}
