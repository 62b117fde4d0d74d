package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/delahq/dela/engine"
	"github.com/delahq/dela/engine/normalize"
	"github.com/delahq/dela/types"
)

// EventsHandler serves event ingestion and the observed-step log.
type EventsHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(e *engine.Engine, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{engine: e, logger: logger.With(zap.String("handler", "events"))}
}

// HandleIngest handles POST /v1/events: one raw observed action.
func (h *EventsHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var raw normalize.RawAction
	if err := DecodeJSONBody(w, r, &raw, h.logger); err != nil {
		return
	}

	step, err := h.engine.IngestEvent(r.Context(), raw)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusAccepted, Response{Success: true, Data: step})
}

// HandleSteps handles GET /v1/steps?user=U&limit=N: the user's recent
// observed steps, oldest first.
func (h *EventsHandler) HandleSteps(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"user query parameter is required", h.logger)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"limit must be a non-negative integer", h.logger)
			return
		}
		limit = n
	}

	steps, err := h.engine.Steps(r.Context(), user, limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, steps)
}
