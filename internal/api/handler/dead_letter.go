package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/wsbridge/internal/api/request"
	"github.com/edvin/wsbridge/internal/api/response"
	"github.com/edvin/wsbridge/internal/model"
	"github.com/edvin/wsbridge/internal/store"
)

// DeadLetterStore is the persistence surface for parked events.
type DeadLetterStore interface {
	List(ctx context.Context, limit int) ([]model.DeadLetterEvent, error)
	GetByID(ctx context.Context, id string) (*model.DeadLetterEvent, error)
	Delete(ctx context.Context, id string) error
}

// Replayer feeds a parked event back through the reconciliation path.
type Replayer interface {
	Replay(ctx context.Context, payload json.RawMessage) error
}

type DeadLetter struct {
	events   DeadLetterStore
	replayer Replayer
}

func NewDeadLetter(events DeadLetterStore, replayer Replayer) *DeadLetter {
	return &DeadLetter{events: events, replayer: replayer}
}

func (h *DeadLetter) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := h.events.List(r.Context(), limit)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []model.DeadLetterEvent{}
	}
	response.WriteJSON(w, http.StatusOK, events)
}

// Replay pushes a parked event back into the engine and, on success, removes
// it. Replaying an event whose instance has since moved on is harmless: the
// supersession gate discards it.
func (h *DeadLetter) Replay(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := h.events.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.WriteError(w, http.StatusNotFound, "dead letter not found")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.replayer.Replay(r.Context(), ev.Payload); err != nil {
		response.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.events.Delete(r.Context(), id); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "replayed"})
}
