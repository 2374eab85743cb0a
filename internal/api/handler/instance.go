package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/wsbridge/internal/api/request"
	"github.com/edvin/wsbridge/internal/api/response"
	"github.com/edvin/wsbridge/internal/model"
	"github.com/edvin/wsbridge/internal/store"
)

// InstanceReader is the read surface the instance handler serves from.
type InstanceReader interface {
	GetByID(ctx context.Context, instanceID string) (*model.WorkspaceInstance, error)
}

// MetricsReader fetches the latest reported runtime metrics for an instance.
type MetricsReader interface {
	GetByInstance(ctx context.Context, instanceID string) (*model.InstanceMetrics, error)
}

type Instance struct {
	instances InstanceReader
	metrics   MetricsReader
}

func NewInstance(instances InstanceReader, metrics MetricsReader) *Instance {
	return &Instance{instances: instances, metrics: metrics}
}

func (h *Instance) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	inst, err := h.instances.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.WriteError(w, http.StatusNotFound, "instance not found")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, inst)
}

func (h *Instance) GetMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.metrics.GetByInstance(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.WriteError(w, http.StatusNotFound, "no metrics for instance")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, m)
}
