package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/wsbridge/internal/api/request"
	"github.com/edvin/wsbridge/internal/api/response"
	"github.com/edvin/wsbridge/internal/model"
	"github.com/edvin/wsbridge/internal/registry"
)

// ClusterRegistry is the registry surface the cluster handler drives.
type ClusterRegistry interface {
	Register(ctx context.Context, cluster model.WorkspaceCluster) error
	SetState(ctx context.Context, name string, state model.ClusterState) error
	SetScore(ctx context.Context, name string, score int) error
	List(state model.ClusterState) []model.WorkspaceCluster
	Resolve(name string) (model.WorkspaceCluster, bool)
	Degraded(name string) bool
}

type Cluster struct {
	reg ClusterRegistry
}

func NewCluster(reg ClusterRegistry) *Cluster {
	return &Cluster{reg: reg}
}

// clusterView decorates a cluster with its ingestion health signal.
type clusterView struct {
	model.WorkspaceCluster
	Degraded bool `json:"degraded"`
}

func (h *Cluster) view(c model.WorkspaceCluster) clusterView {
	return clusterView{WorkspaceCluster: c, Degraded: h.reg.Degraded(c.Name)}
}

func (h *Cluster) List(w http.ResponseWriter, r *http.Request) {
	state := model.ClusterState(r.URL.Query().Get("state"))
	if state != "" && !model.ValidClusterState(state) {
		response.WriteError(w, http.StatusBadRequest, "unknown cluster state")
		return
	}

	clusters := h.reg.List(state)
	views := make([]clusterView, 0, len(clusters))
	for _, c := range clusters {
		views = append(views, h.view(c))
	}
	response.WriteJSON(w, http.StatusOK, views)
}

func (h *Cluster) Get(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireID(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cluster, ok := h.reg.Resolve(name)
	if !ok {
		response.WriteError(w, http.StatusNotFound, "cluster not found")
		return
	}
	response.WriteJSON(w, http.StatusOK, h.view(cluster))
}

func (h *Cluster) Register(w http.ResponseWriter, r *http.Request) {
	var req request.RegisterCluster
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cluster := model.WorkspaceCluster{
		Name:  req.Name,
		Score: req.Score,
		State: model.ClusterState(req.State),
	}
	if err := h.reg.Register(r.Context(), cluster); err != nil {
		writeRegistryError(w, err)
		return
	}

	registered, _ := h.reg.Resolve(req.Name)
	response.WriteJSON(w, http.StatusCreated, h.view(registered))
}

func (h *Cluster) SetState(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireID(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.SetClusterState
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.reg.SetState(r.Context(), name, model.ClusterState(req.State)); err != nil {
		writeRegistryError(w, err)
		return
	}

	cluster, ok := h.reg.Resolve(name)
	if !ok {
		response.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}
	response.WriteJSON(w, http.StatusOK, h.view(cluster))
}

func (h *Cluster) SetScore(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireID(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.SetClusterScore
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.reg.SetScore(r.Context(), name, *req.Score); err != nil {
		writeRegistryError(w, err)
		return
	}

	cluster, _ := h.reg.Resolve(name)
	response.WriteJSON(w, http.StatusOK, h.view(cluster))
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		response.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrClusterConflict):
		response.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrInvalidTransition):
		response.WriteError(w, http.StatusConflict, err.Error())
	default:
		response.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
