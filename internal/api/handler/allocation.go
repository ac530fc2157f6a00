package handler

import (
	"net/http"

	"github.com/matteo/erphost/internal/api/request"
	"github.com/matteo/erphost/internal/api/response"
	"github.com/matteo/erphost/internal/core"
)

type Allocation struct {
	svc *core.AllocatorService
}

func NewAllocation(svc *core.AllocatorService) *Allocation {
	return &Allocation{svc: svc}
}

// Allocate assigns a database synchronously. The generated credential is
// returned in the response body exactly once and is not stored anywhere.
func (h *Allocation) Allocate(w http.ResponseWriter, r *http.Request) {
	var req request.AllocateDatabase
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Allocate(r.Context(), core.AllocateParams{
		InstanceID:       req.InstanceID,
		CustomerID:       req.CustomerID,
		PlanTier:         req.PlanTier,
		RequireDedicated: req.RequireDedicated,
	})
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if result.Pending {
		response.WriteJSON(w, http.StatusAccepted, result)
		return
	}
	response.WriteJSON(w, http.StatusCreated, result)
}

// ProvisionPool starts provisioning of a new shared pool.
func (h *Allocation) ProvisionPool(w http.ResponseWriter, r *http.Request) {
	var req request.ProvisionPool
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	priority := 100
	if req.Priority != nil {
		priority = *req.Priority
	}

	srv, err := h.svc.ProvisionPool(r.Context(), priority)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusAccepted, srv)
}

// ProvisionDedicated provisions a dedicated server and blocks until it is
// active. Callers should budget minutes-scale latency.
func (h *Allocation) ProvisionDedicated(w http.ResponseWriter, r *http.Request) {
	var req request.ProvisionDedicated
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	srv, err := h.svc.ProvisionDedicated(r.Context(), req.InstanceID, req.CustomerID)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusCreated, srv)
}
