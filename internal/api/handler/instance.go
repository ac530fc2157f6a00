package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matteo/erphost/internal/api/request"
	"github.com/matteo/erphost/internal/api/response"
	"github.com/matteo/erphost/internal/core"
	"github.com/matteo/erphost/internal/model"
	"github.com/matteo/erphost/internal/platform"
)

type Instance struct {
	svc     *core.InstanceService
	backups *core.BackupService
}

func NewInstance(svc *core.InstanceService, backups *core.BackupService) *Instance {
	return &Instance{svc: svc, backups: backups}
}

func (h *Instance) List(w http.ResponseWriter, r *http.Request) {
	instances, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteList(w, http.StatusOK, instances, len(instances))
}

func (h *Instance) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	inst, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, inst)
}

func (h *Instance) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateInstance
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	inst := &model.Instance{
		ID:             platform.NewID(),
		CustomerID:     req.CustomerID,
		SubscriptionID: req.SubscriptionID,
		Name:           req.Name,
		PlanTier:       req.PlanTier,
		Status:         model.InstanceStatusCreating,
		BillingStatus:  model.BillingStatusTrial,
		CPULimit:       1,
		MemoryLimitMB:  2048,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.CPULimit != nil {
		inst.CPULimit = *req.CPULimit
	}
	if req.MemoryLimitMB != nil {
		inst.MemoryLimitMB = *req.MemoryLimitMB
	}

	if err := h.svc.Create(r.Context(), inst); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusCreated, inst)
}

// Action executes a lifecycle action against an instance. Rejections from
// the permitted-action table come back as 409 without any side effect.
func (h *Instance) Action(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.InstanceAction
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.PerformAction(r.Context(), id, model.InstanceAction(req.Action), core.ActionParams{
		BackupID: req.BackupID,
		Image:    req.Image,
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrUnknownAction):
			response.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, core.ErrActionNotAllowed):
			response.WriteError(w, http.StatusConflict, err.Error())
		default:
			response.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	response.WriteJSON(w, http.StatusAccepted, result)
}

// MigrateDedicated starts a shared-to-dedicated database migration.
func (h *Instance) MigrateDedicated(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.MigrateToDedicated(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrActionNotAllowed) {
			response.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusAccepted, result)
}

func (h *Instance) ListBackups(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	backups, err := h.backups.ListForInstance(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteList(w, http.StatusOK, backups, len(backups))
}

// BillingWebhook mirrors a billing-status change from the billing
// collaborator and suspends or resumes the instance accordingly.
func (h *Instance) BillingWebhook(w http.ResponseWriter, r *http.Request) {
	var req request.BillingEvent
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.ApplyBillingStatus(r.Context(), req.InstanceID, req.BillingStatus); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
