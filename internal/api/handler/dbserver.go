package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matteo/erphost/internal/api/request"
	"github.com/matteo/erphost/internal/api/response"
	"github.com/matteo/erphost/internal/core"
)

type DBServer struct {
	svc *core.DBServerService
}

func NewDBServer(svc *core.DBServerService) *DBServer {
	return &DBServer{svc: svc}
}

func (h *DBServer) List(w http.ResponseWriter, r *http.Request) {
	servers, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteList(w, http.StatusOK, servers, len(servers))
}

func (h *DBServer) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	srv, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, srv)
}
