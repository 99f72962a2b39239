package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"aquasync-server/internal/domain"
	"aquasync-server/internal/service"
	"aquasync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type LabHandler struct {
	labService *service.LabService
	validator  *validator.Validate
}

func NewLabHandler(labService *service.LabService) *LabHandler {
	return &LabHandler{
		labService: labService,
		validator:  validator.New(),
	}
}

func (h *LabHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	lab, err := h.labService.Create(r.Context(), &req)
	if err != nil {
		response.InternalError(w, "Failed to create lab")
		return
	}

	response.Created(w, lab)
}

func (h *LabHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	lab, err := h.labService.Get(r.Context(), vars["id"])
	if err != nil {
		if errors.Is(err, domain.ErrLabNotFound) {
			response.NotFound(w, "Lab not found")
			return
		}
		response.InternalError(w, "Failed to fetch lab")
		return
	}

	response.Success(w, lab)
}

func (h *LabHandler) List(w http.ResponseWriter, r *http.Request) {
	labs, err := h.labService.List(r.Context())
	if err != nil {
		response.InternalError(w, "Failed to list labs")
		return
	}

	response.Success(w, labs)
}
