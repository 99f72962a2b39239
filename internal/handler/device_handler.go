package handler

import (
	"encoding/json"
	"net/http"

	"aquasync-server/internal/domain"
	"aquasync-server/internal/middleware"
	"aquasync-server/internal/service"
	"aquasync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type DeviceHandler struct {
	service  *service.DeviceService
	validate *validator.Validate
}

func NewDeviceHandler(service *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)
	labID := middleware.GetLabID(r)

	device, err := h.service.Register(r.Context(), userID, labID, &req)
	if err != nil {
		response.InternalError(w, "Failed to register device")
		return
	}

	response.Created(w, device)
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	devices, err := h.service.List(r.Context(), userID)
	if err != nil {
		response.InternalError(w, "Failed to list devices")
		return
	}

	response.Success(w, devices)
}

func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deviceID := vars["id"]
	if deviceID == "" {
		response.BadRequest(w, "Device ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	if err := h.service.Revoke(r.Context(), userID, deviceID); err != nil {
		if err.Error() == "unauthorized: device does not belong to user" {
			response.Forbidden(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to revoke device")
		return
	}

	response.Success(w, map[string]string{"message": "Device revoked successfully"})
}
