package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"aquasync-server/internal/domain"
	"aquasync-server/internal/middleware"
	"aquasync-server/internal/service"
	"aquasync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type SyncHandler struct {
	syncService   *service.SyncService
	backupService *service.BackupService
	validator     *validator.Validate
}

func NewSyncHandler(syncService *service.SyncService, backupService *service.BackupService) *SyncHandler {
	return &SyncHandler{
		syncService:   syncService,
		backupService: backupService,
		validator:     validator.New(),
	}
}

func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	labID := middleware.GetLabID(r)
	if userID == "" || labID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	res, err := h.syncService.Push(r.Context(), userID, labID, &req)
	if err != nil {
		if errors.Is(err, domain.ErrDeviceNotFound) || errors.Is(err, domain.ErrDeviceRevoked) {
			response.Forbidden(w, err.Error())
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.JSON(w, http.StatusOK, res)
}

func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	labID := middleware.GetLabID(r)
	if userID == "" || labID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	req := domain.PullRequest{
		DeviceID: r.URL.Query().Get("device_id"),
	}

	if sinceParam := r.URL.Query().Get("since"); sinceParam != "" {
		since, err := time.Parse(time.RFC3339, sinceParam)
		if err != nil {
			response.BadRequest(w, "invalid since parameter")
			return
		}
		req.LastSyncTimestamp = since
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	res, err := h.syncService.Pull(r.Context(), userID, labID, &req)
	if err != nil {
		if errors.Is(err, domain.ErrDeviceNotFound) || errors.Is(err, domain.ErrDeviceRevoked) {
			response.Forbidden(w, err.Error())
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.JSON(w, http.StatusOK, res)
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	labID := middleware.GetLabID(r)
	if userID == "" || labID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		response.BadRequest(w, "device_id is required")
		return
	}

	status, err := h.syncService.Status(r.Context(), userID, labID, deviceID)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, status)
}

func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	labID := middleware.GetLabID(r)
	if labID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	conflicts, err := h.backupService.GetUnresolvedConflicts(r.Context(), labID)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, conflicts)
}

func (h *SyncHandler) GetEntityConflict(w http.ResponseWriter, r *http.Request) {
	labID := middleware.GetLabID(r)
	if labID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	vars := mux.Vars(r)
	entityType := domain.EntityType(vars["entityType"])
	if !entityType.Valid() {
		response.BadRequest(w, "unknown entity type")
		return
	}

	backup, err := h.backupService.GetBackupByEntity(r.Context(), vars["entityId"], entityType)
	if err != nil {
		if errors.Is(err, domain.ErrBackupNotFound) {
			response.NotFound(w, "no conflict backup for entity")
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	if backup.LabID != labID {
		response.Forbidden(w, "unauthorized")
		return
	}

	response.Success(w, backup)
}

func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	labID := middleware.GetLabID(r)
	if userID == "" || labID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	vars := mux.Vars(r)
	backupID := vars["id"]

	var req domain.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	resolved, err := h.syncService.ResolveConflict(r.Context(), userID, labID, backupID, &req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrBackupNotFound):
			response.NotFound(w, "conflict not found")
		case errors.Is(err, domain.ErrBackupAlreadyResolved):
			response.Conflict(w, err.Error())
		case errors.Is(err, service.ErrManualResolutionRequired):
			response.BadRequest(w, err.Error())
		default:
			response.InternalError(w, err.Error())
		}
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"message": "conflict resolved",
		"entity":  resolved,
	})
}
