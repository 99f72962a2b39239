package service

import (
	"context"
	"errors"
	"time"

	"aquasync-server/internal/domain"
	"aquasync-server/internal/repository"

	"github.com/google/uuid"
)

type DeviceService struct {
	repo repository.DeviceRepository
	now  func() time.Time
}

func NewDeviceService(repo repository.DeviceRepository) *DeviceService {
	return &DeviceService{
		repo: repo,
		now:  time.Now,
	}
}

func (s *DeviceService) Register(ctx context.Context, userID, labID string, req *domain.RegisterDeviceRequest) (*domain.DeviceResponse, error) {
	now := s.now()

	device := &domain.Device{
		ID:         uuid.New().String(),
		UserID:     userID,
		LabID:      labID,
		Name:       req.Name,
		Type:       req.Type,
		OS:         req.OS,
		AppVersion: req.AppVersion,
		LastActive: now,
		CreatedAt:  now,
		IsRevoked:  false,
	}

	if err := s.repo.Create(ctx, device); err != nil {
		return nil, err
	}

	return deviceResponse(device), nil
}

func (s *DeviceService) List(ctx context.Context, userID string) ([]*domain.DeviceResponse, error) {
	devices, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	var responses []*domain.DeviceResponse
	for _, d := range devices {
		responses = append(responses, deviceResponse(d))
	}

	return responses, nil
}

func (s *DeviceService) Revoke(ctx context.Context, userID, deviceID string) error {
	device, err := s.repo.FindByID(ctx, deviceID)
	if err != nil {
		return err
	}

	if device.UserID != userID {
		return errors.New("unauthorized: device does not belong to user")
	}

	return s.repo.Revoke(ctx, deviceID)
}

func deviceResponse(d *domain.Device) *domain.DeviceResponse {
	return &domain.DeviceResponse{
		ID:         d.ID,
		Name:       d.Name,
		Type:       d.Type,
		OS:         d.OS,
		LastActive: d.LastActive,
		IsRevoked:  d.IsRevoked,
	}
}
