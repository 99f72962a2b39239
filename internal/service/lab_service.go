package service

import (
	"context"
	"time"

	"aquasync-server/internal/domain"
	"aquasync-server/internal/repository"

	"github.com/google/uuid"
)

type LabService struct {
	repo repository.LabRepository
}

func NewLabService(repo repository.LabRepository) *LabService {
	return &LabService{
		repo: repo,
	}
}

func (s *LabService) Create(ctx context.Context, req *domain.CreateLabRequest) (*domain.Lab, error) {
	now := time.Now()

	lab := &domain.Lab{
		ID:              uuid.New().String(),
		Name:            req.Name,
		AccreditationNo: req.AccreditationNo,
		Address:         req.Address,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, lab); err != nil {
		return nil, err
	}

	return lab, nil
}

func (s *LabService) Get(ctx context.Context, labID string) (*domain.Lab, error) {
	return s.repo.FindByID(ctx, labID)
}

func (s *LabService) List(ctx context.Context) ([]*domain.Lab, error) {
	return s.repo.List(ctx)
}
