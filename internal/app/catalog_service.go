package app

import (
	"context"

	"github.com/atlastrails/booking-api/internal/clock"
	"github.com/atlastrails/booking-api/internal/domain"
	"github.com/google/uuid"
)

// CatalogRepository is the content-management surface over experiences.
// Everything on the row except the participant counter is owned here; the
// counter belongs to the capacity ledger.
type CatalogRepository interface {
	Create(ctx context.Context, exp domain.Experience) error
	List(ctx context.Context) ([]domain.Experience, error)
	Get(ctx context.Context, id string) (domain.Experience, error)
	Availability(ctx context.Context, id string) (available, total int, err error)
}

type CatalogService struct {
	repo  CatalogRepository
	clock clock.Clock
}

func NewCatalogService(repo CatalogRepository, clk clock.Clock) *CatalogService {
	return &CatalogService{
		repo:  repo,
		clock: clk,
	}
}

type CreateExperienceInput struct {
	Name          string
	Location      string
	Description   string
	TotalCapacity int
}

func (s *CatalogService) CreateExperience(ctx context.Context, in CreateExperienceInput) (domain.Experience, error) {
	if in.Name == "" {
		return domain.Experience{}, domain.ErrNameRequired
	}
	if in.TotalCapacity <= 0 {
		return domain.Experience{}, domain.ErrInvalidCapacity
	}

	exp := domain.Experience{
		ID:            uuid.NewString(),
		Name:          in.Name,
		Location:      in.Location,
		Description:   in.Description,
		TotalCapacity: in.TotalCapacity,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.Create(ctx, exp); err != nil {
		return domain.Experience{}, err
	}
	return exp, nil
}

func (s *CatalogService) ListExperiences(ctx context.Context) ([]domain.Experience, error) {
	return s.repo.List(ctx)
}

type AvailabilityResult struct {
	Available int
	Total     int
}

// Availability reports remaining and total seats for one experience.
func (s *CatalogService) Availability(ctx context.Context, experienceID string) (AvailabilityResult, error) {
	if experienceID == "" {
		return AvailabilityResult{}, domain.ErrInvalidID
	}
	available, total, err := s.repo.Availability(ctx, experienceID)
	if err != nil {
		return AvailabilityResult{}, err
	}
	return AvailabilityResult{Available: available, Total: total}, nil
}
