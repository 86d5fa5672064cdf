package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/credably/announcer/internal/announcement_service/repository"
	"github.com/credably/announcer/internal/core_announce/domain"
)

// CreateAnnouncementInput is the validated input for a new announcement.
type CreateAnnouncementInput struct {
	Body          string   `validate:"required,max=5000"`
	MediaRef      string   `validate:"omitempty,uri"`
	Channels      []string `validate:"required,min=1,unique,dive,required"`
	CorrelationID string   `validate:"required"`
}

// AnnouncementAppService creates and schedules announcement messages. The
// scheduler and worker only ever see messages that went through Schedule.
type AnnouncementAppService struct {
	repo     repository.MessageRepository
	validate *validator.Validate
	logger   *slog.Logger
}

func NewAnnouncementAppService(repo repository.MessageRepository, logger *slog.Logger) *AnnouncementAppService {
	return &AnnouncementAppService{
		repo:     repo,
		validate: validator.New(),
		logger:   logger.With("component", "announcement_app"),
	}
}

// Create persists a draft announcement.
func (s *AnnouncementAppService) Create(ctx context.Context, input CreateAnnouncementInput) (*domain.Message, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid announcement input: %w", err)
	}

	m, err := domain.NewMessage(uuid.New(), domain.Content{Body: input.Body, MediaRef: input.MediaRef}, input.Channels, input.CorrelationID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create announcement: %w", err)
	}
	s.logger.InfoContext(ctx, "Announcement created", "message_id", m.ID, "channels", m.Channels, "correlation_id", m.CorrelationID)
	return m, nil
}

// Get loads an announcement with its per-channel delivery records.
func (s *AnnouncementAppService) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return s.repo.GetByID(ctx, id)
}

// Schedule transitions a draft to scheduled, creating one pending delivery
// per channel. Content is immutable from this point on.
func (s *AnnouncementAppService) Schedule(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Message, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := m.Schedule(at); err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save scheduled announcement: %w", err)
	}
	s.logger.InfoContext(ctx, "Announcement scheduled", "message_id", m.ID, "scheduled_at", m.ScheduledAt, "correlation_id", m.CorrelationID)
	return m, nil
}
