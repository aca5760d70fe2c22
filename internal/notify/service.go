package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository stores pending notifications per audience.
type Repository interface {
	Append(ctx context.Context, n Notification) error
	// Drain returns pending notifications oldest first and forgets them.
	Drain(ctx context.Context, audience string) ([]Notification, error)
}

// Service publishes notifications for the dashboard.
//
// Callers treat publishing as best-effort: failures are logged and never
// returned into business flows.
type Service struct {
	repo  Repository
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, clock: time.Now, log: log}
}

var ErrInvalidNotification = errors.New("notify: invalid notification")

// Push validates and stores n, logging any failure.
func (s *Service) Push(ctx context.Context, n Notification) {
	if err := s.push(ctx, n); err != nil {
		s.log.WarnContext(ctx, "notification dropped", "level", n.Level, "title", n.Title, "err", err)
	}
}

func (s *Service) push(ctx context.Context, n Notification) error {
	if s == nil || s.repo == nil {
		return errors.New("notify: repository not configured")
	}
	if n.Audience == "" || n.Title == "" || n.Level == "" {
		return ErrInvalidNotification
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, n)
}

func (s *Service) Success(ctx context.Context, audience, title, message string) {
	s.Push(ctx, Notification{Audience: audience, Level: LevelSuccess, Title: title, Message: message})
}

func (s *Service) Info(ctx context.Context, audience, title, message string) {
	s.Push(ctx, Notification{Audience: audience, Level: LevelInfo, Title: title, Message: message})
}

func (s *Service) Warn(ctx context.Context, audience, title, message string) {
	s.Push(ctx, Notification{Audience: audience, Level: LevelWarning, Title: title, Message: message})
}

func (s *Service) Error(ctx context.Context, audience, title, message string) {
	s.Push(ctx, Notification{Audience: audience, Level: LevelError, Title: title, Message: message})
}

// Drain hands pending notifications to the dashboard.
func (s *Service) Drain(ctx context.Context, audience string) ([]Notification, error) {
	if audience == "" {
		return nil, ErrInvalidNotification
	}
	return s.repo.Drain(ctx, audience)
}
