// Package subscription turns finished wizard runs into persisted subscriptions
// and serves the owner-scoped management operations.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/flow"
	"github.com/Proton-105/divar-watch-bot/internal/repository"
)

// ErrNotOwner is returned when a user touches a subscription they do not own.
var ErrNotOwner = errors.New("subscription belongs to another user")

// InitialResultsScheduler queues the first dispatch for a new subscription.
type InitialResultsScheduler interface {
	ScheduleInitialResults(ctx context.Context, subscriptionID int64) error
}

// Service manages subscriptions.
type Service struct {
	subs      repository.SubscriptionRepository
	catalog   *catalog.Catalog
	scheduler InitialResultsScheduler
	log       *slog.Logger
	now       func() time.Time
}

// NewService constructs a subscription service. scheduler may be nil.
func NewService(
	subs repository.SubscriptionRepository,
	cat *catalog.Catalog,
	scheduler InitialResultsScheduler,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		subs:      subs,
		catalog:   cat,
		scheduler: scheduler,
		log:       log,
		now:       time.Now,
	}
}

// Create validates and stores a finished wizard run, then queues its initial results.
// A scheduling failure is logged; the subscription is still picked up by the next sweep.
func (s *Service) Create(ctx context.Context, done *flow.Finished) (*domain.Subscription, error) {
	if done == nil {
		return nil, apperrors.NewValidationError("finished flow is nil", nil)
	}

	def, err := s.catalog.Definition(done.Category)
	if err != nil {
		return nil, apperrors.NewValidationError("create subscription", err)
	}
	loc, err := s.catalog.Location(done.Location)
	if err != nil {
		return nil, apperrors.NewValidationError("create subscription", err)
	}
	if done.SubRegion != "" && !loc.HasDistrict(done.SubRegion) {
		return nil, apperrors.NewValidationError("create subscription",
			fmt.Errorf("%w: district %q of %s", catalog.ErrUnknownLocation, done.SubRegion, loc.Slug))
	}
	if err := def.ValidateCriteria(done.Criteria); err != nil {
		return nil, apperrors.NewValidationError("create subscription", err)
	}

	sub := &domain.Subscription{
		UserID:    done.UserID,
		Title:     Title(def, loc),
		Category:  def.ID,
		Location:  loc.Slug,
		SubRegion: done.SubRegion,
		Criteria:  done.Criteria.Clone(),
		Seen:      []string{},
		CreatedAt: s.now().UTC(),
	}

	id, err := s.subs.Create(ctx, sub)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("create subscription: %w", err))
	}
	sub.ID = id

	s.log.Info("subscription created",
		slog.Int64("subscription_id", id),
		slog.Int64("user_id", sub.UserID),
		slog.String("category", sub.Category),
		slog.String("location", sub.Location),
	)

	if s.scheduler != nil {
		if err := s.scheduler.ScheduleInitialResults(ctx, id); err != nil {
			s.log.Warn("failed to schedule initial results",
				slog.Int64("subscription_id", id),
				slog.Any("error", err),
			)
		}
	}

	return sub, nil
}

// List returns the user's subscriptions.
func (s *Service) List(ctx context.Context, userID int64) ([]*domain.Subscription, error) {
	subs, err := s.subs.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("list subscriptions: %w", err))
	}
	return subs, nil
}

// Get returns a subscription owned by userID.
func (s *Service) Get(ctx context.Context, userID, id int64) (*domain.Subscription, error) {
	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.NewDatabaseError(fmt.Errorf("get subscription: %w", err))
	}
	if sub.UserID != userID {
		return nil, ErrNotOwner
	}
	return sub, nil
}

// Delete removes a subscription owned by userID.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}

	if err := s.subs.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return apperrors.NewDatabaseError(fmt.Errorf("delete subscription: %w", err))
	}

	s.log.Info("subscription deleted", slog.Int64("subscription_id", id), slog.Int64("user_id", userID))
	return nil
}

// Title is the display title of a subscription.
func Title(def *catalog.Category, loc *catalog.Location) string {
	return def.Title + " | " + loc.Title
}

// Filter is one rendered criteria line.
type Filter struct {
	Label string
	Value string
}

// Summary is the rendered view of a subscription.
type Summary struct {
	Title    string
	Category string
	Location string
	Filters  []Filter
}

// Summarize renders sub against the catalog. Unknown categories or cities fall
// back to their raw identifiers.
func (s *Service) Summarize(sub *domain.Subscription) Summary {
	sum := Summary{
		Title:    sub.Title,
		Category: sub.Category,
		Location: sub.Location,
	}

	if loc, err := s.catalog.Location(sub.Location); err == nil {
		sum.Location = loc.Title
	}
	if sub.SubRegion != "" {
		sum.Location += " / " + sub.SubRegion
	}

	def, err := s.catalog.Definition(sub.Category)
	if err != nil {
		return sum
	}
	sum.Category = def.Title

	for i := range def.Steps {
		step := &def.Steps[i]
		opt, ok := step.Selected(sub.Criteria)
		if !ok {
			continue
		}

		value := opt.Label
		if value == "" {
			value = opt.Value
		}
		sum.Filters = append(sum.Filters, Filter{
			Label: step.Label(),
			Value: value,
		})
	}

	return sum
}
