// Package alerts implements alert management on top of the alert store:
// validated creation, listing, toggling, reset, deletion and statistics.
package alerts

import (
	"context"
	"fmt"
	"time"

	"pricealerts/internal/models"
	"pricealerts/internal/price"

	"go.uber.org/zap"
)

type Store interface {
	Create(ctx context.Context, a *models.Alert) error
	Get(ctx context.Context, id int64) (*models.Alert, error)
	List(ctx context.Context, f models.Filter) ([]*models.Alert, error)
	Update(ctx context.Context, id int64, mutate func(*models.Alert) error) (*models.Alert, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Stats(ctx context.Context, userIdentifier string) (models.AlertStats, error)
}

type PairResolver interface {
	Resolve(ctx context.Context, base, quote string) (price.Quote, error)
}

// Webhooks checks and exercises notification targets.
type Webhooks interface {
	ValidateURL(url string) error
	TestDelivery(ctx context.Context, url string) error
}

type Options struct {
	// VerifyWebhook sends a test message before an alert is stored.
	VerifyWebhook bool
}

type Service struct {
	store    Store
	prices   PairResolver
	webhooks Webhooks
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store Store, prices PairResolver, webhooks Webhooks, opts Options, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		prices:   prices,
		webhooks: webhooks,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Create validates in, checks that the pair currently resolves and,
// optionally, that the webhook accepts a test message, then stores the alert.
func (s *Service) Create(ctx context.Context, in models.CreateInput) (*models.Alert, error) {
	a, err := models.NewAlert(in, s.now(), s.webhooks.ValidateURL)
	if err != nil {
		return nil, err
	}

	if _, err := s.prices.Resolve(ctx, a.BaseCurrency, a.QuoteCurrency); err != nil {
		s.logger.Info("Rejected alert for unresolvable pair", zap.String("pair", a.Pair()), zap.Error(err))
		return nil, &models.ValidationError{Field: "currency_pair", Reason: fmt.Sprintf("%s cannot be priced", a.Pair())}
	}

	if s.opts.VerifyWebhook {
		if err := s.webhooks.TestDelivery(ctx, a.WebhookURL); err != nil {
			return nil, &models.ValidationError{Field: "webhook_url", Reason: "test delivery failed"}
		}
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("Alert created",
		zap.Int64("alert_id", a.ID),
		zap.String("pair", a.Pair()),
		zap.String("condition", string(a.ConditionType)),
		zap.Float64("target", a.TargetPrice),
	)
	return a, nil
}

// List returns alerts newest first. activeOnly keeps alerts that the monitor
// would still evaluate.
func (s *Service) List(ctx context.Context, userIdentifier string, activeOnly bool) ([]*models.Alert, error) {
	f := models.Filter{UserIdentifier: userIdentifier}
	if activeOnly {
		f.Active = models.Bool(true)
		f.Triggered = models.Bool(false)
	}
	alerts, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	return alerts, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Alert, error) {
	return s.store.Get(ctx, id)
}

// Delete reports whether the alert existed.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Info("Alert deleted", zap.Int64("alert_id", id))
	}
	return ok, nil
}

// Toggle deactivates an active alert, or reactivates an inactive one and
// clears its triggered state.
func (s *Service) Toggle(ctx context.Context, id int64) (*models.Alert, error) {
	a, err := s.store.Update(ctx, id, func(a *models.Alert) error {
		a.Toggle(s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Alert toggled", zap.Int64("alert_id", id), zap.Bool("active", a.IsActive))
	return a, nil
}

// Reset clears the triggered state and reactivates the alert.
func (s *Service) Reset(ctx context.Context, id int64) (*models.Alert, error) {
	a, err := s.store.Update(ctx, id, func(a *models.Alert) error {
		now := s.now()
		a.Reset(now)
		a.Activate(now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Alert reset", zap.Int64("alert_id", id))
	return a, nil
}

func (s *Service) Statistics(ctx context.Context, userIdentifier string) (models.AlertStats, error) {
	return s.store.Stats(ctx, userIdentifier)
}

// TestWebhook validates url and sends a test message to it.
func (s *Service) TestWebhook(ctx context.Context, url string) error {
	if err := s.webhooks.ValidateURL(url); err != nil {
		return &models.ValidationError{Field: "webhook_url", Reason: err.Error()}
	}
	return s.webhooks.TestDelivery(ctx, url)
}

