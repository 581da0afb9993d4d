// Package events carries alert trigger notifications to downstream consumers
// (Kafka, Redis pub/sub, live streams).
package events

import (
	"context"
	"errors"
	"time"

	"pricealerts/internal/models"

	"github.com/google/uuid"
)

const (
	// KafkaTopic receives one record per persisted trigger, keyed by alert id.
	KafkaTopic = "alerts.triggered"
	// RedisChannel fans triggers out to every API instance's live streams.
	RedisChannel = "price_alerts"
)

// TriggerEvent describes one persisted trigger.
type TriggerEvent struct {
	ID             string               `json:"id"`
	AlertID        int64                `json:"alert_id"`
	UserIdentifier string               `json:"user_identifier,omitempty"`
	BaseCurrency   string               `json:"base_currency"`
	QuoteCurrency  string               `json:"quote_currency"`
	ConditionType  models.ConditionType `json:"condition_type"`
	TargetPrice    float64              `json:"target_price"`
	Ratio          float64              `json:"ratio,omitempty"`
	BasePrice      float64              `json:"base_price,omitempty"`
	TriggerCount   int                  `json:"trigger_count"`
	TriggeredAt    time.Time            `json:"triggered_at"`
}

// NewTriggerEvent snapshots a triggered alert. Ratio and basePrice may be
// zero when the trigger was persisted in a later cycle.
func NewTriggerEvent(a *models.Alert, basePrice, ratio float64) TriggerEvent {
	ev := TriggerEvent{
		ID:             uuid.NewString(),
		AlertID:        a.ID,
		UserIdentifier: a.UserIdentifier,
		BaseCurrency:   a.BaseCurrency,
		QuoteCurrency:  a.QuoteCurrency,
		ConditionType:  a.ConditionType,
		TargetPrice:    a.TargetPrice,
		Ratio:          ratio,
		BasePrice:      basePrice,
		TriggerCount:   a.TriggerCount,
		TriggeredAt:    time.Now().UTC(),
	}
	if a.TriggeredAt != nil {
		ev.TriggeredAt = a.TriggeredAt.UTC()
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, ev TriggerEvent) error
}

// Multi publishes to every non-nil publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev TriggerEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
