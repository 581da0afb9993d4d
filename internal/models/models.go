package models

import (
	"fmt"
	"time"
)

// ConditionType selects the direction a price must cross to trigger.
type ConditionType string

const (
	ConditionAbove ConditionType = "above"
	ConditionBelow ConditionType = "below"
)

// Valid reports whether c is one of the two supported conditions.
func (c ConditionType) Valid() bool {
	return c == ConditionAbove || c == ConditionBelow
}

// Alert represents a price-threshold rule on a currency pair and the
// webhook that is notified when it fires.
type Alert struct {
	ID             int64         `json:"id" db:"id"`
	BaseCurrency   string        `json:"base_currency" db:"base_currency"`
	QuoteCurrency  string        `json:"quote_currency" db:"quote_currency"`
	ConditionType  ConditionType `json:"condition_type" db:"condition_type"`
	TargetPrice    float64       `json:"target_price" db:"target_price"`
	WebhookURL     string        `json:"webhook_url" db:"webhook_url"`
	IsActive       bool          `json:"is_active" db:"is_active"`
	IsTriggered    bool          `json:"is_triggered" db:"is_triggered"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	TriggeredAt    *time.Time    `json:"triggered_at,omitempty" db:"triggered_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
	UserIdentifier string        `json:"user_identifier,omitempty" db:"user_identifier"`
	Note           string        `json:"note,omitempty" db:"note"`
	TriggerCount   int           `json:"trigger_count" db:"trigger_count"`
}

// Pair renders the currency pair as BASE/QUOTE.
func (a *Alert) Pair() string {
	return fmt.Sprintf("%s/%s", a.BaseCurrency, a.QuoteCurrency)
}

// Eligible reports whether the monitor should evaluate the alert.
func (a *Alert) Eligible() bool {
	return a.IsActive && !a.IsTriggered
}

// ShouldTrigger evaluates the alert condition against the current ratio.
func (a *Alert) ShouldTrigger(ratio float64) bool {
	return Evaluate(a.ConditionType, a.TargetPrice, ratio)
}

// MarkTriggered records a successful trigger.
func (a *Alert) MarkTriggered(now time.Time) {
	a.IsTriggered = true
	a.TriggeredAt = &now
	a.TriggerCount++
	a.UpdatedAt = now
}

// Activate enables evaluation of the alert.
func (a *Alert) Activate(now time.Time) {
	a.IsActive = true
	a.UpdatedAt = now
}

// Deactivate pauses evaluation without touching the triggered state.
func (a *Alert) Deactivate(now time.Time) {
	a.IsActive = false
	a.UpdatedAt = now
}

// Reset clears the triggered state. TriggerCount is kept.
func (a *Alert) Reset(now time.Time) {
	a.IsTriggered = false
	a.TriggeredAt = nil
	a.UpdatedAt = now
}

// Toggle deactivates an active alert, or reactivates an inactive one and
// clears a previous trigger so it becomes eligible again.
func (a *Alert) Toggle(now time.Time) {
	if a.IsActive {
		a.Deactivate(now)
		return
	}
	a.Activate(now)
	if a.IsTriggered {
		a.Reset(now)
	}
}

// Filter narrows alert queries. Nil pointers mean "any".
type Filter struct {
	UserIdentifier string
	Active         *bool
	Triggered      *bool
}

// Bool is a helper for building filters.
func Bool(v bool) *bool {
	return &v
}

// AlertStats summarises the alert table.
type AlertStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Triggered int `json:"triggered"`
	Inactive  int `json:"inactive"`
}
