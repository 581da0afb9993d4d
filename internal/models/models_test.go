package models

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestEvaluateBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		condition ConditionType
		target    float64
		ratio     float64
		want      bool
	}{
		{"above equal triggers", ConditionAbove, 50000, 50000.0, true},
		{"above just below", ConditionAbove, 50000, 49999.99, false},
		{"above just over", ConditionAbove, 50000, 50000.01, true},
		{"below equal triggers", ConditionBelow, 1.10, 1.10, true},
		{"below under", ConditionBelow, 1.10, 1.05, true},
		{"below over", ConditionBelow, 1.10, 1.11, false},
		{"unknown never triggers", ConditionType("sideways"), 1, 1, false},
		{"empty never triggers", ConditionType(""), 1, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.condition, tt.target, tt.ratio); got != tt.want {
				t.Fatalf("Evaluate(%s, %v, %v)=%v, want %v", tt.condition, tt.target, tt.ratio, got, tt.want)
			}
		})
	}
}

func TestEvaluateProperty(t *testing.T) {
	targets := []float64{0.0001, 1, 1.1, 42, 50000}
	deltas := []float64{-1, -0.01, 0, 0.01, 1}

	for _, target := range targets {
		for _, d := range deltas {
			ratio := target + d
			if got := Evaluate(ConditionAbove, target, ratio); got != (ratio >= target) {
				t.Errorf("above target=%v ratio=%v got %v", target, ratio, got)
			}
			if got := Evaluate(ConditionBelow, target, ratio); got != (ratio <= target) {
				t.Errorf("below target=%v ratio=%v got %v", target, ratio, got)
			}
		}
	}
}

func TestResetRoundTripKeepsTriggerCount(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := &Alert{IsActive: true, CreatedAt: t0, UpdatedAt: t0}

	a.MarkTriggered(t0.Add(time.Minute))
	if !a.IsTriggered || a.TriggeredAt == nil || a.TriggerCount != 1 {
		t.Fatalf("after MarkTriggered: %+v", a)
	}
	if a.Eligible() {
		t.Fatal("triggered alert must not be eligible")
	}

	a.Reset(t0.Add(2 * time.Minute))
	a.Activate(t0.Add(3 * time.Minute))

	if a.IsTriggered {
		t.Fatal("IsTriggered should be false after reset")
	}
	if a.TriggeredAt != nil {
		t.Fatal("TriggeredAt should be nil after reset")
	}
	if a.TriggerCount != 1 {
		t.Fatalf("TriggerCount=%d, expected 1", a.TriggerCount)
	}
	if !a.Eligible() {
		t.Fatal("reset alert should be eligible again")
	}
	if !a.UpdatedAt.Equal(t0.Add(3 * time.Minute)) {
		t.Fatalf("UpdatedAt=%v", a.UpdatedAt)
	}
	if !a.CreatedAt.Equal(t0) {
		t.Fatal("CreatedAt must not change")
	}
}

func TestToggle(t *testing.T) {
	now := time.Now()

	t.Run("active alert is deactivated", func(t *testing.T) {
		a := &Alert{IsActive: true}
		a.Toggle(now)
		if a.IsActive {
			t.Fatal("expected inactive")
		}
	})

	t.Run("inactive triggered alert is reactivated and reset", func(t *testing.T) {
		a := &Alert{IsActive: false}
		a.MarkTriggered(now)
		a.Toggle(now)
		if !a.IsActive || a.IsTriggered || a.TriggeredAt != nil {
			t.Fatalf("unexpected state %+v", a)
		}
		if a.TriggerCount != 1 {
			t.Fatalf("TriggerCount=%d", a.TriggerCount)
		}
	})
}

func TestNewAlertValidation(t *testing.T) {
	valid := CreateInput{
		BaseCurrency:  " btc ",
		QuoteCurrency: "usd",
		ConditionType: ConditionAbove,
		TargetPrice:   50000,
		WebhookURL:    "https://discord.com/api/webhooks/1/abc",
		Note:          "moon\x00 soon",
	}

	now := time.Now()
	a, err := NewAlert(valid, now, nil)
	if err != nil {
		t.Fatalf("NewAlert: %v", err)
	}
	if a.BaseCurrency != "BTC" || a.QuoteCurrency != "USD" {
		t.Errorf("currencies not normalized: %s/%s", a.BaseCurrency, a.QuoteCurrency)
	}
	if !a.IsActive || a.IsTriggered || a.TriggerCount != 0 || a.TriggeredAt != nil {
		t.Errorf("unexpected initial state %+v", a)
	}
	if a.Note != "moon soon" {
		t.Errorf("note=%q", a.Note)
	}

	rejectURL := func(string) error { return errors.New("not a discord webhook") }

	tests := []struct {
		name     string
		mutate   func(in *CreateInput)
		checkURL func(string) error
		field    string
	}{
		{"bad base", func(in *CreateInput) { in.BaseCurrency = "B" }, nil, "base_currency"},
		{"bad quote", func(in *CreateInput) { in.QuoteCurrency = "U$D" }, nil, "quote_currency"},
		{"same pair", func(in *CreateInput) { in.QuoteCurrency = "BTC" }, nil, "quote_currency"},
		{"bad condition", func(in *CreateInput) { in.ConditionType = "equal" }, nil, "condition_type"},
		{"zero price", func(in *CreateInput) { in.TargetPrice = 0 }, nil, "target_price"},
		{"negative price", func(in *CreateInput) { in.TargetPrice = -1 }, nil, "target_price"},
		{"nan price", func(in *CreateInput) { in.TargetPrice = math.NaN() }, nil, "target_price"},
		{"inf price", func(in *CreateInput) { in.TargetPrice = math.Inf(1) }, nil, "target_price"},
		{"empty webhook", func(in *CreateInput) { in.WebhookURL = " " }, nil, "webhook_url"},
		{"rejected webhook", func(in *CreateInput) {}, rejectURL, "webhook_url"},
		{"bad user", func(in *CreateInput) { in.UserIdentifier = "a b" }, nil, "user_identifier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := NewAlert(in, now, tt.checkURL)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("expected field %s, got %v", tt.field, err)
			}
		})
	}
}

func TestSanitizeNoteCapsLength(t *testing.T) {
	long := strings.Repeat("é", 1500)
	if got := []rune(SanitizeNote(long)); len(got) != 1000 {
		t.Fatalf("len=%d, expected 1000", len(got))
	}
}
