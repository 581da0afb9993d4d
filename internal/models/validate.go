package models

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// ErrValidation matches every *ValidationError through errors.Is.
var ErrValidation = errors.New("validation failed")

const maxNoteLength = 1000

var (
	currencyPattern = regexp.MustCompile(`^[A-Z0-9-]{2,10}$`)
	userIDPattern   = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)
)

// ValidationError describes a rejected field of a creation request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// CreateInput carries the caller-supplied fields of a new alert.
type CreateInput struct {
	BaseCurrency   string        `json:"base_currency"`
	QuoteCurrency  string        `json:"quote_currency"`
	ConditionType  ConditionType `json:"condition_type"`
	TargetPrice    float64       `json:"target_price"`
	WebhookURL     string        `json:"webhook_url"`
	UserIdentifier string        `json:"user_identifier,omitempty"`
	Note           string        `json:"note,omitempty"`
}

// NormalizeCurrency trims and upper-cases a currency symbol.
func NormalizeCurrency(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// NewAlert validates in and builds an active, untriggered alert. checkURL
// verifies the webhook shape for the configured notification backend; nil
// only requires a non-empty URL.
func NewAlert(in CreateInput, now time.Time, checkURL func(string) error) (*Alert, error) {
	base := NormalizeCurrency(in.BaseCurrency)
	quote := NormalizeCurrency(in.QuoteCurrency)

	if !currencyPattern.MatchString(base) {
		return nil, &ValidationError{Field: "base_currency", Reason: fmt.Sprintf("%q is not a currency symbol", in.BaseCurrency)}
	}
	if !currencyPattern.MatchString(quote) {
		return nil, &ValidationError{Field: "quote_currency", Reason: fmt.Sprintf("%q is not a currency symbol", in.QuoteCurrency)}
	}
	if base == quote {
		return nil, &ValidationError{Field: "quote_currency", Reason: "must differ from base_currency"}
	}
	if !in.ConditionType.Valid() {
		return nil, &ValidationError{Field: "condition_type", Reason: fmt.Sprintf("%q must be above or below", in.ConditionType)}
	}
	if math.IsNaN(in.TargetPrice) || math.IsInf(in.TargetPrice, 0) || in.TargetPrice <= 0 {
		return nil, &ValidationError{Field: "target_price", Reason: "must be a finite number greater than zero"}
	}

	webhook := strings.TrimSpace(in.WebhookURL)
	if webhook == "" {
		return nil, &ValidationError{Field: "webhook_url", Reason: "is required"}
	}
	if checkURL != nil {
		if err := checkURL(webhook); err != nil {
			return nil, &ValidationError{Field: "webhook_url", Reason: err.Error()}
		}
	}

	userID := strings.TrimSpace(in.UserIdentifier)
	if userID != "" && !userIDPattern.MatchString(userID) {
		return nil, &ValidationError{Field: "user_identifier", Reason: "must be 3-50 letters, digits, '_' or '-'"}
	}

	return &Alert{
		BaseCurrency:   base,
		QuoteCurrency:  quote,
		ConditionType:  in.ConditionType,
		TargetPrice:    in.TargetPrice,
		WebhookURL:     webhook,
		IsActive:       true,
		IsTriggered:    false,
		CreatedAt:      now,
		UpdatedAt:      now,
		UserIdentifier: userID,
		Note:           SanitizeNote(in.Note),
	}, nil
}

// SanitizeNote strips control characters and caps the note length.
func SanitizeNote(note string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, strings.TrimSpace(note))

	runes := []rune(cleaned)
	if len(runes) > maxNoteLength {
		runes = runes[:maxNoteLength]
	}
	return string(runes)
}
