package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pricealerts/internal/models"

	"go.uber.org/zap"
)

type webhookRecorder struct {
	mu       sync.Mutex
	status   int
	messages []Message
}

func (w *webhookRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	w.mu.Lock()
	w.messages = append(w.messages, msg)
	status := w.status
	w.mu.Unlock()
	rw.WriteHeader(status)
}

func testAlert(cond models.ConditionType) *models.Alert {
	return &models.Alert{
		ID:            7,
		BaseCurrency:  "BTC",
		QuoteCurrency: "USD",
		ConditionType: cond,
		TargetPrice:   50000,
		WebhookURL:    "https://discord.com/api/webhooks/1/abc",
		IsActive:      true,
		Note:          "take profit",
	}
}

func TestDeliver(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		cond    models.ConditionType
		wantErr bool
		color   int
	}{
		{"accepted no content", http.StatusNoContent, models.ConditionAbove, false, colorAbove},
		{"accepted with wait", http.StatusOK, models.ConditionBelow, false, colorBelow},
		{"rate limited", http.StatusTooManyRequests, models.ConditionAbove, true, colorAbove},
		{"unknown webhook", http.StatusNotFound, models.ConditionAbove, true, colorAbove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &webhookRecorder{status: tt.status}
			srv := httptest.NewServer(rec)
			defer srv.Close()

			d := NewDispatcher(Options{Timeout: time.Second}, zap.NewNop())
			err := d.Deliver(context.Background(), srv.URL, testAlert(tt.cond), 50000.01, 50000.01)

			if tt.wantErr {
				if !errors.Is(err, ErrDeliveryFailed) {
					t.Fatalf("Deliver error = %v, want ErrDeliveryFailed", err)
				}
			} else if err != nil {
				t.Fatalf("Deliver: %v", err)
			}

			if len(rec.messages) != 1 {
				t.Fatalf("webhook received %d messages, want exactly 1", len(rec.messages))
			}
			embed := rec.messages[0].Embeds[0]
			if embed.Color != tt.color {
				t.Errorf("color = %#x, want %#x", embed.Color, tt.color)
			}
			if !strings.Contains(rec.messages[0].Content, "BTC/USD") {
				t.Errorf("content %q does not name the pair", rec.messages[0].Content)
			}
			last := embed.Fields[len(embed.Fields)-1]
			if last.Name != "Note" || last.Value != "take profit" {
				t.Errorf("note field = %+v", last)
			}
		})
	}
}

func TestDeliverTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewDispatcher(Options{Timeout: time.Second}, zap.NewNop())
	err := d.Deliver(context.Background(), url, testAlert(models.ConditionAbove), 1, 1)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Deliver error = %v, want ErrDeliveryFailed", err)
	}
}

func TestDeliverTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher(Options{Timeout: 20 * time.Millisecond}, zap.NewNop())
	if err := d.TestDelivery(context.Background(), srv.URL); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("TestDelivery error = %v, want ErrDeliveryFailed", err)
	}
}

func TestDeliveryConnectivityCheck(t *testing.T) {
	rec := &webhookRecorder{status: http.StatusNoContent}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	d := NewDispatcher(Options{}, zap.NewNop())
	if err := d.TestDelivery(context.Background(), srv.URL); err != nil {
		t.Fatalf("TestDelivery: %v", err)
	}
	if len(rec.messages) != 1 || rec.messages[0].Embeds[0].Title != "Test notification" {
		t.Errorf("unexpected messages: %+v", rec.messages)
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://discord.com/api/webhooks/123456/abc_DEF-789", true},
		{"https://discordapp.com/api/webhooks/1/x", true},
		{"http://discord.com/api/webhooks/123/abc", false},
		{"https://discord.com/api/webhooks/abc/def", false},
		{"https://example.com/api/webhooks/123/abc", false},
		{"https://discord.com/api/webhooks/123/abc?x=1", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err == nil) != tt.valid {
				t.Errorf("ValidateURL(%q) = %v, want valid=%v", tt.url, err, tt.valid)
			}
		})
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{50000, "50000"},
		{50000.016, "50000.02"},
		{1.10, "1.1"},
		{1.23456, "1.2346"},
		{0.000123456, "0.000123"},
		{0.05, "0.05"},
	}

	for _, tt := range tests {
		if got := FormatPrice(tt.in); got != tt.want {
			t.Errorf("FormatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatChange(t *testing.T) {
	if got := FormatChange(55000, 50000); got != "+5000 (+10.00%)" {
		t.Errorf("FormatChange up = %q", got)
	}
	if got := FormatChange(1.05, 1.10); got != "-0.05 (-4.55%)" {
		t.Errorf("FormatChange down = %q", got)
	}
}
