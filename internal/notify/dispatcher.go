// Package notify delivers alert notifications to Discord webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"pricealerts/internal/models"

	"go.uber.org/zap"
)

// ErrDeliveryFailed wraps every failed delivery attempt.
var ErrDeliveryFailed = errors.New("notification delivery failed")

var webhookPattern = regexp.MustCompile(`^https://(discord\.com|discordapp\.com)/api/webhooks/\d+/[A-Za-z0-9_-]+$`)

// Options configures a Dispatcher.
type Options struct {
	Timeout  time.Duration
	Username string
	Footer   string
}

// Dispatcher performs single synchronous webhook deliveries. It never retries.
type Dispatcher struct {
	client   *http.Client
	username string
	footer   string
	logger   *zap.Logger
	now      func() time.Time
}

func NewDispatcher(opts Options, logger *zap.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Username == "" {
		opts.Username = "Price Alerts"
	}
	if opts.Footer == "" {
		opts.Footer = "Price Alerts monitor"
	}
	return &Dispatcher{
		client:   &http.Client{Timeout: opts.Timeout},
		username: opts.Username,
		footer:   opts.Footer,
		logger:   logger,
		now:      time.Now,
	}
}

// ValidateURL checks that url has the shape of a Discord webhook.
func ValidateURL(url string) error {
	if !webhookPattern.MatchString(url) {
		return errors.New("must be a https://discord.com/api/webhooks/<id>/<token> URL")
	}
	return nil
}

// ValidateURL is the method form used as a models.NewAlert URL check.
func (d *Dispatcher) ValidateURL(url string) error {
	return ValidateURL(url)
}

// Deliver notifies webhookURL that alert fired at ratio. basePrice is the
// base leg's price, shown when it differs from the ratio.
func (d *Dispatcher) Deliver(ctx context.Context, webhookURL string, alert *models.Alert, basePrice, ratio float64) error {
	msg := AlertMessage(d.username, d.footer, alert, basePrice, ratio, d.now())
	if err := d.send(ctx, webhookURL, msg); err != nil {
		d.logger.Warn("Alert notification failed",
			zap.Int64("alert_id", alert.ID),
			zap.String("pair", alert.Pair()),
			zap.Error(err),
		)
		return err
	}
	d.logger.Info("Alert notification sent",
		zap.Int64("alert_id", alert.ID),
		zap.String("pair", alert.Pair()),
		zap.Float64("ratio", ratio),
	)
	return nil
}

// TestDelivery sends a minimal synthetic message to webhookURL.
func (d *Dispatcher) TestDelivery(ctx context.Context, webhookURL string) error {
	return d.send(ctx, webhookURL, ConnectivityMessage(d.username, d.footer, d.now()))
}

func (d *Dispatcher) send(ctx context.Context, webhookURL string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode message: %v", ErrDeliveryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer res.Body.Close()

	// 204 is Discord's accepted response; 200 is returned for ?wait=true.
	if res.StatusCode == http.StatusNoContent || res.StatusCode == http.StatusOK {
		io.Copy(io.Discard, res.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return fmt.Errorf("%w: status %d: %s", ErrDeliveryFailed, res.StatusCode, bytes.TrimSpace(snippet))
}
