package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ExchangeRateClient reads fiat rates from an exchangerate-api style
// endpoint: GET /v4/latest/{FROM} -> {"rates": {"EUR": 0.92, ...}}.
type ExchangeRateClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    Limiter
}

// NewExchangeRateClient builds a fiat rate client. An empty baseURL uses api.exchangerate-api.com.
func NewExchangeRateClient(baseURL string, timeout time.Duration, limiter Limiter) *ExchangeRateClient {
	if baseURL == "" {
		baseURL = "https://api.exchangerate-api.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExchangeRateClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Limiter:    limiter,
	}
}

// Rate returns units of `to` per unit of `from`.
func (c *ExchangeRateClient) Rate(ctx context.Context, from, to string) (float64, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	from, to = strings.ToUpper(from), strings.ToUpper(to)
	u := fmt.Sprintf("%s/v4/latest/%s", c.BaseURL, from)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("exchange rate %s status %d", from, res.StatusCode)
	}

	var resp struct {
		Base  string             `json:"base"`
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, fmt.Errorf("decode exchange rates: %w", err)
	}

	rate, ok := resp.Rates[to]
	if !ok {
		return 0, fmt.Errorf("no %s rate for %s", to, from)
	}
	return rate, nil
}
