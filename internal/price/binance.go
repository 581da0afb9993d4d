package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// BinanceClient reads spot ticker prices from the public Binance REST API.
type BinanceClient struct {
	BaseURL    string
	Stable     string
	HTTPClient *http.Client
	Limiter    Limiter
}

// NewBinanceClient builds a ticker client. An empty baseURL uses api.binance.com.
func NewBinanceClient(baseURL, stable string, timeout time.Duration, limiter Limiter) *BinanceClient {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	if stable == "" {
		stable = DefaultStable
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BinanceClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Stable:     strings.ToUpper(stable),
		HTTPClient: &http.Client{Timeout: timeout},
		Limiter:    limiter,
	}
}

// StablePrice fetches the <SYMBOL><STABLE> ticker price.
func (c *BinanceClient) StablePrice(ctx context.Context, symbol string) (float64, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol)+c.Stable)
	u := fmt.Sprintf("%s/api/v3/ticker/price?%s", c.BaseURL, params.Encode())

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
		return 0, fmt.Errorf("binance ticker %s status %d", params.Get("symbol"), res.StatusCode)
	}

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, fmt.Errorf("decode binance ticker: %w", err)
	}

	p, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse binance price %q: %w", resp.Price, err)
	}
	return p, nil
}
