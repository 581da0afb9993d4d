// Package price turns a currency pair into a current exchange ratio using a
// fiat exchange-rate API and a crypto exchange ticker.
package price

import (
	"context"
	"errors"
)

// ErrPriceUnavailable wraps every resolution failure: unsupported pairs,
// upstream errors and malformed payloads.
var ErrPriceUnavailable = errors.New("price unavailable")

// Quote is the resolved price of a pair. Ratio is base expressed in quote.
type Quote struct {
	BasePrice  float64 `json:"base_price"`
	QuotePrice float64 `json:"quote_price"`
	Ratio      float64 `json:"ratio"`
}

// CryptoSource prices a crypto asset in the stable quote asset.
type CryptoSource interface {
	StablePrice(ctx context.Context, symbol string) (float64, error)
}

// FiatSource returns how many units of `to` one unit of `from` buys.
type FiatSource interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

// DefaultFiat is the recognised fiat set.
var DefaultFiat = []string{"USD", "CNY", "EUR", "JPY", "GBP", "KRW", "CAD", "AUD", "CHF", "HKD", "SGD", "INR"}

// DefaultStable is the USD-pegged asset crypto legs are priced against.
const DefaultStable = "USDT"
