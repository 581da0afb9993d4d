package price

import (
	"context"
	"fmt"
	"math"
	"strings"

	"pricealerts/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const usd = "USD"

// Resolver classifies each side of a pair as fiat or crypto and picks the
// lookups needed to compute the ratio.
type Resolver struct {
	crypto CryptoSource
	fiat   FiatSource
	stable string
	fiats  map[string]struct{}
}

// NewResolver builds a resolver. Empty fiats or stable fall back to the defaults.
func NewResolver(crypto CryptoSource, fiat FiatSource, fiats []string, stable string) *Resolver {
	if len(fiats) == 0 {
		fiats = DefaultFiat
	}
	if stable == "" {
		stable = DefaultStable
	}
	set := make(map[string]struct{}, len(fiats))
	for _, f := range fiats {
		set[strings.ToUpper(f)] = struct{}{}
	}
	return &Resolver{
		crypto: crypto,
		fiat:   fiat,
		stable: strings.ToUpper(stable),
		fiats:  set,
	}
}

// IsFiat reports whether symbol is in the recognised fiat set.
func (r *Resolver) IsFiat(symbol string) bool {
	_, ok := r.fiats[strings.ToUpper(symbol)]
	return ok
}

// Resolve returns the current quote for base/quote. Every failure wraps
// ErrPriceUnavailable.
func (r *Resolver) Resolve(ctx context.Context, base, quote string) (Quote, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))

	ctx, span := otel.Tracer(tracing.TracerName).Start(ctx, "price.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("pair", base+"/"+quote))

	q, err := r.resolve(ctx, base, quote)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Quote{}, fmt.Errorf("%w: %s/%s: %v", ErrPriceUnavailable, base, quote, err)
	}
	return q, nil
}

func (r *Resolver) resolve(ctx context.Context, base, quote string) (Quote, error) {
	baseFiat, quoteFiat := r.IsFiat(base), r.IsFiat(quote)

	switch {
	case baseFiat && quoteFiat:
		if base == quote {
			return Quote{}, fmt.Errorf("ratio of %s to itself is undefined", base)
		}
		rate, err := r.fiatRate(ctx, base, quote)
		if err != nil {
			return Quote{}, err
		}
		return Quote{BasePrice: 1, QuotePrice: 1 / rate, Ratio: rate}, nil

	case !baseFiat && quoteFiat:
		p, err := r.cryptoInFiat(ctx, base, quote)
		if err != nil {
			return Quote{}, err
		}
		return Quote{BasePrice: p, QuotePrice: 1, Ratio: p}, nil

	case baseFiat && !quoteFiat:
		p, err := r.cryptoInFiat(ctx, quote, base)
		if err != nil {
			return Quote{}, err
		}
		return Quote{BasePrice: 1, QuotePrice: p, Ratio: 1 / p}, nil

	default:
		if base == quote {
			return Quote{}, fmt.Errorf("ratio of %s to itself is undefined", base)
		}
		bp, err := r.stablePrice(ctx, base)
		if err != nil {
			return Quote{}, err
		}
		qp, err := r.stablePrice(ctx, quote)
		if err != nil {
			return Quote{}, err
		}
		return Quote{BasePrice: bp, QuotePrice: qp, Ratio: bp / qp}, nil
	}
}

// stablePrice prices symbol in the stable asset; the stable asset itself is 1.
func (r *Resolver) stablePrice(ctx context.Context, symbol string) (float64, error) {
	if symbol == r.stable {
		return 1, nil
	}
	p, err := r.crypto.StablePrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return checkPositive(symbol+r.stable, p)
}

// cryptoInFiat prices a crypto asset in USD through the stable leg and then
// converts to the target fiat when it is not USD.
func (r *Resolver) cryptoInFiat(ctx context.Context, crypto, fiat string) (float64, error) {
	p, err := r.stablePrice(ctx, crypto)
	if err != nil {
		return 0, err
	}
	if fiat == usd {
		return p, nil
	}
	rate, err := r.fiatRate(ctx, usd, fiat)
	if err != nil {
		return 0, err
	}
	return p * rate, nil
}

func (r *Resolver) fiatRate(ctx context.Context, from, to string) (float64, error) {
	rate, err := r.fiat.Rate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return checkPositive(from+"/"+to, rate)
}

func checkPositive(what string, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("%s: invalid price %v", what, v)
	}
	return v, nil
}
