package dxy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Provider fetches the current dollar-index quote
type Provider interface {
	Name() string
	FetchIndex(ctx context.Context) (float64, time.Time, error)
}

// GoldFeed supplies the gold leg of the correlation series
type GoldFeed interface {
	LastPrice(ctx context.Context) (float64, error)
}

// ErrRateLimited is returned when a provider's local limiter denies a call
var ErrRateLimited = fmt.Errorf("provider rate limited")

// guarded wraps a provider with a token-bucket limiter and a circuit
// breaker so one flapping upstream cannot stall the refresh loop.
type guarded struct {
	inner   Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Guard wraps provider with ratePerMinute and a circuit breaker
func Guard(provider Provider, ratePerMinute float64) Provider {
	return &guarded{
		inner:   provider,
		limiter: rate.NewLimiter(rate.Limit(ratePerMinute/60.0), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    provider.Name(),
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (g *guarded) Name() string { return g.inner.Name() }

func (g *guarded) FetchIndex(ctx context.Context) (float64, time.Time, error) {
	if !g.limiter.Allow() {
		return 0, time.Time{}, ErrRateLimited
	}

	type quote struct {
		price float64
		ts    time.Time
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		price, ts, err := g.inner.FetchIndex(ctx)
		if err != nil {
			return nil, err
		}
		return quote{price: price, ts: ts}, nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	q := out.(quote)
	return q.price, q.ts, nil
}

// twelveData is the primary quote provider
type twelveData struct {
	client *resty.Client
	apiKey string
}

// NewTwelveData creates the twelvedata provider
func NewTwelveData(apiKey string, timeout time.Duration) Provider {
	return &twelveData{
		client: resty.New().
			SetBaseURL("https://api.twelvedata.com").
			SetTimeout(timeout),
		apiKey: apiKey,
	}
}

func (p *twelveData) Name() string { return "twelvedata" }

func (p *twelveData) FetchIndex(ctx context.Context) (float64, time.Time, error) {
	var body struct {
		Price   string `json:"price"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": "DXY",
			"apikey": p.apiKey,
		}).
		SetResult(&body).
		Get("/price")
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("twelvedata request failed: %w", err)
	}
	if resp.IsError() || body.Status == "error" {
		return 0, time.Time{}, fmt.Errorf("twelvedata error: status %d %s", resp.StatusCode(), body.Message)
	}

	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("twelvedata returned unparseable price %q", body.Price)
	}
	return price, time.Now().UTC(), nil
}

// fmpQuote is the fallback quote provider (financialmodelingprep)
type fmpQuote struct {
	client *resty.Client
	apiKey string
}

// NewFMP creates the financialmodelingprep fallback provider
func NewFMP(apiKey string, timeout time.Duration) Provider {
	return &fmpQuote{
		client: resty.New().
			SetBaseURL("https://financialmodelingprep.com").
			SetTimeout(timeout),
		apiKey: apiKey,
	}
}

func (p *fmpQuote) Name() string { return "fmp" }

func (p *fmpQuote) FetchIndex(ctx context.Context) (float64, time.Time, error) {
	var body []struct {
		Price     float64 `json:"price"`
		Timestamp int64   `json:"timestamp"`
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("apikey", p.apiKey).
		SetResult(&body).
		Get("/api/v3/quote/%5EDXY")
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("fmp request failed: %w", err)
	}
	if resp.IsError() || len(body) == 0 {
		return 0, time.Time{}, fmt.Errorf("fmp error: status %d, %d quotes", resp.StatusCode(), len(body))
	}

	ts := time.Now().UTC()
	if body[0].Timestamp > 0 {
		ts = time.Unix(body[0].Timestamp, 0).UTC()
	}
	return body[0].Price, ts, nil
}

// binanceGold feeds the gold series from the PAXG/USDT pair, a tokenized
// gold proxy that trades around spot XAU.
type binanceGold struct {
	client *binance.Client
	pair   string
}

// NewBinanceGold creates the PAXG-backed gold feed
func NewBinanceGold(pair string) GoldFeed {
	return &binanceGold{
		client: binance.NewClient("", ""),
		pair:   pair,
	}
}

func (f *binanceGold) LastPrice(ctx context.Context) (float64, error) {
	prices, err := f.client.NewListPricesService().Symbol(f.pair).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance %s price failed: %w", f.pair, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("binance returned no price for %s", f.pair)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance returned unparseable price %q", prices[0].Price)
	}
	return price, nil
}
