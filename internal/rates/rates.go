package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Rate is one fiat-per-USDC quote, e.g. "83.50" INR per USDC.
type Rate struct {
	Value     string
	Source    string
	FetchedAt time.Time
}

// Source supplies live quotes for a fiat currency.
type Source interface {
	Fetch(ctx context.Context, currency string) (Rate, error)
}

type HTTPSource struct {
	Endpoint string
	client   *http.Client
}

func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPSource{
		Endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, currency string) (Rate, error) {
	endpoint := s.Endpoint + "?currency=" + url.QueryEscape(currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Rate{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Rate{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return Rate{}, fmt.Errorf("rate oracle http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Rate string `json:"rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Rate{}, err
	}
	if out.Rate == "" {
		return Rate{}, errors.New("rate oracle returned empty rate")
	}
	return Rate{Value: out.Rate, Source: "oracle", FetchedAt: time.Now().UTC()}, nil
}

// FixedSource always returns the same rate; used as a standalone source in
// tests and as the terminal fallback in the cache.
type FixedSource struct {
	Value string
}

func (s FixedSource) Fetch(ctx context.Context, currency string) (Rate, error) {
	if s.Value == "" {
		return Rate{}, errors.New("no fixed rate configured")
	}
	return Rate{Value: s.Value, Source: "fixed", FetchedAt: time.Now().UTC()}, nil
}

type cached struct {
	rate      Rate
	expiresAt time.Time
}

// Cache wraps a Source with a short TTL and a fallback rate. Oracle
// failures degrade to the last cached quote, then to the fixed fallback,
// with a warning; they never fail order creation.
type Cache struct {
	src      Source
	ttl      time.Duration
	fallback string

	mu      sync.Mutex
	entries map[string]cached
}

func NewCache(src Source, ttl time.Duration, fallback string) *Cache {
	return &Cache{
		src:      src,
		ttl:      ttl,
		fallback: fallback,
		entries:  make(map[string]cached),
	}
}

func (c *Cache) Current(ctx context.Context, currency string) (Rate, error) {
	now := time.Now().UTC()

	c.mu.Lock()
	entry, ok := c.entries[currency]
	c.mu.Unlock()
	if ok && entry.expiresAt.After(now) {
		return entry.rate, nil
	}

	rate, err := c.src.Fetch(ctx, currency)
	if err == nil {
		c.mu.Lock()
		c.entries[currency] = cached{rate: rate, expiresAt: now.Add(c.ttl)}
		c.mu.Unlock()
		return rate, nil
	}

	if ok {
		log.WithFields(log.Fields{"currency": currency, "error": err}).
			Warn("rate oracle failed, using stale cached rate")
		stale := entry.rate
		stale.Source = "stale-cache"
		return stale, nil
	}
	if c.fallback != "" {
		log.WithFields(log.Fields{"currency": currency, "error": err}).
			Warn("rate oracle failed, using fixed fallback rate")
		return Rate{Value: c.fallback, Source: "fallback", FetchedAt: now}, nil
	}
	return Rate{}, err
}

// FiatCents converts a USDC amount in cents to fiat cents at the given
// decimal rate, rounding half up. 5000 cents at "83.50" yields 417500.
func FiatCents(usdcCents int64, rate string) (int64, error) {
	r, ok := new(big.Rat).SetString(rate)
	if !ok || r.Sign() <= 0 {
		return 0, fmt.Errorf("invalid rate %q", rate)
	}
	product := new(big.Rat).Mul(big.NewRat(usdcCents, 1), r)

	num := new(big.Int).Mul(product.Num(), big.NewInt(2))
	num.Add(num, product.Denom())
	den := new(big.Int).Mul(product.Denom(), big.NewInt(2))
	out := new(big.Int).Quo(num, den)
	if !out.IsInt64() {
		return 0, errors.New("fiat amount overflows int64")
	}
	return out.Int64(), nil
}
