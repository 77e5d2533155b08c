package rates

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFiatCents(t *testing.T) {
	cases := []struct {
		usdcCents int64
		rate      string
		want      int64
	}{
		{5000, "83.50", 417500},
		{5000, "1", 5000},
		{100, "0.915", 92},
		{3, "0.5", 2},
		{1, "0.25", 0},
		{250000, "83.505", 20876250},
	}
	for _, tc := range cases {
		got, err := FiatCents(tc.usdcCents, tc.rate)
		if err != nil {
			t.Fatalf("FiatCents(%d, %q): %v", tc.usdcCents, tc.rate, err)
		}
		if got != tc.want {
			t.Errorf("FiatCents(%d, %q) = %d, want %d", tc.usdcCents, tc.rate, got, tc.want)
		}
	}
}

func TestFiatCentsInvalidRate(t *testing.T) {
	for _, rate := range []string{"", "abc", "0", "-83.50"} {
		if _, err := FiatCents(100, rate); err == nil {
			t.Errorf("FiatCents(100, %q): expected error", rate)
		}
	}
}

type stubSource struct {
	rate  string
	err   error
	calls int
}

func (s *stubSource) Fetch(ctx context.Context, currency string) (Rate, error) {
	s.calls++
	if s.err != nil {
		return Rate{}, s.err
	}
	return Rate{Value: s.rate, Source: "stub", FetchedAt: time.Now().UTC()}, nil
}

func TestCacheServesFreshEntry(t *testing.T) {
	src := &stubSource{rate: "83.50"}
	cache := NewCache(src, time.Minute, "")

	for i := 0; i < 3; i++ {
		rate, err := cache.Current(context.Background(), "INR")
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
		if rate.Value != "83.50" {
			t.Fatalf("rate = %q, want 83.50", rate.Value)
		}
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}
}

func TestCacheDegradesToStaleEntry(t *testing.T) {
	src := &stubSource{rate: "83.50"}
	cache := NewCache(src, -time.Second, "90.00")

	if _, err := cache.Current(context.Background(), "INR"); err != nil {
		t.Fatalf("Current: %v", err)
	}

	src.err = errors.New("oracle down")
	rate, err := cache.Current(context.Background(), "INR")
	if err != nil {
		t.Fatalf("Current after oracle failure: %v", err)
	}
	if rate.Value != "83.50" || rate.Source != "stale-cache" {
		t.Errorf("rate = %+v, want stale-cache 83.50", rate)
	}
}

func TestCacheDegradesToFallback(t *testing.T) {
	src := &stubSource{err: errors.New("oracle down")}
	cache := NewCache(src, time.Minute, "90.00")

	rate, err := cache.Current(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if rate.Value != "90.00" || rate.Source != "fallback" {
		t.Errorf("rate = %+v, want fallback 90.00", rate)
	}
}

func TestCacheFailsWithoutFallback(t *testing.T) {
	src := &stubSource{err: errors.New("oracle down")}
	cache := NewCache(src, time.Minute, "")

	if _, err := cache.Current(context.Background(), "EUR"); err == nil {
		t.Fatal("expected error when oracle is down and no fallback is set")
	}
}
