package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubLocator struct {
	country string
	err     error
	delay   time.Duration
	panics  bool
	calls   atomic.Int32
	gotIP   string
}

func (s *stubLocator) Country(ctx context.Context, ip string) (string, error) {
	s.calls.Add(1)
	s.gotIP = ip
	if s.panics {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.country, s.err
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want ProviderID
	}{
		{"us with key", Capabilities{Country: "us", RestrictedCountry: "cn", PrimaryAvailable: true}, Primary},
		{"restricted country", Capabilities{Country: "cn", RestrictedCountry: "cn", PrimaryAvailable: true}, Fallback},
		{"restricted case-insensitive", Capabilities{Country: "CN", RestrictedCountry: "cn", PrimaryAvailable: true}, Fallback},
		{"no key us", Capabilities{Country: "us", RestrictedCountry: "cn"}, Fallback},
		{"no key unknown", Capabilities{RestrictedCountry: "cn"}, Fallback},
		{"empty country with key", Capabilities{RestrictedCountry: "cn", PrimaryAvailable: true}, Primary},
		{"no restriction", Capabilities{Country: "cn", PrimaryAvailable: true}, Primary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.caps))
		})
	}
}

func TestDecide_FallbackWheneverPrimaryMissing(t *testing.T) {
	for _, country := range []string{"", "us", "cn", "de", "br", "zz"} {
		assert.Equal(t, Fallback, Decide(Capabilities{Country: country, RestrictedCountry: "cn"}), country)
	}
}

func TestProviderIDString(t *testing.T) {
	assert.Equal(t, "primary", Primary.String())
	assert.Equal(t, "fallback", Fallback.String())
	assert.Equal(t, "unknown", ProviderID(9).String())
}

func TestSelect_PrimaryForUS(t *testing.T) {
	loc := &stubLocator{country: "US"}
	r := New(Options{Locator: loc, RestrictedCountry: "cn", PrimaryAvailable: true})

	assert.Equal(t, Primary, r.Select(context.Background(), "8.8.8.8"))
	assert.Equal(t, "8.8.8.8", loc.gotIP)
}

func TestSelect_FallbackForRestrictedCountry(t *testing.T) {
	r := New(Options{Locator: &stubLocator{country: "cn"}, RestrictedCountry: "cn", PrimaryAvailable: true})
	assert.Equal(t, Fallback, r.Select(context.Background(), "1.2.3.4"))
}

func TestSelect_SkipsLookupWithoutPrimaryKey(t *testing.T) {
	loc := &stubLocator{country: "us"}
	r := New(Options{Locator: loc, RestrictedCountry: "cn"})

	assert.Equal(t, Fallback, r.Select(context.Background(), "1.2.3.4"))
	assert.Zero(t, loc.calls.Load())
}

func TestSelect_LookupTimeoutUsesDefault(t *testing.T) {
	loc := &stubLocator{country: "cn", delay: time.Second}
	r := New(Options{Locator: loc, RestrictedCountry: "cn", PrimaryAvailable: true, Timeout: 20 * time.Millisecond})

	start := time.Now()
	got := r.Select(context.Background(), "1.2.3.4")

	assert.Equal(t, Primary, got)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSelect_DefaultCountryCanBeRestricted(t *testing.T) {
	r := New(Options{
		Locator:           &stubLocator{err: errors.New("network down")},
		RestrictedCountry: "cn",
		DefaultCountry:    "cn",
		PrimaryAvailable:  true,
	})
	assert.Equal(t, Fallback, r.Select(context.Background(), ""))
}

func TestSelect_FailuresNeverEscape(t *testing.T) {
	locators := map[string]Locator{
		"error":         &stubLocator{err: errors.New("bad json")},
		"empty country": &stubLocator{country: "  "},
		"panic":         &stubLocator{panics: true},
		"nil":           nil,
	}
	for name, loc := range locators {
		t.Run(name, func(t *testing.T) {
			r := New(Options{Locator: loc, RestrictedCountry: "cn", PrimaryAvailable: true})
			assert.NotPanics(t, func() {
				assert.Equal(t, Primary, r.Select(context.Background(), "1.2.3.4"))
			})
		})
	}
}

func TestSelect_CancelledContextUsesDefault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(Options{Locator: &stubLocator{country: "cn", delay: time.Second}, RestrictedCountry: "cn", PrimaryAvailable: true})
	assert.Equal(t, Primary, r.Select(ctx, "1.2.3.4"))
}
