package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const defaultLookupTimeout = 3 * time.Second

// ProviderID names the vendor a request is sent to.
type ProviderID int

const (
	Primary ProviderID = iota
	Fallback
)

func (p ProviderID) String() string {
	switch p {
	case Primary:
		return "primary"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Capabilities is everything the routing decision depends on.
type Capabilities struct {
	Country           string
	RestrictedCountry string
	PrimaryAvailable  bool
}

// Decide picks the provider: Fallback when the caller is in the restricted
// country or the primary credential is absent, Primary otherwise.
func Decide(c Capabilities) ProviderID {
	if !c.PrimaryAvailable {
		return Fallback
	}
	restricted := strings.TrimSpace(c.RestrictedCountry)
	if restricted != "" && strings.EqualFold(strings.TrimSpace(c.Country), restricted) {
		return Fallback
	}
	return Primary
}

// Locator resolves an IP address to an ISO country code. An empty ip means the
// caller's own public address.
type Locator interface {
	Country(ctx context.Context, ip string) (string, error)
}

// Options configures a Router.
type Options struct {
	Locator           Locator
	RestrictedCountry string
	DefaultCountry    string
	PrimaryAvailable  bool
	Timeout           time.Duration
	Logger            *slog.Logger
}

// Router selects a provider for each request.
type Router struct {
	opts Options
}

// New creates a Router. A zero Timeout selects 3s; an empty DefaultCountry
// selects "us".
func New(opts Options) *Router {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultLookupTimeout
	}
	if opts.DefaultCountry == "" {
		opts.DefaultCountry = "us"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{opts: opts}
}

// Select returns the provider for a request from clientIP. It never fails: an
// unknown location resolves to the default country. The lookup is skipped
// when the primary credential is absent since the answer is already known.
func (r *Router) Select(ctx context.Context, clientIP string) ProviderID {
	caps := Capabilities{
		RestrictedCountry: r.opts.RestrictedCountry,
		PrimaryAvailable:  r.opts.PrimaryAvailable,
	}
	if caps.PrimaryAvailable {
		caps.Country = r.country(ctx, clientIP)
	}

	id := Decide(caps)
	r.opts.Logger.Debug("provider selected", "provider", id, "country", caps.Country, "primary_available", caps.PrimaryAvailable)
	return id
}

func (r *Router) country(ctx context.Context, clientIP string) string {
	if r.opts.Locator == nil {
		return r.opts.DefaultCountry
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	country, err := safeLookup(lookupCtx, r.opts.Locator, clientIP)
	if err != nil {
		r.opts.Logger.Warn("geo lookup failed, using default country", "error", err, "default", r.opts.DefaultCountry)
		return r.opts.DefaultCountry
	}
	country = strings.ToLower(strings.TrimSpace(country))
	if country == "" {
		return r.opts.DefaultCountry
	}
	return country
}

func safeLookup(ctx context.Context, l Locator, ip string) (country string, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("geo lookup panicked: %v", v)
		}
	}()
	return l.Country(ctx, ip)
}
