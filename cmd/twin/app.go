package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kalambet/twin/internal/composer"
	"github.com/kalambet/twin/internal/config"
	"github.com/kalambet/twin/internal/gateway"
	"github.com/kalambet/twin/internal/geo"
	"github.com/kalambet/twin/internal/notify"
	"github.com/kalambet/twin/internal/profile"
	"github.com/kalambet/twin/internal/proxy"
	"github.com/kalambet/twin/internal/router"
)

// app holds the components shared by serve, mcp and the local commands.
type app struct {
	cfg      config.Config
	doc      profile.Document
	gateway  *gateway.Gateway
	primary  *proxy.Client
	fallback *proxy.Client
	sink     *notify.Sink
}

// providerClients builds the two OpenAI-compatible clients from config.
func providerClients(cfg config.Config) (primary, fallback *proxy.Client) {
	p, f := cfg.Providers.Primary, cfg.Providers.Fallback
	primary = proxy.NewClient("openai", p.APIKey, p.BaseURL, p.Model, p.Temperature,
		config.Duration("providers.primary.timeout", p.Timeout, 30*time.Second))
	fallback = proxy.NewClient("deepseek", f.APIKey, f.BaseURL, f.Model, f.Temperature,
		config.Duration("providers.fallback.timeout", f.Timeout, 30*time.Second))
	return primary, fallback
}

// profileStore picks S3 when a bucket is configured, the local files otherwise.
func profileStore(ctx context.Context, cfg config.Config) (*profile.Store, error) {
	pc := cfg.Profile
	if pc.S3Bucket != "" {
		src, err := profile.NewS3Source(ctx, pc.S3Bucket, pc.S3Region)
		if err != nil {
			return nil, err
		}
		bioKey, resumeKey := pc.S3BiographyKey, pc.S3ResumeKey
		if bioKey == "" {
			bioKey = filepath.Base(pc.BiographyFile)
		}
		if resumeKey == "" {
			resumeKey = filepath.Base(pc.ResumeFile)
		}
		return profile.NewStore(
			profile.Ref{Source: src, Name: bioKey},
			profile.Ref{Source: src, Name: resumeKey},
		), nil
	}

	src := profile.NewFileSource(pc.Dir)
	return profile.NewStore(
		profile.Ref{Source: src, Name: pc.BiographyFile},
		profile.Ref{Source: src, Name: pc.ResumeFile},
	), nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	for _, w := range cfg.Warnings() {
		slog.Warn(w)
	}

	store, err := profileStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("setting up profile source: %w", err)
	}
	doc := store.Load(ctx)

	builder, err := composer.NewFromFile(cfg.Persona.Name, cfg.Persona.Path)
	if err != nil {
		return nil, fmt.Errorf("loading persona: %w", err)
	}

	primary, fallback := providerClients(cfg)

	locator := geo.New(cfg.Routing.GeoURL).WithToken(cfg.Routing.GeoToken)
	sel := router.New(router.Options{
		Locator:           locator,
		RestrictedCountry: cfg.Routing.RestrictedCountry,
		DefaultCountry:    cfg.Routing.DefaultCountry,
		PrimaryAvailable:  primary.Available(),
		Timeout:           config.Duration("routing.geo_timeout", cfg.Routing.GeoTimeout, 3*time.Second),
	})

	var sender notify.Sender
	if cfg.Notify.ResendAPIKey != "" {
		sender = notify.NewResendSender(cfg.Notify.ResendAPIKey)
	}

	return &app{
		cfg:      cfg,
		doc:      doc,
		gateway:  gateway.New(doc, builder, sel, primary, fallback),
		primary:  primary,
		fallback: fallback,
		sink:     notify.New(sender, cfg.Notify.From, cfg.Notify.AlertEmail),
	}, nil
}
