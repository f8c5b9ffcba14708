package profile

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultLoadTimeout = 30 * time.Second
	previewChars       = 300
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Ref names a document within a Source.
type Ref struct {
	Source Source
	Name   string
}

// Store loads the biography and résumé once and memoizes the result.
type Store struct {
	biography Ref
	resume    Ref
	clock     Clock
	timeout   time.Duration
	logger    *slog.Logger

	group singleflight.Group
	doc   atomic.Pointer[Document]
}

// NewStore creates a Store reading the two documents from their refs.
func NewStore(biography, resume Ref) *Store {
	return &Store{
		biography: biography,
		resume:    resume,
		clock:     realClock{},
		timeout:   defaultLoadTimeout,
		logger:    slog.Default(),
	}
}

// NewStoreWithClock creates a Store with a custom clock (for testing).
func NewStoreWithClock(biography, resume Ref, clock Clock) *Store {
	s := NewStore(biography, resume)
	s.clock = clock
	return s
}

// Load returns the profile document, reading it on first use. It never
// fails: a missing or unreadable document becomes Placeholder. Concurrent
// first calls share a single read.
func (s *Store) Load(ctx context.Context) Document {
	if d := s.doc.Load(); d != nil {
		return *d
	}

	v, _, _ := s.group.Do("load", func() (any, error) {
		if d := s.doc.Load(); d != nil {
			return *d, nil
		}
		// Detached so a cancelled caller cannot memoize placeholders.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		d := s.read(loadCtx)
		s.doc.Store(&d)
		return d, nil
	})
	return v.(Document)
}

func (s *Store) read(ctx context.Context) Document {
	var bio, resume string

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bio = s.readText(gCtx, "biography", s.biography)
		return nil
	})
	g.Go(func() error {
		resume = s.readText(gCtx, "resume", s.resume)
		return nil
	})
	_ = g.Wait()

	if resume != Placeholder {
		s.logger.Debug("resume loaded", "chars", len(resume), "preview", preview(resume))
	}

	return Document{
		Biography: bio,
		Resume:    resume,
		LoadedAt:  s.clock.Now(),
	}
}

func (s *Store) readText(ctx context.Context, kind string, ref Ref) string {
	if ref.Source == nil {
		s.logger.Warn("profile document not configured", "document", kind)
		return Placeholder
	}

	data, location, err := ref.Source.Fetch(ctx, ref.Name)
	if err != nil {
		s.logger.Warn("profile document unavailable", "document", kind, "name", ref.Name, "error", err)
		return Placeholder
	}

	text, err := ExtractText(ref.Name, data)
	if err != nil {
		s.logger.Warn("profile document unreadable", "document", kind, "location", location, "error", err)
		return Placeholder
	}
	if text == "" {
		s.logger.Warn("profile document empty", "document", kind, "location", location)
		return Placeholder
	}

	s.logger.Info("profile document loaded", "document", kind, "location", location, "chars", len(text))
	return text
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > previewChars {
		r = r[:previewChars]
	}
	return strings.ReplaceAll(string(r), "\n", " ")
}
