package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kalambet/twin/internal/composer"
	"github.com/kalambet/twin/internal/profile"
	"github.com/kalambet/twin/internal/proxy"
	"github.com/kalambet/twin/internal/router"
)

// ErrEmptyMessage is returned for a blank user message.
var ErrEmptyMessage = errors.New("message is empty")

// Turn is one prior exchange of the conversation.
type Turn = composer.Turn

// Request is one visitor question plus the conversation so far.
type Request struct {
	Message  string
	History  []Turn
	Locale   string
	ClientIP string
}

// Answer is a completed reply.
type Answer struct {
	Text           string
	Provider       string
	ResumeIncluded bool
}

// Completer is a chat completion provider.
type Completer interface {
	Name() string
	Complete(ctx context.Context, msgs []proxy.Message) (string, error)
	Stream(ctx context.Context, msgs []proxy.Message) (*proxy.Stream, error)
}

// Selector picks the provider for a client.
type Selector interface {
	Select(ctx context.Context, clientIP string) router.ProviderID
}

// Gateway is the single entry point for asking the twin a question. It holds
// no per-conversation state.
type Gateway struct {
	doc      profile.Document
	builder  *composer.Builder
	selector Selector
	primary  Completer
	fallback Completer
	logger   *slog.Logger
}

// New creates a Gateway answering from doc.
func New(doc profile.Document, builder *composer.Builder, selector Selector, primary, fallback Completer) *Gateway {
	return &Gateway{
		doc:      doc,
		builder:  builder,
		selector: selector,
		primary:  primary,
		fallback: fallback,
		logger:   slog.Default(),
	}
}

// Document returns the profile the gateway answers from.
func (g *Gateway) Document() profile.Document { return g.doc }

type prepared struct {
	msgs           []proxy.Message
	provider       Completer
	resumeIncluded bool
}

func (g *Gateway) prepare(ctx context.Context, req Request) (prepared, error) {
	if strings.TrimSpace(req.Message) == "" {
		return prepared{}, ErrEmptyMessage
	}

	prompt := g.builder.Build(req.Message, g.doc)
	msgs := g.builder.Messages(prompt, req.History, req.Message, req.Locale)

	provider := g.primary
	if g.selector.Select(ctx, req.ClientIP) == router.Fallback {
		provider = g.fallback
	}

	g.logger.Debug("request prepared",
		"provider", provider.Name(),
		"resume_included", prompt.ResumeIncluded,
		"history_turns", len(req.History),
		"messages", len(msgs),
		"system_tokens", composer.EstimateTokens(msgs[0].Content),
	)

	return prepared{msgs: msgs, provider: provider, resumeIncluded: prompt.ResumeIncluded}, nil
}

// Ask returns the complete reply. Provider failures are returned as
// *proxy.Error without retry.
func (g *Gateway) Ask(ctx context.Context, req Request) (Answer, error) {
	p, err := g.prepare(ctx, req)
	if err != nil {
		return Answer{}, err
	}

	text, err := p.provider.Complete(ctx, p.msgs)
	if err != nil {
		g.logger.Warn("provider call failed", "provider", p.provider.Name(), "error", err)
		return Answer{}, err
	}

	return Answer{
		Text:           text,
		Provider:       p.provider.Name(),
		ResumeIncluded: p.resumeIncluded,
	}, nil
}

// AskStream returns the reply as a stream of chunks; Stream.Provider names the
// provider answering. The caller must Close the stream. A failure after the
// first chunk is reported by Stream.Err.
func (g *Gateway) AskStream(ctx context.Context, req Request) (*proxy.Stream, error) {
	p, err := g.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	s, err := p.provider.Stream(ctx, p.msgs)
	if err != nil {
		g.logger.Warn("provider stream failed", "provider", p.provider.Name(), "error", err)
		return nil, err
	}
	return s, nil
}
