package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultTimeout = 30 * time.Second

// Client talks to one OpenAI-compatible chat completion endpoint.
type Client struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	temperature float32
	timeout     time.Duration
	api         *openai.Client
}

// NewClient creates a client for the named provider. An empty apiKey yields a
// client whose calls fail with ErrMissingCredential without touching the
// network. A non-positive timeout selects 30s.
func NewClient(name, apiKey, baseURL, model string, temperature float64, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	// Bounds the wait for response headers; streamed bodies are bounded per
	// chunk by Stream.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	cfg.HTTPClient = &http.Client{Transport: transport}

	return &Client{
		name:        name,
		apiKey:      apiKey,
		baseURL:     cfg.BaseURL,
		model:       model,
		temperature: float32(temperature),
		timeout:     timeout,
		api:         openai.NewClientWithConfig(cfg),
	}
}

// Name returns the provider name used in logs and errors.
func (c *Client) Name() string { return c.name }

// Model returns the configured model.
func (c *Client) Model() string { return c.model }

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Available reports whether the client has a credential.
func (c *Client) Available() bool { return c.apiKey != "" }

func (c *Client) request(msgs []Message, stream bool) openai.ChatCompletionRequest {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    out,
		Temperature: c.temperature,
		Stream:      stream,
	}
}

// Complete sends msgs and returns the full reply text. The whole call is
// bounded by the client timeout.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	if !c.Available() {
		return "", c.wrap(ErrMissingCredential)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, c.request(msgs, false))
	if err != nil {
		return "", c.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", c.wrap(ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream sends msgs and returns the reply as a forward-only sequence of
// chunks. Each wait for a chunk is bounded by the client timeout. The caller
// must Close the stream.
func (c *Client) Stream(ctx context.Context, msgs []Message) (*Stream, error) {
	if !c.Available() {
		return nil, c.wrap(ErrMissingCredential)
	}

	ctx, cancel := context.WithCancel(ctx)
	s, err := c.api.CreateChatCompletionStream(ctx, c.request(msgs, true))
	if err != nil {
		cancel()
		return nil, c.wrap(err)
	}
	return newStream(c, s, cancel), nil
}

// ListModels returns the model IDs the provider exposes. It doubles as a
// credential and connectivity check.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if !c.Available() {
		return nil, c.wrap(ErrMissingCredential)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, c.wrap(err)
	}
	ids := make([]string, len(list.Models))
	for i, m := range list.Models {
		ids[i] = m.ID
	}
	return ids, nil
}

// wrap converts any failure into an *Error carrying the HTTP status when one
// was received.
func (c *Client) wrap(err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}

	out := &Error{Provider: c.name, Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		out.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		out.StatusCode = reqErr.HTTPStatusCode
	}
	return out
}

func (c *Client) String() string {
	return fmt.Sprintf("%s(%s @ %s)", c.name, c.model, c.baseURL)
}
