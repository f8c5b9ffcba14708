package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kalambet/twin/internal/gateway"
	"github.com/kalambet/twin/internal/notify"
	"github.com/kalambet/twin/internal/proxy"
	"github.com/kalambet/twin/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	notifyTimeout      = 15 * time.Second
	maxHistoryTurns    = 200
)

// Asker answers visitor questions.
type Asker interface {
	Ask(ctx context.Context, req gateway.Request) (gateway.Answer, error)
	AskStream(ctx context.Context, req gateway.Request) (*proxy.Stream, error)
}

// TranscriptStore persists chat transcripts and notification bookkeeping.
type TranscriptStore interface {
	SaveTranscript(t storage.Transcript) error
	SessionTranscript(sessionID string) (storage.Transcript, error)
	MarkNotified(sessionID, email string) (bool, error)
}

// Notifier reports a captured visitor email address.
type Notifier interface {
	Notify(ctx context.Context, email string)
}

// Deps holds dependencies for the chat HTTP API.
type Deps struct {
	Gateway         Asker
	Store           TranscriptStore // optional; nil disables transcripts and notify dedup
	SaveTranscripts bool
	Notifier        Notifier // optional
	PersonaName     string
	RateLimit       int // requests per client IP per minute; 0 disables
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP
	// instead of the connection peer.
	TrustProxyHeaders bool
}

// Handler serves the chat API.
type Handler struct {
	deps     Deps
	router   chi.Router
	validate *validator.Validate

	// background notifications
	wg sync.WaitGroup
}

// NewHandler returns the chat API handler.
func NewHandler(deps Deps) *Handler {
	h := &Handler{deps: deps, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(RateLimit(deps.RateLimit))
		r.Post("/v1/chat", h.handleChat)
		r.Post("/v1/chat/stream", h.handleChatStream)
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Wait blocks until background notifications have finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type chatRequest struct {
	Message   string         `json:"message" validate:"required,max=8000"`
	History   []gateway.Turn `json:"history" validate:"max=200"`
	Locale    string         `json:"locale" validate:"omitempty,max=35"`
	SessionID string         `json:"session_id" validate:"omitempty,max=128"`
}

type chatResponse struct {
	Answer         string `json:"answer"`
	Provider       string `json:"provider"`
	ResumeIncluded bool   `json:"resume_included"`
	SessionID      string `json:"session_id"`
	Notice         string `json:"notice,omitempty"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return chatRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", validationMessage(err))
		return chatRequest{}, false
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	} else if len(req.History) == 0 {
		req.History = h.storedHistory(req.SessionID)
	}
	return req, true
}

// storedHistory returns the saved turns of a session the client continues
// without sending its history, or nil.
func (h *Handler) storedHistory(sessionID string) []gateway.Turn {
	if h.deps.Store == nil || !h.deps.SaveTranscripts {
		return nil
	}
	t, err := h.deps.Store.SessionTranscript(sessionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("loading session history failed", "session_id", sessionID, "error", err)
		}
		return nil
	}
	var turns []gateway.Turn
	if err := json.Unmarshal([]byte(t.History), &turns); err != nil {
		slog.Warn("decoding session history failed", "session_id", sessionID, "error", err)
		return nil
	}
	return turns
}

func (r chatRequest) gatewayRequest(ip string) gateway.Request {
	history := r.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	return gateway.Request{
		Message:  r.Message,
		History:  history,
		Locale:   r.Locale,
		ClientIP: ip,
	}
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	notice := h.captureEmail(r, req.SessionID, req.Message)

	ans, err := h.deps.Gateway.Ask(r.Context(), req.gatewayRequest(clientIP(r)))
	if err != nil {
		writeAskError(w, err, notice)
		return
	}

	h.saveTranscript(r, req, ans.Text, ans.Provider)

	writeJSON(w, http.StatusOK, chatResponse{
		Answer:         ans.Text,
		Provider:       ans.Provider,
		ResumeIncluded: ans.ResumeIncluded,
		SessionID:      req.SessionID,
		Notice:         notice,
	})
}

func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	notice := h.captureEmail(r, req.SessionID, req.Message)

	stream, err := h.deps.Gateway.AskStream(r.Context(), req.gatewayRequest(clientIP(r)))
	if err != nil {
		writeAskError(w, err, notice)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-Id", req.SessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range stream.Chunks() {
		if err := writeEvent(w, flusher, "delta", chunk); err != nil {
			slog.Debug("client went away during stream", "error", err)
			return
		}
	}

	if notice != "" {
		writeEvent(w, flusher, "notice", map[string]string{"notice": notice})
	}

	if err := stream.Err(); err != nil {
		slog.Warn("stream ended with error", "provider", stream.Provider(), "error", err)
		writeEvent(w, flusher, "error", map[string]string{"error": err.Error()})
		return
	}

	h.saveTranscript(r, req, stream.Text(), stream.Provider())

	writeEvent(w, flusher, "done", map[string]string{
		"text":       stream.Text(),
		"provider":   stream.Provider(),
		"session_id": req.SessionID,
	})
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeAskError reports a failed answer. notice, when set, still tells the
// visitor their email address was passed on.
func writeAskError(w http.ResponseWriter, err error, notice string) {
	var perr *proxy.Error
	switch {
	case errors.Is(err, gateway.ErrEmptyMessage):
		httpErrorNotice(w, http.StatusBadRequest, "invalid_request_error", notice, "message must not be empty")
	case errors.As(err, &perr):
		httpErrorNotice(w, http.StatusBadGateway, "api_error", notice, "upstream error: %v", err)
	default:
		httpErrorNotice(w, http.StatusInternalServerError, "api_error", notice, "%v", err)
	}
}

// captureEmail notifies the owner the first time a session shares an email
// address and returns the notice to show the visitor, or "" when the message
// contains no address.
func (h *Handler) captureEmail(r *http.Request, sessionID, message string) string {
	email, ok := notify.ExtractEmail(message)
	if !ok {
		return ""
	}

	first := true
	if h.deps.Store != nil {
		var err error
		first, err = h.deps.Store.MarkNotified(sessionID, email)
		if err != nil {
			slog.Warn("recording notification failed", "session_id", sessionID, "error", err)
			first = true
		}
	}

	if first && h.deps.Notifier != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), notifyTimeout)
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer cancel()
			h.deps.Notifier.Notify(ctx, email)
		}()
	}

	name := h.deps.PersonaName
	if name == "" {
		name = "I"
	}
	return fmt.Sprintf(notify.Notice, name)
}

func (h *Handler) saveTranscript(r *http.Request, req chatRequest, answer, provider string) {
	if h.deps.Store == nil || !h.deps.SaveTranscripts {
		return
	}

	turns := append(append([]gateway.Turn(nil), req.History...), gateway.Turn{User: req.Message, Assistant: answer})
	history, err := json.Marshal(turns)
	if err != nil {
		slog.Warn("encoding transcript failed", "session_id", req.SessionID, "error", err)
		return
	}

	err = h.deps.Store.SaveTranscript(storage.Transcript{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		Locale:    req.Locale,
		Provider:  provider,
		History:   string(history),
	})
	if err != nil {
		slog.Warn("saving transcript failed", "session_id", req.SessionID,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	}
}

// clientIP returns the request's client address without the port. Proxy
// headers are honoured only when RealIP is mounted.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	if field == "sessionid" {
		field = "session_id"
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s exceeds maximum length %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}
