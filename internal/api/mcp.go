package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/twin/internal/gateway"
	"github.com/kalambet/twin/internal/profile"
	"github.com/kalambet/twin/internal/proxy"
	"github.com/kalambet/twin/internal/storage"
)

// TranscriptLister lists stored transcripts.
type TranscriptLister interface {
	ListTranscripts(limit int) ([]storage.Transcript, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Gateway     Asker
	Document    profile.Document
	Transcripts TranscriptLister // optional; nil hides the recent transcripts resource
	PersonaName string
	Version     string
}

// NewMCPServer creates an MCP server exposing the twin as a tool plus its
// profile documents as resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"twin",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions(fmt.Sprintf("Digital twin of %s. Ask it about their career, projects and experience.", deps.PersonaName)),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription(fmt.Sprintf("Ask %s's digital twin a question and get the full answer.", deps.PersonaName)),
			mcp.WithString("message", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("history", mcp.Description("Optional JSON array of prior {user, assistant} turns")),
			mcp.WithString("locale", mcp.Description("Optional reply language, e.g. es or zh-CN")),
		),
		mcpAsk(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"twin://biography",
			"Biography",
			mcp.WithResourceDescription("Executive biography the twin always answers from"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourceText(deps.Document.Biography),
	)

	s.AddResource(
		mcp.NewResource(
			"twin://resume",
			"Resume",
			mcp.WithResourceDescription("Resume text injected for career questions"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourceText(deps.Document.Resume),
	)

	if deps.Transcripts != nil {
		s.AddResource(
			mcp.NewResource(
				"twin://transcripts/recent",
				"Recent Transcripts",
				mcp.WithResourceDescription("Last 10 chat sessions (first question only)"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		var history []gateway.Turn
		if raw := req.GetString("history", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &history); err != nil {
				return mcpError(fmt.Sprintf("invalid history JSON: %v", err)), nil
			}
		}

		ans, err := deps.Gateway.Ask(ctx, gateway.Request{
			Message: message,
			History: history,
			Locale:  req.GetString("locale", ""),
		})
		var perr *proxy.Error
		switch {
		case errors.Is(err, gateway.ErrEmptyMessage):
			return mcpError("message must not be empty"), nil
		case errors.As(err, &perr):
			return mcpError(fmt.Sprintf("provider error: %v", err)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		return mcpText(ans.Text), nil
	}
}

func mcpResourceText(text string) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     text,
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		transcripts, err := deps.Transcripts.ListTranscripts(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list transcripts: %w", err)
		}

		type transcriptSummary struct {
			SessionID string `json:"session_id"`
			UpdatedAt string `json:"updated_at"`
			Provider  string `json:"provider"`
			Turns     int    `json:"turns"`
			First     string `json:"first_question"`
		}

		summaries := make([]transcriptSummary, len(transcripts))
		for i, t := range transcripts {
			var turns []gateway.Turn
			json.Unmarshal([]byte(t.History), &turns)

			first := ""
			if len(turns) > 0 {
				first = turns[0].User
			}
			if utf8.RuneCountInString(first) > 200 {
				runes := []rune(first)
				first = string(runes[:200]) + "..."
			}
			summaries[i] = transcriptSummary{
				SessionID: t.SessionID,
				UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
				Provider:  t.Provider,
				Turns:     len(turns),
				First:     first,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transcripts: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
