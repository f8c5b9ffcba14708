package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/twin/internal/api"
	"github.com/kalambet/twin/internal/config"
	"github.com/kalambet/twin/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the chat HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the twin over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and provider status",
	RunE: func(cmd *cobra.Command, args []string) error {
		checkProviders, _ := cmd.Flags().GetBool("providers")
		return showStatus(cmd.Context(), checkProviders)
	},
}

func init() {
	statusCmd.Flags().Bool("providers", false, "list models from each configured provider")
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		Gateway:           a.gateway,
		Store:             store,
		SaveTranscripts:   cfg.Storage.Transcripts,
		Notifier:          a.sink,
		PersonaName:       cfg.Persona.Name,
		RateLimit:         cfg.Server.RateLimit,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("twin listening", "addr", addr, "persona", cfg.Persona.Name,
			"primary", a.primary, "fallback", a.fallback, "notify", a.sink.Enabled())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	handler.Wait()
	return err
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	deps := api.MCPDeps{
		Gateway:     a.gateway,
		Document:    a.doc,
		PersonaName: cfg.Persona.Name,
		Version:     version,
	}
	if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
		defer store.Close()
		deps.Transcripts = store
	} else {
		slog.Warn("transcripts resource disabled", "error", err)
	}

	slog.Info("MCP server started (stdio transport)")
	stdio := server.NewStdioServer(api.NewMCPServer(deps))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus(ctx context.Context, checkProviders bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://%s", net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)))
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on %s", serverURL)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Persona", "%s", cfg.Persona.Name)
	primary, fallback := providerClients(cfg)
	for _, c := range []providerStatus{primary, fallback} {
		if !c.Available() {
			printStatus(c.Name(), "%s (no API key)", c.Model())
			continue
		}
		if !checkProviders {
			printStatus(c.Name(), "%s at %s", c.Model(), c.BaseURL())
			continue
		}
		models, err := c.ListModels(ctx)
		if err != nil {
			printStatus(c.Name(), "%s", styled(errorStyle, "unreachable: "+err.Error()))
			continue
		}
		printStatus(c.Name(), "%s reachable, %s models", c.Model(), countLabel(len(models), 1000))
	}

	if cfg.Profile.S3Bucket != "" {
		printStatus("Profile", "s3://%s", cfg.Profile.S3Bucket)
	} else {
		printStatus("Profile", "%s (%s, %s)", cfg.Profile.Dir, cfg.Profile.BiographyFile, cfg.Profile.ResumeFile)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	for _, w := range cfg.Warnings() {
		printWarning("%s", w)
	}
	return nil
}

type providerStatus interface {
	Name() string
	Model() string
	BaseURL() string
	Available() bool
	ListModels(ctx context.Context) ([]string, error)
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
