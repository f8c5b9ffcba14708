package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/kalambet/twin/internal/config"
	"github.com/kalambet/twin/internal/gateway"
	"github.com/kalambet/twin/internal/notify"
	"github.com/kalambet/twin/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Ask the twin a question",
	Long: `Ask the twin a question.

By default the question goes to the running server. With --local the twin is
built in-process from the current configuration.

Examples:
  twin ask "What certifications do you have?"
  twin ask --stream --locale es "¿Dónde trabajaste?"
  twin ask --local --markdown "Tell me about your projects"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := askOptions{message: strings.Join(args, " ")}
		opts.stream, _ = cmd.Flags().GetBool("stream")
		opts.markdown, _ = cmd.Flags().GetBool("markdown")
		opts.local, _ = cmd.Flags().GetBool("local")
		opts.locale, _ = cmd.Flags().GetString("locale")
		opts.session, _ = cmd.Flags().GetString("session")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if opts.local {
			if opts.session != "" {
				return fmt.Errorf("--session needs the server's stored transcripts; drop --local")
			}
			return askLocal(ctx, cmd.OutOrStdout(), opts)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return askRemote(ctx, client, cmd.OutOrStdout(), opts)
	},
}

func init() {
	askCmd.Flags().Bool("stream", false, "print the answer as it is generated")
	askCmd.Flags().Bool("markdown", false, "render the answer as markdown")
	askCmd.Flags().Bool("local", false, "answer in-process instead of calling the server")
	askCmd.Flags().String("locale", "", "reply language, e.g. es or zh-CN")
	askCmd.Flags().String("session", "", "session id to continue; the server replays its stored turns")
}

type askOptions struct {
	message  string
	locale   string
	session  string
	stream   bool
	markdown bool
	local    bool
}

type chatBody struct {
	Message   string `json:"message"`
	Locale    string `json:"locale,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResult struct {
	Answer    string `json:"answer"`
	Text      string `json:"text"`
	Provider  string `json:"provider"`
	SessionID string `json:"session_id"`
	Notice    string `json:"notice"`
}

func askRemote(ctx context.Context, client *apiClient, w io.Writer, opts askOptions) error {
	body := chatBody{Message: opts.message, Locale: opts.locale, SessionID: opts.session}

	if !opts.stream {
		resp, err := client.post(ctx, "/v1/chat", body)
		if err != nil {
			return err
		}
		var res chatResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printAnswer(w, res.Answer, opts.markdown)
		finishAnswer(res)
		return nil
	}

	var res chatResult
	err := client.stream(ctx, "/v1/chat/stream", body, func(event string, data []byte) error {
		switch event {
		case "delta":
			if opts.markdown {
				return nil
			}
			var chunk struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal(data, &chunk); err != nil {
				return fmt.Errorf("decoding delta: %w", err)
			}
			fmt.Fprint(w, chunk.Delta)
		case "notice", "done":
			if err := json.Unmarshal(data, &res); err != nil {
				return fmt.Errorf("decoding %s event: %w", event, err)
			}
		case "error":
			var e struct {
				Error string `json:"error"`
			}
			json.Unmarshal(data, &e)
			return fmt.Errorf("stream failed: %s", e.Error)
		}
		return nil
	})
	if opts.markdown && res.Text != "" {
		printAnswer(w, res.Text, true)
	} else {
		fmt.Fprintln(w)
	}
	if err != nil {
		return err
	}
	finishAnswer(res)
	return nil
}

func askLocal(ctx context.Context, w io.Writer, opts askOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	var res chatResult
	if email, ok := notify.ExtractEmail(opts.message); ok {
		a.sink.Notify(ctx, email)
		res.Notice = fmt.Sprintf(notify.Notice, cfg.Persona.Name)
	}

	req := gateway.Request{Message: opts.message, Locale: opts.locale}
	if opts.stream && !opts.markdown {
		st, err := a.gateway.AskStream(ctx, req)
		if err != nil {
			return err
		}
		defer st.Close()
		for ch := range st.Chunks() {
			fmt.Fprint(w, ch.Delta)
		}
		fmt.Fprintln(w)
		if err := st.Err(); err != nil {
			return err
		}
		res.Provider = st.Provider()
	} else {
		ans, err := a.gateway.Ask(ctx, req)
		if err != nil {
			return err
		}
		printAnswer(w, ans.Text, opts.markdown)
		res.Provider = ans.Provider
	}
	finishAnswer(res)
	return nil
}

func printAnswer(w io.Writer, text string, markdown bool) {
	if markdown {
		fmt.Fprint(w, renderMarkdown(text))
		return
	}
	fmt.Fprintln(w, text)
}

func finishAnswer(res chatResult) {
	if res.Notice != "" {
		printSuccess("%s", res.Notice)
	}
	if res.SessionID != "" {
		printStep("answered by %s, session %s", res.Provider, res.SessionID)
	} else if res.Provider != "" {
		printStep("answered by %s", res.Provider)
	}
}

// renderMarkdown renders text for the terminal, returning it unchanged when
// rendering fails.
func renderMarkdown(text string) string {
	style := glamour.WithAutoStyle()
	if noColor {
		style = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(80))
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect the loaded biography and résumé",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the documents the twin answers from as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		store, err := profileStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		doc := store.Load(cmd.Context())

		full, _ := cmd.Flags().GetBool("full")
		resume := doc.Resume
		if !full {
			resume = truncate(resume, 500)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"name":          cfg.Persona.Name,
			"biography":     doc.Biography,
			"resume":        resume,
			"has_biography": doc.HasBiography(),
			"has_resume":    doc.HasResume(),
			"loaded_at":     doc.LoadedAt.Format(time.RFC3339),
		})
	},
}

func init() {
	profileShowCmd.Flags().Bool("full", false, "print the whole résumé instead of a preview")
	profileCmd.AddCommand(profileShowCmd)
}

// --- transcripts ---

var openStore = func() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return storage.Open(cfg.Storage.DataDir)
}

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts",
	Short: "Manage stored chat transcripts",
}

var transcriptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent transcripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		transcripts, err := store.ListTranscripts(limit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(transcripts) == 0 {
			fmt.Fprintln(w, "No transcripts found.")
			return nil
		}

		for _, t := range transcripts {
			turns := decodeTurns(t.History)
			first := ""
			if len(turns) > 0 {
				first = turns[0].User
			}
			fmt.Fprintf(w, "%s  %s  %-8s  %2d  %s\n",
				styled(idStyle, shortID(t.SessionID)),
				t.UpdatedAt.Format(time.RFC3339),
				t.Provider,
				len(turns),
				truncate(first, 80),
			)
		}
		return nil
	},
}

var transcriptsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single transcript by transcript or session id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		t, err := store.GetTranscript(args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("transcript %q not found", args[0])
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"id":         t.ID,
			"session_id": t.SessionID,
			"created_at": t.CreatedAt.Format(time.RFC3339),
			"updated_at": t.UpdatedAt.Format(time.RFC3339),
			"locale":     t.Locale,
			"provider":   t.Provider,
			"history":    decodeTurns(t.History),
		})
	},
}

var transcriptsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete transcripts not updated within a duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if olderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		if !confirm {
			printWarning("This deletes transcripts older than %s. Use --confirm to proceed.", olderThan)
			return nil
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.PruneTranscripts(time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		printSuccess("Pruned %d transcripts", n)
		return nil
	},
}

func init() {
	transcriptsListCmd.Flags().Int("limit", 20, "maximum number of transcripts to list")
	transcriptsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "prune transcripts idle for longer than this")
	transcriptsPruneCmd.Flags().Bool("confirm", false, "confirm deletion")
	transcriptsCmd.AddCommand(transcriptsListCmd)
	transcriptsCmd.AddCommand(transcriptsShowCmd)
	transcriptsCmd.AddCommand(transcriptsPruneCmd)
}

func decodeTurns(history string) []gateway.Turn {
	var turns []gateway.Turn
	if err := json.Unmarshal([]byte(history), &turns); err != nil {
		return nil
	}
	return turns
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  %s\n", styled(labelStyle, k.Key), k.Value, styled(idStyle, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:               "set <key> <value>",
	Short:             "Set a configuration value",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeConfigKey,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:               "unset <key>",
	Short:             "Remove a configuration value so its default applies",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeConfigKey,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func completeConfigKey(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return config.ValidKeys(), cobra.ShellCompDirectiveNoFileComp
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
