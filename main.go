// glossa translates text, screenshots and caption streams through the
// Google Generative Language API with multi-key rotation.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/minios-linux/glossa/captions"
	"github.com/minios-linux/glossa/dispatch"
	"github.com/minios-linux/glossa/httpapi"
	"github.com/minios-linux/glossa/i18n"
	"github.com/minios-linux/glossa/keypool"
	"github.com/minios-linux/glossa/langmeta"
	"github.com/minios-linux/glossa/service"
	"github.com/minios-linux/glossa/settings"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "glossa",
		Short: "Translate text, screenshots and captions with Gemini",
		Long: `glossa: translation through the Google Generative Language API.

Requests rotate across every configured API key: a key that is rate limited
or failing is skipped until it recovers, and each request is retried on a
different key before giving up.

Commands:
  translate   Translate text (arguments or stdin)
  screenshot  Transcribe and translate the text in an image
  captions    Translate a stream of caption lines from stdin
  serve       Run the local HTTP daemon
  keys        Manage API keys
  history     Show or clear translation history`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addGlobalFlags(root.PersistentFlags())

	root.AddCommand(
		newTranslateCmd(),
		newScreenshotCmd(),
		newCaptionsCmd(),
		newServeCmd(),
		newKeysCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("glossa version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		to      string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "translate [text...]",
		Short: "Translate text",
		Long: `Translate text given as arguments, or read from stdin when no
arguments are given. The target language defaults to the last one used.`,
		Example: `  glossa translate --to vi "Good morning"
  echo "Bonjour" | glossa translate -t en`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			res, err := a.svc.Translate(ctx, text, a.targetLanguage(to))
			if err != nil {
				return errors.New(service.UserMessage(err))
			}
			return printResult(cmd.OutOrStdout(), res, jsonOut)
		},
	}

	cmd.Flags().StringVarP(&to, "to", "t", "", "Target language code or name (default: last used)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

// readInput joins args, or reads all of r when there are none.
func readInput(args []string, r io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func printResult(w io.Writer, res service.Result, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err := fmt.Fprintln(w, res.Translation)
	return err
}

// ---------------------------------------------------------------------------
// screenshot
// ---------------------------------------------------------------------------

func newScreenshotCmd() *cobra.Command {
	var (
		to       string
		mimeType string
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "screenshot <image-file>",
		Short: "Transcribe and translate the text in an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !fileExists(args[0]) {
				return fmt.Errorf("image file not found: %s", args[0])
			}
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading image: %w", err)
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			res, err := a.svc.TranslateScreenshot(ctx, image, mimeType, a.targetLanguage(to))
			if err != nil {
				return errors.New(service.UserMessage(err))
			}
			return printResult(cmd.OutOrStdout(), res, jsonOut)
		},
	}

	cmd.Flags().StringVarP(&to, "to", "t", "", "Target language code or name (default: last used)")
	cmd.Flags().StringVar(&mimeType, "mime", "", "Image MIME type (default: detected)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ---------------------------------------------------------------------------
// captions
// ---------------------------------------------------------------------------

func newCaptionsCmd() *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "captions",
		Short: "Translate caption lines from stdin",
		Long: `Read caption fragments from stdin, one per line, and print each
translation as soon as it is ready. Repeated lines are translated once; a
line that cannot be translated is printed unchanged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			return runCaptions(ctx, a, a.targetLanguage(to), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&to, "to", "t", "", "Target language code or name (default: last used)")
	return cmd
}

func runCaptions(ctx context.Context, a *app, lang string, in io.Reader, out io.Writer) error {
	q := captions.New(captions.TranslatorFunc(func(ctx context.Context, text string) (string, error) {
		return a.svc.Caption(ctx, text, lang)
	}), captions.Options{
		ItemTimeout: a.cfg.CaptionTimeout,
		DrainDelay:  a.cfg.CaptionDelay,
		MinRunes:    a.cfg.CaptionMinRunes,
		Logger:      a.log,
	})

	var mu sync.Mutex
	printer := captions.NewCallback(func(text string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, text)
	})

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if err := q.Observe(line, printer); err != nil {
				return err
			}
		case <-ctx.Done():
			printer.Detach()
			break loop
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.CaptionTimeout+5*time.Second)
	defer cancel()
	if err := q.Close(closeCtx); err != nil {
		logWarning("caption queue did not drain: %v", err)
	}

	select {
	case err := <-scanErr:
		if err != nil {
			return fmt.Errorf("reading captions: %w", err)
		}
	default:
	}
	return nil
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP daemon",
		Long: `Serve the translation API for browser-side clients:

  POST /api/v1/translate             {"text": "...", "target_language": "vi"}
  POST /api/v1/translate/screenshot  {"image": "<base64 or data URL>"}
  GET  /api/v1/credentials           per-key health
  GET  /api/v1/health`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.cfg.Listen
			if cmd.Flags().Changed("listen") {
				addr = listen
			}

			ctx, cancel := signalContext()
			defer cancel()

			srv := httpapi.NewServer(a.svc, a.log, httpapi.Options{
				Addr:            addr,
				DefaultLanguage: func() string { return a.targetLanguage("") },
			})
			logInfo(i18n.T("Listening on %s", addr))
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config: 127.0.0.1:8765)")
	return cmd
}

// ---------------------------------------------------------------------------
// keys
// ---------------------------------------------------------------------------

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
		Long: `Manage the API keys glossa rotates through.

Keys are stored in ` + settings.FilePath() + `.
Keys from GLOSSA_API_KEYS or the config file are used as well.`,
	}
	cmd.AddCommand(newKeysAddCmd(), newKeysRemoveCmd(), newKeysListCmd(), newKeysTestCmd())
	return cmd
}

func newKeysAddCmd() *cobra.Command {
	var (
		noVerify bool
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "add [key]",
		Short: "Add an API key (prompts when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				fmt.Fprintf(os.Stderr, "  Get your API key from: %shttps://aistudio.google.com/apikey%s\n", colorGreen, colorReset)
				fmt.Fprintf(os.Stderr, "  Enter API key: ")
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					key = scanner.Text()
				}
			}
			key = strings.TrimSpace(key)

			if key == "" {
				return errors.New(i18n.T("API key cannot be empty"))
			}
			if !force && !settings.ValidKeyFormat(key) {
				return errors.New(i18n.T("Invalid API key format") + " (use --force to store it anyway)")
			}

			if !noVerify {
				a, err := newApp(cmd)
				if err != nil {
					return err
				}
				defer a.Close()

				logInfo(i18n.T("Validating API key..."))
				ctx, cancel := signalContext()
				defer cancel()
				if err := a.svc.Probe(ctx, key); err != nil {
					if dispatch.KindOf(err) == dispatch.KindUpstreamError {
						return errors.New(i18n.T("Invalid API key. Please check your key and try again."))
					}
					return errors.New(i18n.T("API key validation failed: %s", err.Error()))
				}
				logSuccess(i18n.T("API key is valid"))
			}

			if err := settings.AddAPIKey(key); err != nil {
				if errors.Is(err, settings.ErrKeyExists) {
					logWarning(i18n.T("API key already stored"))
					return nil
				}
				return fmt.Errorf("saving API key: %w", err)
			}
			logSuccess("%s (%s)", i18n.T("API key added"), keypool.MaskKey(key))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Store the key without a test request")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the key format check")
	return cmd
}

func newKeysRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <index>",
		Aliases: []string{"rm"},
		Short:   "Remove a stored API key by its index in \"keys list\"",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[0])
			}
			if err := settings.RemoveAPIKey(index); err != nil {
				return err
			}
			logSuccess(i18n.T("API key removed"))
			return nil
		},
	}
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show API keys and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stored, _ := settings.APIKeys()
			printKeyStatus(os.Stderr, a.svc.Status(), len(stored))
			return nil
		},
	}
}

// printKeyStatus renders the pool status. Indexes below storedCount are
// keys from the settings file; the rest come from config or environment.
func printKeyStatus(w io.Writer, status []keypool.Status, storedCount int) {
	fmt.Fprintf(w, "\n%sAPI Keys%s\n", colorBlue, colorReset)
	fmt.Fprintln(w, strings.Repeat("─", 60))

	if len(status) == 0 {
		fmt.Fprintf(w, "  %s\n\n", i18n.T("No API keys stored"))
		return
	}

	available := 0
	for _, st := range status {
		source := "stored"
		if st.Index >= storedCount {
			source = "config"
		}
		fmt.Fprintf(w, "  %-3d %-14s %-7s %s\n", st.Index, st.MaskedKey, source, keyState(st))
		if st.LastError != "" {
			fmt.Fprintf(w, "      last error: %s\n", st.LastError)
		}
		if st.Healthy && !st.RateLimited {
			available++
		}
	}
	fmt.Fprintf(w, "\n  %s\n\n", i18n.N("%d key available", "%d keys available", available, available))
}

func keyState(st keypool.Status) string {
	switch {
	case !st.Healthy:
		return fmt.Sprintf("%sfailing%s (%d errors)", colorRed, colorReset, st.ErrorCount)
	case st.RateLimited:
		return fmt.Sprintf("%srate limited%s (%ds)", colorYellow, colorReset, st.SecondsRemaining)
	case st.ErrorCount > 0:
		return fmt.Sprintf("%shealthy%s (%d errors)", colorGreen, colorReset, st.ErrorCount)
	default:
		return colorGreen + "healthy" + colorReset
	}
}

func newKeysTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Send a test request with every key",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.keys.APIKeys()
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return errors.New(service.UserMessage(&dispatch.Error{Kind: dispatch.KindNoCredentials}))
			}

			ctx, cancel := signalContext()
			defer cancel()

			failed := 0
			for i, key := range keys {
				if err := a.svc.Probe(ctx, key); err != nil {
					failed++
					logError("%d %s: %v", i, keypool.MaskKey(key), err)
					continue
				}
				logSuccess("%d %s: %s", i, keypool.MaskKey(key), i18n.T("API key is valid"))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d keys failed", failed, len(keys))
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// history
// ---------------------------------------------------------------------------

func newHistoryCmd() *cobra.Command {
	var (
		limit   int
		clear   bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear translation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.history == nil {
				logWarning("history is disabled")
				return nil
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if clear {
				if _, err := a.history.Clear(ctx); err != nil {
					return err
				}
				logSuccess(i18n.T("History cleared"))
				return nil
			}

			entries, err := a.svc.History(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				logInfo(i18n.T("History is empty"))
				return nil
			}

			w := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(w, "%s%s%s  %s → %s\n", colorBlue, e.CreatedAt.Local().Format("2006-01-02 15:04"), colorReset, e.Kind, langmeta.Resolve(e.TargetLanguage).Name)
				if e.SourceText != "" {
					fmt.Fprintf(w, "  %s\n", oneLine(e.SourceText, 100))
				}
				fmt.Fprintf(w, "  %s%s%s\n\n", colorGreen, oneLine(e.Translation, 100), colorReset)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&clear, "clear", false, "Delete all history")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print entries as JSON")
	return cmd
}

// oneLine flattens s and truncates it to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
