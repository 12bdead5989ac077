package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/minios-linux/glossa/config"
	"github.com/minios-linux/glossa/dispatch"
	"github.com/minios-linux/glossa/keypool"
	"github.com/minios-linux/glossa/service"
)

func TestMergeKeys(t *testing.T) {
	got := mergeKeys([]string{"a", " b ", ""}, []string{"b", "c", "a"}, nil)
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mergeKeys() = %v, want %v", got, want)
	}
	if got := mergeKeys(); got != nil {
		t.Fatalf("mergeKeys() with no lists = %v, want nil", got)
	}
}

func TestApplyFlagsOnlyOverridesChanged(t *testing.T) {
	flags = globalFlags{}
	t.Cleanup(func() { flags = globalFlags{} })

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addGlobalFlags(fs)
	if err := fs.Parse([]string{"-m", "gemini-pro", "--timeout", "5s", "--no-history"}); err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	cfg := config.Default()
	cfg.Endpoint = "https://example.test"
	applyFlags(fs, &cfg)

	if cfg.Model != "gemini-pro" {
		t.Fatalf("Model = %q, want gemini-pro", cfg.Model)
	}
	if cfg.Timeout != 5*time.Second {
		t.Fatalf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if !cfg.NoHistory {
		t.Fatalf("NoHistory should be set")
	}
	if cfg.Endpoint != "https://example.test" {
		t.Fatalf("Endpoint overridden by an unset flag: %q", cfg.Endpoint)
	}
	if cfg.MaxAttempts != config.Default().MaxAttempts {
		t.Fatalf("MaxAttempts overridden by an unset flag: %d", cfg.MaxAttempts)
	}
}

func TestReadInput(t *testing.T) {
	got, err := readInput([]string{"Good", "morning"}, strings.NewReader("ignored"))
	if err != nil || got != "Good morning" {
		t.Fatalf("readInput(args) = %q, %v", got, err)
	}
	got, err = readInput(nil, strings.NewReader("Bonjour\n"))
	if err != nil || got != "Bonjour\n" {
		t.Fatalf("readInput(stdin) = %q, %v", got, err)
	}
}

func TestPrintResult(t *testing.T) {
	res := service.Result{ID: "id-1", Kind: "text", TargetLanguage: "en", Translation: "Hello"}

	var buf bytes.Buffer
	if err := printResult(&buf, res, false); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Hello\n" {
		t.Fatalf("plain output = %q", buf.String())
	}

	buf.Reset()
	if err := printResult(&buf, res, true); err != nil {
		t.Fatal(err)
	}
	var decoded service.Result
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("JSON output: %v (%s)", err, buf.String())
	}
	if decoded.ID != "id-1" || decoded.Translation != "Hello" {
		t.Fatalf("decoded = %#v", decoded)
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\n  b\tc", 10); got != "a b c" {
		t.Fatalf("oneLine() = %q", got)
	}
	if got := oneLine("привет мир", 6); got != "привет..." {
		t.Fatalf("oneLine() = %q", got)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !fileExists(path) {
		t.Fatalf("fileExists(%q) = false", path)
	}
	if fileExists(dir) {
		t.Fatalf("a directory is not an image file")
	}
	if fileExists(filepath.Join(dir, "missing.png")) {
		t.Fatalf("fileExists(missing) = true")
	}
}

func TestPrintKeyStatus(t *testing.T) {
	var buf bytes.Buffer
	printKeyStatus(&buf, nil, 0)
	if !strings.Contains(buf.String(), "No API keys stored") {
		t.Fatalf("empty status output = %q", buf.String())
	}

	buf.Reset()
	printKeyStatus(&buf, []keypool.Status{
		{Index: 0, MaskedKey: "AIza...1111", Healthy: true},
		{Index: 1, MaskedKey: "AIza...2222", Healthy: true, RateLimited: true, SecondsRemaining: 42},
		{Index: 2, MaskedKey: "AIza...3333", ErrorCount: 3, LastError: "API returned status 500"},
	}, 2)
	out := buf.String()
	for _, want := range []string{"AIza...1111", "stored", "config", "rate limited", "(42s)", "failing", "last error: API returned status 500", "1 key available"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestKeyState(t *testing.T) {
	if got := keyState(keypool.Status{Healthy: true, ErrorCount: 1}); !strings.Contains(got, "healthy") || !strings.Contains(got, "1 errors") {
		t.Fatalf("keyState() = %q", got)
	}
	if got := keyState(keypool.Status{Healthy: true}); !strings.Contains(got, "healthy") || strings.Contains(got, "errors") {
		t.Fatalf("keyState() = %q", got)
	}
}

func TestRunCaptionsPrintsInOrder(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	// Every request fails, so each caption comes back unchanged.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"unavailable"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.CaptionDelay = time.Millisecond
	cfg.CaptionTimeout = 2 * time.Second

	pool := keypool.New(keypool.Static("key-a"))
	if err := pool.Load(); err != nil {
		t.Fatal(err)
	}
	disp := dispatch.New(pool, dispatch.Options{BaseURL: srv.URL, Timeout: time.Second, Logger: zerolog.Nop()})
	a := &app{cfg: &cfg, log: zerolog.Nop(), pool: pool, svc: service.New(pool, disp, service.Options{Logger: zerolog.Nop()})}

	var out bytes.Buffer
	in := strings.NewReader("first line\nsecond line\nfirst line\nx\n")
	if err := runCaptions(context.Background(), a, "en", in, &out); err != nil {
		t.Fatalf("runCaptions() error: %v", err)
	}

	// The repeated line may coalesce onto the first one or be queued again.
	counts := map[string]int{}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	for _, l := range lines {
		counts[l]++
	}
	if lines[0] != "first line" || counts["first line"] != 2 || counts["second line"] != 1 {
		t.Fatalf("output = %q", out.String())
	}
	if counts["x"] != 0 {
		t.Fatalf("a one-rune caption should be ignored: %q", out.String())
	}
}
