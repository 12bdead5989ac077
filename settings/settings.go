// Package settings persists glossa's user state: the API key list, the
// last target language and a snapshot of the last translation session.
//
// Everything lives in one file in the XDG data directory:
//
//	$XDG_DATA_HOME/glossa/settings.json  (default: ~/.local/share/glossa/)
//
// File permissions are 0600 since the file holds API keys. Per-key health
// is runtime state and is never written here.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	dataDirName = "glossa"
	fileName    = "settings.json"
)

// ErrKeyExists is returned by AddAPIKey for a key that is already stored.
var ErrKeyExists = errors.New("API key already stored")

// Session is the last completed translation, restored on the next start.
type Session struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	TargetLanguage string    `json:"target_language"`
	SourceText     string    `json:"source_text,omitempty"`
	Translation    string    `json:"translation"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store is the on-disk settings document.
type Store struct {
	APIKeys        []string `json:"api_keys,omitempty"`
	TargetLanguage string   `json:"target_language,omitempty"`
	LastSession    *Session `json:"last_session,omitempty"`
}

// ---------------------------------------------------------------------------
// File path
// ---------------------------------------------------------------------------

// dataDir respects $XDG_DATA_HOME and falls back to ~/.local/share.
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", dataDirName), nil
}

func filePath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// FilePath returns the settings file path for display purposes.
func FilePath() string {
	p, err := filePath()
	if err != nil {
		return ""
	}
	return p
}

// DataDir returns the glossa data directory path.
func DataDir() (string, error) {
	return dataDir()
}

// ---------------------------------------------------------------------------
// Load / Save
// ---------------------------------------------------------------------------

func read() (Store, error) {
	path, err := filePath()
	if err != nil {
		return Store{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Store{}, nil
	}
	if err != nil {
		return Store{}, fmt.Errorf("reading settings: %w", err)
	}
	var store Store
	if err := json.Unmarshal(data, &store); err != nil {
		return Store{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return store, nil
}

// Load reads the settings from disk. A missing or unreadable file yields
// an empty store.
func Load() Store {
	store, err := read()
	if err != nil {
		return Store{}
	}
	return store
}

// Save writes the settings to disk with 0600 permissions.
func Save(store Store) error {
	path, err := filePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}

// RemoveAll deletes the settings file.
func RemoveAll() error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing settings file: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

var keyFormat = regexp.MustCompile(`^[A-Za-z0-9_-]{39}$`)

// ValidKeyFormat reports whether key looks like a Google API key.
func ValidKeyFormat(key string) bool {
	return keyFormat.MatchString(strings.TrimSpace(key))
}

// APIKeys returns the stored key list in rotation order. Unlike Load, a
// corrupt settings file is reported.
func APIKeys() ([]string, error) {
	store, err := read()
	if err != nil {
		return nil, err
	}
	return store.APIKeys, nil
}

// AddAPIKey appends key to the rotation.
func AddAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("API key is empty")
	}
	store := Load()
	for _, k := range store.APIKeys {
		if k == key {
			return ErrKeyExists
		}
	}
	store.APIKeys = append(store.APIKeys, key)
	return Save(store)
}

// RemoveAPIKey deletes the key at index (as reported by the pool status).
func RemoveAPIKey(index int) error {
	store := Load()
	if index < 0 || index >= len(store.APIKeys) {
		return fmt.Errorf("no API key at index %d", index)
	}
	store.APIKeys = append(store.APIKeys[:index], store.APIKeys[index+1:]...)
	return Save(store)
}

// ---------------------------------------------------------------------------
// Target language and session
// ---------------------------------------------------------------------------

// TargetLanguage returns the last used target language, or fallback.
func TargetLanguage(fallback string) string {
	if lang := Load().TargetLanguage; lang != "" {
		return lang
	}
	return fallback
}

func SetTargetLanguage(lang string) error {
	store := Load()
	if store.TargetLanguage == lang {
		return nil
	}
	store.TargetLanguage = lang
	return Save(store)
}

// LastSession returns the stored session snapshot, or nil.
func LastSession() *Session {
	return Load().LastSession
}

// RecordSession replaces the session snapshot and remembers its target
// language. A missing ID or timestamp is filled in.
func RecordSession(s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	store := Load()
	store.LastSession = &s
	if s.TargetLanguage != "" {
		store.TargetLanguage = s.TargetLanguage
	}
	return s, Save(store)
}
