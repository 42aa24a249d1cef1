package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"tapop105/internal/tapocli"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EntriesFile is the name of the entries file inside the config directory.
const EntriesFile = "tapo_entries.yaml"

// Entry versions written by this release.
const (
	EntryVersion      = 1
	EntryMinorVersion = 1
)

// EntryData is what the user typed into the setup form.
type EntryData struct {
	IPAddress string `yaml:"ip_address"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// Entry is one configured plug.
type Entry struct {
	EntryID      string    `yaml:"entry_id"`
	UniqueID     string    `yaml:"unique_id"`
	Title        string    `yaml:"title"`
	Version      int       `yaml:"version"`
	MinorVersion int       `yaml:"minor_version"`
	Data         EntryData `yaml:"data"`
	// ObjectID overrides the slug used for mirrored entity ids.
	ObjectID  string    `yaml:"object_id,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Credentials returns the helper credentials stored in the entry.
func (e Entry) Credentials() tapocli.Credentials {
	return tapocli.Credentials{
		Address:  e.Data.IPAddress,
		Username: e.Data.Username,
		Password: e.Data.Password,
	}
}

// Slug returns the object id used to name this entry's mirrored entities.
func (e Entry) Slug() string {
	if e.ObjectID != "" {
		return e.ObjectID
	}
	if s := Slugify(e.Title); s != "" {
		return s
	}
	return Slugify(tapocli.Domain + " " + e.UniqueID)
}

// entriesDocument is the on-disk layout.
type entriesDocument struct {
	Entries []Entry `yaml:"entries"`
}

// Loader manages the config entries file
type Loader struct {
	configDir string
	logger    *zap.Logger
	mu        sync.RWMutex
	entries   []Entry
}

// NewLoader creates a new entries loader for configDir
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger.Named("config"),
	}
}

// Path returns the full path of the entries file.
func (l *Loader) Path() string {
	return filepath.Join(l.configDir, EntriesFile)
}

// Load reads the entries file. A missing file means no entries.
func (l *Loader) Load() error {
	path := l.Path()
	l.logger.Debug("Loading config entries", zap.String("path", path))

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		l.mu.Lock()
		l.entries = nil
		l.mu.Unlock()
		l.logger.Info("No config entries file, starting empty", zap.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config entries: %w", err)
	}

	var doc entriesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config entries: %w", err)
	}

	seen := make(map[string]bool, len(doc.Entries))
	for i, entry := range doc.Entries {
		if err := entry.validate(); err != nil {
			return fmt.Errorf("config entry %d: %w", i, err)
		}
		if seen[entry.UniqueID] {
			return fmt.Errorf("config entry %d: duplicate unique_id %q", i, entry.UniqueID)
		}
		seen[entry.UniqueID] = true
	}

	l.mu.Lock()
	l.entries = doc.Entries
	l.mu.Unlock()

	l.logger.Info("Config entries loaded", zap.Int("entries", len(doc.Entries)))
	return nil
}

// Entries returns a copy of the loaded entries.
func (l *Loader) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// FindByUniqueID returns the entry for a device id.
func (l *Loader) FindByUniqueID(uniqueID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, entry := range l.entries {
		if entry.UniqueID == uniqueID {
			return entry, true
		}
	}
	return Entry{}, false
}

// Add stores a new entry and writes the file. The entry id, versions and
// creation time are filled in.
func (l *Loader) Add(entry Entry) (Entry, error) {
	entry.EntryID = uuid.NewString()
	entry.Version = EntryVersion
	entry.MinorVersion = EntryMinorVersion
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := entry.validate(); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.entries {
		if existing.UniqueID == entry.UniqueID {
			return Entry{}, fmt.Errorf("device %s is already configured", entry.UniqueID)
		}
	}

	entries := append(append([]Entry(nil), l.entries...), entry)
	if err := l.write(entries); err != nil {
		return Entry{}, err
	}
	l.entries = entries

	l.logger.Info("Config entry added",
		zap.String("entry_id", entry.EntryID),
		zap.String("unique_id", entry.UniqueID),
		zap.String("title", entry.Title))
	return entry, nil
}

// Remove deletes an entry by entry id and writes the file.
func (l *Loader) Remove(entryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		if entry.EntryID != entryID {
			entries = append(entries, entry)
		}
	}
	if len(entries) == len(l.entries) {
		return fmt.Errorf("config entry %s not found", entryID)
	}

	if err := l.write(entries); err != nil {
		return err
	}
	l.entries = entries
	l.logger.Info("Config entry removed", zap.String("entry_id", entryID))
	return nil
}

// write replaces the entries file atomically. The file holds passwords and
// is only readable by its owner.
func (l *Loader) write(entries []Entry) error {
	data, err := yaml.Marshal(entriesDocument{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to encode config entries: %w", err)
	}

	if err := os.MkdirAll(l.configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(l.configDir, EntriesFile+".*")
	if err != nil {
		return fmt.Errorf("failed to write config entries: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config entries: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config entries: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config entries: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.Path()); err != nil {
		return fmt.Errorf("failed to replace config entries: %w", err)
	}
	return nil
}

func (e Entry) validate() error {
	if e.UniqueID == "" {
		return fmt.Errorf("unique_id is required")
	}
	if e.Data.IPAddress == "" || e.Data.Username == "" || e.Data.Password == "" {
		return fmt.Errorf("ip_address, username and password are required")
	}
	return nil
}

// Slugify lower-cases s and joins its alphanumeric runs with underscores.
func Slugify(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
