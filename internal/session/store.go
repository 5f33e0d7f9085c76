// Package session persists per-account records: credentials, persona texts,
// and the running usage counters. One TOML file per account.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/limmweb/vk-messager/internal/vk"
	"github.com/limmweb/vk-messager/pkg/models"
)

const (
	recordExt  = ".toml"
	fileMode   = 0o600
	dirMode    = 0o700
	textBound  = 1000
	nameBound  = 100
	tmpPattern = ".session-*.toml.tmp"
)

// ErrNotFound is returned when no record exists for the account name.
var ErrNotFound = errors.New("session: record not found")

// Record is one account's stored state. Credential and persona fields are
// written at bootstrap; the counters are the only fields updated at runtime.
type Record struct {
	VKToken     string `toml:"vk_token"`
	OpenAIToken string `toml:"openai_token"`

	GroupID          int64  `toml:"group_id,omitempty"`
	GroupName        string `toml:"group_name,omitempty"`
	GroupDescription string `toml:"group_description,omitempty"`

	Personality       string `toml:"personality"`
	CommercialInfo    string `toml:"commercial_info"`
	ConversationRules string `toml:"conversation_rules"`
	ConversationGoal  string `toml:"conversation_goal"`
	Characteristic    string `toml:"characteristic,omitempty"`

	TokensIn    int64   `toml:"tokens_in"`
	TokensOut   int64   `toml:"tokens_out"`
	TokensTotal int64   `toml:"tokens_total"`
	TokensCost  float64 `toml:"tokens_cost"`
}

// counterKeys are the fields Load guarantees to exist in every stored record.
var counterKeys = []string{"tokens_in", "tokens_out", "tokens_total", "tokens_cost"}

// Store reads and writes session records under one directory. Counter updates
// are serialized by the store's mutex: session counters are process-wide, so
// concurrent pipelines for different conversations must not interleave their
// read-modify-write cycles.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the directory if needed and returns a store over it.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("session: directory is required")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("session: create directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// List returns the stored account names, sorted by the filesystem.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("session: list records: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), recordExt))
	}
	return names, nil
}

// Path returns the record file path for an account name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, CleanFileName(name)+recordExt)
}

// Load reads an account record. Counter fields missing from the stored file
// are added with zero defaults and persisted, so a load is idempotent and
// every subsequent read-modify-write sees all four counters.
func (s *Store) Load(name string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(name)
}

func (s *Store) loadLocked(name string) (*Record, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("session: read record: %w", err)
	}

	var record Record
	if err := toml.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("session: decode record %s: %w", name, err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("session: decode record %s: %w", name, err)
	}
	missing := false
	for _, key := range counterKeys {
		if _, ok := raw[key]; !ok {
			missing = true
			break
		}
	}
	if missing {
		if err := s.saveLocked(name, &record); err != nil {
			return nil, err
		}
	}
	return &record, nil
}

// Save writes the record durably: encode to a temp file, then rename into
// place. Persona fields are bounded before encoding.
func (s *Store) Save(name string, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(name, record)
}

func (s *Store) saveLocked(name string, record *Record) error {
	bounded := *record
	bounded.Personality = vk.Truncate(bounded.Personality, textBound)
	bounded.CommercialInfo = vk.Truncate(bounded.CommercialInfo, textBound)
	bounded.ConversationRules = vk.Truncate(bounded.ConversationRules, textBound)
	bounded.ConversationGoal = vk.Truncate(bounded.ConversationGoal, textBound)
	bounded.GroupDescription = vk.Truncate(bounded.GroupDescription, textBound)

	data, err := toml.Marshal(bounded)
	if err != nil {
		return fmt.Errorf("session: encode record %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("session: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: write record %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: close record %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: chmod record %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: replace record %s: %w", name, err)
	}
	return nil
}

// AddUsage applies a usage delta to the account's counters as one serialized
// read-modify-write. Application is additive: applying a delta twice
// double-counts, which the conversation guard upstream prevents.
func (s *Store) AddUsage(name string, usage models.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadLocked(name)
	if err != nil {
		return err
	}
	record.TokensIn += usage.InputTokens
	record.TokensOut += usage.OutputTokens
	record.TokensTotal += usage.TotalTokens
	record.TokensCost += usage.Cost
	return s.saveLocked(name, record)
}

var forbiddenFileChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// CleanFileName strips filesystem-hostile characters from a record name and
// bounds its length.
func CleanFileName(name string) string {
	cleaned := strings.TrimSpace(forbiddenFileChars.ReplaceAllString(name, ""))
	return vk.Truncate(cleaned, nameBound)
}
