// Package dossier persists one JSON record per conversation partner:
// the identity attributes fetched from the transport plus the bookkeeping
// fields the operator and the accounting sink maintain.
package dossier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/limmweb/vk-messager/internal/vk"
	"github.com/limmweb/vk-messager/pkg/models"
)

const (
	fileMode  = 0o600
	dirMode   = 0o700
	nameBound = 100
)

// ErrNotFound is returned when no dossier exists for the partner.
var ErrNotFound = errors.New("dossier: record not found")

// Record is one partner's stored state.
//
// Identity holds the transport-fetched attributes keyed by their API names.
// On every sync a fetched attribute overwrites the stored value under the
// same key, while keys the fetch did not return persist. The remaining fields
// are bookkeeping: they are never touched by a sync.
type Record struct {
	Identity map[string]string `json:"identity"`

	TokensIn    int64   `json:"tokens_in"`
	TokensOut   int64   `json:"tokens_out"`
	TokensTotal int64   `json:"tokens_total"`
	TokensCost  float64 `json:"tokens_cost"`

	PhotoDescription string  `json:"photo_description"`
	Characteristic   string  `json:"characteristic"`
	SaleStatus       string  `json:"sale_status"`
	Profit           float64 `json:"profit"`
	APIToken         string  `json:"api_token"`
	TokenAdded       string  `json:"token_added"`
	TokenStatus      string  `json:"token_status"`
	Contacts         string  `json:"contacts"`
}

// Key identifies a dossier file: the partner's display name plus identifier.
type Key struct {
	Name string
	ID   int64
}

// Store reads and writes dossier records under one directory. Updates are
// serialized by the store's mutex; per-conversation serialization is already
// guaranteed upstream by the conversation guard, so this only protects
// cross-partner access to the directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the directory if needed and returns a store over it.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("dossier: directory is required")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("dossier: create directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the record file path for a partner key.
func (s *Store) Path(key Key) string {
	base := cleanFileName(strings.ReplaceAll(key.Name, " ", "_"))
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d.json", base, key.ID))
}

// Load reads a partner's record.
func (s *Store) Load(key Key) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(key)
}

func (s *Store) loadLocked(key Key) (*Record, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key.Name)
		}
		return nil, fmt.Errorf("dossier: read record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("dossier: decode record %s: %w", key.Name, err)
	}
	if record.Identity == nil {
		record.Identity = make(map[string]string)
	}
	return &record, nil
}

func (s *Store) saveLocked(key Key, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("dossier: encode record %s: %w", key.Name, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".dossier-*.json.tmp")
	if err != nil {
		return fmt.Errorf("dossier: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("dossier: write record %s: %w", key.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("dossier: close record %s: %w", key.Name, err)
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("dossier: chmod record %s: %w", key.Name, err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("dossier: replace record %s: %w", key.Name, err)
	}
	return nil
}

// Sync merges a freshly fetched profile into the partner's stored record and
// persists it. Fetched attributes overwrite stored values under the same key;
// stored keys the fetch did not return persist across syncs; bookkeeping
// fields are left untouched (or defaulted on first contact).
func (s *Store) Sync(profile *vk.Profile) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{Name: profile.DisplayName(), ID: profile.ID}
	record, err := s.loadLocked(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		record = &Record{Identity: make(map[string]string)}
	}

	for _, field := range profile.Fields() {
		record.Identity[field.Key] = field.Value
	}

	if err := s.saveLocked(key, record); err != nil {
		return nil, err
	}
	return record, nil
}

// AddUsage applies a usage delta to the partner's counters as one serialized
// read-modify-write.
func (s *Store) AddUsage(key Key, usage models.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadLocked(key)
	if err != nil {
		return err
	}
	record.TokensIn += usage.InputTokens
	record.TokensOut += usage.OutputTokens
	record.TokensTotal += usage.TotalTokens
	record.TokensCost += usage.Cost
	return s.saveLocked(key, record)
}

var forbiddenFileChars = regexp.MustCompile(`[\\/:*?"<>|]`)

func cleanFileName(name string) string {
	cleaned := strings.TrimSpace(forbiddenFileChars.ReplaceAllString(name, ""))
	return vk.Truncate(cleaned, nameBound)
}
