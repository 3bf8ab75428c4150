// Package nvs is a small persistent key/value store for device state that
// must survive restarts, such as the boot counter and the last assigned IP.
//
// The store is a single JSON file in a directory. Init recovers from a
// corrupt file or a file written by a different format version by erasing
// it and starting fresh; any other failure is fatal to the caller.
package nvs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FormatVersion is the on-disk format written by this package.
const FormatVersion = 1

const fileName = "nvs.json"

var (
	// ErrNotInitialized is returned before a successful Init.
	ErrNotInitialized = errors.New("nvs: not initialized")

	// ErrCorrupt marks an unreadable store file.
	ErrCorrupt = errors.New("nvs: store corrupt")

	// ErrVersionMismatch marks a store file written by another format version.
	ErrVersionMismatch = errors.New("nvs: format version mismatch")
)

// Well-known keys.
const (
	KeyBootCount = "boot_count"
	KeyLastIP    = "last_ip"
	KeyDeviceID  = "device_id"
)

type fileFormat struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
}

// InitResult reports what Init had to do.
type InitResult struct {
	Erased bool
	Reason error
}

// Store is safe for concurrent use.
type Store struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]string
	ready   bool
	initRes InitResult
}

// Open returns a store rooted at dir. Nothing is read until Init.
func Open(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "nvs"),
	}
}

// Path returns the store file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, fileName)
}

// Init loads the store, creating it if missing. A corrupt or
// version-mismatched file is erased and re-initialized once. After a
// successful Init, later calls return the same result without reloading.
func (s *Store) Init() (InitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return s.initRes, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return InitResult{}, fmt.Errorf("nvs: create dir: %w", err)
	}

	entries, err := s.load()
	if err == nil {
		s.entries = entries
		s.ready = true
		return InitResult{}, nil
	}
	if !errors.Is(err, ErrCorrupt) && !errors.Is(err, ErrVersionMismatch) {
		return InitResult{}, err
	}

	s.logger.Warn("erasing store", "reason", err)
	if rmErr := os.Remove(s.Path()); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return InitResult{}, fmt.Errorf("nvs: erase: %w", rmErr)
	}

	s.entries = map[string]string{}
	if err2 := s.flush(); err2 != nil {
		return InitResult{}, err2
	}
	s.ready = true
	s.initRes = InitResult{Erased: true, Reason: err}
	return s.initRes, nil
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nvs: read: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if f.Version != FormatVersion {
		return nil, fmt.Errorf("%w: found %d, want %d", ErrVersionMismatch, f.Version, FormatVersion)
	}
	if f.Entries == nil {
		f.Entries = map[string]string{}
	}
	return f.Entries, nil
}

// flush writes the store atomically. Caller holds mu.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(fileFormat{Version: FormatVersion, Entries: s.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("nvs: encode: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, fileName+".*")
	if err != nil {
		return fmt.Errorf("nvs: write: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("nvs: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("nvs: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("nvs: commit: %w", err)
	}
	return nil
}

// Get returns the value for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

// Set stores value under key and persists the store.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotInitialized
	}
	s.entries[key] = value
	return s.flush()
}

// Incr adds one to the counter at key and returns the new value. A missing
// or non-numeric value counts from zero.
func (s *Store) Incr(key string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return 0, ErrNotInitialized
	}
	n, _ := strconv.ParseUint(s.entries[key], 10, 64)
	n++
	s.entries[key] = strconv.FormatUint(n, 10)
	if err := s.flush(); err != nil {
		return 0, err
	}
	return n, nil
}

// Erase removes every entry.
func (s *Store) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotInitialized
	}
	s.entries = map[string]string{}
	return s.flush()
}
