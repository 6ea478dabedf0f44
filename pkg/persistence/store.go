package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/towerlink-protocol/towerlink-go/pkg/pairing"
)

// StateVersion is the current version of the credentials file format.
const StateVersion = 1

// credentialsFile is the on-disk envelope around pairing credentials.
type credentialsFile struct {
	Version     int                  `json:"version"`
	SavedAt     time.Time            `json:"saved_at"`
	Credentials *pairing.Credentials `json:"credentials"`
}

// FileStore persists pairing credentials to a JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a credential store backed by the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save persists the credentials, creating parent directories as needed.
// The write goes through a temp file and rename.
func (s *FileStore) Save(creds *pairing.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	envelope := credentialsFile{
		Version:     StateVersion,
		SavedAt:     time.Now(),
		Credentials: creds,
	}
	data, err := json.MarshalIndent(&envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing credentials: %w", err)
	}
	return nil
}

// Load reads the credentials from disk.
// Returns nil, nil if the file doesn't exist (unpaired node).
func (s *FileStore) Load() (*pairing.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	var envelope credentialsFile
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	return envelope.Credentials, nil
}

// Erase removes the credentials file. Erasing an absent file is not an
// error.
func (s *FileStore) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// MemStore keeps credentials in memory. Useful for tests and nodes that
// should forget their binding on restart.
type MemStore struct {
	mu    sync.Mutex
	creds *pairing.Credentials
}

// NewMemStore creates an empty in-memory credential store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Save stores a copy of the credentials.
func (s *MemStore) Save(creds *pairing.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if creds == nil {
		s.creds = nil
		return nil
	}
	c := *creds
	c.LinkKey = append([]byte(nil), creds.LinkKey...)
	s.creds = &c
	return nil
}

// Load returns the stored credentials, or nil, nil when empty.
func (s *MemStore) Load() (*pairing.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil, nil
	}
	c := *s.creds
	c.LinkKey = append([]byte(nil), s.creds.LinkKey...)
	return &c, nil
}

// Erase clears the stored credentials.
func (s *MemStore) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}

var (
	_ pairing.CredentialStore = (*FileStore)(nil)
	_ pairing.CredentialStore = (*MemStore)(nil)
)
