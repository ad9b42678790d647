// Package auth persists the access/refresh token pair that gates every
// call to the remote service.
//
// Tokens are stored per account in a 0600 file under the credentials
// directory, written atomically (temp file + rename) so a crash mid-write
// never leaves a truncated credential file. Token values are never logged.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Credentials is the stored token pair plus the identity it belongs to.
type Credentials struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	Account      string    `json:"account"`
	SavedAt      time.Time `json:"savedAt"`
}

// Store reads and writes credentials for one account.
//
// All methods are safe for concurrent use; the delivery client's refresh
// path and the CLI may touch the store at the same time.
type Store struct {
	dir     string
	account string

	mu    sync.Mutex
	cache *Credentials
}

// NewStore creates a credential store rooted at dir for the given account
// identifier (normally the login email).
func NewStore(dir, account string) *Store {
	return &Store{dir: dir, account: account}
}

// Load returns the stored credentials, or (nil, nil) when the account has
// never logged in or has been logged out.
func (s *Store) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil {
		creds := *s.cache
		return &creds, nil
	}

	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	s.cache = &creds
	out := creds
	return &out, nil
}

// Save replaces the stored token pair. Called after login and after every
// successful refresh.
func (s *Store) Save(creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds.Account = s.account
	creds.SavedAt = time.Now().UTC()

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("failed to replace credentials: %w", err)
	}

	c := *creds
	s.cache = &c
	return nil
}

// Clear removes the stored credentials. Called when a refresh fails and
// the user must authenticate again. Idempotent.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = nil
	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// path returns the credential file for this account. The account string is
// sanitized so an email address yields a valid filename.
func (s *Store) path() string {
	name := strings.NewReplacer("/", "_", "@", "_at_", ":", "_").Replace(s.account)
	return filepath.Join(s.dir, name+".json")
}
