// Package auth holds the signed-in console session: the API token, the
// current user and the permissions granted to them.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/modoterra/opsconsole/pkg/core"
)

// ErrNotLoggedIn is returned when an operation needs a token and none is
// stored.
var ErrNotLoggedIn = errors.New("not logged in")

// AdminRole implies every permission.
const AdminRole = "admin"

// User is the signed-in console user.
type User struct {
	ID          int64    `yaml:"id"          json:"id"`
	Username    string   `yaml:"username"    json:"username"`
	Email       string   `yaml:"email,omitempty" json:"email,omitempty"`
	IsAdmin     bool     `yaml:"is_admin"    json:"is_admin"`
	Roles       []string `yaml:"roles"       json:"roles"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type fileState struct {
	Token string `yaml:"token"`
	User  *User  `yaml:"user,omitempty"`
}

// Store is the session state, loaded once from a file and written back
// on every change. It is safe for concurrent use.
type Store struct {
	path  string
	mu    sync.RWMutex
	state fileState
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Token returns the stored API token, or "".
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

// User returns a copy of the stored user, or nil.
func (s *Store) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.User == nil {
		return nil
	}
	u := *s.state.User
	u.Roles = slices.Clone(u.Roles)
	u.Permissions = slices.Clone(u.Permissions)
	return &u
}

// LoggedIn reports whether a token is stored.
func (s *Store) LoggedIn() bool {
	return s.Token() != ""
}

// RequireToken returns the token or ErrNotLoggedIn.
func (s *Store) RequireToken() (string, error) {
	tok := s.Token()
	if tok == "" {
		return "", ErrNotLoggedIn
	}
	return tok, nil
}

// SetSession replaces the token and user and saves the store.
func (s *Store) SetSession(token string, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = fileState{Token: token, User: user}
	if err := s.save(); err != nil {
		s.state = prev
		return err
	}
	return nil
}

// SetUser replaces the user, keeping the token, and saves the store.
func (s *Store) SetUser(user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state.User
	s.state.User = user
	if err := s.save(); err != nil {
		s.state.User = prev
		return err
	}
	return nil
}

// Clear forgets the session and removes the backing file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	s.state = fileState{}
	return nil
}

// Can reports whether the current user may perform action on resource.
// Admins may do everything; "*" grants everything; "resource:*" grants
// every action on resource.
func (s *Store) Can(resource core.Resource, action core.Action) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.state.User
	if u == nil {
		return false
	}
	if u.IsAdmin || slices.Contains(u.Roles, AdminRole) {
		return true
	}
	for _, key := range u.Permissions {
		if key == "*" {
			return true
		}
		p, err := core.ParsePermission(key)
		if err != nil {
			continue
		}
		if p.Grants(resource, action) {
			return true
		}
	}
	return false
}

// save must be called with s.mu held.
func (s *Store) save() error {
	data, err := yaml.Marshal(&s.state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}
