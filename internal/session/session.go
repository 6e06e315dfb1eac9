// Package session holds the client's persisted login state: a bearer token and
// the user object returned by the backend. It is the only state akhbar keeps on disk.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/kiranshivaraju/akhbar/pkg/models"
)

// ErrNoToken is returned when no authentication token is available.
var ErrNoToken = errors.New("no authentication token found")

// TokenSource provides the bearer token for backend calls.
type TokenSource interface {
	Token() (string, error)
}

// Static is a fixed token, used when the token comes from configuration.
type Static string

func (s Static) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// FileStore persists a models.Session as JSON. Safe for concurrent use.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	session  *models.Session
	onReload []func()
}

// NewFileStore creates a store for path and loads it if the file exists.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{path: path, logger: logger}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load re-reads the session file. A missing file leaves the store empty.
func (s *FileStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.set(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}
	if len(data) == 0 {
		s.set(nil)
		return nil
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return fmt.Errorf("decode session file: %w", err)
	}
	s.set(&sess)
	return nil
}

// Token returns the stored bearer token or ErrNoToken.
func (s *FileStore) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || s.session.Token == "" {
		return "", ErrNoToken
	}
	return s.session.Token, nil
}

// User returns the stored user, or nil when logged out.
func (s *FileStore) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || s.session.User == nil {
		return nil
	}
	u := *s.session.User
	return &u
}

// Save writes the session to disk with owner-only permissions.
func (s *FileStore) Save(sess models.Session) error {
	if sess.Token == "" {
		return ErrNoToken
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	s.set(&sess)
	return nil
}

// Clear removes the stored session.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	s.set(nil)
	return nil
}

// OnReload registers fn to run after each successful reload triggered by Watch.
func (s *FileStore) OnReload(fn func()) {
	s.mu.Lock()
	s.onReload = append(s.onReload, fn)
	s.mu.Unlock()
}

// Watch reloads the session whenever the file changes on disk, until ctx is done.
// The parent directory is watched so atomic replaces and late creation are seen.
func (s *FileStore) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if err := s.Load(); err != nil {
					s.logger.Warn("session reload failed", "path", s.path, "error", err)
					continue
				}
				s.logger.Info("session reloaded", "path", s.path, "op", ev.Op.String())
				s.mu.RLock()
				hooks := append([]func(){}, s.onReload...)
				s.mu.RUnlock()
				for _, fn := range hooks {
					fn()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("session watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (s *FileStore) set(sess *models.Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

var (
	_ TokenSource = (*FileStore)(nil)
	_ TokenSource = Static("")
)
