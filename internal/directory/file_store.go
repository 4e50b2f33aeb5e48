package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/irpekek/broadcast-server/internal/domain"
)

// DefaultPath is the directory file used when none is configured.
const DefaultPath = "connected-clients.json"

// FileStore implements domain.UserDirectory on top of a JSON file.
// Operations within one process are serialized; separate processes race on check-then-register.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Users returns every record currently in the file. A missing file reads as empty.
func (s *FileStore) Users(ctx context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *FileStore) Exists(ctx context.Context, username string) (bool, error) {
	users, err := s.Users(ctx)
	if err != nil {
		return false, err
	}
	return lo.ContainsBy(users, func(u domain.User) bool { return u.Username == username }), nil
}

func (s *FileStore) Register(ctx context.Context, username string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	user := domain.User{ID: uuid.New(), Username: username}
	if err := s.save(ctx, append(users, user)); err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

// Unregister drops every record for username. Unknown usernames are not an error.
func (s *FileStore) Unregister(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load(ctx)
	if err != nil {
		return err
	}

	kept := lo.Reject(users, func(u domain.User, _ int) bool { return u.Username == username })
	return s.save(ctx, kept)
}

func (s *FileStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, []domain.User{})
}

func (s *FileStore) load(ctx context.Context) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.User{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user directory: %w", err)
	}

	users := []domain.User{}
	if len(data) == 0 {
		return users, nil
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to decode user directory %s: %w", s.path, err)
	}
	return users, nil
}

// save replaces the file atomically via a temp file in the same directory.
func (s *FileStore) save(ctx context.Context, users []domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if users == nil {
		users = []domain.User{}
	}

	data, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("failed to encode user directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write user directory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write user directory: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace user directory: %w", err)
	}
	return nil
}
