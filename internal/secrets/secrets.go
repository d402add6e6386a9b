// Package secrets resolves credentials by key. Tool-server launchers and the
// OAuth refresher read and rotate tokens through a Provider instead of the
// process environment.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Provider reads and writes secrets by key.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("secret not found")

// Well-known keys for provider credentials.
const (
	KeyAnthropicAPIKey       = "anthropic/api_key"
	KeyAnthropicAccessToken  = "anthropic/access_token"
	KeyAnthropicRefreshToken = "anthropic/refresh_token"
)

// MemoryStore keeps secrets in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Provider = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with values.
func NewMemoryStore(values map[string]string) *MemoryStore {
	m := &MemoryStore{values: make(map[string]string, len(values))}
	for k, v := range values {
		if v != "" {
			m.values[k] = v
		}
	}
	return m
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", fmt.Errorf("memory secret %q: %w", key, ErrNotFound)
	}
	return v, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

const (
	storeDirMode  = 0o700
	secretFileMod = 0o600
)

// FileStore keeps one secret per file under a root directory.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

var _ Provider = (*FileStore)(nil)

func NewFileStore(root string) *FileStore {
	return &FileStore{root: filepath.Clean(root)}
}

func (s *FileStore) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.pathForKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), storeDirMode); err != nil {
		return fmt.Errorf("create file secret directory: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial token.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), secretFileMod); err != nil {
		return fmt.Errorf("write file secret %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write file secret %q: %w", key, err)
	}

	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := s.pathForKey(key)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file secret %q: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("read file secret %q: %w", key, err)
	}

	return strings.TrimRight(string(data), "\r\n"), nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.pathForKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete file secret %q: %w", key, err)
	}

	return nil
}

func (s *FileStore) pathForKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errors.New("secret key is empty")
	}

	cleaned := filepath.Clean(trimmed)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") || cleaned == "." {
		return "", fmt.Errorf("invalid secret key %q", key)
	}

	return filepath.Join(s.root, cleaned), nil
}

// EnvStore reads secrets from environment variables named by the key.
// It is read-only.
type EnvStore struct{}

var _ Provider = EnvStore{}

var errReadOnly = errors.New("environment secrets are read-only")

func (EnvStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("env secret %q: %w", key, ErrNotFound)
}

func (EnvStore) Put(context.Context, string, string) error { return errReadOnly }

func (EnvStore) Delete(context.Context, string) error { return errReadOnly }

// ChainStore tries a primary provider and falls back to a second one.
type ChainStore struct {
	primary  Provider
	fallback Provider
}

var _ Provider = (*ChainStore)(nil)

var (
	errNilPrimaryStore  = errors.New("primary secret store is nil")
	errNilFallbackStore = errors.New("fallback secret store is nil")
)

// NewChainStore panics on nil stores; use NewChainStoreChecked for input
// that is not known at compile time.
func NewChainStore(primary, fallback Provider) *ChainStore {
	store, err := NewChainStoreChecked(primary, fallback)
	if err != nil {
		panic(err)
	}
	return store
}

func NewChainStoreChecked(primary, fallback Provider) (*ChainStore, error) {
	if primary == nil {
		return nil, errNilPrimaryStore
	}
	if fallback == nil {
		return nil, errNilFallbackStore
	}
	return &ChainStore{primary: primary, fallback: fallback}, nil
}

func (s *ChainStore) Put(ctx context.Context, key string, value string) error {
	err := s.primary.Put(ctx, key, value)
	if err == nil {
		return nil
	}
	if shouldSkipFallback(err) {
		return err
	}

	fallbackErr := s.fallback.Put(ctx, key, value)
	if fallbackErr == nil {
		return nil
	}

	return fmt.Errorf("primary backend put failed: %w; fallback backend put failed: %w", err, fallbackErr)
}

func (s *ChainStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.primary.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if shouldSkipFallback(err) {
		return "", err
	}

	fallbackValue, fallbackErr := s.fallback.Get(ctx, key)
	if fallbackErr == nil {
		return fallbackValue, nil
	}

	return "", fmt.Errorf("primary backend get failed: %w; fallback backend get failed: %w", err, fallbackErr)
}

func (s *ChainStore) Delete(ctx context.Context, key string) error {
	err := s.primary.Delete(ctx, key)
	if err == nil {
		return nil
	}
	if shouldSkipFallback(err) {
		return err
	}

	fallbackErr := s.fallback.Delete(ctx, key)
	if fallbackErr == nil {
		return nil
	}

	return fmt.Errorf("primary backend delete failed: %w; fallback backend delete failed: %w", err, fallbackErr)
}

func shouldSkipFallback(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Lookup returns the value for key, or "" when key is empty or unset.
// Other errors are returned.
func Lookup(ctx context.Context, p Provider, key string) (string, error) {
	if key == "" || p == nil {
		return "", nil
	}
	v, err := p.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
