package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes uploads under a directory served by the API itself.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates dir when missing. baseURL is the public prefix the directory is served under.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage: local directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the root directory.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Put(_ context.Context, key, contentType string, body io.Reader) (Object, error) {
	target, err := s.resolve(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Object{}, fmt.Errorf("storage: create directory: %w", err)
	}
	f, err := os.Create(target)
	if err != nil {
		return Object{}, fmt.Errorf("storage: create %s: %w", key, err)
	}
	size, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(target)
		return Object{}, fmt.Errorf("storage: write %s: %w", key, copyErr)
	}
	if closeErr != nil {
		return Object{}, fmt.Errorf("storage: close %s: %w", key, closeErr)
	}
	return Object{Key: key, URL: s.baseURL + "/" + filepath.ToSlash(key), ContentType: contentType, Size: size}, nil
}

// Ping checks the directory is still writable.
func (s *LocalStore) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("storage: %s is not a directory", s.dir)
	}
	return nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: object name is required")
	}
	target := filepath.Join(s.dir, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.dir, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("storage: key %q escapes storage root", key)
	}
	return target, nil
}
