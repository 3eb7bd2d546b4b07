// Package media – media download/store pipeline
//
// This file defines the storage abstraction for downloaded media plus the
// filesystem implementation. Keys are generated by the pipeline; stores map
// them to a durable location and a public URL the vision model and the admin
// API can reference.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oferrer/wa-gateway/internal/config"
)

// ErrPathTraversal indicates a storage key attempted directory traversal.
var ErrPathTraversal = errors.New("media: path traversal is forbidden")

// Store persists media bytes under a key and returns a public URL for them.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// FSStore writes media files under a root directory and serves them from a
// configured base URL.
type FSStore struct {
	dir     string
	baseURL string
}

// NewFSStore constructs an FSStore from the media configuration block,
// creating the root directory if needed.
func NewFSStore(cfg config.MediaConfig) (*FSStore, error) {
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve media dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &FSStore{dir: abs, baseURL: strings.TrimRight(cfg.BaseURL, "/")}, nil
}

// Put writes data under key and returns its public URL.
func (s *FSStore) Put(_ context.Context, key string, data []byte) (string, error) {
	dest, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

// path resolves a key inside the store root, rejecting traversal attempts.
func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean == "" || clean == "." || filepath.IsAbs(clean) {
		return "", ErrPathTraversal
	}
	joined := filepath.Join(s.dir, clean)
	if !strings.HasPrefix(joined, s.dir+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}
