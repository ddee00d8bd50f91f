/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FSStore keeps objects as files below a root directory.
type FSStore struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFSStore creates a filesystem store rooted at rootDir.
func NewFSStore(rootDir string, logger zerolog.Logger) *FSStore {
	return &FSStore{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "storage_fs").Logger(),
	}
}

// path maps key below the root and refuses keys that escape it.
func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	full := filepath.Join(s.rootDir, clean)
	root := filepath.Clean(s.rootDir)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes storage root", key)
	}
	return full, nil
}

// Put writes data atomically through a temporary file.
func (s *FSStore) Put(_ context.Context, key string, data []byte) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename file: %w", err)
	}

	s.logger.Debug().Str("path", full).Int("bytes", len(data)).Msg("object stored")
	return nil
}

func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (s *FSStore) Location(key string) string {
	full, err := s.path(key)
	if err != nil {
		return ""
	}
	return full
}

// CheckAccess verifies the root directory exists, creating it when missing.
func (s *FSStore) CheckAccess(_ context.Context) error {
	if err := os.MkdirAll(s.rootDir, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("cannot access storage root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", s.rootDir)
	}
	return nil
}
