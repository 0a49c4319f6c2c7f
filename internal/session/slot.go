package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Slot is the fixed storage location for the bearer credential between runs.
type Slot interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// FileSlot keeps the credential in a single file, the CLI analog of a
// browser's fixed localStorage key.
type FileSlot struct {
	path string
}

func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path}
}

// DefaultSlotPath places the credential under the user config directory.
func DefaultSlotPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "medportal", "credential"), nil
}

func (s *FileSlot) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read credential slot: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileSlot) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("write credential slot: %w", err)
	}
	return nil
}

func (s *FileSlot) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear credential slot: %w", err)
	}
	return nil
}

// MemorySlot holds the credential in memory only. Used by tests and the
// simulator, where persistence across runs is unwanted.
type MemorySlot struct {
	token string
}

func (s *MemorySlot) Load() (string, error) { return s.token, nil }

func (s *MemorySlot) Save(token string) error {
	s.token = token
	return nil
}

func (s *MemorySlot) Clear() error {
	s.token = ""
	return nil
}
