package files

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Manager owns one working directory, such as the temp lag directory.
type Manager struct {
	dir    string
	logger *slog.Logger
}

// NewManager creates a new file manager rooted at dir.
func NewManager(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dir: dir, logger: logger.With(slog.String("component", "file_manager"))}
}

// Dir returns the managed directory.
func (m *Manager) Dir() string { return m.dir }

// Path joins name onto the managed directory.
func (m *Manager) Path(name string) string { return filepath.Join(m.dir, name) }

// EnsureDirectory creates the managed directory if it doesn't exist
func (m *Manager) EnsureDirectory() error {
	m.logger.Debug("Ensuring directory exists", slog.String("path", m.dir))
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", m.dir, err)
	}
	return nil
}

// FileExists checks if a file exists at the given path
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DirExists reports whether path is an existing directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ListFiles returns the full paths of files in the managed directory whose
// name starts with prefix, sorted by name.
func (m *Manager) ListFiles(prefix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			files = append(files, filepath.Join(m.dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// RemoveFiles deletes the files in the managed directory whose name starts
// with prefix and returns how many were removed.
func (m *Manager) RemoveFiles(prefix string) (int, error) {
	files, err := m.ListFiles(prefix)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, path := range files {
		if err := os.Remove(path); err != nil {
			return 0, fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}
	if len(files) > 0 {
		m.logger.Info("Removed files",
			slog.String("dir", m.dir),
			slog.String("prefix", prefix),
			slog.Int("count", len(files)))
	}
	return len(files), nil
}
