package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "stitch/internal/errors"
)

// TempDirName is the directory under the save directory that holds the
// per-lag files of a run.
const TempDirName = "temp_lag_files"

// Paths contains every file system location a run touches.
type Paths struct {
	SurveyPath  string
	HistoryPath string
	ContextDir  string
	SaveDir     string
	TempDir     string
	OutputPath  string
	RenameFile  string
}

// GetPaths resolves the run paths of cfg to absolute paths.
func GetPaths(cfg *Config) (*Paths, error) {
	l := cfg.Link
	abs := func(p string) (string, error) {
		if p == "" {
			return "", nil
		}
		a, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		return a, nil
	}

	p := &Paths{}
	for _, r := range []struct {
		dst *string
		src string
	}{
		{&p.SurveyPath, l.SurveyPath},
		{&p.HistoryPath, cfg.History.Path},
		{&p.ContextDir, l.ContextDir},
		{&p.SaveDir, l.SaveDir},
		{&p.RenameFile, l.RenameFile},
	} {
		v, err := abs(r.src)
		if err != nil {
			return nil, err
		}
		*r.dst = v
	}
	p.TempDir = filepath.Join(p.SaveDir, TempDirName)
	p.OutputPath = filepath.Join(p.SaveDir, l.OutputName)
	return p, nil
}

// EnsureDirectories creates the save and temp directories.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.SaveDir, p.TempDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return apperrors.NewStorageError("create directory "+dir, err)
		}
		slog.Default().Debug("Ensured directory exists", slog.String("directory", dir))
	}
	return nil
}

// ValidateInputs checks that every input the run reads exists.
func (p *Paths) ValidateInputs() error {
	inputs := []struct{ name, path string }{
		{"survey file", p.SurveyPath},
		{"contextual directory", p.ContextDir},
		{"residential history", p.HistoryPath},
		{"rename file", p.RenameFile},
	}
	var missing []string
	for _, in := range inputs {
		if in.path != "" && !FileExists(in.path) {
			missing = append(missing, fmt.Sprintf("%s (%s)", in.name, in.path))
		}
	}
	if len(missing) > 0 {
		return apperrors.NewNotFoundError(strings.Join(missing, ", "))
	}
	return nil
}

// LogPathResolution logs where a run reads and writes.
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Path resolution summary",
		slog.Group("inputs",
			slog.String("survey", p.SurveyPath),
			slog.String("history", p.HistoryPath),
			slog.String("context", p.ContextDir),
			slog.String("rename", p.RenameFile),
		),
		slog.Group("outputs",
			slog.String("save", p.SaveDir),
			slog.String("temp", p.TempDir),
			slog.String("output", p.OutputPath),
		))
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
