package files

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "stitch/internal/errors"
)

// FileInfo represents information about a discovered file
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Discovery provides file discovery operations
type Discovery struct {
	basePath string
}

// NewDiscovery creates a new file discovery instance
func NewDiscovery(basePath string) *Discovery {
	return &Discovery{basePath: basePath}
}

func (d *Discovery) resolve(dir string) string {
	if filepath.IsAbs(dir) || d.basePath == "" {
		return dir
	}
	return filepath.Join(d.basePath, dir)
}

// FindByExtensions lists regular files in dir whose extension matches one of
// exts, case-insensitively. Results are sorted by name.
func (d *Discovery) FindByExtensions(dir string, exts []string) ([]FileInfo, error) {
	fullPath := d.resolve(dir)

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", fullPath, err)
	}

	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if _, ok := allowed[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, FileInfo{
			Path:    filepath.Join(fullPath, name),
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})

	return files, nil
}

// FilterByName keeps the files whose name contains substr. An empty substr
// keeps everything.
func FilterByName(files []FileInfo, substr string) []FileInfo {
	if substr == "" {
		return files
	}
	var filtered []FileInfo
	for _, file := range files {
		if strings.Contains(file.Name, substr) {
			filtered = append(filtered, file)
		}
	}
	return filtered
}

var yearPattern = regexp.MustCompile(`\d{4}`)

// ExtractYear returns the first 4-digit token of a file name.
func ExtractYear(name string) (int, error) {
	token := yearPattern.FindString(name)
	if token == "" {
		return 0, apperrors.NewParsingError("no 4-digit year in file name "+name, nil)
	}
	year, err := strconv.Atoi(token)
	if err != nil {
		return 0, apperrors.NewParsingError("invalid year in file name "+name, err)
	}
	return year, nil
}

// ByYear keys files by the year in their name. Two files for the same year
// is a configuration error.
func ByYear(files []FileInfo) (map[int]FileInfo, error) {
	years := make(map[int]FileInfo, len(files))
	for _, file := range files {
		year, err := ExtractYear(file.Name)
		if err != nil {
			return nil, err
		}
		if prev, dup := years[year]; dup {
			return nil, apperrors.NewConfigError(
				fmt.Sprintf("files %s and %s both map to year %d", prev.Name, file.Name, year), nil).
				WithContext("year", year)
		}
		years[year] = file
	}
	return years, nil
}
