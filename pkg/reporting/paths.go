package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultPathManager implements path management functionality
type DefaultPathManager struct{}

// NewDefaultPathManager creates a new path manager
func NewDefaultPathManager() *DefaultPathManager {
	return &DefaultPathManager{}
}

// GetDefaultOutputPath returns reports/<kind>_<date>.<ext> for a report generated at `at`
func (p *DefaultPathManager) GetDefaultOutputPath(kind, ext string, at time.Time) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	if k == "" {
		k = "risk"
	}
	ext = strings.TrimPrefix(ext, ".")
	return filepath.Join("reports", fmt.Sprintf("%s_%s.%s", k, at.UTC().Format("20060102_150405"), ext))
}

// EnsureDirectoryExists creates the parent directory of path if it doesn't exist
func (p *DefaultPathManager) EnsureDirectoryExists(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// DefaultOutputPath is the package-level convenience for GetDefaultOutputPath
func DefaultOutputPath(kind, ext string, at time.Time) string {
	return NewDefaultPathManager().GetDefaultOutputPath(kind, ext, at)
}
