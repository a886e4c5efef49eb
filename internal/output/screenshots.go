package output

import (
	"fmt"
	"os"
	"path/filepath"
)

// ScreenshotDir saves screenshots as <dir>/screenshots/<ordinal>.png.
type ScreenshotDir struct {
	dir string
}

// NewScreenshotDir creates a saver rooted at outputDir.
func NewScreenshotDir(outputDir string) *ScreenshotDir {
	return &ScreenshotDir{dir: filepath.Join(outputDir, "screenshots")}
}

// SaveScreenshot writes png and returns its path.
func (s *ScreenshotDir) SaveScreenshot(ordinal int, png []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create screenshot directory: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%d.png", ordinal))
	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// Dir returns the screenshot directory.
func (s *ScreenshotDir) Dir() string {
	return s.dir
}
