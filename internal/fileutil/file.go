package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// GetFileExtension returns the file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsImageFile checks if a file has an image extension
func IsImageFile(filename string) bool {
	ext := GetFileExtension(filename)
	imageExts := []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff", "webp"}

	for _, imgExt := range imageExts {
		if ext == imgExt {
			return true
		}
	}
	return false
}

// ExportFileName builds the artifact name for a redacted image:
// prefix + original base name, with the extension swapped for the export
// format.
func ExportFileName(prefix, originalName, format string) string {
	base := filepath.Base(originalName)
	nameWithoutExt := strings.TrimSuffix(base, filepath.Ext(base))
	if nameWithoutExt == "" {
		nameWithoutExt = "image"
	}
	if format == "" {
		format = "png"
	}
	return fmt.Sprintf("%s%s.%s", prefix, nameWithoutExt, format)
}

// BaseNameFromURL derives a display name for an image staged by URL.
func BaseNameFromURL(rawURL string) string {
	trimmed := strings.SplitN(rawURL, "?", 2)[0]
	base := filepath.Base(trimmed)
	if base == "." || base == "/" || base == "" {
		return "staged-image"
	}
	return base
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
