package upload

import (
	"fmt"
	"strings"
)

// MaxFileSize is the largest upload accepted, 10 MiB.
const MaxFileSize = 10 << 20

// FileInfo is what the browser told us about a selected file.
type FileInfo struct {
	Name        string
	ContentType string
	Size        int64
}

// ValidationError is raised before any network call and is never sent to
// the backend.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

const (
	msgNotImage = "Please select an image file"
	msgTooLarge = "Image size must be less than 10MB"
)

func Validate(f FileInfo) error {
	if !strings.HasPrefix(strings.ToLower(f.ContentType), "image/") {
		return &ValidationError{Reason: msgNotImage}
	}
	if f.Size > MaxFileSize {
		return &ValidationError{Reason: msgTooLarge}
	}
	return nil
}

// FormatSize renders a byte count for humans.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
