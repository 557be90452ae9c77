// Package storage keeps uploaded and processed videos on local disk and
// optionally pushes finished outputs to S3.
//
// Layout under the work directory:
//
//	uploads/<task_id>/<task_id><ext>   original uploads
//	outputs/<task_id>_no_sub.mp4       processed videos
//	tmp/                               per-run scratch space
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultMaxUploadBytes is the upload limit used when none is configured.
const DefaultMaxUploadBytes int64 = 1 << 30

// SupportedFormats lists the accepted video extensions.
var SupportedFormats = []string{".mp4", ".avi", ".mov", ".mkv", ".wmv", ".flv", ".webm", ".m4v"}

var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")

	// ErrUnsupportedFormat is returned for uploads with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrEmptyFilename is returned when an upload has no name.
	ErrEmptyFilename = errors.New("filename is required")
)

// Storage is the file store used by the task service.
type Storage interface {
	// SaveUpload streams an upload to disk and returns its path and size.
	SaveUpload(ctx context.Context, taskID, filename string, data io.Reader) (path string, size int64, err error)

	// OutputPath returns where the processed video for a task is written.
	OutputPath(taskID, filename string) string

	// Open reads a stored file. The caller closes the returned ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Remove deletes files, continuing past failures.
	Remove(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// IsSupportedVideo reports whether filename has an accepted extension.
func IsSupportedVideo(filename string) bool {
	return slices.Contains(SupportedFormats, strings.ToLower(filepath.Ext(filename)))
}

// ValidateUpload checks an upload's name and declared size. A non-positive
// size means unknown and is checked while streaming instead.
func ValidateUpload(filename string, size, maxBytes int64) error {
	if strings.TrimSpace(filename) == "" {
		return ErrEmptyFilename
	}
	if !IsSupportedVideo(filename) {
		return fmt.Errorf("%w: %q, supported: %s", ErrUnsupportedFormat, filepath.Ext(filename), strings.Join(SupportedFormats, ", "))
	}
	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("%w: %d bytes, max %d", ErrFileTooLarge, size, maxBytes)
	}
	return nil
}
