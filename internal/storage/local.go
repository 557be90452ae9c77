package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage on local disk. It does not support S3
// operations unless wrapped with S3Storage.
type LocalStorage struct {
	root     string
	maxBytes int64
}

// LocalOption configures a LocalStorage.
type LocalOption func(*LocalStorage)

// WithMaxUploadBytes sets the upload size limit. Non-positive disables it.
func WithMaxUploadBytes(n int64) LocalOption {
	return func(s *LocalStorage) {
		s.maxBytes = n
	}
}

// NewLocalStorage creates a LocalStorage rooted at dir.
// If dir is empty, a subclean directory under os.TempDir() is used.
// The uploads, outputs and tmp directories are created if they don't exist.
func NewLocalStorage(dir string, opts ...LocalOption) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "subclean")
	}

	s := &LocalStorage{root: dir, maxBytes: DefaultMaxUploadBytes}
	for _, opt := range opts {
		opt(s)
	}

	for _, sub := range []string{s.UploadDir(), s.OutputDir(), s.TempDir()} {
		if err := os.MkdirAll(sub, 0750); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	return s, nil
}

// Root returns the work directory.
func (s *LocalStorage) Root() string { return s.root }

// UploadDir returns the directory holding uploads.
func (s *LocalStorage) UploadDir() string { return filepath.Join(s.root, "uploads") }

// OutputDir returns the directory holding processed videos.
func (s *LocalStorage) OutputDir() string { return filepath.Join(s.root, "outputs") }

// TempDir returns the scratch directory.
func (s *LocalStorage) TempDir() string { return filepath.Join(s.root, "tmp") }

// MaxUploadBytes returns the upload size limit, zero when unlimited.
func (s *LocalStorage) MaxUploadBytes() int64 {
	return max(s.maxBytes, 0)
}

// SaveUpload streams data to uploads/<task_id>/<task_id><ext>. The write is
// aborted and the partial file removed once the size limit is exceeded.
func (s *LocalStorage) SaveUpload(ctx context.Context, taskID, filename string, data io.Reader) (string, int64, error) {
	select {
	case <-ctx.Done():
		return "", 0, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := ValidateUpload(filename, 0, s.maxBytes); err != nil {
		return "", 0, err
	}
	if taskID == "" || strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return "", 0, fmt.Errorf("invalid task id %q", taskID)
	}

	dir := filepath.Join(s.UploadDir(), taskID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", 0, fmt.Errorf("create upload directory: %w", err)
	}
	path := filepath.Join(dir, taskID+strings.ToLower(filepath.Ext(filename)))

	f, err := os.Create(path) // #nosec G304 - path is built from a generated task id
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}

	src := data
	if s.maxBytes > 0 {
		src = io.LimitReader(data, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = fmt.Errorf("%w: max %d bytes", ErrFileTooLarge, s.maxBytes)
	} else if err != nil {
		err = fmt.Errorf("write upload file: %w", err)
	}
	if err != nil {
		_ = f.Close()
		_ = os.RemoveAll(dir)
		return "", 0, err
	}

	if err := f.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return "", 0, fmt.Errorf("close upload file: %w", err)
	}
	return path, n, nil
}

// OutputPath returns outputs/<task_id>_no_sub.mp4. Outputs are always MP4
// whatever the upload container was.
func (s *LocalStorage) OutputPath(taskID, _ string) string {
	return filepath.Join(s.OutputDir(), taskID+"_no_sub.mp4")
}

// Open reads a stored file.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Remove deletes the given files. Missing files are ignored. Removing an
// upload also drops its per-task directory once empty. It continues past
// failures and returns the first error encountered.
func (s *LocalStorage) Remove(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", p, err)
			}
			continue
		}
		if dir := filepath.Dir(p); filepath.Dir(dir) == s.UploadDir() {
			_ = os.Remove(dir)
		}
	}
	return firstErr
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}
