// Package artifact stores task output files under a base URL. Any scheme the
// storage layer understands works (a local directory, file://, s3://, gs://),
// so the download tree can live on disk in development and in a bucket in
// production without touching the callers.
package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
)

// Store manages one directory per task under a base URL.
type Store struct {
	fs           afs.Service
	baseURL      string
	publicPrefix string
	logger       *slog.Logger
}

// NewStore creates an artifact store rooted at baseURL. publicPrefix is the
// externally addressable path prefix recorded in task results; empty falls
// back to "/files".
func NewStore(fs afs.Service, baseURL, publicPrefix string, logger *slog.Logger) *Store {
	if fs == nil {
		fs = afs.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.TrimRight(publicPrefix, "/")
	if prefix == "" {
		prefix = "/files"
	}
	return &Store{
		fs:           fs,
		baseURL:      strings.TrimRight(baseURL, "/"),
		publicPrefix: prefix,
		logger:       logger.With(slog.String("component", "artifact_store")),
	}
}

// BaseURL returns the root the store writes under.
func (s *Store) BaseURL() string {
	return s.baseURL
}

// PublicPath returns the path clients fetch a stored file from. This is what
// completed task results carry in file_path.
func (s *Store) PublicPath(taskID uuid.UUID, name string) string {
	return s.publicPrefix + "/" + taskID.String() + "/" + name
}

// taskURL returns the directory holding one task's files.
func (s *Store) taskURL(taskID uuid.UUID) string {
	return url.Join(s.baseURL, taskID.String())
}

// fileURL returns the full URL of one named file inside a task directory.
func (s *Store) fileURL(taskID uuid.UUID, name string) string {
	return url.Join(s.baseURL, taskID.String(), name)
}

// Save copies a local file into the task's directory and returns the stored
// size in bytes. The size comes from the local file, not the backend: object
// stat is not reliable across schemes and the measured size feeds the quota
// ledger.
func (s *Store) Save(ctx context.Context, taskID uuid.UUID, name, localPath string) (int64, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat artifact source %s: %w", localPath, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open artifact source %s: %w", localPath, err)
	}
	defer func() { _ = src.Close() }()

	dest := s.fileURL(taskID, name)
	if err := s.fs.Upload(ctx, dest, file.DefaultFileOsMode, src); err != nil {
		return 0, fmt.Errorf("failed to store artifact at %s: %w", dest, err)
	}

	s.logger.Debug("stored artifact",
		slog.String("task_id", taskID.String()),
		slog.String("name", name),
		slog.Int64("size_bytes", info.Size()))
	return info.Size(), nil
}

// countingReader counts bytes as they stream through.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Put writes bytes from a reader into the task's directory and returns how
// many bytes were written.
func (s *Store) Put(ctx context.Context, taskID uuid.UUID, name string, r io.Reader) (int64, error) {
	dest := s.fileURL(taskID, name)
	counted := &countingReader{r: r}
	if err := s.fs.Upload(ctx, dest, file.DefaultFileOsMode, counted); err != nil {
		return 0, fmt.Errorf("failed to store artifact at %s: %w", dest, err)
	}
	return counted.n, nil
}

// Open returns a reader over a stored file, for HTTP serving. The second
// return is the size as reported by the backend; zero means the backend does
// not report sizes and must be treated as unknown, not empty.
func (s *Store) Open(ctx context.Context, taskID uuid.UUID, name string) (io.ReadCloser, int64, error) {
	target := s.fileURL(taskID, name)
	obj, err := s.fs.Object(ctx, target)
	if err != nil {
		return nil, 0, fmt.Errorf("artifact %s not found: %w", target, err)
	}
	reader, err := s.fs.OpenURL(ctx, target)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open artifact %s: %w", target, err)
	}
	return reader, obj.Size(), nil
}

// Exists reports whether a task has a stored directory.
func (s *Store) Exists(ctx context.Context, taskID uuid.UUID) (bool, error) {
	return s.fs.Exists(ctx, s.taskURL(taskID))
}

// DeleteTask removes a task's directory and everything under it. Missing
// directories are not an error; reclamation must be idempotent.
func (s *Store) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	target := s.taskURL(taskID)
	exists, err := s.fs.Exists(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to check artifact directory %s: %w", target, err)
	}
	if !exists {
		return nil
	}
	if err := s.fs.Delete(ctx, target); err != nil {
		return fmt.Errorf("failed to delete artifact directory %s: %w", target, err)
	}
	s.logger.Debug("deleted artifacts", slog.String("task_id", taskID.String()))
	return nil
}

// Sweep removes task directories whose ID is not in the valid set and
// returns how many were deleted. Directories whose name is not a task ID are
// left alone.
func (s *Store) Sweep(ctx context.Context, valid map[uuid.UUID]struct{}) (int, error) {
	exists, err := s.fs.Exists(ctx, s.baseURL)
	if err != nil || !exists {
		return 0, err
	}

	objects, err := s.fs.List(ctx, s.baseURL, option.NewRecursive(false))
	if err != nil {
		return 0, fmt.Errorf("failed to list artifact directories: %w", err)
	}

	deleted := 0
	for _, obj := range objects {
		if !obj.IsDir() || obj.URL() == s.baseURL {
			continue
		}
		id, err := uuid.Parse(obj.Name())
		if err != nil {
			continue
		}
		if _, ok := valid[id]; ok {
			continue
		}
		if err := s.fs.Delete(ctx, obj.URL()); err != nil {
			s.logger.Warn("failed to delete orphaned artifact directory",
				slog.String("url", obj.URL()),
				slog.String("error", err.Error()))
			continue
		}
		deleted++
	}
	return deleted, nil
}
