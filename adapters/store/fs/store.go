package storefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/goliatone/go-annotate/annotate"
)

const metaSuffix = ".meta.json"

var _ annotate.ArtifactStore = (*Store)(nil)

// Store keeps exported documents on the local filesystem. Each artifact has
// a JSON sidecar holding its metadata.
type Store struct {
	Root string
	Now  func() time.Time
}

// NewStore creates a filesystem-backed artifact store.
func NewStore(root string) *Store {
	return &Store{Root: root, Now: time.Now}
}

// Put writes the artifact atomically through a temp file in the target dir.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, meta annotate.ArtifactMeta) (annotate.ArtifactRef, error) {
	if err := s.check(ctx, key); err != nil {
		return annotate.ArtifactRef{}, err
	}
	target, err := s.resolvePath(key)
	if err != nil {
		return annotate.ArtifactRef{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return annotate.ArtifactRef{}, fmt.Errorf("storefs: mkdir: %w", err)
	}

	size, err := writeAtomic(target, ".artifact-*", func(w io.Writer) (int64, error) {
		return io.Copy(w, r)
	})
	if err != nil {
		return annotate.ArtifactRef{}, err
	}

	meta.Size = size
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now()
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/pdf"
	}
	if meta.Filename == "" {
		meta.Filename = path.Base(key)
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return annotate.ArtifactRef{}, err
	}
	if _, err := writeAtomic(target+metaSuffix, ".meta-*", func(w io.Writer) (int64, error) {
		n, err := w.Write(payload)
		return int64(n), err
	}); err != nil {
		_ = os.Remove(target)
		return annotate.ArtifactRef{}, err
	}

	return annotate.ArtifactRef{Key: key, Meta: meta}, nil
}

// Open returns a reader for the artifact and its metadata.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, annotate.ArtifactMeta, error) {
	if err := s.check(ctx, key); err != nil {
		return nil, annotate.ArtifactMeta{}, err
	}
	target, err := s.resolvePath(key)
	if err != nil {
		return nil, annotate.ArtifactMeta{}, err
	}

	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, annotate.ArtifactMeta{}, annotate.NewError(annotate.KindNotFound, fmt.Sprintf("artifact %q not found", key), err)
		}
		return nil, annotate.ArtifactMeta{}, err
	}

	meta := readMeta(target)
	if meta.Size == 0 || meta.CreatedAt.IsZero() {
		if info, err := file.Stat(); err == nil {
			if meta.Size == 0 {
				meta.Size = info.Size()
			}
			if meta.CreatedAt.IsZero() {
				meta.CreatedAt = info.ModTime()
			}
		}
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/pdf"
	}
	return file, meta, nil
}

// Delete removes the artifact and its sidecar. Missing files are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx, key); err != nil {
		return err
	}
	target, err := s.resolvePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(target + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep deletes artifacts whose sidecar expiry is at or before now. It
// catches files left behind when history records were lost.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.Root == "" {
		return 0, annotate.NewError(annotate.KindValidation, "store root is required", nil)
	}
	if now.IsZero() {
		now = s.now()
	}
	removed := 0
	err := filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		target := strings.TrimSuffix(p, metaSuffix)
		meta := readMeta(target)
		if meta.ExpiresAt.IsZero() || meta.ExpiresAt.After(now) {
			return nil
		}
		_ = os.Remove(target)
		_ = os.Remove(p)
		removed++
		return nil
	})
	return removed, err
}

func (s *Store) check(ctx context.Context, key string) error {
	if s == nil {
		return annotate.NewError(annotate.KindInternal, "store is nil", nil)
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if s.Root == "" {
		return annotate.NewError(annotate.KindValidation, "store root is required", nil)
	}
	if key == "" {
		return annotate.NewError(annotate.KindValidation, "artifact key is required", nil)
	}
	return nil
}

// resolvePath maps a slash separated key under Root and rejects keys that
// would escape it or collide with a sidecar.
func (s *Store) resolvePath(key string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+key), "/")
	if rel == "" || rel == "." || strings.HasSuffix(rel, metaSuffix) {
		return "", annotate.NewError(annotate.KindValidation, fmt.Sprintf("invalid artifact key %q", key), nil)
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", err
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", annotate.NewError(annotate.KindValidation, "artifact key escapes root", nil)
	}
	return target, nil
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func writeAtomic(target, pattern string, write func(io.Writer) (int64, error)) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), pattern)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	n, err := write(tmp)
	if err != nil {
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, err
	}
	return n, nil
}

func readMeta(target string) annotate.ArtifactMeta {
	data, err := os.ReadFile(target + metaSuffix)
	if err != nil {
		return annotate.ArtifactMeta{}
	}
	var meta annotate.ArtifactMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return annotate.ArtifactMeta{}
	}
	return meta
}
