package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Lllllllleong/pagesearch/internal/models"
)

// Local keeps objects as files under a root directory.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("local blob store: root must be provided")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %w", root, err)
	}
	return &Local{root: root}, nil
}

// Root is the directory objects live under.
func (l *Local) Root() string { return l.root }

// Dir returns the directory that holds objects under prefix.
func (l *Local) Dir(prefix string) string {
	return filepath.Join(l.root, filepath.FromSlash(strings.Trim(prefix, "/")))
}

func (l *Local) file(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid object path %q", path)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	name, err := l.file(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return true, nil
}

func (l *Local) Write(ctx context.Context, path string, data []byte) error {
	name, err := l.file(path)
	if err != nil {
		return err
	}
	return writeAtomically(name, data)
}

// writeAtomically goes through a temp file and a rename so readers never see
// a partially written object.
func writeAtomically(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}

func (l *Local) Read(ctx context.Context, path string) ([]byte, error) {
	name, err := l.file(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrBlobUnavailable, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrBlobUnavailable, path, err)
	}
	return data, nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	under := dirPrefix(prefix)
	var paths []string
	err := filepath.WalkDir(l.root, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") || strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}
		rel, err := filepath.Rel(l.root, name)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, under) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (l *Local) Delete(ctx context.Context, path string) error {
	name, err := l.file(path)
	if err != nil {
		return err
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (l *Local) ReadVersion(ctx context.Context, path string) ([]byte, int64, error) {
	name, err := l.file(path)
	if err != nil {
		return nil, 0, err
	}
	return readVersion(name)
}

func readVersion(name string) ([]byte, int64, error) {
	f, err := os.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	data := make([]byte, info.Size())
	if _, err := f.ReadAt(data, 0); err != nil && info.Size() > 0 {
		return nil, 0, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, info.ModTime().UnixNano(), nil
}

const (
	lockRetries = 250
	lockBackoff = 20 * time.Millisecond
	staleLock   = 30 * time.Second
)

// WriteIfVersion holds an exclusive lock file next to the object while it
// compares versions and renames the new content into place, so writers in
// other processes are serialized too.
func (l *Local) WriteIfVersion(ctx context.Context, path string, data []byte, version int64) error {
	name, err := l.file(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	unlock, err := acquireLock(ctx, name+".lock")
	if err != nil {
		return err
	}
	defer unlock()

	_, current, err := readVersion(name)
	if err != nil {
		return err
	}
	if current != version {
		return fmt.Errorf("%w: %s changed (version %d, expected %d)", models.ErrConflict, path, current, version)
	}
	if err := writeAtomically(name, data); err != nil {
		return err
	}

	// Coarse filesystem clocks can hand the new file the same mtime as the
	// old one; bump it so the version always moves forward.
	if _, after, err := readVersion(name); err == nil && after <= current {
		bumped := time.Unix(0, current+1)
		_ = os.Chtimes(name, bumped, bumped)
	}
	return nil
}

func acquireLock(ctx context.Context, lockName string) (func(), error) {
	for i := 0; i < lockRetries; i++ {
		f, err := os.OpenFile(lockName, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(lockName) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create lock %s: %w", lockName, err)
		}
		if info, statErr := os.Stat(lockName); statErr == nil && time.Since(info.ModTime()) > staleLock {
			_ = os.Remove(lockName)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
	return nil, fmt.Errorf("timed out waiting for lock %s", lockName)
}
