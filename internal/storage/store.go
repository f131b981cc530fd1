package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const tempPrefix = ".tmp-"

var (
	ErrExists      = errors.New("artifact already exists")
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")
)

// Store keeps generated documents as flat files in one directory.
type Store struct {
	fs      afero.Fs
	dir     string
	timeout time.Duration
}

// NewStore returns a store rooted at dir. A zero timeout disables the bound
// on filesystem calls.
func NewStore(fs afero.Fs, dir string, timeout time.Duration) *Store {
	return &Store{fs: fs, dir: dir, timeout: timeout}
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes data under name. The bytes go to a temp file first and are
// renamed into place, so a reader never sees a partial artifact.
func (s *Store) Save(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}

	return s.do(ctx, func() error {
		if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		final := s.path(name)
		exists, err := afero.Exists(s.fs, final)
		if err != nil {
			return fmt.Errorf("failed to stat artifact: %w", err)
		}
		if exists {
			return ErrExists
		}

		tmp := s.path(tempPrefix + uuid.NewString())
		if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
			s.fs.Remove(tmp)
			return fmt.Errorf("failed to write artifact: %w", err)
		}
		if err := s.fs.Rename(tmp, final); err != nil {
			s.fs.Remove(tmp)
			return fmt.Errorf("failed to move artifact into place: %w", err)
		}
		return nil
	})
}

// Open returns the artifact for reading. The caller closes it.
func (s *Store) Open(ctx context.Context, name string) (afero.File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	// An open that completes after do gave up must close its file, since
	// nobody is left to receive it.
	var (
		mu        sync.Mutex
		abandoned bool
		f         afero.File
	)
	err := s.do(ctx, func() error {
		opened, err := s.fs.Open(s.path(name))
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			return opened.Close()
		}
		f = opened
		return nil
	})
	if err != nil {
		mu.Lock()
		abandoned = true
		if f != nil {
			f.Close()
			f = nil
		}
		mu.Unlock()
		return nil, err
	}
	return f, nil
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}

	var exists bool
	err := s.do(ctx, func() error {
		var err error
		exists, err = afero.Exists(s.fs, s.path(name))
		return err
	})
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Remove deletes the artifact. Removing a missing artifact is not an error.
func (s *Store) Remove(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}

	return s.do(ctx, func() error {
		err := s.fs.Remove(s.path(name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove artifact: %w", err)
		}
		return nil
	})
}

// List returns the names of all stored artifacts, sorted. Temp files are
// skipped. A missing directory lists as empty.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var names []string
	err := s.do(ctx, func() error {
		entries, err := s.entries()
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !isTemp(e) {
				names = append(names, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// RemoveTemp deletes temp files left behind by interrupted writes and
// returns how many were removed. Files modified less than minAge ago are
// kept, since another process may still be writing them.
func (s *Store) RemoveTemp(ctx context.Context, minAge time.Duration) (int, error) {
	var removed int
	err := s.do(ctx, func() error {
		infos, err := afero.ReadDir(s.fs, s.dir)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read output directory: %w", err)
		}
		for _, info := range infos {
			if !info.Mode().IsRegular() || !isTemp(info.Name()) {
				continue
			}
			if time.Since(info.ModTime()) < minAge {
				continue
			}
			if err := s.fs.Remove(s.path(info.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to remove temp file: %w", err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// PingContext reports whether the output directory is usable, creating it
// when absent.
func (s *Store) PingContext(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		ok, err := afero.IsDir(s.fs, s.dir)
		if err != nil {
			return fmt.Errorf("failed to stat output directory: %w", err)
		}
		if !ok {
			return fmt.Errorf("%s is not a directory", s.dir)
		}
		return nil
	})
}

func (s *Store) entries() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Mode().IsRegular() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// do runs fn and gives up once ctx or the store timeout expires. fn keeps
// running in the background in that case.
func (s *Store) do(ctx context.Context, fn func() error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("storage call aborted: %w", ctx.Err())
	}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func validName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}
