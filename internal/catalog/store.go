package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockTimeout    = 5 * time.Second
	lockRetryDelay = 10 * time.Millisecond
	fileMode       = 0644
	dirMode        = 0755
)

// catalogFile represents the on-disk catalog format.
type catalogFile struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

type jsonStore struct {
	path string
	mu   sync.RWMutex
}

// NewStore creates a new JSON-backed catalog store.
//
// Access across processes is serialized with an advisory lock on a sibling
// "<path>.lock" file. The data file itself is replaced by rename on every
// write, so it cannot carry the lock.
func NewStore(path string) *jsonStore {
	return &jsonStore{path: path}
}

func (s *jsonStore) Add(ctx context.Context, entry Entry) error {
	return s.withExclusiveLock(ctx, func(cf *catalogFile) error {
		for _, e := range cf.Entries {
			if e.ID == entry.ID || (entry.Name != "" && e.Name == entry.Name) {
				return ErrAlreadyExists
			}
		}

		cf.Entries = append(cf.Entries, entry)
		return nil
	})
}

func (s *jsonStore) Get(ctx context.Context, id string) (*Entry, error) {
	return s.find(ctx, func(e *Entry) bool { return e.ID == id })
}

func (s *jsonStore) GetByName(ctx context.Context, name string) (*Entry, error) {
	return s.find(ctx, func(e *Entry) bool { return e.Name == name })
}

func (s *jsonStore) find(ctx context.Context, match func(*Entry) bool) (*Entry, error) {
	var result *Entry

	err := s.withSharedLock(ctx, func(cf *catalogFile) error {
		for i := range cf.Entries {
			if match(&cf.Entries[i]) {
				entry := cf.Entries[i]
				result = &entry
				return nil
			}
		}
		return ErrNotFound
	})

	return result, err
}

func (s *jsonStore) Update(ctx context.Context, entry Entry) error {
	return s.withExclusiveLock(ctx, func(cf *catalogFile) error {
		for i := range cf.Entries {
			if cf.Entries[i].ID == entry.ID {
				cf.Entries[i] = entry
				return nil
			}
		}
		return ErrNotFound
	})
}

func (s *jsonStore) Remove(ctx context.Context, id string) error {
	return s.withExclusiveLock(ctx, func(cf *catalogFile) error {
		for i := range cf.Entries {
			if cf.Entries[i].ID == id {
				cf.Entries = append(cf.Entries[:i], cf.Entries[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
}

func (s *jsonStore) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	result := []Entry{}

	err := s.withSharedLock(ctx, func(cf *catalogFile) error {
		for _, e := range cf.Entries {
			if filter.Status != "" && e.Status != filter.Status {
				continue
			}
			result = append(result, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// withSharedLock executes fn with a shared (read) lock.
func (s *jsonStore) withSharedLock(ctx context.Context, fn func(*catalogFile) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lock, err := s.acquireLock(ctx, false)
	if err != nil {
		return err
	}
	defer lock.Close()

	cf, err := s.load()
	if err != nil {
		return err
	}

	return fn(cf)
}

// withExclusiveLock executes fn with an exclusive (write) lock.
// Changes made by fn are persisted to disk.
func (s *jsonStore) withExclusiveLock(ctx context.Context, fn func(*catalogFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.acquireLock(ctx, true)
	if err != nil {
		return err
	}
	defer lock.Close()

	cf, err := s.load()
	if err != nil {
		return err
	}

	if err := fn(cf); err != nil {
		return err
	}

	return s.save(cf)
}

// acquireLock takes the catalog lock, retrying until lockTimeout elapses or
// ctx is done. Closing the returned lock releases it.
func (s *jsonStore) acquireLock(ctx context.Context, exclusive bool) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	lock := flock.New(s.path + ".lock")
	try := lock.TryLockContext
	if !exclusive {
		try = lock.TryRLockContext
	}

	locked, err := try(lockCtx, lockRetryDelay)
	switch {
	case err == nil && locked:
		return lock, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err == nil, errors.Is(err, context.DeadlineExceeded):
		return nil, ErrLockTimeout
	default:
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
}

// load reads and parses the catalog file. A missing or empty file is an
// empty catalog.
func (s *jsonStore) load() (*catalogFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	if len(data) == 0 {
		return &catalogFile{Version: 1, Entries: []Entry{}}, nil
	}

	var cf catalogFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}

	return &cf, nil
}

// save writes the catalog to disk atomically.
func (s *jsonStore) save(cf *catalogFile) error {
	cf.Version = 1

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "catalog-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up on error
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cf); err != nil {
		tmp.Close()
		return fmt.Errorf("encode catalog: %w", err)
	}

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename catalog file: %w", err)
	}

	tmpPath = "" // Prevent cleanup
	return nil
}
