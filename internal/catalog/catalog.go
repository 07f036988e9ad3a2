// Package catalog provides persistent storage for run records.
package catalog

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for catalog operations.
var (
	ErrNotFound      = errors.New("entry not found")
	ErrAlreadyExists = errors.New("entry already exists")
	ErrLockTimeout   = errors.New("failed to acquire catalog lock")
)

// Status represents the run lifecycle state.
type Status string

const (
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
	StatusCanceled Status = "canceled"
	StatusFailed   Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusRunning || s.Terminal()
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusExited || s == StatusCanceled || s == StatusFailed
}

// Entry represents a persisted run record.
type Entry struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`    // Human-readable name (e.g., "happy-panda")
	Command      string     `json:"command"` // Executable as given on the command line
	Args         []string   `json:"args,omitempty"`
	Dir          string     `json:"dir"` // Working directory of the child
	PID          int        `json:"pid"`
	BinaryStdout bool       `json:"binary_stdout"`
	Status       Status     `json:"status"`
	ExitCode     *int       `json:"exit_code,omitempty"` // Nil until the child has exited
	Error        string     `json:"error,omitempty"`     // Failure reason for StatusFailed
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	LogPath      string     `json:"log_path"`
	StdoutPath   string     `json:"stdout_path,omitempty"` // Raw stdout file in binary mode
}

// ListFilter filters catalog queries.
type ListFilter struct {
	Status Status // Filter by status (empty = all)
}

// Store provides persistent storage for run entries.
type Store interface {
	// Add creates a new entry.
	// Returns ErrAlreadyExists if an entry with the same ID or Name already exists.
	Add(ctx context.Context, entry Entry) error

	// Get retrieves an entry by ID.
	// Returns ErrNotFound if not found.
	Get(ctx context.Context, id string) (*Entry, error)

	// GetByName retrieves an entry by its human-readable name.
	// Returns ErrNotFound if not found.
	GetByName(ctx context.Context, name string) (*Entry, error)

	// Update modifies an existing entry.
	// Returns ErrNotFound if not found.
	Update(ctx context.Context, entry Entry) error

	// Remove deletes an entry by ID.
	// Returns ErrNotFound if not found.
	Remove(ctx context.Context, id string) error

	// List returns all entries matching the filter, oldest first.
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
}
