// Package catalog holds the repository records git-autofetch works on.
//
// The catalog is owned by whatever clones repositories; git-autofetch only
// reads records and writes back the time of the last successful fetch.
// Access happens through a Session which is opened once per fetch cycle and
// closed when the cycle ends.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotExist      = errors.New("repository does not exist")
	ErrInvalidStatus = errors.New("invalid clone status")
)

// CloneStatus is the state of the local clone of a repository.
type CloneStatus string

const (
	StatusNotCloned CloneStatus = "not_cloned"
	StatusCloning   CloneStatus = "cloning"
	StatusCloned    CloneStatus = "cloned"
	StatusFailed    CloneStatus = "failed"
)

// ParseCloneStatus returns the CloneStatus for given string.
func ParseCloneStatus(s string) (CloneStatus, error) {
	switch cs := CloneStatus(s); cs {
	case StatusNotCloned, StatusCloning, StatusCloned, StatusFailed:
		return cs, nil
	}
	return "", fmt.Errorf("%w: %q must be one of %s, %s, %s, %s", ErrInvalidStatus, s,
		StatusNotCloned, StatusCloning, StatusCloned, StatusFailed)
}

// Repository is a single catalog record.
type Repository struct {
	ID int64
	// Name is a human readable label
	Name string
	// LocalPath is the repository working directory relative to
	// the repositories base path
	LocalPath   string
	CloneStatus CloneStatus
	// LastChecked is the time of the last successful fetch, nil if the
	// repository was never fetched successfully
	LastChecked *time.Time
}

// Change is a pending update of a single repository record.
type Change struct {
	ID          int64
	LastChecked time.Time
}

// Catalog provides scoped access to the repository records.
type Catalog interface {
	// Open acquires a session. Callers must Close it.
	Open(ctx context.Context) (Session, error)
}

// Session is a handle on the catalog which is valid until Close is called.
type Session interface {
	// Query returns all repositories with given clone status ordered by ID.
	Query(ctx context.Context, status CloneStatus) ([]Repository, error)
	// Commit durably applies given changes. Commit with no changes is valid
	// and only verifies the catalog is still writable.
	Commit(ctx context.Context, changes ...Change) error
	Close() error
}
