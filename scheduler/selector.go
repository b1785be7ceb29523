package scheduler

import (
	"context"

	"github.com/utilitywarehouse/git-autofetch/catalog"
)

// Querier is the part of catalog.Session used to select repositories.
type Querier interface {
	Query(ctx context.Context, status catalog.CloneStatus) ([]catalog.Repository, error)
}

// Selector picks the repositories which are eligible for fetch.
type Selector struct{}

// Select queries q once and returns a snapshot of all cloned repositories in
// catalog order. The returned slice doesn't share memory with the catalog.
func (Selector) Select(ctx context.Context, q Querier) ([]catalog.Repository, error) {
	repos, err := q.Query(ctx, catalog.StatusCloned)
	if err != nil {
		return nil, err
	}

	snapshot := make([]catalog.Repository, 0, len(repos))
	for _, r := range repos {
		if r.CloneStatus != catalog.StatusCloned {
			continue
		}
		if r.LastChecked != nil {
			t := *r.LastChecked
			r.LastChecked = &t
		}
		snapshot = append(snapshot, r)
	}
	return snapshot, nil
}
