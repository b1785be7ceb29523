package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/utilitywarehouse/git-autofetch/catalog"
	"github.com/utilitywarehouse/git-autofetch/fetcher"
	"github.com/utilitywarehouse/git-autofetch/internal/utils"
)

// Fetcher fetches a single repository.
type Fetcher interface {
	FetchOne(ctx context.Context, repo catalog.Repository, basePath string) (fetcher.Result, error)
}

// Summary describes a completed cycle.
type Summary struct {
	Selected  int
	Succeeded int
	Failed    int
}

// Cycle runs one pass over all cloned repositories.
type Cycle struct {
	catalog  catalog.Catalog
	selector Selector
	fetcher  Fetcher
	log      *slog.Logger
}

// NewCycle creates a Cycle which fetches repositories of cat with f.
func NewCycle(cat catalog.Catalog, f Fetcher, log *slog.Logger) *Cycle {
	if log == nil {
		log = slog.Default()
	}
	return &Cycle{
		catalog: cat,
		fetcher: f,
		log:     log,
	}
}

// Run fetches every repository of the snapshot taken at the start of the
// cycle, sequentially and in snapshot order. Fetch failures are logged and
// never returned. The catalog is committed after every repository; a commit
// failure is returned as *PersistenceError and ends the cycle.
func (c *Cycle) Run(ctx context.Context, basePath string) (Summary, error) {
	var sum Summary

	session, err := c.catalog.Open(ctx)
	if err != nil {
		return sum, fmt.Errorf("unable to open catalog err:%w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			c.log.Error("unable to close catalog session", "err", err)
		}
	}()

	repos, err := c.selector.Select(ctx, session)
	if err != nil {
		return sum, fmt.Errorf("unable to select repositories err:%w", err)
	}
	sum.Selected = len(repos)
	c.log.Debug("starting fetch cycle", "repos", len(repos), "base-path", basePath)

	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		var changes []catalog.Change

		c.log.Info("fetching updates for repository", "repo", repo.Name)
		res, err := c.fetchOne(ctx, repo, basePath)
		if err != nil && ctx.Err() != nil {
			// interrupted, there is nothing to commit for this repository
			return sum, ctx.Err()
		}
		if err != nil {
			sum.Failed++
			c.logFetchError(repo, err)
		} else {
			sum.Succeeded++
			changes = append(changes, catalog.Change{ID: repo.ID, LastChecked: res.LastChecked})
			c.log.Info("successfully fetched updates for repository", "repo", repo.Name, "time", res.Duration.Round(time.Millisecond))
		}

		if err := session.Commit(ctx, changes...); err != nil {
			return sum, &PersistenceError{Repository: repo.Name, Err: err}
		}
	}

	return sum, nil
}

// fetchOne isolates a single repository so that a panic is reported like
// any other fetch failure.
func (c *Cycle) fetchOne(ctx context.Context, repo catalog.Repository, basePath string) (res fetcher.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while fetching repo:%s: %v", repo.Name, r)
		}
	}()
	return c.fetcher.FetchOne(ctx, repo, basePath)
}

func (c *Cycle) logFetchError(repo catalog.Repository, err error) {
	var exitErr *utils.ExitError
	var spawnErr *utils.SpawnError

	switch {
	case errors.As(err, &exitErr):
		c.log.Error("failed to fetch updates for repository", "repo", repo.Name, "exit-code", exitErr.ExitCode, "stderr", exitErr.Stderr)
	case errors.As(err, &spawnErr):
		c.log.Error("failed to start git for repository", "repo", repo.Name, "path", spawnErr.Dir, "err", spawnErr.Err)
	default:
		c.log.Error("failed to fetch updates for repository", "repo", repo.Name, "err", err)
	}
}
