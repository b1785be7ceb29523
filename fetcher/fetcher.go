package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/utilitywarehouse/git-autofetch/catalog"
	"github.com/utilitywarehouse/git-autofetch/internal/utils"
)

var gitExecutablePath string

func init() {
	gitExecutablePath = exec.Command("git").String()
}

// Runner runs command with args in cwd and returns its stdout.
// utils.RunCommand is the default implementation.
type Runner func(ctx context.Context, log *slog.Logger, envs []string, cwd string, command string, args ...string) (string, error)

// Config is the configuration of the Fetcher
type Config struct {
	// GitExec is the git executable to use, resolved from PATH if empty
	GitExec string

	// Envs are passed to every git command
	Envs []string

	// Timeout bounds a single fetch, 0 means no limit other than
	// the caller's context
	Timeout time.Duration
}

// Result is the outcome of a single fetch attempt.
type Result struct {
	Success bool
	// LastChecked is the new last checked time of the repository,
	// only set on success
	LastChecked time.Time
	Dir         string
	Duration    time.Duration
}

// Fetcher fetches repositories one at a time. It holds no per repository
// state and is safe for concurrent use.
type Fetcher struct {
	gitExec string
	envs    []string
	timeout time.Duration
	run     Runner
	now     func() time.Time
	log     *slog.Logger
}

// New creates a Fetcher. If run is nil utils.RunCommand is used.
func New(conf Config, run Runner, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if run == nil {
		run = utils.RunCommand
	}
	gitExec := conf.GitExec
	if gitExec == "" {
		gitExec = gitExecutablePath
	}

	return &Fetcher{
		gitExec: gitExec,
		envs:    conf.Envs,
		timeout: conf.Timeout,
		run:     run,
		now:     time.Now,
		log:     log,
	}
}

// FetchOne runs a single fetch for given repository in basePath.
// The repository is not modified, on success the returned result carries the
// new last checked time which the caller is expected to persist.
// Returned error wraps *utils.SpawnError if git could not be started and
// *utils.ExitError if it exited with non-zero status.
func (f *Fetcher) FetchOne(ctx context.Context, repo catalog.Repository, basePath string) (Result, error) {
	dir := utils.AbsPath(basePath, repo.LocalPath)
	log := f.log.With("repo", repo.Name)

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	res := Result{Dir: dir}

	// git fetch --all --prune --no-progress
	_, err := f.run(ctx, log, f.envs, dir, f.gitExec, "fetch", "--all", "--prune", "--no-progress")
	res.Duration = time.Since(start)
	recordGitFetch(repo.Name, err == nil, start)
	if err != nil {
		return res, fmt.Errorf("unable to fetch repo:%s path:%s err:%w", repo.Name, dir, err)
	}

	res.Success = true
	res.LastChecked = f.now().UTC()

	log.Log(ctx, -8, "fetch complete", "path", dir, "time", res.Duration)
	return res, nil
}
