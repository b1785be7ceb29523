package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/utilitywarehouse/git-autofetch/catalog"
	"github.com/utilitywarehouse/git-autofetch/fetcher"
)

const testGitUser = "git-autofetch-e2e"

func mustExec(t *testing.T, cwd string, command string, args ...string) string {
	t.Helper()
	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(),
		"GIT_CONFIG_SYSTEM=/dev/null",
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_AUTHOR_NAME="+testGitUser,
		"GIT_AUTHOR_EMAIL="+testGitUser+"@example.com",
		"GIT_COMMITTER_NAME="+testGitUser,
		"GIT_COMMITTER_EMAIL="+testGitUser+"@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s %s failed err:%v output:%s", command, strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// mustUpstreamAndClone creates an upstream repo with a single commit and
// clones it into base/name
func mustUpstreamAndClone(t *testing.T, tmp, base, name string) string {
	t.Helper()
	upstream := filepath.Join(tmp, "upstream-"+name)
	if err := os.MkdirAll(upstream, 0755); err != nil {
		t.Fatalf("unable to create dir err:%v", err)
	}
	mustExec(t, upstream, "git", "init", "-q")
	if err := os.WriteFile(filepath.Join(upstream, "file"), []byte(name), 0644); err != nil {
		t.Fatalf("unable to write file err:%v", err)
	}
	mustExec(t, upstream, "git", "add", "file")
	mustExec(t, upstream, "git", "commit", "-q", "-m", name)
	mustExec(t, base, "git", "clone", "-q", upstream, name)
	return upstream
}

func Test_e2e_cycle(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git executable not found")
	}

	tmp := t.TempDir()
	base := filepath.Join(tmp, "git-repos")
	if err := os.MkdirAll(base, 0755); err != nil {
		t.Fatalf("unable to create dir err:%v", err)
	}

	mustUpstreamAndClone(t, tmp, base, "r1")
	upstream3 := mustUpstreamAndClone(t, tmp, base, "r3")
	// r3 can't reach its remote anymore
	if err := os.RemoveAll(upstream3); err != nil {
		t.Fatalf("unable to remove upstream err:%v", err)
	}

	store, err := catalog.NewSQLiteStore(filepath.Join(tmp, "catalog.db"))
	if err != nil {
		t.Fatalf("unable to create store err:%v", err)
	}
	defer store.Close()

	ctx := t.Context()
	r1, _ := store.Add(ctx, catalog.Repository{Name: "R1", LocalPath: "r1", CloneStatus: catalog.StatusCloned})
	r2, _ := store.Add(ctx, catalog.Repository{Name: "R2", LocalPath: "r2", CloneStatus: catalog.StatusNotCloned})
	r3, _ := store.Add(ctx, catalog.Repository{Name: "R3", LocalPath: "r3", CloneStatus: catalog.StatusCloned})

	log, logs := bufferLogger()
	f := fetcher.New(fetcher.Config{
		Envs: []string{
			fmt.Sprintf("PATH=%s", os.Getenv("PATH")),
			fmt.Sprintf("HOME=%s", tmp),
			"GIT_CONFIG_SYSTEM=/dev/null",
			"GIT_CONFIG_GLOBAL=/dev/null",
		},
		Timeout: time.Minute,
	}, nil, log)

	var runs []Summary
	cycled := make(chan struct{}, 1)
	cycle := NewCycle(store, f, log)
	recorder := cyclerFunc(func(ctx context.Context, basePath string) (Summary, error) {
		sum, err := cycle.Run(ctx, basePath)
		runs = append(runs, sum)
		cycled <- struct{}{}
		return sum, err
	})

	loopCtx, cancel := context.WithCancel(ctx)
	settings := func() Settings {
		return Settings{Enabled: true, Interval: time.Hour, BasePath: base}
	}
	l := NewLoop(0, recorder, settings, log)

	start := time.Now().Add(-time.Second)
	go l.Run(loopCtx)
	select {
	case <-cycled:
	case <-time.After(time.Minute):
		t.Fatalf("timed out waiting for first cycle")
	}
	cancel()
	waitDone(t, l)

	if len(runs) != 1 {
		t.Fatalf("expected 1 cycle got %d", len(runs))
	}
	if runs[0].Succeeded != 1 || runs[0].Failed != 1 {
		t.Errorf("unexpected summary %+v", runs[0])
	}

	got1, _ := store.Get(ctx, r1.ID)
	if got1.LastChecked == nil || got1.LastChecked.Before(start) {
		t.Errorf("R1 last checked %v not after cycle start %s", got1.LastChecked, start)
	}
	if got2, _ := store.Get(ctx, r2.ID); got2.LastChecked != nil {
		t.Errorf("R2 must not be checked")
	}
	if got3, _ := store.Get(ctx, r3.ID); got3.LastChecked != nil {
		t.Errorf("R3 must not be checked")
	}

	errs := errorLines(logs.String())
	if len(errs) != 1 || !strings.Contains(errs[0], "repo=R3") {
		t.Errorf("expected one error log line for R3 got:\n%s", strings.Join(errs, "\n"))
	}
}

type cyclerFunc func(ctx context.Context, basePath string) (Summary, error)

func (f cyclerFunc) Run(ctx context.Context, basePath string) (Summary, error) {
	return f(ctx, basePath)
}
