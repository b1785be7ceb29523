package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// waitDelay is how long a cancelled command gets after SIGKILL before its
// output pipes are forcibly closed and Wait returns.
const waitDelay = 5 * time.Second

// SpawnError is returned when the command could not be started at all,
// e.g. the executable is missing or the working directory doesn't exist.
type SpawnError struct {
	Command string
	Dir     string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("unable to start %q in %q err:%v", e.Command, e.Dir, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError is returned when the command ran but exited with a non-zero
// status. Captured output is kept for diagnostics.
type ExitError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("Run(%s): exit status %d { stdout: %q, stderr: %q }", e.Command, e.ExitCode, e.Stdout, e.Stderr)
}

// AbsPath returns path resolved against root. An already absolute path is
// returned cleaned but otherwise unchanged.
func AbsPath(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}

// RunCommand runs given command with given arguments on given CWD and returns
// its trimmed stdout.
// If the command cannot be started a *SpawnError is returned, if it exits with
// non-zero status an *ExitError is returned. When ctx is done the process is
// killed and ctx.Err() is returned wrapped.
func RunCommand(ctx context.Context, log *slog.Logger, envs []string, cwd string, command string, args ...string) (string, error) {
	cmdStr := command + " " + strings.Join(args, " ")
	log.Log(ctx, -8, "running command", "cwd", cwd, "cmd", cmdStr)

	cmd := exec.CommandContext(ctx, command, args...)
	// force kill git & child process 5 seconds after it was killed (when ctx is cancelled/timed out)
	cmd.WaitDelay = waitDelay
	if cwd != "" {
		cmd.Dir = cwd
	}
	outbuf := bytes.NewBuffer(nil)
	errbuf := bytes.NewBuffer(nil)
	cmd.Stdout = outbuf
	cmd.Stderr = errbuf

	// If Env is nil, the new process uses the current process's environment.
	cmd.Env = []string{}

	if len(envs) > 0 {
		cmd.Env = append(cmd.Env, envs...)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("Run(%s): err:%w", cmdStr, ctx.Err())
		}
		return "", &SpawnError{Command: cmdStr, Dir: cwd, Err: err}
	}
	err := cmd.Wait()
	runTime := time.Since(start)

	stdout := strings.TrimSpace(outbuf.String())
	stderr := strings.TrimSpace(errbuf.String())

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("Run(%s): err:%w { stdout: %q, stderr: %q }", cmdStr, ctxErr, stdout, stderr)
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		return "", &ExitError{Command: cmdStr, ExitCode: exitErr.ExitCode(), Stdout: stdout, Stderr: stderr}
	case err != nil:
		return "", fmt.Errorf("Run(%s): err:%w { stdout: %q, stderr: %q }", cmdStr, err, stdout, stderr)
	}
	log.Log(ctx, -8, "command result", "stdout", stdout, "stderr", stderr, "time", runTime)

	return stdout, nil
}
