package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/utilitywarehouse/git-autofetch/internal/utils"
)

func Test_enableMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	enableMetrics(reg)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("unable to gather metrics err:%v", err)
	}
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"git_autofetch_config_last_reload_successful",
		"git_autofetch_config_last_reload_success_timestamp_seconds",
		"git_autofetch_last_cycle_timestamp",
		"git_autofetch_cycle_latency_seconds",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func Test_newServeMux(t *testing.T) {
	mux := newServeMux()

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func Test_gitEnv(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin:/bin",
		"HOME=/home/autofetch",
		"SSH_AUTH_SOCK=/run/ssh-agent.sock",
		"HTTPS_PROXY=http://proxy:3128",
		"no_proxy=localhost",
		"GIT_SSH_COMMAND=ssh -i /etc/git-secret/ssh",
		"XDG_CONFIG_HOME=/home/autofetch/.config",
		"GIT_DIR=/somewhere/else/.git",
		"GIT_WORK_TREE=/somewhere/else",
		"AWS_SECRET_ACCESS_KEY=secret",
		"LOG_LEVEL=debug",
		"malformed",
	}
	want := []string{
		"PATH=/usr/bin:/bin",
		"HOME=/home/autofetch",
		"SSH_AUTH_SOCK=/run/ssh-agent.sock",
		"HTTPS_PROXY=http://proxy:3128",
		"no_proxy=localhost",
		"GIT_SSH_COMMAND=ssh -i /etc/git-secret/ssh",
		"XDG_CONFIG_HOME=/home/autofetch/.config",
	}
	if diff := cmp.Diff(want, gitEnv(environ)); diff != "" {
		t.Errorf("gitEnv() mismatch (-want +got):\n%s", diff)
	}
}

func Test_gitEnv_reachesChild(t *testing.T) {
	envCmd, err := exec.LookPath("env")
	if err != nil {
		t.Skip("env executable not found")
	}
	t.Setenv("SSH_AUTH_SOCK", "/tmp/agent.sock")
	t.Setenv("HTTPS_PROXY", "http://proxy.local:3128")
	t.Setenv("GIT_SSH_COMMAND", "ssh -o BatchMode=yes")

	out, err := utils.RunCommand(t.Context(), slog.Default(), gitEnv(os.Environ()), t.TempDir(), envCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := strings.Split(out, "\n")
	for _, kv := range []string{
		"SSH_AUTH_SOCK=/tmp/agent.sock",
		"HTTPS_PROXY=http://proxy.local:3128",
		"GIT_SSH_COMMAND=ssh -o BatchMode=yes",
		"PATH=" + os.Getenv("PATH"),
	} {
		if !slices.Contains(got, kv) {
			t.Errorf("%s not passed to child process, got:\n%s", kv, out)
		}
	}
}
