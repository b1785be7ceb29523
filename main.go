package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"github.com/utilitywarehouse/git-autofetch/catalog"
	"github.com/utilitywarehouse/git-autofetch/fetcher"
	"github.com/utilitywarehouse/git-autofetch/scheduler"
)

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	// passed through to git as is, see gitEnv
	gitEnvNames = []string{
		"PATH", "HOME", "USER", "LANG", "LC_ALL",
		"XDG_CONFIG_HOME", "GNUPGHOME", "SSL_CERT_FILE", "SSL_CERT_DIR",
	}
	gitRepoEnvNames = []string{
		"GIT_DIR", "GIT_WORK_TREE", "GIT_INDEX_FILE", "GIT_OBJECT_DIRECTORY", "GIT_COMMON_DIR",
	}

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("GIT_AUTOFETCH_CONFIG"),
			Value:   "/etc/git-autofetch/config.yaml",
			Usage:   "Absolute path to the config file.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
		&cli.StringFlag{
			Name:    "http-bind-address",
			Sources: cli.EnvVars("HTTP_BIND_ADDRESS"),
			Value:   ":9001",
			Usage:   "The address the web server binds to, serves /metrics",
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func main() {
	cmd := &cli.Command{
		Name:  "git-autofetch",
		Usage: "git-autofetch is a tool to periodically fetch updates of locally cloned repositories.",
		Flags: flags,
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// set log level according to argument
			if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
				loggerLevel.Set(v)
			}
			return ctx, nil
		},
		Action: runDaemon,
		Commands: []*cli.Command{
			{
				Name:   "fetch",
				Usage:  "run a single fetch cycle now, regardless of auto_fetch.enabled",
				Action: runOnce,
			},
			reposCommand,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, c *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	confSource, err := newConfigSource(c.String("config"), logger.With("logger", "config"))
	if err != nil {
		return err
	}
	conf := confSource.Config()

	store, err := catalog.NewSQLiteStore(conf.CatalogPath)
	if err != nil {
		return err
	}
	defer store.Close()

	enableMetrics(prometheus.DefaultRegisterer)

	server := &http.Server{
		Addr:              c.String("http-bind-address"),
		Handler:           newServeMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server terminated", "err", err)
		}
	}()

	loop := scheduler.NewLoop(
		conf.AutoFetch.WarmUp,
		newCycle(conf, store),
		confSource.Settings,
		logger.With("logger", "scheduler"),
	)
	go loop.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	// in-flight git process is killed on cancellation
	<-loop.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("unable to shutdown metrics server", "err", err)
	}

	return nil
}

func runOnce(ctx context.Context, c *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	confSource, err := newConfigSource(c.String("config"), logger.With("logger", "config"))
	if err != nil {
		return err
	}
	conf := confSource.Config()

	store, err := catalog.NewSQLiteStore(conf.CatalogPath)
	if err != nil {
		return err
	}
	defer store.Close()

	sum, err := newCycle(conf, store).Run(ctx, conf.RepositoriesPath)
	if err != nil {
		return fmt.Errorf("fetch cycle failed err:%w", err)
	}

	logger.Info("fetch cycle complete", "repos", sum.Selected, "succeeded", sum.Succeeded, "failed", sum.Failed)
	return nil
}

func newCycle(conf *Config, store catalog.Catalog) *scheduler.Cycle {
	f := fetcher.New(fetcher.Config{
		Envs:    gitEnv(os.Environ()),
		Timeout: conf.AutoFetch.FetchTimeout,
	}, nil, logger.With("logger", "fetcher"))

	return scheduler.NewCycle(store, f, logger.With("logger", "cycle"))
}

// gitEnv returns the variables of environ git needs to reach remotes with
// the host's credentials: PATH to resolve git and credential helpers, user
// config dirs, ssh agent, proxies and git's own settings.
func gitEnv(environ []string) []string {
	var envs []string
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(name)
		switch {
		case slices.Contains(gitRepoEnvNames, name):
			// would point every fetch at the same repository
			continue
		case slices.Contains(gitEnvNames, name),
			strings.HasPrefix(name, "GIT_"),
			strings.HasPrefix(name, "SSH_"),
			strings.HasSuffix(upper, "_PROXY"):
			envs = append(envs, kv)
		}
	}
	return envs
}

func enableMetrics(registerer prometheus.Registerer) {
	registerer.MustRegister(configSuccess, configSuccessTime)
	fetcher.EnableMetrics("", registerer)
	scheduler.EnableMetrics("", registerer)
}

func newServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
