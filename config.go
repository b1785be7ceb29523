package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/utilitywarehouse/git-autofetch/internal/lock"
	"github.com/utilitywarehouse/git-autofetch/scheduler"
	"gopkg.in/yaml.v3"
)

const (
	defaultRepositoriesPath = "/git-repos"
	defaultCatalogPath      = "/var/lib/git-autofetch/catalog.db"
	defaultIntervalMinutes  = 5
	defaultWarmUp           = time.Minute
	defaultFetchTimeout     = 10 * time.Minute
)

var (
	configSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "git_autofetch_config_last_reload_successful",
		Help: "Whether the last configuration reload attempt was successful.",
	})
	configSuccessTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "git_autofetch_config_last_reload_success_timestamp_seconds",
		Help: "Timestamp of the last successful configuration reload.",
	})
)

// Config is the content of the config file
type Config struct {
	// RepositoriesPath is the dir repository local paths are relative to
	RepositoriesPath string `yaml:"repositories_path"`
	// CatalogPath is the path of the SQLite catalog database
	CatalogPath string          `yaml:"catalog_path"`
	AutoFetch   AutoFetchConfig `yaml:"auto_fetch"`
}

// AutoFetchConfig controls the fetch loop. Enabled and IntervalMinutes are
// re-read before every cycle, changes to other values require a restart.
type AutoFetchConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalMinutes int           `yaml:"interval_minutes"`
	WarmUp          time.Duration `yaml:"warm_up"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
}

func defaultConfig() *Config {
	conf := &Config{}
	applyDefaults(conf)
	return conf
}

func applyDefaults(conf *Config) {
	if conf.RepositoriesPath == "" {
		conf.RepositoriesPath = defaultRepositoriesPath
	}

	if conf.CatalogPath == "" {
		conf.CatalogPath = defaultCatalogPath
	}

	if conf.AutoFetch.IntervalMinutes == 0 {
		conf.AutoFetch.IntervalMinutes = defaultIntervalMinutes
	}

	if conf.AutoFetch.WarmUp == 0 {
		conf.AutoFetch.WarmUp = defaultWarmUp
	}

	if conf.AutoFetch.FetchTimeout == 0 {
		conf.AutoFetch.FetchTimeout = defaultFetchTimeout
	}
}

func (conf *Config) validate() error {
	if !filepath.IsAbs(conf.RepositoriesPath) {
		return fmt.Errorf("repositories_path must be absolute path: %s", conf.RepositoriesPath)
	}
	if !filepath.IsAbs(conf.CatalogPath) && conf.CatalogPath != ":memory:" {
		return fmt.Errorf("catalog_path must be absolute path: %s", conf.CatalogPath)
	}
	if conf.AutoFetch.IntervalMinutes < 1 {
		return fmt.Errorf("auto_fetch.interval_minutes must be at least 1: %d", conf.AutoFetch.IntervalMinutes)
	}
	if conf.AutoFetch.WarmUp < 0 {
		return fmt.Errorf("auto_fetch.warm_up cannot be negative: %s", conf.AutoFetch.WarmUp)
	}
	if conf.AutoFetch.FetchTimeout < 0 {
		return fmt.Errorf("auto_fetch.fetch_timeout cannot be negative: %s", conf.AutoFetch.FetchTimeout)
	}
	return nil
}

// settings returns values which are consumed by the loop on every cycle
func (conf *Config) settings() scheduler.Settings {
	return scheduler.Settings{
		Enabled:  conf.AutoFetch.Enabled,
		Interval: time.Duration(conf.AutoFetch.IntervalMinutes) * time.Minute,
		BasePath: conf.RepositoriesPath,
	}
}

func parseConfigFile(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(yamlFile); err != nil {
		return nil, err
	}

	conf := &Config{}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, err
	}

	applyDefaults(conf)

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func validateConfig(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return err
	}

	// empty file, all defaults
	if raw == nil {
		return nil
	}

	if key := findUnexpectedKey(raw, getAllowedKeys(Config{})); key != "" {
		return fmt.Errorf("unexpected key: .%v", key)
	}

	autoFetch, ok := raw["auto_fetch"]
	if !ok || autoFetch == nil {
		return nil
	}
	autoFetchMap, ok := autoFetch.(map[string]interface{})
	if !ok {
		return fmt.Errorf("auto_fetch config section is not valid")
	}
	if key := findUnexpectedKey(autoFetchMap, getAllowedKeys(AutoFetchConfig{})); key != "" {
		return fmt.Errorf("unexpected key: .auto_fetch.%v", key)
	}

	return nil
}

// getAllowedKeys retrieves a list of allowed keys from the specified struct
func getAllowedKeys(config interface{}) []string {
	var allowedKeys []string
	val := reflect.ValueOf(config)
	typ := reflect.TypeOf(config)

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		yamlTag := field.Tag.Get("yaml")
		if yamlTag != "" {
			allowedKeys = append(allowedKeys, yamlTag)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw map[string]interface{}, allowedKeys []string) string {
	for key := range raw {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}

	return ""
}

// configSource reloads the config file when it is modified. If reload fails
// last successfully loaded config is kept.
type configSource struct {
	lock          lock.Mutex
	path          string
	lastModTime   time.Time
	// mod time of the file which failed to load, it is not parsed again
	// until modified
	failedModTime time.Time
	statFailed    bool
	current       *Config
	log           *slog.Logger
}

// newConfigSource loads config from path. A missing file is not an error,
// defaults are used until the file is created.
func newConfigSource(path string, log *slog.Logger) (*configSource, error) {
	cs := &configSource{path: path, log: log}

	fileInfo, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("config file not found, using defaults", "path", path)
		cs.current = defaultConfig()
	case err != nil:
		return nil, fmt.Errorf("unable to check config file err:%w", err)
	default:
		conf, err := parseConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to parse config file err:%w", err)
		}
		cs.current = conf
		cs.lastModTime = fileInfo.ModTime()
	}

	configSuccess.Set(1)
	configSuccessTime.SetToCurrentTime()
	return cs, nil
}

// Config returns the last successfully loaded config.
func (cs *configSource) Config() *Config {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	return cs.current
}

// Settings reloads config if needed and returns current loop settings.
func (cs *configSource) Settings() scheduler.Settings {
	cs.reload()
	return cs.Config().settings()
}

func (cs *configSource) reload() {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	fileInfo, err := os.Stat(cs.path)
	if errors.Is(err, fs.ErrNotExist) && cs.lastModTime.IsZero() {
		// never loaded, keep using defaults
		return
	}
	if err != nil {
		if !cs.statFailed {
			cs.log.Error("error checking config file", "err", err)
		}
		cs.statFailed = true
		configSuccess.Set(0)
		return
	}
	cs.statFailed = false

	modTime := fileInfo.ModTime()
	if modTime.Equal(cs.lastModTime) || modTime.Equal(cs.failedModTime) {
		return
	}

	cs.log.Info("reloading config file...")

	newConfig, err := parseConfigFile(cs.path)
	if err != nil {
		cs.log.Error("failed to reload config, keeping last good config", "err", err)
		cs.failedModTime = modTime
		configSuccess.Set(0)
		return
	}

	cs.current = newConfig
	cs.lastModTime = modTime
	cs.failedModTime = time.Time{}
	configSuccess.Set(1)
	configSuccessTime.SetToCurrentTime()
}
