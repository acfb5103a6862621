// Package config loads the application's INI configuration file into one
// typed struct per section and exposes it through an atomic singleton,
// grounded on allaspectsdev-tokenman/internal/config's Get()/set()
// pattern (there built on viper+TOML; here rebuilt on gopkg.in/ini.v1
// per this spec's INI-file requirement).
package config

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/ini.v1"

	"taskmemo.dev/taskmemo/pkg/errkind"
	"taskmemo.dev/taskmemo/pkg/osutil"
)

var current atomic.Pointer[Config]

// Get returns the currently active Config. If none has been loaded yet,
// it returns (and stores) the built-in defaults, so callers never see a
// nil config.
func Get() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	d := Default()
	current.Store(d)
	return d
}

// set stores cfg as the active configuration.
func set(cfg *Config) { current.Store(cfg) }

// Config is the top-level application configuration.
type Config struct {
	App           AppConfig
	Broker        BrokerConfig
	Worker        WorkerConfig
	LocalCache    LocalCacheConfig
	RemoteStorage RemoteStorageConfig
	LocalMounts   map[string]LocalMountConfig
	Webserver     WebserverConfig
	Logging       LoggingConfig
}

// AppConfig controls the dispatchable method allow-list and task
// auto-discovery.
type AppConfig struct {
	AllowedImports []string
	Autodiscover   []string
}

// Allowed reports whether method matches any of the configured
// allowed-import regular expressions.
func (a AppConfig) Allowed(method string) bool {
	for _, pattern := range a.AllowedImports {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(method) {
			return true
		}
	}
	return false
}

// BrokerConfig describes the broker connection used by the distributed
// map, distributed lock, and job queue.
type BrokerConfig struct {
	Name          string
	URL           string
	Port          int
	DB            int
	ResultExpires time.Duration
}

// WorkerConfig controls the process-local worker pool.
type WorkerConfig struct {
	Workers   int
	Queues    []string
	MaxMemory int64
}

// LocalCacheConfig controls the bounded local LRU mirror.
type LocalCacheConfig struct {
	Path      string
	LimitGB   float64
	CheckEvery time.Duration
}

// MaxBytes returns the configured limit in bytes.
func (c LocalCacheConfig) MaxBytes() int64 {
	return int64(c.LimitGB * (1 << 30))
}

// RemoteStorageConfig names which remote-path schemes are active and
// which is used when a task does not specify one.
type RemoteStorageConfig struct {
	UseRemotes []string
	Default    string
}

// LocalMountConfig is one "localmount_.<name>" section: a directory root
// bound to a remote-path scheme.
type LocalMountConfig struct {
	Root string
}

// WebserverConfig controls the dispatch front-end's HTTP server.
type WebserverConfig struct {
	Host        string
	Port        int
	Workers     int
	MaxRequests int
	Timeout     time.Duration
	UploadsDir  string
}

// LoggingConfig controls the structured logger built at startup.
type LoggingConfig struct {
	Path      string
	Level     string
	Logrotate bool
}

// Default returns the built-in configuration used when no file is
// loaded, suitable for tests that want a Config without touching the
// global singleton.
func Default() *Config {
	return &Config{
		App: AppConfig{
			AllowedImports: []string{`^.*$`},
		},
		Broker: BrokerConfig{
			Name:          "redis",
			URL:           "localhost",
			Port:          6379,
			DB:            0,
			ResultExpires: 24 * time.Hour,
		},
		Worker: WorkerConfig{
			Workers: 4,
		},
		LocalCache: LocalCacheConfig{
			Path:       osutil.CacheDir(),
			LimitGB:    5,
			CheckEvery: 5 * time.Minute,
		},
		RemoteStorage: RemoteStorageConfig{
			Default: "localmount_default",
		},
		LocalMounts: map[string]LocalMountConfig{},
		Webserver: WebserverConfig{
			Host:    "127.0.0.1",
			Port:    8080,
			Workers: 4,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load parses the INI file at path, validates it, and installs it as the
// active Config. Sections named "redis" are rejected: two distinct
// config key sets existed in the system this was modeled on (legacy
// "redis.*" and the more general "broker.*", which adds a "name" field
// so non-Redis brokers are in principle nameable); this expansion
// recognizes only "broker.*" and rejects the legacy section outright
// with a MalformedArgument error, rather than silently accepting and
// ignoring it.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}

	if f.HasSection("redis") {
		return nil, errkind.New(errkind.MalformedArgument,
			fmt.Sprintf("config file %s carries a legacy [redis] section; rename it to [broker]", path))
	}

	cfg := Default()

	if s := f.Section("app"); s != nil {
		cfg.App.AllowedImports = splitList(s.Key("allowed_imports").String())
		cfg.App.Autodiscover = splitList(s.Key("autodiscover").String())
	}
	if s, err := findLoadedSection(f, "broker"); err == nil && s != nil {
		cfg.Broker.Name = s.Key("name").MustString(cfg.Broker.Name)
		cfg.Broker.URL = s.Key("url").MustString(cfg.Broker.URL)
		cfg.Broker.Port = s.Key("port").MustInt(cfg.Broker.Port)
		cfg.Broker.DB = s.Key("db").MustInt(cfg.Broker.DB)
		cfg.Broker.ResultExpires = s.Key("result_expires").MustDuration(cfg.Broker.ResultExpires)
	}
	if s := f.Section("worker"); s != nil {
		cfg.Worker.Workers = s.Key("workers").MustInt(cfg.Worker.Workers)
		cfg.Worker.Queues = splitList(s.Key("queues").String())
		cfg.Worker.MaxMemory = s.Key("max_memory").MustInt64(cfg.Worker.MaxMemory)
	}
	if s := f.Section("localcache"); s != nil {
		cfg.LocalCache.Path = s.Key("path").MustString(cfg.LocalCache.Path)
		cfg.LocalCache.LimitGB = s.Key("limit").MustFloat64(cfg.LocalCache.LimitGB)
	}
	if s := f.Section("remotestorage"); s != nil {
		cfg.RemoteStorage.UseRemotes = splitList(s.Key("use_remotes").String())
		cfg.RemoteStorage.Default = s.Key("default").MustString(cfg.RemoteStorage.Default)
	}
	for _, sec := range f.Sections() {
		const prefix = "localmount_."
		if !strings.HasPrefix(sec.Name(), prefix) {
			continue
		}
		name := strings.TrimPrefix(sec.Name(), prefix)
		cfg.LocalMounts[name] = LocalMountConfig{
			Root: sec.Key("root").String(),
		}
	}
	if s := f.Section("webserver"); s != nil {
		cfg.Webserver.Host = s.Key("host").MustString(cfg.Webserver.Host)
		cfg.Webserver.Port = s.Key("port").MustInt(cfg.Webserver.Port)
		cfg.Webserver.Workers = s.Key("workers").MustInt(cfg.Webserver.Workers)
		cfg.Webserver.MaxRequests = s.Key("max_requests").MustInt(cfg.Webserver.MaxRequests)
		cfg.Webserver.Timeout = s.Key("timeout").MustDuration(cfg.Webserver.Timeout)
		cfg.Webserver.UploadsDir = s.Key("uploads_dir").MustString(cfg.Webserver.UploadsDir)
	}
	if s := f.Section("logging"); s != nil {
		cfg.Logging.Path = s.Key("path").MustString(cfg.Logging.Path)
		cfg.Logging.Level = s.Key("level").MustString(cfg.Logging.Level)
		cfg.Logging.Logrotate = s.Key("logrotate").MustBool(cfg.Logging.Logrotate)
	}

	set(cfg)
	return cfg, nil
}

// findLoadedSection returns nil, nil when the section is absent, instead
// of ini's habit of returning an empty section for any name queried via
// Section(); SectionStrings first isn't available pre-1.0 so HasSection
// is used for the presence check.
func findLoadedSection(f *ini.File, name string) (*ini.Section, error) {
	if !f.HasSection(name) {
		return nil, nil
	}
	return f.GetSection(name)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
