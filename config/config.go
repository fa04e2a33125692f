// Package config discovers and loads the PetalRules configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "petalrules.yaml"
	homeConfigName    = "config.yaml"
	homeConfigDir     = ".petalrules"
)

// File is the declarative config shape.
type File struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`

	// StoreDSN is the SQLite DSN evaluation events are persisted to. Empty
	// disables persistence.
	StoreDSN string `yaml:"store_dsn,omitempty"`

	// Retention bounds how long persisted events are kept, e.g. "72h".
	Retention string `yaml:"retention,omitempty"`

	// OTLPEndpoint is the OTLP/HTTP collector endpoint, e.g. "localhost:4318".
	// Empty disables trace export.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// Schedule is the default cron schedule for watch, e.g. "@every 2s".
	Schedule string `yaml:"schedule,omitempty"`
}

// DiscoverPath resolves the config location with first-match semantics.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// If explicit path is set, not found is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads a config file and expands ${ENV} references in its values.
func Load(path string) (File, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg File
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return File{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	cfg.LogLevel = expandEnvValue(cfg.LogLevel)
	cfg.StoreDSN = expandEnvValue(cfg.StoreDSN)
	cfg.Retention = expandEnvValue(cfg.Retention)
	cfg.OTLPEndpoint = expandEnvValue(cfg.OTLPEndpoint)
	cfg.Schedule = expandEnvValue(cfg.Schedule)

	if _, err := cfg.RetentionDuration(); err != nil {
		return File{}, fmt.Errorf("config %q: %w", path, err)
	}
	if _, err := cfg.Level(); err != nil {
		return File{}, fmt.Errorf("config %q: %w", path, err)
	}
	if isRelativePath(cfg.StoreDSN) {
		cfg.StoreDSN = resolveConfigRelative(filepath.Dir(path), cfg.StoreDSN)
	}
	return cfg, nil
}

// Discover resolves and loads the config. A missing implicit config yields
// the zero File.
func Discover(explicitPath string) (File, string, error) {
	path, found, err := DiscoverPath(explicitPath)
	if err != nil || !found {
		return File{}, "", err
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// RetentionDuration parses Retention. Empty means keep everything.
func (f File) RetentionDuration() (time.Duration, error) {
	if strings.TrimSpace(f.Retention) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.Retention)
	if err != nil {
		return 0, fmt.Errorf("invalid retention %q: %w", f.Retention, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid retention %q: must not be negative", f.Retention)
	}
	return d, nil
}

// Level parses LogLevel. Empty means info.
func (f File) Level() (slog.Level, error) {
	var lvl slog.Level
	if strings.TrimSpace(f.LogLevel) == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(f.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", f.LogLevel, err)
	}
	return lvl, nil
}

func expandEnvValue(value string) string {
	return os.ExpandEnv(value)
}

// isRelativePath reports whether a DSN is a plain relative file path rather
// than a URI or the ":memory:" database.
func isRelativePath(dsn string) bool {
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, ":") {
		return false
	}
	return !filepath.IsAbs(dsn)
}

func resolveConfigRelative(baseDir, p string) string {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
