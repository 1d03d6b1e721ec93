package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides config discovery.
const EnvConfigPath = "BOOTRELAY_CONFIG"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates the config at path.
// A directory is accepted and means <dir>/config.yaml.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = absPath
	cfg.resolvePaths(filepath.Dir(absPath))
	return cfg, nil
}

// Parse decodes YAML config bytes and applies defaults and validation.
func Parse(data []byte) (*Config, error) {
	// Decoding over the defaults keeps unset booleans at their default.
	cfg := Defaults()
	dec := yaml.NewDecoder(strings.NewReader(interpolateEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations in order:
// $BOOTRELAY_CONFIG, ~/.config/bootrelay/config.yaml, /etc/bootrelay/config.yaml, ./config.yaml.
func Discover() (string, error) {
	var candidates []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		candidates = append(candidates, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "bootrelay", "config.yaml"))
	}
	candidates = append(candidates, "/etc/bootrelay/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/bootrelay/config.yaml, /etc/bootrelay/config.yaml, ./config.yaml)", EnvConfigPath)
}

func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = d.Service.LogFormat
	}
	if cfg.Service.JournalRetention == 0 {
		cfg.Service.JournalRetention = d.Service.JournalRetention
	}

	if cfg.State.Path == "" {
		cfg.State.Path = d.State.Path
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = d.API.Listen
	}
	if cfg.API.MaxWait == 0 {
		cfg.API.MaxWait = d.API.MaxWait
	}

	if cfg.Worker.ManifestsDir == "" {
		cfg.Worker.ManifestsDir = d.Worker.ManifestsDir
	}
	if cfg.Worker.CallTimeout == 0 {
		cfg.Worker.CallTimeout = d.Worker.CallTimeout
	}
	if cfg.Worker.StopGrace == 0 {
		cfg.Worker.StopGrace = d.Worker.StopGrace
	}
}

// resolvePaths makes relative paths relative to the config file's directory.
func (cfg *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	cfg.State.Path = abs(cfg.State.Path)
	cfg.Worker.ManifestsDir = abs(cfg.Worker.ManifestsDir)
	for i, d := range cfg.Worker.ExtraDirs {
		cfg.Worker.ExtraDirs[i] = abs(d)
	}
}

// interpolateEnv replaces ${VAR} with its value. Unset variables are left in
// place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := cfg.Service.LogFormat; f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", f)
	}
	if cfg.Service.JournalRetention < 0 {
		return fmt.Errorf("service.journal_retention must not be negative")
	}

	if cfg.Worker.CallTimeout < 0 {
		return fmt.Errorf("worker.call_timeout must be positive")
	}
	if cfg.Worker.StopGrace < 0 {
		return fmt.Errorf("worker.stop_grace must be positive")
	}
	if err := unresolved("worker.env", cfg.Worker.Env); err != nil {
		return err
	}

	if cfg.API.Enabled {
		if cfg.API.MaxWait < 0 {
			return fmt.Errorf("api.max_wait must be positive")
		}
		if m := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey); m != nil {
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", m[1])
		}
		if cfg.API.Auth.APIKey == "" {
			return fmt.Errorf("api.auth.api_key is required when the API is enabled")
		}
	}
	return nil
}

func unresolved(field string, m map[string]string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := envVarPattern.FindStringSubmatch(m[k]); v != nil {
			return fmt.Errorf("%s.%s: environment variable ${%s} is not set", field, k, v[1])
		}
	}
	return nil
}
