package config

import "time"

// Config represents the complete bootrelay configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api,omitempty"`
	Worker  WorkerConfig  `yaml:"worker"`
	Sources SourcesConfig `yaml:"sources"`

	// Path is the file the config was loaded from; empty for Defaults().
	Path string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name             string        `yaml:"name"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	JournalRetention time.Duration `yaml:"journal_retention"`
}

// StateConfig defines where handles and the dispatch journal live.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	MaxWait time.Duration `yaml:"max_wait"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// WorkerConfig defines how the worker is found and driven.
type WorkerConfig struct {
	ManifestsDir string            `yaml:"manifests_dir"`
	ExtraDirs    []string          `yaml:"extra_dirs,omitempty"`
	CallTimeout  time.Duration     `yaml:"call_timeout"`
	StopGrace    time.Duration     `yaml:"stop_grace"`
	Env          map[string]string `yaml:"env,omitempty"`
}

// Roots returns every manifest directory, primary first.
func (w WorkerConfig) Roots() []string {
	return append([]string{w.ManifestsDir}, w.ExtraDirs...)
}

// SourcesConfig toggles the built-in event sources.
type SourcesConfig struct {
	BootOnStart bool `yaml:"boot_on_start"`
	Signals     bool `yaml:"signals"`
}

// Defaults returns a configuration with every default applied.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:             "bootrelay",
			LogLevel:         "info",
			LogFormat:        "json",
			JournalRetention: 30 * 24 * time.Hour,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
			MaxWait: 30 * time.Second,
		},
		Worker: WorkerConfig{
			ManifestsDir: "./plugins",
			CallTimeout:  120 * time.Second,
			StopGrace:    5 * time.Second,
		},
		Sources: SourcesConfig{
			BootOnStart: true,
			Signals:     true,
		},
	}
}
