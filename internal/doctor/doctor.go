// Package doctor validates a bootrelay configuration against the discovered
// worker entrypoints.
package doctor

import (
	"fmt"
	"net"
	"strconv"

	"github.com/mattjoyce/bootrelay/internal/config"
	"github.com/mattjoyce/bootrelay/internal/entrypoint"
)

const minAPIKeyLength = 16

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Workers  int     `json:"workers"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("[%s] %s", i.Category, i.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", i.Category, i.Field, i.Message)
}

// Doctor validates configuration against discovered workers.
type Doctor struct {
	cfg      *config.Config
	registry *entrypoint.Registry
}

// New creates a Doctor. A nil registry means discovery failed; the caller
// reports that error itself.
func New(cfg *config.Config, registry *entrypoint.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateWorkers(r)
	d.validateAPIConfig(r)
	d.validateSources(r)
	d.warnTimeouts(r)

	r.Valid = len(r.Errors) == 0
	return r
}

// AddError records a failure found outside Validate, such as a discovery error.
func (r *Result) AddError(category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
	r.Valid = false
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	switch d.cfg.State.Path {
	case "":
		d.addError(r, "service", "state.path", "state.path is required")
	case ":memory:":
		d.addWarning(r, "service", "state.path", "in-memory state: saved handles are lost on restart")
	}
	if d.cfg.Worker.ManifestsDir == "" {
		d.addError(r, "service", "worker.manifests_dir", "worker.manifests_dir is required")
	}
}

// validateWorkers reports an empty registry and unpinned executables.
func (d *Doctor) validateWorkers(r *Result) {
	if d.registry == nil {
		return
	}
	entries := d.registry.All()
	r.Workers = len(entries)
	if len(entries) == 0 {
		d.addWarning(r, "worker", "worker.manifests_dir",
			fmt.Sprintf("no worker manifests found under %s", d.cfg.Worker.ManifestsDir))
		return
	}
	for _, e := range entries {
		if e.Checksum == "" {
			d.addWarning(r, "worker", fmt.Sprintf("workers.%s", e.Name),
				fmt.Sprintf("worker %q (handle %d) has no pinned checksum", e.Name, e.Handle))
		}
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, port, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
	} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid port %q", port))
	} else if host == "" || host == "0.0.0.0" || host == "::" {
		d.addWarning(r, "api", "api.listen", "API listens on all interfaces")
	}

	if key := d.cfg.API.Auth.APIKey; key != "" && len(key) < minAPIKeyLength {
		d.addWarning(r, "api", "api.auth.api_key",
			fmt.Sprintf("api key is shorter than %d characters", minAPIKeyLength))
	}
}

func (d *Doctor) validateSources(r *Result) {
	if !d.cfg.API.Enabled {
		d.addWarning(r, "sources", "api.enabled", "API disabled: the start command can only come from an embedding program")
	}
	if !d.cfg.Sources.BootOnStart && !d.cfg.Sources.Signals && !d.cfg.API.Enabled {
		d.addWarning(r, "sources", "sources", "no event sources enabled")
	}
}

// warnTimeouts flags a wait bound that cannot cover a full worker call.
func (d *Doctor) warnTimeouts(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.MaxWait > 0 && d.cfg.API.MaxWait < d.cfg.Worker.CallTimeout {
		d.addWarning(r, "timeouts", "api.max_wait",
			fmt.Sprintf("api.max_wait (%s) is shorter than worker.call_timeout (%s); waited submissions may return 504 before the worker answers",
				d.cfg.API.MaxWait, d.cfg.Worker.CallTimeout))
	}
}
