package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mattjoyce/bootrelay/internal/config"
	"github.com/mattjoyce/bootrelay/internal/entrypoint"
	"github.com/mattjoyce/bootrelay/internal/lock"
	"github.com/mattjoyce/bootrelay/internal/log"
	"github.com/mattjoyce/bootrelay/internal/state"
	"github.com/mattjoyce/bootrelay/internal/storage"
)

type statusCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail,omitempty"`
	ActivePID int    `json:"active_pid,omitempty"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Config  string        `json:"config,omitempty"`
	Handles state.Handles `json:"handles"`
	Checks  []statusCheck `json:"checks"`
}

func (r *statusReport) add(c statusCheck) {
	r.Checks = append(r.Checks, c)
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := buildStatusReport(*configPath)

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render status JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		if report.Config != "" {
			fmt.Printf("config: %s\n", report.Config)
		}
		for _, c := range report.Checks {
			verdict := "OK"
			if !c.OK {
				verdict = "FAIL"
			}
			if c.Detail != "" {
				fmt.Printf("%s: %s - %s\n", c.Name, verdict, c.Detail)
			} else {
				fmt.Printf("%s: %s\n", c.Name, verdict)
			}
		}
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func buildStatusReport(configPath string) statusReport {
	report := statusReport{}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		report.add(statusCheck{Name: "config_load", Detail: err.Error()})
		for _, name := range []string{"state_db", "worker_entrypoint", "pid_lock"} {
			report.add(statusCheck{Name: name, Detail: "skipped: config not loaded"})
		}
		return report
	}
	report.Config = cfg.Path
	report.add(statusCheck{Name: "config_load", OK: true})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	handles, dbCheck := checkStateDB(ctx, cfg)
	report.Handles = handles
	report.add(dbCheck)
	report.add(checkEntrypoint(cfg, handles, dbCheck.OK))

	lockCheck, running := checkPIDLock(cfg)
	report.add(lockCheck)
	if running && cfg.API.Enabled {
		report.add(checkAPIHealth(cfg))
	}

	report.Healthy = true
	for _, c := range report.Checks {
		if !c.OK {
			report.Healthy = false
			break
		}
	}
	return report
}

func checkStateDB(ctx context.Context, cfg *config.Config) (state.Handles, statusCheck) {
	check := statusCheck{Name: "state_db"}

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		check.Detail = err.Error()
		return state.Handles{}, check
	}
	defer db.Close()

	handles, err := state.NewSQLiteStore(db).Load(ctx)
	if err != nil {
		check.Detail = fmt.Sprintf("load handles: %v", err)
		return state.Handles{}, check
	}

	check.OK = true
	check.Detail = fmt.Sprintf("dispatcher=%d callback=%d", handles.Dispatcher, handles.Callback)
	return handles, check
}

// checkEntrypoint verifies the saved dispatcher handle still resolves, since
// the next boot event will start the worker from it.
func checkEntrypoint(cfg *config.Config, handles state.Handles, dbOK bool) statusCheck {
	check := statusCheck{Name: "worker_entrypoint"}
	if !dbOK {
		check.Detail = "skipped: state database unavailable"
		return check
	}

	registry, err := entrypoint.Discover(cfg.Worker.Roots(), log.Discard())
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	if handles.Dispatcher == 0 {
		check.OK = true
		check.Detail = fmt.Sprintf("no dispatcher handle saved (%d workers discovered)", len(registry.All()))
		return check
	}

	entry, err := registry.Resolve(handles.Dispatcher)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	check.OK = true
	check.Detail = fmt.Sprintf("%s %s", entry.Name, entry.Executable)
	return check
}

// checkPIDLock fails when another instance holds the lock and reports
// whether one does.
func checkPIDLock(cfg *config.Config) (statusCheck, bool) {
	check := statusCheck{Name: "pid_lock"}
	lockPath := lock.PathFor(cfg.State.Path)

	l, err := lock.Acquire(lockPath)
	if err == nil {
		_ = l.Release()
		check.OK = true
		check.Detail = "no running instance"
		return check, false
	}
	if !errors.Is(err, lock.ErrLocked) {
		check.Detail = err.Error()
		return check, false
	}

	check.Detail = fmt.Sprintf("held: %s", lockPath)
	if pid, perr := lock.ReadPID(lockPath); perr == nil {
		check.ActivePID = pid
	}
	return check, true
}

func checkAPIHealth(cfg *config.Config) statusCheck {
	check := statusCheck{Name: "api"}
	h, err := newRelayClient("http://"+cfg.API.Listen, cfg.API.Auth.APIKey).health()
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	check.OK = h.Status == "ok"
	check.Detail = fmt.Sprintf("worker=%s queue=%d uptime=%ds", h.WorkerState, h.QueueDepth, h.UptimeSeconds)
	return check
}
