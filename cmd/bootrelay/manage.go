package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/bootrelay/internal/doctor"
	"github.com/mattjoyce/bootrelay/internal/entrypoint"
	"github.com/mattjoyce/bootrelay/internal/inspect"
	"github.com/mattjoyce/bootrelay/internal/log"
	"github.com/mattjoyce/bootrelay/internal/storage"
)

type workerListing struct {
	Name       string `json:"name"`
	Handle     int64  `json:"handle"`
	Version    string `json:"version,omitempty"`
	Executable string `json:"executable"`
	Pinned     bool   `json:"pinned"`
}

func runWorkerList(args []string) int {
	fs := flag.NewFlagSet("worker list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	registry, err := entrypoint.Discover(cfg.Worker.Roots(), log.Discard())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		return 1
	}

	entries := registry.All()
	listing := make([]workerListing, 0, len(entries))
	for _, e := range entries {
		listing = append(listing, workerListing{
			Name:       e.Name,
			Handle:     e.Handle,
			Version:    e.Version,
			Executable: e.Executable,
			Pinned:     e.Checksum != "",
		})
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(listing, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if len(listing) == 0 {
		fmt.Println("No workers discovered.")
		return 0
	}
	fmt.Printf("%-8s %-20s %-10s %-6s %s\n", "HANDLE", "NAME", "VERSION", "PINNED", "EXECUTABLE")
	for _, w := range listing {
		pinned := "no"
		if w.Pinned {
			pinned = "yes"
		}
		fmt.Printf("%-8d %-20s %-10s %-6s %s\n", w.Handle, w.Name, w.Version, pinned, w.Executable)
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var result *doctor.Result
	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		result = &doctor.Result{}
		result.AddError("config", "", err.Error())
	} else {
		registry, derr := entrypoint.Discover(cfg.Worker.Roots(), log.Discard())
		result = doctor.New(cfg, registry).Validate()
		if derr != nil {
			result.AddError("worker", "worker.manifests_dir", derr.Error())
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		for _, e := range result.Errors {
			fmt.Printf("ERROR: %s\n", e)
		}
		for _, w := range result.Warnings {
			fmt.Printf("WARN: %s\n", w)
		}
		if result.Valid {
			fmt.Printf("Configuration valid (%d workers discovered)\n", result.Workers)
		}
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func runEventInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: bootrelay event inspect [--config PATH] [--json] <event-id>")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	if *jsonOut {
		data, err := inspect.BuildJSONReport(ctx, db, fs.Arg(0))
		if err != nil {
			return reportInspectError(err)
		}
		fmt.Println(string(data))
		return 0
	}

	out, err := inspect.BuildReport(ctx, db, fs.Arg(0))
	if err != nil {
		return reportInspectError(err)
	}
	fmt.Print(out)
	return 0
}

func reportInspectError(err error) int {
	if errors.Is(err, inspect.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "%v (the event may still be queued, or was pruned)\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Inspect error: %v\n", err)
	return 1
}
