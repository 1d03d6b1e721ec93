package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/bootrelay/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const (
	envAPIURL     = "BOOTRELAY_API_URL"
	envAPIKey     = "BOOTRELAY_API_KEY"
	defaultAPIURL = "http://127.0.0.1:8080"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "worker":
		return runWorkerNoun(args)
	case "event":
		return runEventNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: bootrelay version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("bootrelay %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`bootrelay - Defers boot events until a background worker is ready

Usage:
  bootrelay <noun> <action> [flags]

Core Resources (Nouns):
  system    Relay lifecycle and health
  worker    Worker entrypoints and the start command
  event     Boot event submission
  config    Configuration validation

System Commands:
  system start      Start the relay service in foreground
  system status     Preflight and health checks
  system watch      Real-time monitoring TUI

Worker Commands:
  worker list                       Show discovered worker entrypoints
  worker start <dispatcher> <cb>    Persist handles and boot the worker

Event Commands:
  event send <action>               Submit a boot action to the running relay
  event inspect <event-id>          Show queue wait, callback and outcome for an event

Config Commands:
  config check      Validate configuration and worker manifests
  config show       Print the effective configuration

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'bootrelay <noun> help' for action-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		printSystemNounHelp(os.Stderr)
		return 1
	}
}

func runWorkerNoun(args []string) int {
	if len(args) < 1 {
		printWorkerNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printWorkerNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printWorkerListHelp()
			return 0
		}
		return runWorkerList(actionArgs)
	case "start":
		if hasHelpFlag(actionArgs) {
			printWorkerStartHelp()
			return 0
		}
		return runWorkerStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown worker action: %s\n", action)
		printWorkerNounHelp(os.Stderr)
		return 1
	}
}

func runEventNoun(args []string) int {
	if len(args) < 1 {
		printEventNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printEventNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "send":
		if hasHelpFlag(actionArgs) {
			printEventSendHelp()
			return 0
		}
		return runEventSend(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printEventInspectHelp()
			return 0
		}
		return runEventInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown event action: %s\n", action)
		printEventNounHelp(os.Stderr)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// loadConfigForTool loads configPath, or the discovered config when empty.
func loadConfigForTool(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: bootrelay system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printWorkerNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: bootrelay worker <action>")
	fmt.Fprintln(w, "Actions: list, start")
}

func printEventNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: bootrelay event <action>")
	fmt.Fprintln(w, "Actions: send, inspect")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: bootrelay config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printSystemStartHelp() {
	fmt.Println("Usage: bootrelay system start [--config PATH]")
	fmt.Println("Start the relay service in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: bootrelay system status [--config PATH] [--json]")
	fmt.Println("Check config, state database, saved handles and the PID lock.")
	fmt.Println("When another instance holds the lock, its API health is queried.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: bootrelay system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI: worker state, queue depth, dispatches and notices.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Relay API URL (default: $BOOTRELAY_API_URL or " + defaultAPIURL + ")")
	fmt.Println("  --api-key KEY    API Bearer Token (or BOOTRELAY_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Scroll dispatches")
}

func printWorkerListHelp() {
	fmt.Println("Usage: bootrelay worker list [--config PATH] [--json]")
	fmt.Println("List worker entrypoints discovered under the configured manifest roots.")
}

func printWorkerStartHelp() {
	fmt.Println("Usage: bootrelay worker start [--api-url URL] [--api-key KEY] [--] <dispatcher-handle> <callback-handle>")
	fmt.Println("Persist both handles and boot the worker through the running relay.")
	fmt.Println("Put negative handles after -- so they are not read as flags.")
}

func printEventSendHelp() {
	fmt.Println("Usage: bootrelay event send [--wait] [--source NAME] [--attr KEY=VALUE ...] [--api-url URL] [--api-key KEY] <action>")
	fmt.Println("Submit a boot action to the running relay. Accepted actions:")
	fmt.Println("  android.intent.action.BOOT_COMPLETED, android.intent.action.LOCKED_BOOT_COMPLETED,")
	fmt.Println("  android.intent.action.QUICKBOOT_POWERON, com.htc.intent.action.QUICKBOOT_POWERON,")
	fmt.Println("  boot_completed, locked_boot_completed, quickboot_poweron")
	fmt.Println("With --wait the command blocks until the worker reports an outcome.")
}

func printEventInspectHelp() {
	fmt.Println("Usage: bootrelay event inspect [--config PATH] [--json] <event-id>")
	fmt.Println("Show how long an event waited, which callback handle served it and the outcome.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: bootrelay config check [--config PATH] [--json]")
	fmt.Println("Validate configuration and worker manifests.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: bootrelay config show [--config PATH] [--json]")
	fmt.Println("Print the effective configuration after defaults and interpolation.")
}
