// Package entrypoint maps dispatcher handles to worker executables.
//
// Each worker lives in its own directory with a manifest.yaml:
//
//	name: echo-worker
//	version: 0.1.0
//	protocol: 1
//	handle: 1
//	entrypoint: echo-worker
//	args: ["--verbose"]
//	checksum: blake3:<hex>   # optional
package entrypoint

import (
	"fmt"
	"strings"
)

const manifestFilename = "manifest.yaml"

// Manifest is the on-disk description of one worker.
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Protocol    int      `yaml:"protocol"`
	Handle      int64    `yaml:"handle"`
	Entrypoint  string   `yaml:"entrypoint"`
	Args        []string `yaml:"args,omitempty"`
	Checksum    string   `yaml:"checksum,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// Entry is a discovered, trusted worker entrypoint.
type Entry struct {
	Name       string
	Handle     int64
	Dir        string // absolute worker directory
	Executable string // absolute path to the executable
	Args       []string
	Version    string
	Checksum   string // "blake3:<hex>" or empty when not pinned
}

func (m *Manifest) validate(wantProtocol int) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}
	if m.Protocol != wantProtocol {
		return fmt.Errorf("unsupported protocol version %d (supported: %d)", m.Protocol, wantProtocol)
	}
	if m.Handle == 0 {
		return fmt.Errorf("handle is required and must be non-zero")
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}
	if m.Checksum != "" && !strings.HasPrefix(m.Checksum, checksumPrefix) {
		return fmt.Errorf("checksum must start with %q", checksumPrefix)
	}
	return nil
}
