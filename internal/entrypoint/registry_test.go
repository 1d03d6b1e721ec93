package entrypoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeWorker(t *testing.T, root, name string, handle int64, extra string) string {
	t.Helper()

	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := fmt.Sprintf("name: %s\nversion: 1.0.0\nprotocol: 1\nhandle: %d\nentrypoint: run.sh\n%s", name, handle, extra)
	if err := os.WriteFile(filepath.Join(dir, manifestFilename), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	exe := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\necho ok\n"), 0o755); err != nil {
		t.Fatalf("write entrypoint: %v", err)
	}
	return exe
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name      string
		setupFn   func(t *testing.T) string
		wantCount int
		wantErr   bool
		checkFn   func(t *testing.T, reg *Registry)
	}{
		{
			name: "valid worker discovered",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writeWorker(t, dir, "echo", 1, "args: [\"-v\"]\n")
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, reg *Registry) {
				e, ok := reg.Get(1)
				if !ok {
					t.Fatal("handle 1 not registered")
				}
				if e.Name != "echo" || len(e.Args) != 1 || e.Args[0] != "-v" {
					t.Errorf("unexpected entry: %#v", e)
				}
				if !filepath.IsAbs(e.Executable) {
					t.Errorf("executable should be absolute, got %s", e.Executable)
				}
			},
		},
		{
			name: "duplicate handle keeps first",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writeWorker(t, dir, "a-first", 5, "")
				writeWorker(t, dir, "b-second", 5, "")
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, reg *Registry) {
				e, _ := reg.Get(5)
				if e.Name != "a-first" {
					t.Errorf("expected first discovered worker, got %s", e.Name)
				}
			},
		},
		{
			name: "unsupported protocol skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				exe := writeWorker(t, dir, "old", 2, "")
				manifest := "name: old\nprotocol: 99\nhandle: 2\nentrypoint: run.sh\n"
				_ = os.WriteFile(filepath.Join(filepath.Dir(exe), manifestFilename), []byte(manifest), 0o644)
				return dir
			},
			wantCount: 0,
		},
		{
			name: "missing handle skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				exe := writeWorker(t, dir, "nohandle", 3, "")
				manifest := "name: nohandle\nprotocol: 1\nentrypoint: run.sh\n"
				_ = os.WriteFile(filepath.Join(filepath.Dir(exe), manifestFilename), []byte(manifest), 0o644)
				return dir
			},
			wantCount: 0,
		},
		{
			name: "non-executable entrypoint skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				exe := writeWorker(t, dir, "noexec", 4, "")
				_ = os.Chmod(exe, 0o644)
				return dir
			},
			wantCount: 0,
		},
		{
			name: "path traversal rejected",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				exe := writeWorker(t, dir, "escape", 6, "")
				manifest := "name: escape\nprotocol: 1\nhandle: 6\nentrypoint: ../run.sh\n"
				_ = os.WriteFile(filepath.Join(filepath.Dir(exe), manifestFilename), []byte(manifest), 0o644)
				return dir
			},
			wantCount: 0,
		},
		{
			name: "wrong pinned checksum skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writeWorker(t, dir, "pinned", 7, "checksum: blake3:00\n")
				return dir
			},
			wantCount: 0,
		},
		{
			name: "missing root",
			setupFn: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "absent")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tt.setupFn(t)
			reg, err := Discover([]string{root}, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Discover() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := len(reg.All()); got != tt.wantCount {
				t.Errorf("expected %d entries, got %d", tt.wantCount, got)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, reg)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	exe := writeWorker(t, root, "echo", 1, "")
	sum, err := Checksum(exe)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	manifest := fmt.Sprintf("name: echo\nprotocol: 1\nhandle: 1\nentrypoint: run.sh\nchecksum: %s\n", sum)
	if err := os.WriteFile(filepath.Join(root, "echo", manifestFilename), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := Discover([]string{root}, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	e, err := reg.Resolve(1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if e.Checksum != sum {
		t.Errorf("expected pinned checksum %s, got %s", sum, e.Checksum)
	}

	if _, err := reg.Resolve(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Tampering after discovery is caught at resolve time.
	if err := os.WriteFile(exe, []byte("#!/bin/sh\necho changed\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Resolve(1); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestChecksumFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	sum, err := Checksum(path)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	// blake3 digest is 32 bytes -> 64 hex chars.
	if len(sum) != len(checksumPrefix)+64 {
		t.Errorf("unexpected checksum %q", sum)
	}
}
