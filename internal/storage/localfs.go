package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystems on which SQLite file locking cannot be trusted.
var remoteFilesystems = map[string]struct{}{
	"afpfs":      {},
	"cifs":       {},
	"nfs":        {},
	"smbfs":      {},
	"smb2":       {},
	"webdav":     {},
	"fuse.sshfs": {},
}

type fsTypeFunc func(path string) (string, error)

// requireLocalFilesystem rejects database paths that resolve to a network mount.
// The path itself may not exist yet; its closest existing ancestor is inspected.
func requireLocalFilesystem(path string, fsType fsTypeFunc) error {
	dir, err := closestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve state path %q: %w", path, err)
	}

	kind, err := fsType(dir)
	if err != nil {
		// Unknown platforms cannot tell us; do not refuse to start over it.
		if errors.Is(err, errFSTypeUnsupported) {
			return nil
		}
		return fmt.Errorf("inspect filesystem of %q: %w", dir, err)
	}

	if isRemoteFilesystem(kind) {
		return fmt.Errorf("state path %q is on %s, a network filesystem; point state.path at local disk", path, kind)
	}
	return nil
}

var errFSTypeUnsupported = errors.New("filesystem type detection unsupported")

func closestExisting(path string) (string, error) {
	cur, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(cur); err == nil {
			return cur, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no existing ancestor")
		}
		cur = parent
	}
}

func isRemoteFilesystem(kind string) bool {
	_, ok := remoteFilesystems[strings.ToLower(strings.TrimSpace(kind))]
	return ok
}
