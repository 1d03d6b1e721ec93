package entrypoint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

const checksumPrefix = "blake3:"

// ErrChecksumMismatch reports an executable that no longer matches its pinned checksum.
var ErrChecksumMismatch = errors.New("entrypoint checksum mismatch")

// Checksum returns the blake3 digest of the file at path as "blake3:<hex>".
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return checksumPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks e.Executable against its pinned checksum. Unpinned entries always pass.
func (e *Entry) Verify() error {
	if e.Checksum == "" {
		return nil
	}
	got, err := Checksum(e.Executable)
	if err != nil {
		return err
	}
	if got != e.Checksum {
		return fmt.Errorf("%w: %s has %s, manifest pins %s", ErrChecksumMismatch, e.Executable, got, e.Checksum)
	}
	return nil
}
