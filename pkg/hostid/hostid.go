// Package hostid provides the agent's machine identifier: an opaque,
// fixed-width, byte-comparable value cheap enough to copy by value and
// use as a map key throughout pkg/gossip and pkg/remote.
package hostid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
)

// Size is the width of a HostId in bytes.
const Size = 16

// HostId identifies a machine in the cluster. It carries no
// cryptographic meaning — spec.md's Non-goals exclude peer
// authentication — it exists only to key the peer table and to let
// packets name "me" and "friends" unambiguously.
type HostId [Size]byte

// String renders the id as lowercase hex, for logs and the control API.
func (h HostId) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero value.
func (h HostId) IsZero() bool {
	return h == HostId{}
}

// MarshalBinary implements encoding.BinaryMarshaler so CBOR (and any
// other binary codec that respects it) encodes a HostId as a compact
// 16-byte string instead of an array of small integers.
func (h HostId) MarshalBinary() ([]byte, error) {
	return h[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *HostId) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return fmt.Errorf("hostid: invalid binary length %d, want %d", len(data), Size)
	}
	copy(h[:], data)
	return nil
}

// Generate returns a fresh, random HostId.
func Generate() (HostId, error) {
	var h HostId
	if _, err := rand.Read(h[:]); err != nil {
		return HostId{}, fmt.Errorf("hostid: generate: %w", err)
	}
	return h, nil
}

// checkFilePermissions rejects an id file that is group- or
// world-readable.
func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot stat machine id file %s: %w", path, err)
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("machine id file %s has insecure permissions %04o (expected 0600); fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// LoadOrCreate loads a HostId persisted at path, or generates and
// persists a new one if the file does not exist. This is the only
// persisted state the core touches directly (spec.md §6: "Persisted
// state: none in the core" refers to the peer table; the machine's own
// identity must still survive a restart so gossip friends don't see a
// new HostId on every reboot).
func LoadOrCreate(path string) (HostId, error) {
	if data, err := os.ReadFile(path); err == nil {
		if err := checkFilePermissions(path); err != nil {
			return HostId{}, err
		}
		var h HostId
		n, err := hex.Decode(h[:], data)
		if err != nil || n != Size {
			return HostId{}, fmt.Errorf("machine id file %s is corrupt", path)
		}
		return h, nil
	}

	h, err := Generate()
	if err != nil {
		return HostId{}, err
	}
	if err := os.WriteFile(path, []byte(h.String()), 0600); err != nil {
		return HostId{}, fmt.Errorf("failed to save machine id to %s: %w", path, err)
	}
	return h, nil
}

// Parse decodes a hex-encoded HostId, as produced by String.
func Parse(s string) (HostId, error) {
	var h HostId
	n, err := hex.Decode(h[:], []byte(s))
	if err != nil || n != Size {
		return HostId{}, fmt.Errorf("hostid: invalid id %q", s)
	}
	return h, nil
}
