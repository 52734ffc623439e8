package resolve

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bootmend/bootmend/internal/blockdev"
	"github.com/bootmend/bootmend/internal/fstab"
	"github.com/bootmend/bootmend/internal/log"
)

// ErrNotFound is returned when no live device satisfies a reference
var ErrNotFound = errors.New("no device satisfies reference")

// Resolver converts fstab device references into the concrete device path
// that satisfies them now. It is a pure query over a fresh enumeration and
// safe to call repeatedly; devices recorded in a target's configuration may
// have moved or disappeared since that configuration was written.
type Resolver struct {
	enum blockdev.Enumerator
}

// New creates a Resolver backed by the given enumerator
func New(enum blockdev.Enumerator) *Resolver {
	return &Resolver{enum: enum}
}

// Resolve returns the device path satisfying ref, or ErrNotFound. When more
// than one device matches, the first match in path sort order is returned;
// callers must re-validate before mounting.
func (r *Resolver) Resolve(ref fstab.Reference) (string, error) {
	devices, err := r.enum.List()
	if err != nil {
		return "", fmt.Errorf("enumerate block devices: %w", err)
	}

	var matches []string
	for _, dev := range devices {
		if matchesReference(dev, ref) {
			matches = append(matches, dev.Path)
		}
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	sort.Strings(matches)
	if len(matches) > 1 {
		log.Warn("reference is ambiguous, using first match",
			"reference", ref.String(), "matches", len(matches), "chosen", matches[0])
	}

	return matches[0], nil
}

func matchesReference(dev blockdev.BlockDevice, ref fstab.Reference) bool {
	switch ref.Kind {
	case fstab.RefRawPath:
		if dev.Path == ref.Value {
			return true
		}
		// The reference may be a symlink into /dev/disk/by-* or /dev/mapper
		if resolved, err := filepath.EvalSymlinks(ref.Value); err == nil && dev.Path == resolved {
			return true
		}
		return false
	case fstab.RefUUID:
		return dev.UUID != "" && dev.UUID == ref.Value
	case fstab.RefPartUUID:
		return dev.PartUUID != "" && dev.PartUUID == ref.Value
	case fstab.RefLabel:
		return dev.Label != "" && dev.Label == ref.Value
	default:
		return false
	}
}
