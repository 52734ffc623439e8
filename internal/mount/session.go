package mount

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bootmend/bootmend/internal/log"
)

// Session owns the set of mount points mounted during one resolve-and-mount
// run and is the only entity with teardown responsibility. Exactly one
// session is live at a time; bootloader repair is a single top-level
// operation, so nesting is disallowed by design.
type Session struct {
	root    string
	mounter Mounter
	mounted []string // in mount order
}

// NewSession creates a session rooted at root. Nothing is mounted yet.
func NewSession(root string, mounter Mounter) *Session {
	return &Session{
		root:    root,
		mounter: mounter,
	}
}

// Root returns the session's root mount path
func (s *Session) Root() string {
	return s.root
}

// Path returns the absolute path of rel inside the session root
func (s *Session) Path(rel string) string {
	return filepath.Join(s.root, rel)
}

// Mounted returns the mount points mounted so far, in mount order
func (s *Session) Mounted() []string {
	out := make([]string, len(s.mounted))
	copy(out, s.mounted)
	return out
}

// Mount mounts the source device at rel inside the session root, creating
// the mount point directory if absent. Mounting a device already mounted at
// the correct path is a no-op; a mount point occupied by anything else is an
// error. The mount is recorded for teardown before returning, so the
// teardown list always matches reality even if a dependent step fails later.
func (s *Session) Mount(source, rel, fsType string) error {
	target := s.Path(rel)

	existing, err := s.mounter.GetMountPoint(source)
	if err != nil {
		return fmt.Errorf("check existing mount: %w", err)
	}
	if existing == target {
		log.Debug("device already mounted at target", "source", source, "target", target)
		return nil
	}
	if existing != "" {
		return fmt.Errorf("device %s is already mounted at %s", source, existing)
	}

	busy, err := s.mounter.IsMounted(target)
	if err != nil {
		return fmt.Errorf("check mount point: %w", err)
	}
	if busy {
		return fmt.Errorf("mount point %s is already occupied by another device", target)
	}

	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("create mount point: %w", err)
	}

	if err := s.mounter.Mount(source, target, fsType); err != nil {
		return err
	}

	s.mounted = append(s.mounted, target)
	log.Info("mounted", "source", source, "target", target, "fs", fsType)
	return nil
}

// Bind recursively bind-mounts the live directory source at rel inside the
// session root, with slave propagation. Already-mounted targets are skipped.
func (s *Session) Bind(source, rel string) error {
	target := s.Path(rel)

	busy, err := s.mounter.IsMounted(target)
	if err != nil {
		return fmt.Errorf("check mount point: %w", err)
	}
	if busy {
		log.Debug("bind target already mounted", "target", target)
		return nil
	}

	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("create mount point: %w", err)
	}

	if err := s.mounter.BindMount(source, target); err != nil {
		return err
	}

	s.mounted = append(s.mounted, target)
	log.Info("bind mounted", "source", source, "target", target)
	return nil
}

// Teardown unmounts everything the session mounted, in strict reverse order
// of mounting. Each attempt is independent and best-effort: a failure is
// logged and the rest are still attempted. Teardown never returns an error,
// so it can never mask the error that triggered it.
func (s *Session) Teardown() {
	for i := len(s.mounted) - 1; i >= 0; i-- {
		target := s.mounted[i]
		if err := s.mounter.Unmount(target); err != nil {
			log.Warn("failed to unmount during teardown", "target", target, "error", err)
			continue
		}
	}
	s.mounted = nil
}
