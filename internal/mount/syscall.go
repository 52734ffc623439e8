package mount

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bootmend/bootmend/internal/log"
	"github.com/bootmend/bootmend/internal/procmounts"
)

// SyscallMounter implements Mounter using Linux syscalls
type SyscallMounter struct {
	basePath string // Base mount path for validation
}

// NewSyscallMounter creates a new syscall-based mounter. All mount targets
// must live under basePath; the live environment's own tree stays out of
// reach.
func NewSyscallMounter(basePath string) *SyscallMounter {
	return &SyscallMounter{
		basePath: basePath,
	}
}

// validateTarget ensures target is basePath or a path beneath it
func (m *SyscallMounter) validateTarget(target string) (string, error) {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("get absolute path: %w", err)
	}

	absBase, err := filepath.Abs(m.basePath)
	if err != nil {
		return "", fmt.Errorf("get absolute base path: %w", err)
	}

	if !strings.HasPrefix(absTarget, absBase+"/") && absTarget != absBase {
		return "", fmt.Errorf("mount target %q is not under base path %q", target, m.basePath)
	}

	return absTarget, nil
}

// Mount mounts the source device to the target directory
func (m *SyscallMounter) Mount(source, target, fsType string) error {
	absTarget, err := m.validateTarget(target)
	if err != nil {
		return err
	}

	log.Debug("mounting filesystem", "source", source, "target", absTarget, "type", fsType)

	if err := unix.Mount(source, absTarget, fsType, 0, ""); err != nil {
		return fmt.Errorf("mount %s to %s: %w", source, absTarget, err)
	}

	log.Debug("mounted successfully", "source", source, "target", absTarget)
	return nil
}

// BindMount recursively bind-mounts source to target and then switches the
// new subtree to slave propagation. The second mount call is required: bind
// flags and propagation flags cannot be changed in one operation.
func (m *SyscallMounter) BindMount(source, target string) error {
	absTarget, err := m.validateTarget(target)
	if err != nil {
		return err
	}

	log.Debug("bind mounting", "source", source, "target", absTarget)

	if err := unix.Mount(source, absTarget, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind mount %s to %s: %w", source, absTarget, err)
	}

	if err := unix.Mount("", absTarget, "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("set slave propagation on %s: %w", absTarget, err)
	}

	log.Debug("bind mounted successfully", "source", source, "target", absTarget)
	return nil
}

// Unmount unmounts the target directory. The detach flag makes the unmount
// lazy, so nested mounts carried in by a recursive bind cannot wedge the
// teardown with EBUSY.
func (m *SyscallMounter) Unmount(target string) error {
	log.Debug("unmounting", "target", target)

	if err := unix.Unmount(target, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}

	log.Debug("unmounted successfully", "target", target)
	return nil
}

// IsMounted checks if the target is mounted
func (m *SyscallMounter) IsMounted(target string) (bool, error) {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false, fmt.Errorf("get absolute path: %w", err)
	}

	mounts, err := procmounts.Parse()
	if err != nil {
		return false, fmt.Errorf("unable to parse mounts: %w", err)
	}

	for _, mnt := range mounts {
		if mnt.MountPoint == absTarget {
			return true, nil
		}
	}

	return false, nil
}

// GetMountPoint returns the mount point for a source device
func (m *SyscallMounter) GetMountPoint(source string) (string, error) {
	// Resolve source to absolute path
	absSource, err := filepath.EvalSymlinks(source)
	if err != nil {
		// If we can't resolve, try with original path
		absSource = source
	}

	mounts, err := procmounts.Parse()
	if err != nil {
		return "", fmt.Errorf("unable to parse mounts: %w", err)
	}

	for _, mnt := range mounts {
		// Check both the original path and resolved path
		if mnt.Device == source || mnt.Device == absSource {
			return mnt.MountPoint, nil
		}
	}

	return "", nil
}
