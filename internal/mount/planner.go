package mount

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bootmend/bootmend/internal/blockdev"
	"github.com/bootmend/bootmend/internal/fstab"
	"github.com/bootmend/bootmend/internal/log"
	"github.com/bootmend/bootmend/internal/resolve"
)

// Mode selects the bootloader installation variant being prepared for
type Mode string

const (
	// ModeUEFI prepares for an EFI bootloader installation
	ModeUEFI Mode = "uefi"
	// ModeBIOS prepares for a legacy BIOS bootloader installation
	ModeBIOS Mode = "bios"
)

// ErrNoESP is returned when UEFI mode cannot proceed because no EFI System
// Partition could be mounted
var ErrNoESP = errors.New("no EFI system partition available")

// Selector chooses one device among candidates, typically by asking the
// operator. It returns the chosen device path, an empty string when the
// operator declines without cancelling, or an error to abort the whole
// operation.
type Selector interface {
	SelectDevice(role string, candidates []blockdev.BlockDevice) (string, error)
}

// kernelInterfaceDirs are bind-mounted from the live environment into the
// target so chroot'd tools can reach the kernel
var kernelInterfaceDirs = []string{"dev", "proc", "sys", "run"}

// Planner orders and performs the mount sequence for a target installation
type Planner struct {
	Mounter  Mounter
	Enum     blockdev.Enumerator
	Resolver *resolve.Resolver
	Selector Selector
	Mode     Mode
	// ESPFallback enables the low-confidence FAT32 heuristic during ESP
	// candidate search
	ESPFallback bool
	// BootDevice, when set, is mounted at /boot instead of consulting the
	// target's fstab
	BootDevice string
	// ESPDevice, when set, is mounted as the ESP instead of consulting the
	// target's fstab
	ESPDevice string
}

// Report describes what the planner managed to mount beyond the root
type Report struct {
	BootMounted bool
	// BootUnresolved holds the fstab source for /boot that could not be
	// resolved or mounted, empty when none
	BootUnresolved string
	ESPMounted     bool
	// ESPDir is the ESP mount point relative to the session root, e.g.
	// "boot/efi", valid when ESPMounted
	ESPDir string
}

// defaultESPDir is where the ESP lands when the target's fstab does not say
// otherwise
const defaultESPDir = "boot/efi"

// Mount executes the mount sequence: root, then /boot, then the ESP, then
// the kernel interface binds. Steps run strictly in that order because later
// mounts depend on directories provided by earlier ones. Root failure is
// fatal; /boot and ESP failures fall back as described per step.
func (p *Planner) Mount(session *Session, root blockdev.BlockDevice) (*Report, error) {
	report := &Report{}

	// Step 1: the root filesystem. Without it nothing else can proceed.
	if err := session.Mount(root.Path, "", root.FSType); err != nil {
		return nil, fmt.Errorf("mount root filesystem: %w", err)
	}

	// Step 2: the target's own mount table.
	bm := p.readFstab(session)

	switch {
	case p.BootDevice != "":
		if err := p.mountByPath(session, p.BootDevice, "boot"); err != nil {
			return nil, fmt.Errorf("mount /boot from %s: %w", p.BootDevice, err)
		}
		report.BootMounted = true
	case bm.Boot != nil:
		if err := p.mountEntry(session, bm.Boot, "boot"); err != nil {
			report.BootUnresolved = bm.Boot.Source.String()
			log.Warn("could not mount /boot from fstab, continuing",
				"source", bm.Boot.Source.String(), "error", err)
		} else {
			report.BootMounted = true
		}
	}

	espDir := defaultESPDir
	switch {
	case p.ESPDevice != "":
		if err := p.mountByPath(session, p.ESPDevice, espDir); err != nil {
			return nil, fmt.Errorf("mount ESP from %s: %w", p.ESPDevice, err)
		}
		report.ESPMounted = true
		report.ESPDir = espDir
	case bm.ESP != nil:
		espDir = strings.TrimPrefix(bm.ESP.MountPoint, "/")
		if err := p.mountEntry(session, bm.ESP, espDir); err != nil {
			log.Warn("could not mount ESP from fstab, falling back to candidate search",
				"source", bm.ESP.Source.String(), "error", err)
		} else {
			report.ESPMounted = true
			report.ESPDir = espDir
		}
	}

	// Step 3: /boot interactive fallback.
	if !report.BootMounted {
		if err := p.promptBoot(session, report); err != nil {
			return nil, err
		}
	}

	// Step 4: ESP candidate search. Only UEFI installation needs an ESP.
	if p.Mode == ModeUEFI && !report.ESPMounted {
		if err := p.searchESP(session, report, espDir); err != nil {
			return nil, err
		}
	}

	// Step 5: kernel interface binds.
	for _, dir := range kernelInterfaceDirs {
		if err := session.Bind("/"+dir, dir); err != nil {
			return nil, fmt.Errorf("bind mount /%s: %w", dir, err)
		}
	}

	return report, nil
}

// readFstab parses the freshly mounted root's fstab. A missing or unreadable
// fstab is not fatal; it just means nothing can be resolved from it.
func (p *Planner) readFstab(session *Session) fstab.BootMounts {
	path := filepath.Join(session.Root(), "etc/fstab")

	entries, err := fstab.ParseFile(path)
	if err != nil {
		log.Warn("could not read target fstab", "path", path, "error", err)
		return fstab.BootMounts{}
	}

	return fstab.BootEntries(entries)
}

// mountEntry resolves an fstab entry's source and mounts it at rel
func (p *Planner) mountEntry(session *Session, entry *fstab.Entry, rel string) error {
	path, err := p.Resolver.Resolve(entry.Source)
	if err != nil {
		return err
	}

	return session.Mount(path, rel, entry.FSType)
}

// mountByPath mounts an operator-supplied device path at rel, taking the
// filesystem type from the live enumeration
func (p *Planner) mountByPath(session *Session, path, rel string) error {
	dev, err := p.deviceByPath(path)
	if err != nil {
		return err
	}

	return session.Mount(dev.Path, rel, dev.FSType)
}

func (p *Planner) deviceByPath(path string) (blockdev.BlockDevice, error) {
	devices, err := p.Enum.List()
	if err != nil {
		return blockdev.BlockDevice{}, fmt.Errorf("enumerate block devices: %w", err)
	}

	for _, dev := range devices {
		if dev.Path == path {
			return dev, nil
		}
	}

	return blockdev.BlockDevice{}, fmt.Errorf("no block device at %s", path)
}

// promptBoot asks the operator for a /boot device when the target has a
// /boot directory that nothing is mounted on. Declining is acceptable: on
// many systems /boot lives inside the root filesystem.
func (p *Planner) promptBoot(session *Session, report *Report) error {
	dir := session.Path("boot")

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		// No /boot directory at all; nothing to mount over.
		return nil
	}

	mounted, err := p.Mounter.IsMounted(dir)
	if err != nil {
		return fmt.Errorf("check /boot mount: %w", err)
	}
	if mounted {
		report.BootMounted = true
		return nil
	}

	devices, err := p.Enum.List()
	if err != nil {
		return fmt.Errorf("enumerate block devices: %w", err)
	}
	candidates := blockdev.Classify(devices, false).Root

	path, err := p.Selector.SelectDevice("separate /boot partition (leave empty if /boot is on the root filesystem)", candidates)
	if err != nil {
		return fmt.Errorf("select /boot device: %w", err)
	}
	if path == "" {
		log.Info("continuing without a separate /boot partition")
		return nil
	}

	if err := p.mountByPath(session, path, "boot"); err != nil {
		return fmt.Errorf("mount /boot from %s: %w", path, err)
	}

	report.BootMounted = true
	report.BootUnresolved = ""
	return nil
}

// searchESP exhausts the classifier's ESP candidates. Exactly one
// high-confidence candidate mounts automatically; anything else escalates to
// the operator. Low-confidence heuristic matches are never auto-selected.
func (p *Planner) searchESP(session *Session, report *Report, espDir string) error {
	devices, err := p.Enum.List()
	if err != nil {
		return fmt.Errorf("enumerate block devices: %w", err)
	}
	candidates := blockdev.Classify(devices, p.ESPFallback).ESP

	var high []blockdev.ESPCandidate
	for _, c := range candidates {
		if c.Confidence == blockdev.ConfidenceHigh {
			high = append(high, c)
		}
	}

	if len(high) == 1 {
		c := high[0]
		log.Info("auto-selected EFI system partition", "device", c.Path)
		if err := session.Mount(c.Path, espDir, c.FSType); err != nil {
			return fmt.Errorf("mount ESP %s: %w", c.Path, err)
		}
		report.ESPMounted = true
		report.ESPDir = espDir
		return nil
	}

	role := "EFI system partition"
	if len(high) == 0 && len(candidates) > 0 {
		role = "EFI system partition (heuristic matches only, confirm carefully)"
	}

	list := make([]blockdev.BlockDevice, len(candidates))
	for i, c := range candidates {
		list[i] = c.BlockDevice
	}

	path, err := p.Selector.SelectDevice(role, list)
	if err != nil {
		return fmt.Errorf("select ESP device: %w", err)
	}
	if path == "" {
		return ErrNoESP
	}

	if err := p.mountByPath(session, path, espDir); err != nil {
		return fmt.Errorf("mount ESP from %s: %w", path, err)
	}

	report.ESPMounted = true
	report.ESPDir = espDir
	return nil
}
