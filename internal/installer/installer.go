package installer

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bootmend/bootmend/internal/log"
)

// Mode selects the bootloader installation variant
type Mode string

const (
	ModeUEFI Mode = "uefi"
	ModeBIOS Mode = "bios"
)

// Target is the resolved configuration for one bootloader installation
type Target struct {
	// RootDir is the mounted target root, always the session's mount root
	RootDir string
	// ESPDir is the ESP mount point as the target sees it, e.g. /boot/efi.
	// Required in UEFI mode.
	ESPDir string
	Mode   Mode
	// BootloaderID names the EFI boot entry and the ESP vendor directory
	BootloaderID string
	// Removable additionally installs to the architecture-fixed fallback
	// path, for firmware that ignores boot entries
	Removable bool
	// BIOSDisk is the whole-disk device the MBR boot code is written to.
	// Required in BIOS mode.
	BIOSDisk string
}

// Chrooter runs a command inside a mounted root using the target's own
// binaries
type Chrooter interface {
	Run(ctx context.Context, root string, argv ...string) error
}

// ArchChrooter shells out to arch-chroot, which handles the chroot setup the
// way the target distribution expects
type ArchChrooter struct{}

func (ArchChrooter) Run(ctx context.Context, root string, argv ...string) error {
	args := append([]string{root}, argv...)
	cmd := exec.CommandContext(ctx, "arch-chroot", args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("arch-chroot %s: %w (output: %q)", strings.Join(args, " "), err, string(output))
	}
	return nil
}

// Step is one named privileged command of an installation sequence
type Step struct {
	Name string
	Argv []string
}

// Steps builds the ordered privileged command sequence for the target. The
// commands run inside the mounted root, so they use the target's package
// manager and bootloader tools, never the live environment's.
func Steps(t Target) ([]Step, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	var steps []Step

	switch t.Mode {
	case ModeUEFI:
		steps = append(steps, Step{
			Name: "install-packages",
			Argv: []string{"pacman", "-S", "--noconfirm", "--needed", "grub", "efibootmgr"},
		})
		steps = append(steps, Step{
			Name: "grub-install",
			Argv: []string{
				"grub-install",
				"--target=x86_64-efi",
				"--efi-directory=" + t.ESPDir,
				"--bootloader-id=" + t.BootloaderID,
			},
		})
		if t.Removable {
			steps = append(steps, Step{
				Name: "grub-install-removable",
				Argv: []string{
					"grub-install",
					"--target=x86_64-efi",
					"--efi-directory=" + t.ESPDir,
					"--bootloader-id=" + t.BootloaderID,
					"--removable",
				},
			})
		}
	case ModeBIOS:
		steps = append(steps, Step{
			Name: "install-packages",
			Argv: []string{"pacman", "-S", "--noconfirm", "--needed", "grub"},
		})
		steps = append(steps, Step{
			Name: "grub-install",
			Argv: []string{"grub-install", "--target=i386-pc", t.BIOSDisk},
		})
	}

	steps = append(steps, Step{
		Name: "grub-mkconfig",
		Argv: []string{"grub-mkconfig", "-o", "/boot/grub/grub.cfg"},
	})

	return steps, nil
}

func validate(t Target) error {
	if t.RootDir == "" {
		return fmt.Errorf("no target root directory")
	}

	switch t.Mode {
	case ModeUEFI:
		if t.ESPDir == "" {
			return fmt.Errorf("UEFI installation requires a mounted ESP")
		}
	case ModeBIOS:
		if t.BIOSDisk == "" {
			return fmt.Errorf("BIOS installation requires a target disk")
		}
	default:
		return fmt.Errorf("unknown installation mode %q", t.Mode)
	}

	return nil
}

// Install runs the installation sequence for the target inside its mounted
// root. The first failing step aborts the sequence; the error names it.
// Nothing is retried.
func Install(ctx context.Context, chroot Chrooter, t Target) error {
	steps, err := Steps(t)
	if err != nil {
		return err
	}

	for _, step := range steps {
		log.Info("running installation step", "step", step.Name, "root", t.RootDir)
		if err := chroot.Run(ctx, t.RootDir, step.Argv...); err != nil {
			return fmt.Errorf("step %q: %w", step.Name, err)
		}
	}

	log.Info("bootloader installation complete", "mode", string(t.Mode))
	return nil
}
