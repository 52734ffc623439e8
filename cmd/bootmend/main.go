package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/bootmend/bootmend/internal/blockdev"
	"github.com/bootmend/bootmend/internal/config"
	"github.com/bootmend/bootmend/internal/installer"
	"github.com/bootmend/bootmend/internal/log"
	"github.com/bootmend/bootmend/internal/mount"
	"github.com/bootmend/bootmend/internal/prompt"
	"github.com/bootmend/bootmend/internal/resolve"
	"github.com/bootmend/bootmend/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:  "bootmend",
		Usage: "Reinstall the GRUB bootloader of an installed Arch Linux system from a live environment",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file path",
				Value:   config.DefaultConfigPath,
			},
			&cli.StringFlag{
				Name:    "mount-root",
				Aliases: []string{"m"},
				Usage:   "Directory the target root filesystem is mounted at",
			},
			&cli.StringFlag{
				Name:    "backend",
				Aliases: []string{"b"},
				Usage:   "Block device enumeration backend: lsblk or udisks",
			},
			&cli.BoolFlag{
				Name:  "esp-fallback",
				Usage: "Offer plain FAT32 partitions as ESP candidates when no partition carries the ESP type marker",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:    "version",
				Aliases: []string{"V"},
				Usage:   "Print version information",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "uefi",
				Usage: "Reinstall GRUB for UEFI firmware (requires a mounted ESP)",
				Flags: append(targetFlags(),
					&cli.StringFlag{
						Name:  "esp",
						Usage: "EFI System Partition device (skips fstab resolution and candidate search)",
					},
					&cli.StringFlag{
						Name:  "bootloader-id",
						Usage: "EFI boot entry name",
					},
					&cli.BoolFlag{
						Name:  "removable",
						Usage: "Additionally install to the fallback path for firmware that ignores boot entries",
					},
				),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runRepair(ctx, cmd, mount.ModeUEFI)
				},
			},
			{
				Name:  "bios",
				Usage: "Reinstall GRUB for legacy BIOS firmware",
				Flags: append(targetFlags(),
					&cli.StringFlag{
						Name:     "disk",
						Usage:    "Whole disk the MBR boot code is written to, e.g. /dev/sda",
						Required: true,
					},
				),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runRepair(ctx, cmd, mount.ModeBIOS)
				},
			},
			{
				Name:   "scan",
				Usage:  "Enumerate block devices and print root and ESP candidates without mounting anything",
				Action: runScan,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("version") {
				fmt.Println(version.String())
				return nil
			}
			return cli.ShowAppHelp(cmd)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// targetFlags are the flags shared by the uefi and bios subcommands
func targetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "root",
			Usage: "Target root filesystem device (skips candidate selection)",
		},
		&cli.StringFlag{
			Name:  "boot",
			Usage: "Separate /boot device (skips fstab resolution)",
		},
	}
}

// setup applies the config chain: file, then CLI flags, then defaults
func setup(cmd *cli.Command) (*config.Config, error) {
	log.Setup(cmd.Bool("verbose"))

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg.Merge(
		cmd.String("mount-root"),
		cmd.String("backend"),
		cmd.String("bootloader-id"),
	)
	if cmd.IsSet("esp-fallback") {
		cfg.SetESPFallback(cmd.Bool("esp-fallback"))
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func runRepair(ctx context.Context, cmd *cli.Command, mode mount.Mode) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	enum, err := blockdev.NewEnumerator(cfg.Backend)
	if err != nil {
		return err
	}

	devices, err := enum.List()
	if err != nil {
		return fmt.Errorf("enumerate block devices: %w", err)
	}
	candidates := blockdev.Classify(devices, cfg.ESPFallback)

	selector := prompt.New(os.Stdin, os.Stdout)

	rootDev, err := pickRoot(cmd.String("root"), devices, candidates.Root, selector)
	if err != nil {
		return err
	}

	var biosDisk string
	if mode == mount.ModeBIOS {
		biosDisk, err = wholeDisk(cmd.String("disk"), devices)
		if err != nil {
			return err
		}
	}

	log.Info("starting bootloader repair",
		"mode", string(mode),
		"root", rootDev.Path,
		"mount_root", cfg.MountRoot,
		"backend", cfg.Backend,
	)

	if err := os.MkdirAll(cfg.MountRoot, 0755); err != nil {
		return fmt.Errorf("create mount root: %w", err)
	}

	mounter := mount.NewSyscallMounter(cfg.MountRoot)
	session := mount.NewSession(cfg.MountRoot, mounter)
	defer session.Teardown()

	// An interrupt cancels the context, which kills the running chroot
	// command; the deferred teardown then runs on the error path.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	planner := &mount.Planner{
		Mounter:     mounter,
		Enum:        enum,
		Resolver:    resolve.New(enum),
		Selector:    selector,
		Mode:        mode,
		ESPFallback: cfg.ESPFallback,
		BootDevice:  cmd.String("boot"),
		ESPDevice:   cmd.String("esp"),
	}

	report, err := planner.Mount(session, rootDev)
	if err != nil {
		return err
	}
	if report.BootUnresolved != "" {
		log.Warn("proceeding with /boot unresolved", "source", report.BootUnresolved)
	}

	target := installer.Target{
		RootDir:      session.Root(),
		Mode:         installer.Mode(mode),
		BootloaderID: cfg.BootloaderID,
		Removable:    cmd.Bool("removable"),
		BIOSDisk:     biosDisk,
	}
	if mode == mount.ModeUEFI {
		target.ESPDir = "/" + report.ESPDir
	}

	return installer.Install(ctx, installer.ArchChrooter{}, target)
}

// pickRoot resolves the target root filesystem device: an explicit flag wins,
// a single candidate is auto-selected, anything else asks the operator.
func pickRoot(flag string, devices, candidates []blockdev.BlockDevice, selector *prompt.Selector) (blockdev.BlockDevice, error) {
	if flag != "" {
		return deviceByPath(flag, devices)
	}

	if len(candidates) == 1 {
		log.Info("auto-selected root filesystem", "device", candidates[0].Path)
		return candidates[0], nil
	}

	path, err := selector.SelectDevice("target root filesystem", candidates)
	if err != nil {
		return blockdev.BlockDevice{}, fmt.Errorf("select root device: %w", err)
	}
	if path == "" {
		return blockdev.BlockDevice{}, fmt.Errorf("no target root filesystem selected")
	}

	return deviceByPath(path, devices)
}

// wholeDisk validates that path names a whole disk. Writing MBR boot code to
// a partition would corrupt its filesystem.
func wholeDisk(path string, devices []blockdev.BlockDevice) (string, error) {
	dev, err := deviceByPath(path, devices)
	if err != nil {
		return "", err
	}
	if dev.Role != blockdev.RoleDisk {
		return "", fmt.Errorf("%s is not a whole disk", path)
	}
	return dev.Path, nil
}

func deviceByPath(path string, devices []blockdev.BlockDevice) (blockdev.BlockDevice, error) {
	for _, dev := range devices {
		if dev.Path == path {
			return dev, nil
		}
	}
	return blockdev.BlockDevice{}, fmt.Errorf("no block device at %s", path)
}

func runScan(_ context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	enum, err := blockdev.NewEnumerator(cfg.Backend)
	if err != nil {
		return err
	}

	devices, err := enum.List()
	if err != nil {
		return fmt.Errorf("enumerate block devices: %w", err)
	}
	candidates := blockdev.Classify(devices, cfg.ESPFallback)

	fmt.Println("Root filesystem candidates:")
	if len(candidates.Root) == 0 {
		fmt.Println("  (none)")
	}
	for _, dev := range candidates.Root {
		fmt.Printf("  %-20s %-6s %10s  %s\n", dev.Path, dev.FSType, prompt.HumanSize(dev.Size), dev.Label)
	}

	fmt.Println("\nEFI system partition candidates:")
	if len(candidates.ESP) == 0 {
		fmt.Println("  (none)")
	}
	for _, cand := range candidates.ESP {
		fmt.Printf("  %-20s %-6s %10s  confidence=%s\n", cand.Path, cand.FSType, prompt.HumanSize(cand.Size), cand.Confidence)
	}

	return nil
}
