package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultConfigPath is the default location for the config file
	DefaultConfigPath = "/etc/bootmend.conf"
	// DefaultMountRoot is the default directory the target root is mounted at
	DefaultMountRoot = "/mnt/bootmend"
	// DefaultBackend is the default block device enumeration backend
	DefaultBackend = "lsblk"
	// DefaultBootloaderID is the default EFI boot entry name passed to grub-install
	DefaultBootloaderID = "GRUB"
)

// Config holds the tool configuration
type Config struct {
	// MountRoot is the directory the target root filesystem is mounted at
	MountRoot string `toml:"mount_root"`
	// Backend is the block device enumeration backend: "lsblk" or "udisks"
	Backend string `toml:"backend"`
	// ESPFallback enables the low-confidence "any FAT32 partition" ESP heuristic
	// when no partition carries the EFI System Partition type marker
	ESPFallback bool `toml:"esp_fallback"`
	// BootloaderID is the EFI boot entry name passed to grub-install
	BootloaderID string `toml:"bootloader_id"`

	// espFallbackSet tracks whether esp_fallback appeared in the config file,
	// so an absent key can still default to true
	espFallbackSet bool
}

// Load loads configuration from a TOML file
// Returns an empty config if the file doesn't exist
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.espFallbackSet = meta.IsDefined("esp_fallback")

	return cfg, nil
}

// Merge merges CLI flags into the config, with CLI flags taking precedence
// over config file values. Empty CLI values are ignored.
func (c *Config) Merge(mountRoot, backend, bootloaderID string) {
	if mountRoot != "" {
		c.MountRoot = mountRoot
	}
	if backend != "" {
		c.Backend = backend
	}
	if bootloaderID != "" {
		c.BootloaderID = bootloaderID
	}
}

// SetESPFallback overrides the heuristic toggle from a CLI flag
func (c *Config) SetESPFallback(enabled bool) {
	c.ESPFallback = enabled
	c.espFallbackSet = true
}

// ApplyDefaults applies default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.MountRoot == "" {
		c.MountRoot = DefaultMountRoot
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.BootloaderID == "" {
		c.BootloaderID = DefaultBootloaderID
	}
	if !c.espFallbackSet {
		c.ESPFallback = true
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend != "lsblk" && c.Backend != "udisks" {
		return fmt.Errorf("backend must be 'lsblk' or 'udisks', got %q", c.Backend)
	}

	if c.MountRoot == "/" {
		return fmt.Errorf("mount root cannot be the live root directory")
	}

	return nil
}
