package blockdev

import "fmt"

// Role describes what kind of block device an entry is
type Role string

const (
	// RoleDisk is a whole disk device
	RoleDisk Role = "disk"
	// RolePartition is a partition of a disk
	RolePartition Role = "partition"
	// RoleMapped is a device-mapper volume (LUKS, LVM)
	RoleMapped Role = "mapped-volume"
)

// ESPTypeGUID is the GPT partition type of an EFI System Partition
const ESPTypeGUID = "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"

// BlockDevice is a read-only snapshot of one OS-visible block device.
// It is never mutated in place; re-enumerate to observe changes.
type BlockDevice struct {
	// Path is the device path (e.g. /dev/sda1)
	Path string
	// FSType is the filesystem type; empty means unformatted
	FSType string
	// PartType is the partition type identifier, lowercased (a GUID on GPT)
	PartType string
	// PartUUID is the partition UUID
	PartUUID string
	// UUID is the filesystem UUID
	UUID string
	// Label is the filesystem label
	Label string
	// Flags are partition flags such as "esp" or "boot"
	Flags []string
	// Role classifies the device as disk, partition or mapped volume
	Role Role
	// Size is the device size in bytes
	Size uint64
}

// HasFlag reports whether the device carries the given partition flag
func (d BlockDevice) HasFlag(flag string) bool {
	for _, f := range d.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Enumerator lists the block devices visible to the live environment
type Enumerator interface {
	// List returns a snapshot of all block devices, sorted by path
	List() ([]BlockDevice, error)
}

// NewEnumerator creates an Enumerator based on the specified backend
func NewEnumerator(backend string) (Enumerator, error) {
	switch backend {
	case "lsblk":
		return NewLsblkEnumerator(), nil
	case "udisks":
		return NewUDisksEnumerator()
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'lsblk' or 'udisks')", backend)
	}
}

// partTypeFlags derives partition flags from the partition type identifier
// and the raw partition attribute bits. Bit 2 of the GPT attributes marks a
// partition as legacy-BIOS bootable; type 0xef is the MBR ESP marker.
func partTypeFlags(partType string, attrs uint64) []string {
	var flags []string

	if partType == ESPTypeGUID || partType == "0xef" {
		flags = append(flags, "esp")
	}
	if attrs&(1<<2) != 0 {
		flags = append(flags, "boot")
	}

	return flags
}
