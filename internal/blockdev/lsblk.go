package blockdev

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/bootmend/bootmend/internal/log"
)

// lsblkColumns is the field list requested from lsblk
const lsblkColumns = "PATH,TYPE,FSTYPE,PARTTYPE,PARTUUID,UUID,LABEL,PARTFLAGS,SIZE"

// LsblkEnumerator implements Enumerator by invoking the lsblk binary,
// which is present on every live ISO shipping util-linux
type LsblkEnumerator struct{}

// NewLsblkEnumerator creates a new lsblk-based enumerator
func NewLsblkEnumerator() *LsblkEnumerator {
	return &LsblkEnumerator{}
}

// lsblkDevice mirrors one node of the lsblk --json device tree
type lsblkDevice struct {
	Path      string        `json:"path"`
	Type      string        `json:"type"`
	FSType    string        `json:"fstype"`
	PartType  string        `json:"parttype"`
	PartUUID  string        `json:"partuuid"`
	UUID      string        `json:"uuid"`
	Label     string        `json:"label"`
	PartFlags string        `json:"partflags"`
	Size      lsblkSize     `json:"size"`
	Children  []lsblkDevice `json:"children"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

// lsblkSize accepts both representations lsblk emits for byte sizes:
// a JSON number on current util-linux, a quoted string on older releases
type lsblkSize uint64

func (s *lsblkSize) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" || raw == "" {
		*s = 0
		return nil
	}

	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parse size %q: %w", raw, err)
	}

	*s = lsblkSize(n)
	return nil
}

// List returns a snapshot of all block devices, sorted by path
func (e *LsblkEnumerator) List() ([]BlockDevice, error) {
	log.Debug("enumerating block devices via lsblk")

	cmd := exec.Command("lsblk", "--json", "--bytes", "--paths", "--output", lsblkColumns)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("lsblk: %w (output: %q)", err, string(output))
	}

	devices, err := parseLsblkOutput(output)
	if err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}

	return devices, nil
}

// parseLsblkOutput decodes the lsblk JSON tree and flattens it into a
// sorted device list
func parseLsblkOutput(data []byte) ([]BlockDevice, error) {
	var out lsblkOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	var devices []BlockDevice
	for _, dev := range out.BlockDevices {
		devices = appendLsblkTree(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Path < devices[j].Path
	})

	return devices, nil
}

func appendLsblkTree(devices []BlockDevice, dev lsblkDevice) []BlockDevice {
	if bd, ok := convertLsblkDevice(dev); ok {
		devices = append(devices, bd)
	}

	for _, child := range dev.Children {
		devices = appendLsblkTree(devices, child)
	}

	return devices
}

func convertLsblkDevice(dev lsblkDevice) (BlockDevice, bool) {
	var role Role
	switch dev.Type {
	case "disk":
		role = RoleDisk
	case "part":
		role = RolePartition
	case "crypt", "lvm":
		role = RoleMapped
	default:
		// rom, loop, zram and friends are never installation targets
		log.Debug("skipping device", "path", dev.Path, "type", dev.Type)
		return BlockDevice{}, false
	}

	partType := strings.ToLower(dev.PartType)

	var attrs uint64
	if dev.PartFlags != "" {
		if bits, err := strconv.ParseUint(strings.TrimPrefix(dev.PartFlags, "0x"), 16, 64); err == nil {
			attrs = bits
		}
	}

	return BlockDevice{
		Path:     dev.Path,
		FSType:   dev.FSType,
		PartType: partType,
		PartUUID: dev.PartUUID,
		UUID:     dev.UUID,
		Label:    dev.Label,
		Flags:    partTypeFlags(partType, attrs),
		Role:     role,
		Size:     uint64(dev.Size),
	}, true
}
