package blockdev

// Confidence grades how reliable a candidate match is
type Confidence string

const (
	// ConfidenceHigh marks a candidate that carries the definitive type marker
	ConfidenceHigh Confidence = "high"
	// ConfidenceLow marks a heuristic match that needs operator confirmation
	ConfidenceLow Confidence = "low"
)

// ESPCandidate is a possible EFI System Partition
type ESPCandidate struct {
	BlockDevice
	Confidence Confidence
}

// Candidates holds the classifier output
type Candidates struct {
	// Root lists devices that could hold the target root filesystem
	Root []BlockDevice
	// ESP lists possible EFI System Partitions
	ESP []ESPCandidate
}

// rootFilesystems is the fixed set of filesystem types accepted for a
// target root filesystem
var rootFilesystems = map[string]bool{
	"ext4":  true,
	"ext3":  true,
	"ext2":  true,
	"btrfs": true,
	"xfs":   true,
}

// Classify labels every enumerated device as a root candidate, an ESP
// candidate, or neither. A discrete /boot partition is not classified here;
// it has no universal type signature and is resolved through the target's
// fstab instead.
//
// When no partition carries the ESP type marker and espFallback is set, any
// FAT32 partition is offered as a low-confidence candidate. A FAT32 data
// partition matches that heuristic too, so low-confidence candidates must
// never be auto-selected.
func Classify(devices []BlockDevice, espFallback bool) Candidates {
	var c Candidates

	for _, dev := range devices {
		if rootFilesystems[dev.FSType] && (dev.Role == RolePartition || dev.Role == RoleMapped) {
			c.Root = append(c.Root, dev)
		}

		if isVFat(dev) && dev.Role == RolePartition && (dev.PartType == ESPTypeGUID || dev.HasFlag("esp")) {
			c.ESP = append(c.ESP, ESPCandidate{BlockDevice: dev, Confidence: ConfidenceHigh})
		}
	}

	if len(c.ESP) == 0 && espFallback {
		for _, dev := range devices {
			if isVFat(dev) && dev.Role == RolePartition {
				c.ESP = append(c.ESP, ESPCandidate{BlockDevice: dev, Confidence: ConfidenceLow})
			}
		}
	}

	return c
}

func isVFat(dev BlockDevice) bool {
	return dev.FSType == "vfat" || dev.FSType == "fat32"
}
