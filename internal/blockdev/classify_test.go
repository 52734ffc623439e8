package blockdev

import (
	"testing"
)

func TestClassify_RootCandidates(t *testing.T) {
	devices := []BlockDevice{
		{Path: "/dev/sda", Role: RoleDisk},
		{Path: "/dev/sda1", FSType: "vfat", Role: RolePartition, PartType: ESPTypeGUID},
		{Path: "/dev/sda2", FSType: "ext4", Role: RolePartition},
		{Path: "/dev/sda3", FSType: "swap", Role: RolePartition},
		{Path: "/dev/mapper/cryptroot", FSType: "btrfs", Role: RoleMapped},
		{Path: "/dev/sdb1", FSType: "ntfs", Role: RolePartition},
	}

	c := Classify(devices, false)

	want := []string{"/dev/sda2", "/dev/mapper/cryptroot"}
	if len(c.Root) != len(want) {
		t.Fatalf("got %d root candidates, want %d: %+v", len(c.Root), len(want), c.Root)
	}
	for i, path := range want {
		if c.Root[i].Path != path {
			t.Errorf("root candidate %d = %s, want %s", i, c.Root[i].Path, path)
		}
	}
}

func TestClassify_RootExcludesDisks(t *testing.T) {
	// A whole disk formatted ext4 (no partition table) is not a root candidate
	devices := []BlockDevice{
		{Path: "/dev/sdc", FSType: "ext4", Role: RoleDisk},
	}

	c := Classify(devices, false)
	if len(c.Root) != 0 {
		t.Errorf("whole disk classified as root candidate: %+v", c.Root)
	}
}

func TestClassify_ESPByTypeGUID(t *testing.T) {
	devices := []BlockDevice{
		{Path: "/dev/sda1", FSType: "vfat", Role: RolePartition, PartType: ESPTypeGUID},
		{Path: "/dev/sda2", FSType: "ext4", Role: RolePartition},
	}

	c := Classify(devices, false)

	if len(c.ESP) != 1 {
		t.Fatalf("got %d ESP candidates, want 1", len(c.ESP))
	}
	if c.ESP[0].Path != "/dev/sda1" {
		t.Errorf("ESP candidate = %s, want /dev/sda1", c.ESP[0].Path)
	}
	if c.ESP[0].Confidence != ConfidenceHigh {
		t.Errorf("confidence = %s, want high", c.ESP[0].Confidence)
	}
}

func TestClassify_ESPByFlag(t *testing.T) {
	// MBR installations have no ESP type GUID but may carry the esp flag
	devices := []BlockDevice{
		{Path: "/dev/sda1", FSType: "vfat", Role: RolePartition, Flags: []string{"esp"}},
	}

	c := Classify(devices, false)

	if len(c.ESP) != 1 || c.ESP[0].Confidence != ConfidenceHigh {
		t.Fatalf("flagged vfat partition not a high-confidence ESP candidate: %+v", c.ESP)
	}
}

func TestClassify_ESPFallback(t *testing.T) {
	// No definitive marker anywhere: the heuristic offers plain vfat
	// partitions, marked low-confidence
	devices := []BlockDevice{
		{Path: "/dev/sda1", FSType: "vfat", Role: RolePartition},
		{Path: "/dev/sdb1", FSType: "vfat", Role: RolePartition},
	}

	strict := Classify(devices, false)
	if len(strict.ESP) != 0 {
		t.Errorf("fallback disabled but got ESP candidates: %+v", strict.ESP)
	}

	loose := Classify(devices, true)
	if len(loose.ESP) != 2 {
		t.Fatalf("got %d fallback ESP candidates, want 2", len(loose.ESP))
	}
	for _, cand := range loose.ESP {
		if cand.Confidence != ConfidenceLow {
			t.Errorf("fallback candidate %s has confidence %s, want low", cand.Path, cand.Confidence)
		}
	}
}

func TestClassify_FallbackNotUsedWhenStrictMatchExists(t *testing.T) {
	devices := []BlockDevice{
		{Path: "/dev/sda1", FSType: "vfat", Role: RolePartition, PartType: ESPTypeGUID},
		{Path: "/dev/sdb1", FSType: "vfat", Role: RolePartition},
	}

	c := Classify(devices, true)

	if len(c.ESP) != 1 {
		t.Fatalf("got %d ESP candidates, want only the strict match: %+v", len(c.ESP), c.ESP)
	}
	if c.ESP[0].Path != "/dev/sda1" {
		t.Errorf("ESP candidate = %s, want /dev/sda1", c.ESP[0].Path)
	}
}

func TestClassify_Scenario_SingleDiskUEFI(t *testing.T) {
	// One ext4 partition and one vfat partition with the ESP GUID yields
	// exactly one candidate of each kind
	devices := []BlockDevice{
		{Path: "/dev/sda", Role: RoleDisk},
		{Path: "/dev/sda1", FSType: "vfat", Role: RolePartition, PartType: ESPTypeGUID, Flags: []string{"esp"}},
		{Path: "/dev/sda2", FSType: "ext4", Role: RolePartition},
	}

	c := Classify(devices, true)

	if len(c.Root) != 1 || c.Root[0].Path != "/dev/sda2" {
		t.Errorf("root candidates = %+v, want exactly /dev/sda2", c.Root)
	}
	if len(c.ESP) != 1 || c.ESP[0].Path != "/dev/sda1" || c.ESP[0].Confidence != ConfidenceHigh {
		t.Errorf("ESP candidates = %+v, want exactly /dev/sda1 (high)", c.ESP)
	}
}
