package blockdev

import (
	"testing"
)

const lsblkFixture = `{
  "blockdevices": [
    {
      "path": "/dev/sda",
      "type": "disk",
      "fstype": null,
      "parttype": null,
      "partuuid": null,
      "uuid": null,
      "label": null,
      "partflags": null,
      "size": 128035676160,
      "children": [
        {
          "path": "/dev/sda1",
          "type": "part",
          "fstype": "vfat",
          "parttype": "C12A7328-F81F-11D2-BA4B-00A0C93EC93B",
          "partuuid": "f3a2c1d0-0001-4a5b-9c3d-1f2e3d4c5b6a",
          "uuid": "A1B2-C3D4",
          "label": null,
          "partflags": null,
          "size": 536870912
        },
        {
          "path": "/dev/sda2",
          "type": "part",
          "fstype": "crypto_LUKS",
          "parttype": "0fc63daf-8483-4772-8e79-3d69d8477de4",
          "partuuid": "f3a2c1d0-0002-4a5b-9c3d-1f2e3d4c5b6a",
          "uuid": "9d3adcc5-4de1-4e85-b85a-0ccda2e0ef25",
          "label": null,
          "partflags": null,
          "size": 127497633792,
          "children": [
            {
              "path": "/dev/mapper/cryptroot",
              "type": "crypt",
              "fstype": "ext4",
              "parttype": null,
              "partuuid": null,
              "uuid": "7c21ffde-86a1-4d6e-97b1-72095a7b3cde",
              "label": "arch",
              "partflags": null,
              "size": 127480856576
            }
          ]
        }
      ]
    },
    {
      "path": "/dev/loop0",
      "type": "loop",
      "fstype": "squashfs",
      "parttype": null,
      "partuuid": null,
      "uuid": null,
      "label": null,
      "partflags": null,
      "size": 721420288
    }
  ]
}`

func TestParseLsblkOutput(t *testing.T) {
	devices, err := parseLsblkOutput([]byte(lsblkFixture))
	if err != nil {
		t.Fatalf("parseLsblkOutput() error = %v", err)
	}

	// loop0 is skipped; output is sorted by path
	wantPaths := []string{"/dev/mapper/cryptroot", "/dev/sda", "/dev/sda1", "/dev/sda2"}
	if len(devices) != len(wantPaths) {
		t.Fatalf("got %d devices, want %d: %+v", len(devices), len(wantPaths), devices)
	}
	for i, path := range wantPaths {
		if devices[i].Path != path {
			t.Errorf("device %d = %s, want %s", i, devices[i].Path, path)
		}
	}

	byPath := map[string]BlockDevice{}
	for _, d := range devices {
		byPath[d.Path] = d
	}

	disk := byPath["/dev/sda"]
	if disk.Role != RoleDisk || disk.FSType != "" {
		t.Errorf("disk parsed wrong: %+v", disk)
	}
	if disk.Size != 128035676160 {
		t.Errorf("disk size = %d", disk.Size)
	}

	esp := byPath["/dev/sda1"]
	if esp.Role != RolePartition {
		t.Errorf("esp role = %s", esp.Role)
	}
	if esp.PartType != ESPTypeGUID {
		t.Errorf("parttype not lowercased: %q", esp.PartType)
	}
	if !esp.HasFlag("esp") {
		t.Errorf("esp flag not derived from type GUID: %+v", esp.Flags)
	}
	if esp.UUID != "A1B2-C3D4" {
		t.Errorf("uuid = %q", esp.UUID)
	}

	mapped := byPath["/dev/mapper/cryptroot"]
	if mapped.Role != RoleMapped {
		t.Errorf("crypt device role = %s, want mapped-volume", mapped.Role)
	}
	if mapped.FSType != "ext4" || mapped.Label != "arch" {
		t.Errorf("mapped device parsed wrong: %+v", mapped)
	}
}

func TestParseLsblkOutput_StringSizes(t *testing.T) {
	// Older util-linux quotes every value, including byte counts
	data := `{"blockdevices": [{"path": "/dev/vda", "type": "disk", "size": "21474836480"}]}`

	devices, err := parseLsblkOutput([]byte(data))
	if err != nil {
		t.Fatalf("parseLsblkOutput() error = %v", err)
	}
	if len(devices) != 1 || devices[0].Size != 21474836480 {
		t.Errorf("devices = %+v", devices)
	}
}

func TestParseLsblkOutput_BadJSON(t *testing.T) {
	if _, err := parseLsblkOutput([]byte("not json")); err == nil {
		t.Error("expected error for malformed json")
	}
}
