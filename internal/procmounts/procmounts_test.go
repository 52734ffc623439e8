package procmounts

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	content := `proc /proc proc rw,nosuid,nodev,noexec,relatime 0 0
/dev/sda2 /mnt/bootmend ext4 rw,relatime 0 0
/dev/sda1 /mnt/bootmend/boot/efi vfat rw,noatime,fmask=0022 0 0
/dev/sdb1 /mnt/my\040data ext4 rw 0 0
short line
`

	mounts, err := parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if len(mounts) != 4 {
		t.Fatalf("got %d entries, want 4: %+v", len(mounts), mounts)
	}

	root := mounts[1]
	if root.Device != "/dev/sda2" || root.MountPoint != "/mnt/bootmend" || root.FSType != "ext4" {
		t.Errorf("entry parsed wrong: %+v", root)
	}

	if mounts[3].MountPoint != "/mnt/my data" {
		t.Errorf("octal escape not decoded: %q", mounts[3].MountPoint)
	}
}

func TestUnescapeField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/mnt/plain", "/mnt/plain"},
		{"/mnt/with\\040space", "/mnt/with space"},
		{"/mnt/tab\\011here", "/mnt/tab\there"},
		{"/mnt/back\\134slash", "/mnt/back\\slash"},
	}

	for _, tt := range tests {
		if got := unescapeField(tt.in); got != tt.want {
			t.Errorf("unescapeField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
