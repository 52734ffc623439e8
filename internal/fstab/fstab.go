package fstab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bootmend/bootmend/internal/log"
)

// RefKind tags how an fstab source names its device
type RefKind string

const (
	// RefRawPath is a literal device path such as /dev/sda2
	RefRawPath RefKind = "path"
	// RefUUID references the filesystem UUID
	RefUUID RefKind = "UUID"
	// RefPartUUID references the partition UUID
	RefPartUUID RefKind = "PARTUUID"
	// RefLabel references the filesystem label
	RefLabel RefKind = "LABEL"
)

// Reference is an fstab source: a raw path or a KEY=value device reference
type Reference struct {
	Kind  RefKind
	Value string
}

// String renders the reference back in fstab notation
func (r Reference) String() string {
	if r.Kind == RefRawPath {
		return r.Value
	}
	return fmt.Sprintf("%s=%s", r.Kind, r.Value)
}

// ParseReference parses an fstab source field into a tagged Reference.
// Unknown KEY= prefixes are treated as raw paths.
func ParseReference(source string) Reference {
	key, value, found := strings.Cut(source, "=")
	if found {
		switch key {
		case "UUID":
			return Reference{Kind: RefUUID, Value: value}
		case "PARTUUID":
			return Reference{Kind: RefPartUUID, Value: value}
		case "LABEL":
			return Reference{Kind: RefLabel, Value: value}
		}
	}
	return Reference{Kind: RefRawPath, Value: source}
}

// Entry is one row of a filesystem table
type Entry struct {
	Source     Reference
	MountPoint string
	FSType     string
	Options    string
	Dump       int
	Pass       int
}

// Parse reads filesystem table content. Comments and blank lines are
// ignored; malformed lines are skipped, not fatal.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseLine(line)
		if err != nil {
			log.Debug("skipping malformed fstab line", "line", line, "error", err)
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fstab: %w", err)
	}

	return entries, nil
}

// ParseFile reads and parses the filesystem table at path
func ParseFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	return Parse(file)
}

func parseLine(line string) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Entry{}, fmt.Errorf("expected at least 4 fields, got %d", len(fields))
	}

	entry := Entry{
		Source:     ParseReference(unescapeField(fields[0])),
		MountPoint: unescapeField(fields[1]),
		FSType:     fields[2],
		Options:    fields[3],
	}

	if len(fields) > 4 {
		if n, err := strconv.Atoi(fields[4]); err == nil {
			entry.Dump = n
		}
	}
	if len(fields) > 5 {
		if n, err := strconv.Atoi(fields[5]); err == nil {
			entry.Pass = n
		}
	}

	return entry, nil
}

// unescapeField unescapes special characters in fstab fields
// genfstab escapes spaces as \040, tabs as \011, etc.
func unescapeField(s string) string {
	s = strings.ReplaceAll(s, "\\040", " ")
	s = strings.ReplaceAll(s, "\\011", "\t")
	s = strings.ReplaceAll(s, "\\012", "\n")
	s = strings.ReplaceAll(s, "\\134", "\\")
	return s
}

// BootMounts holds the entries relevant to bootloader repair
type BootMounts struct {
	// Boot is the /boot entry, nil when /boot lives on the root filesystem
	Boot *Entry
	// ESP is the /boot/efi or /efi entry, nil when absent
	ESP *Entry
}

// BootEntries extracts at most one /boot entry and at most one ESP entry
// (/boot/efi or /efi). The first matching line wins; later duplicates are
// shadowed, matching what a real boot would mount. Absence of either entry
// is not an error.
func BootEntries(entries []Entry) BootMounts {
	var bm BootMounts

	for i := range entries {
		entry := &entries[i]
		switch entry.MountPoint {
		case "/boot":
			if bm.Boot == nil {
				bm.Boot = entry
			}
		case "/boot/efi", "/efi":
			if bm.ESP == nil {
				bm.ESP = entry
			}
		}
	}

	return bm
}
