package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bootmend/bootmend/internal/blockdev"
)

// ErrCancelled means the operator aborted the whole operation, as opposed to
// declining one selection
var ErrCancelled = errors.New("cancelled by operator")

// Selector asks the operator to pick a device from a numbered menu. It
// satisfies the mount planner's selection contract: an empty answer declines
// without aborting, "q" or end of input aborts.
type Selector struct {
	in  *bufio.Scanner
	out io.Writer
}

// New creates a selector reading answers from in and printing menus to out
func New(in io.Reader, out io.Writer) *Selector {
	return &Selector{
		in:  bufio.NewScanner(in),
		out: out,
	}
}

// SelectDevice presents candidates for the given role and returns the chosen
// device path. A number picks from the menu; a /dev path is accepted as-is
// so the operator can name a device the candidate search missed. An empty
// line declines the selection; "q" or EOF returns ErrCancelled.
func (s *Selector) SelectDevice(role string, candidates []blockdev.BlockDevice) (string, error) {
	fmt.Fprintf(s.out, "\nSelect %s:\n", role)

	for i, dev := range candidates {
		fmt.Fprintf(s.out, "  %d) %s", i+1, dev.Path)
		if dev.FSType != "" {
			fmt.Fprintf(s.out, "  %s", dev.FSType)
		}
		if dev.Size > 0 {
			fmt.Fprintf(s.out, "  %s", HumanSize(dev.Size))
		}
		if dev.Label != "" {
			fmt.Fprintf(s.out, "  [%s]", dev.Label)
		}
		fmt.Fprintln(s.out)
	}
	if len(candidates) == 0 {
		fmt.Fprintln(s.out, "  (no candidates found)")
	}

	for {
		fmt.Fprint(s.out, "Number, /dev path, empty to skip, q to abort> ")

		if !s.in.Scan() {
			if err := s.in.Err(); err != nil {
				return "", fmt.Errorf("read answer: %w", err)
			}
			return "", ErrCancelled
		}

		answer := strings.TrimSpace(s.in.Text())
		switch {
		case answer == "":
			return "", nil
		case answer == "q" || answer == "Q":
			return "", ErrCancelled
		case strings.HasPrefix(answer, "/dev/"):
			return answer, nil
		}

		n, err := strconv.Atoi(answer)
		if err != nil || n < 1 || n > len(candidates) {
			fmt.Fprintf(s.out, "invalid choice %q\n", answer)
			continue
		}

		return candidates[n-1].Path, nil
	}
}

// HumanSize renders a byte count with the largest fitting binary unit
func HumanSize(bytes uint64) string {
	const (
		gib = 1024 * 1024 * 1024
		mib = 1024 * 1024
		kib = 1024
	)

	switch {
	case bytes >= gib:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/gib)
	case bytes >= mib:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/mib)
	case bytes >= kib:
		return fmt.Sprintf("%.1f KiB", float64(bytes)/kib)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
