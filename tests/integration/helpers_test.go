//go:build integration

package integration

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// withTargetMounted mounts the target root at a scratch path, runs fn, and
// unmounts again. Used to inspect or damage the target outside bootmend.
func withTargetMounted(t *testing.T, fn func(root string)) {
	t.Helper()

	const scratch = "/mnt/scratch"
	_, err := testVM.Run(fmt.Sprintf("sudo mkdir -p %s && sudo mount %s %s", scratch, targetRoot, scratch))
	require.NoError(t, err, "mount target root for inspection")
	_, err = testVM.Run(fmt.Sprintf("sudo mkdir -p %s/boot/efi && sudo mount %s %s/boot/efi", scratch, targetESP, scratch))
	require.NoError(t, err, "mount target ESP for inspection")

	defer func() {
		_, _ = testVM.Run(fmt.Sprintf("sudo umount %s/boot/efi", scratch))
		_, _ = testVM.Run(fmt.Sprintf("sudo umount %s", scratch))
	}()

	fn(scratch)
}

// breakBootloader removes the GRUB artifacts from the target so a repair has
// something to restore
func breakBootloader(t *testing.T) {
	t.Helper()

	withTargetMounted(t, func(root string) {
		_, err := testVM.Run(fmt.Sprintf("sudo rm -rf %s/boot/grub %s/boot/efi/EFI", root, root))
		require.NoError(t, err, "remove GRUB artifacts")
	})
}

// assertTargetFileExists checks for a path on the (unmounted) target
func assertTargetFileExists(t *testing.T, relPath string) {
	t.Helper()

	withTargetMounted(t, func(root string) {
		output, err := testVM.Run(fmt.Sprintf("sudo test -e %s/%s && echo -n ok", root, relPath))
		require.NoError(t, err, "stat %s on target", relPath)
		require.Equal(t, "ok", output, "%s missing on target", relPath)
	})
}

// assertNoLeftoverMounts verifies bootmend tore down everything under its
// mount root
func assertNoLeftoverMounts(t *testing.T) {
	t.Helper()

	output, err := testVM.Run("cat /proc/mounts")
	require.NoError(t, err, "read /proc/mounts")
	for _, line := range strings.Split(output, "\n") {
		require.NotContains(t, line, mountRoot, "mount left behind after run")
	}
}

// runBootmend runs the installed binary with sudo and returns its output
func runBootmend(t *testing.T, args string) (string, error) {
	t.Helper()
	return testVM.Run(fmt.Sprintf("sudo %s %s", binaryPath, args))
}
