//go:build integration

package integration

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"

	"github.com/bootmend/bootmend/tests/integration/log"
	"github.com/bootmend/bootmend/tests/integration/vm"
)

const (
	// The target installation lives on the VM's second disk
	targetDisk = "/dev/vdb"
	targetESP  = "/dev/vdb1"
	targetRoot = "/dev/vdb2"

	// Where bootmend mounts the target by default
	mountRoot = "/mnt/bootmend"

	binaryPath = "/usr/local/bin/bootmend"
)

var testVM vm.VM

// TestMain sets up a shared VM for all integration tests
func TestMain(m *testing.M) {
	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fatalf("\nInterrupted, shutting down...")
	}()

	ctx := context.Background()
	var err error
	testVM, err = vm.StartQEMUVM(ctx)
	if err != nil {
		fatalf("Failed to start VM: %v", err)
	}

	setupVM(ctx, testVM)

	log.Status("Running tests...")
	code := m.Run()

	testVM.Stop()
	os.Exit(code)
}

// fatalf prints a formatted error message to stderr and exits with code 1.
// Use this in TestMain or setup code where *testing.T is not available.
func fatalf(format string, args ...any) {
	log.Status(format, args...)
	if testVM != nil {
		testVM.Stop()
	}
	os.Exit(1)
}

func setupVM(ctx context.Context, v vm.VM) {
	localBinary := os.Getenv("BOOTMEND_BINARY")
	if localBinary == "" {
		localBinary = "../../build/dist/bootmend"
	}

	if _, err := os.Stat(localBinary); err != nil {
		fatalf("bootmend binary not found at %s. Run 'make build' first.", localBinary)
	}

	if err := v.WaitForSSH(ctx); err != nil {
		fatalf("Failed waiting for SSH: %v", err)
	}

	log.Status("Copying bootmend binary to VM...")
	tmpBinary := "/tmp/bootmend"
	if err := v.CopyFile(localBinary, tmpBinary); err != nil {
		fatalf("Failed to copy bootmend binary: %v", err)
	}
	if output, err := v.Run("sudo install -m 0755 " + tmpBinary + " " + binaryPath); err != nil {
		fatalf("Failed to install bootmend binary: %v\n%s", err, output)
	}
}
