//go:build integration

package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/bootmend/bootmend/tests/integration/log"
)

// QEMU represents a running QEMU virtual machine
type QEMU struct {
	cmd           *exec.Cmd
	sshClient     *ssh.Client
	config        *QEMUConfig
	snapshotPaths []string
	mu            sync.Mutex
}

// QEMUConfig holds configuration for starting a VM
type QEMUConfig struct {
	// ImagePath is the live environment the tests drive over SSH
	ImagePath string
	// TargetImagePath is the second disk carrying the installed system whose
	// bootloader the tests break and repair
	TargetImagePath string
	SSHPort         int
	SSHUser         string
	SSHPass         string
	SSHTimeout      time.Duration
	Memory          int
	CPUs            int
}

func StartQEMUVM(ctx context.Context) (*QEMU, error) {
	imagePath, err := imageFromEnv("VM_IMAGE", "../images/arch-live.qcow2")
	if err != nil {
		return nil, err
	}
	targetPath, err := imageFromEnv("VM_TARGET_IMAGE", "../images/arch-target.qcow2")
	if err != nil {
		return nil, err
	}

	config := QEMUConfig{
		SSHPort:         10022,
		Memory:          2048,
		CPUs:            2,
		SSHUser:         "arch",
		SSHPass:         "arch",
		SSHTimeout:      2 * time.Minute,
		ImagePath:       imagePath,
		TargetImagePath: targetPath,
	}

	return StartQEMUVMWithConfig(ctx, config)
}

// StartQEMUVMWithConfig launches a QEMU VM with the live image as the first
// disk and the target installation as the second
func StartQEMUVMWithConfig(ctx context.Context, config QEMUConfig) (*QEMU, error) {
	if config.ImagePath == "" || config.TargetImagePath == "" {
		return nil, fmt.Errorf("both live and target image paths are required")
	}

	vm := &QEMU{config: &config}

	// Snapshot both disks so the base images survive the breakage the tests
	// inflict
	drives := make([]string, 0, 2)
	for i, base := range []string{config.ImagePath, config.TargetImagePath} {
		if _, err := os.Stat(base); err != nil {
			return nil, fmt.Errorf("image not found: %w", err)
		}

		snapshotPath := filepath.Join(os.TempDir(), fmt.Sprintf("bootmend-test-%d-%d.qcow2", os.Getpid(), i))
		createCmd := exec.CommandContext(ctx, "qemu-img", "create",
			"-f", "qcow2",
			"-b", base,
			"-F", "qcow2",
			snapshotPath,
		)
		if output, err := createCmd.CombinedOutput(); err != nil {
			vm.removeSnapshots()
			return nil, fmt.Errorf("create snapshot: %w: %s", err, output)
		}

		vm.snapshotPaths = append(vm.snapshotPaths, snapshotPath)
		drives = append(drives, fmt.Sprintf("file=%s,if=virtio,cache=writeback,discard=ignore,format=qcow2", snapshotPath))
	}

	log.Status("Starting VM with live image %s and target image %s", config.ImagePath, config.TargetImagePath)
	cmd := exec.CommandContext(ctx, "qemu-system-x86_64",
		"-m", fmt.Sprintf("%dM", config.Memory),
		"-smp", fmt.Sprintf("%d", config.CPUs),
		"-machine", "type=pc,accel=kvm",
		"-cpu", "host",
		"-drive", drives[0],
		"-drive", drives[1],
		"-boot", "c",
		"-netdev", fmt.Sprintf("user,id=net0,hostfwd=tcp::%d-:22", config.SSHPort),
		"-device", "virtio-net,netdev=net0",
		"-nographic",
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		vm.removeSnapshots()
		return nil, fmt.Errorf("start qemu: %w", err)
	}

	vm.cmd = cmd
	return vm, nil
}

func imageFromEnv(envVar, fallback string) (string, error) {
	imagePath := os.Getenv(envVar)
	if imagePath == "" {
		imagePath = fallback
	}

	if _, err := os.Stat(imagePath); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("VM image %s not found. Run 'make test-images' first or set %s", imagePath, envVar)
	}

	absImagePath, err := filepath.Abs(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %v", err)
	}

	return absImagePath, nil
}

// WaitForSSH polls until SSH is available
func (vm *QEMU) WaitForSSH(ctx context.Context) error {
	config := &ssh.ClientConfig{
		User:            vm.config.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.Password(vm.config.SSHPass)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	deadline := time.Now().Add(vm.config.SSHTimeout)
	var lastErr error

	log.Status("Waiting for SSH to become available...")
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := ssh.Dial("tcp", fmt.Sprintf("localhost:%d", vm.config.SSHPort), config)
		if err == nil {
			vm.sshClient = conn
			return nil
		}
		lastErr = err
		time.Sleep(2 * time.Second)
	}

	return fmt.Errorf("ssh timeout after %v: %w", vm.config.SSHTimeout, lastErr)
}

// Run executes a command in the VM via SSH
func (vm *QEMU) Run(cmd string) (string, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.sshClient == nil {
		return "", fmt.Errorf("ssh client not connected")
	}

	session, err := vm.sshClient.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer func() { _ = session.Close() }()

	output, err := session.CombinedOutput(cmd)
	return string(output), err
}

// RunWithTimeout executes a command with a specific timeout
func (vm *QEMU) RunWithTimeout(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		output string
		err    error
	}

	ch := make(chan result, 1)
	go func() {
		output, err := vm.Run(cmd)
		ch <- result{output, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.output, r.err
	}
}

// CopyFile copies a local file to the VM using SFTP
func (vm *QEMU) CopyFile(localPath, remotePath string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.sshClient == nil {
		return fmt.Errorf("ssh client not connected")
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	sftpClient, err := sftp.NewClient(vm.sshClient)
	if err != nil {
		return fmt.Errorf("create sftp client: %w", err)
	}
	defer func() { _ = sftpClient.Close() }()

	dir := filepath.Dir(remotePath)
	if err := sftpClient.MkdirAll(dir); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	if err := sftpClient.Chmod(remotePath, 0755); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}

	return nil
}

// Gracefully shuts down the VM
func (vm *QEMU) Stop() {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.sshClient != nil {
		// Try graceful shutdown first
		session, err := vm.sshClient.NewSession()
		if err == nil {
			_ = session.Run("sudo shutdown -P now")
			_ = session.Close()
			time.Sleep(2 * time.Second)
		}
		_ = vm.sshClient.Close()
		vm.sshClient = nil
	}

	log.Status("Shutting down VM...")
	if vm.cmd != nil && vm.cmd.Process != nil {
		_ = vm.cmd.Process.Kill()
		_ = vm.cmd.Wait()
		vm.cmd = nil
	}

	vm.removeSnapshots()
}

func (vm *QEMU) removeSnapshots() {
	if len(vm.snapshotPaths) > 0 {
		log.Status("Cleaning up disk snapshots...")
	}
	for _, path := range vm.snapshotPaths {
		_ = os.Remove(path)
	}
	vm.snapshotPaths = nil
}

// IsRunning checks if the VM process is still running
func (vm *QEMU) IsRunning() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.cmd == nil || vm.cmd.Process == nil {
		return false
	}

	return vm.cmd.ProcessState == nil
}
