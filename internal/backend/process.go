package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// maxLineSize bounds a single streamed output line.
const maxLineSize = 1024 * 1024

// newCommand creates an exec.Cmd in its own process group. Cancelling ctx
// kills the whole group, not just the direct child.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// runCommand starts cmd, drains stdout and stderr concurrently and waits for
// it to exit. Both pipes are read to EOF before cmd.Wait so a chatty tool
// cannot deadlock on a full pipe buffer.
//
// A non-zero exit is reported through exitCode with a nil error. err is set
// when the process could not be started or was cancelled; exitCode is -1 then.
func runCommand(ctx context.Context, cmd *exec.Cmd, pm *ProcessManager, stdin string, onLine func(string)) (stdout, stderr []byte, exitCode int, err error) {
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if pm != nil {
		err = pm.Start(cmd)
	} else {
		err = cmd.Start()
	}
	if err != nil {
		return nil, nil, -1, fmt.Errorf("failed to start command: %w", err)
	}
	if pm != nil {
		defer pm.Untrack(cmd)
	}

	var (
		wg                   sync.WaitGroup
		lineMu               sync.Mutex
		stdoutBuf, stderrBuf bytes.Buffer
	)
	drain := func(r io.Reader, buf *bytes.Buffer) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := scanner.Text()
			buf.WriteString(line)
			buf.WriteByte('\n')
			if onLine != nil {
				lineMu.Lock()
				onLine(line)
				lineMu.Unlock()
			}
		}
		// Keep draining after an oversized line so the tool never blocks.
		_, _ = io.Copy(buf, r)
	}

	wg.Add(2)
	go drain(stdoutPipe, &stdoutBuf)
	go drain(stderrPipe, &stderrBuf)
	wg.Wait()

	waitErr := cmd.Wait()
	stdout, stderr = stdoutBuf.Bytes(), stderrBuf.Bytes()

	if waitErr == nil {
		return stdout, stderr, 0, nil
	}
	if ctx.Err() != nil {
		return stdout, stderr, -1, fmt.Errorf("command cancelled: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.ExitCode() > 0 {
		return stdout, stderr, exitErr.ExitCode(), nil
	}
	return stdout, stderr, -1, fmt.Errorf("command failed: %w", waitErr)
}

// killProcessGroup kills the entire process group associated with the command.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}

	// Negative PID signals the whole group
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// ProcessManager tracks all running tool processes so they can be killed
// together when a run is cancelled or the program shuts down.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Start starts cmd and tracks it while holding the manager lock, so a
// concurrent KillAll either sees the new process or finishes before it exists.
func (pm *ProcessManager) Start(cmd *exec.Cmd) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if err := cmd.Start(); err != nil {
		return err
	}
	pm.procs[cmd.Process.Pid] = cmd
	return nil
}

// Untrack removes a process once it has been waited for.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates the process group of every tracked process.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of currently tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
