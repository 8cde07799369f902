// Package cmdrunner executes shell commands with a timeout and returns
// a structured result. It is command-agnostic: callers that need root
// privileges prefix their command line with pfexec themselves. On
// timeout the process group gets SIGTERM, a short grace period, then
// SIGKILL.
package cmdrunner

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
)

const defaultTimeout = 30 * time.Second

// Result is the outcome of a single command execution. Runner never
// panics or returns a Go error for a failed command: callers always get
// a Result, and Success == (ExitCode == 0) except on setup failures,
// where ExitCode is -1 and Error explains why.
type Result struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	Error    string
}

// Option configures a single Run call.
type Option func(*options)

type options struct {
	timeout time.Duration
}

// WithTimeout overrides the default 30s timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Run executes cmdLine through /bin/sh -c, honoring the configured
// timeout: on expiry it signals the process group with SIGTERM, waits
// briefly, then SIGKILLs before returning success=false, error="timeout".
func Run(ctx context.Context, cmdLine string, opts ...Option) Result {
	o := options{timeout: defaultTimeout}
	for _, fn := range opts {
		fn(&o)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	// The kill-on-timeout path is handled here rather than by
	// exec.CommandContext: the context's kill only signals the leader,
	// not the whole process group.
	cmd := exec.Command("/bin/sh", "-c", cmdLine)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	minilog.Debug("cmdrunner: running %q (timeout %s)", cmdLine, o.timeout)

	if err := cmd.Start(); err != nil {
		return Result{
			Success:  false,
			ExitCode: -1,
			Error:    err.Error(),
		}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var err error
	select {
	case err = <-waitCh:
	case <-ctx.Done():
		killProcessGroup(cmd.Process.Pid, waitCh)
		minilog.Warn("cmdrunner: %q timed out after %s", cmdLine, o.timeout)
		return Result{
			Success:  false,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
			Error:    "timeout",
		}
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{
				Success:  false,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: -1,
				Error:    err.Error(),
			}
		}
	}

	return Result{
		Success:  exitCode == 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}
}

// killProcessGroup sends SIGTERM to the command's process group, gives
// it a moment to exit cleanly, then SIGKILLs if it is still around.
// waitCh is the channel the caller's Wait goroutine delivers on; this
// blocks until the process has been reaped, so the caller can safely
// read the output buffers afterwards.
func killProcessGroup(pgid int, waitCh <-chan error) {
	syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-waitCh:
		return
	case <-time.After(2 * time.Second):
	}

	syscall.Kill(-pgid, syscall.SIGKILL)
	<-waitCh
}
