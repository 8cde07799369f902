// Package procsup starts and supervises detached child processes and
// scrapes `ps auxww` for liveness and pattern matching. The scrape goes
// through the command runner rather than /proc, since illumos has no
// Linux-style procfs text files to read.
package procsup

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Makr91/zoneweaver-api-sub001/internal/cmdrunner"
	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
)

// SpawnOptions configures a detached child process launch.
type SpawnOptions struct {
	Argv   []string
	Stdout string // optional path to redirect stdout into
	Stderr string // optional path to redirect stderr into
}

// Spawn starts argv[0] with argv[1:] detached from this process (its own
// session, so it survives the daemon restarting) and returns its PID
// immediately without waiting for exit.
func Spawn(opts SpawnOptions) (int, error) {
	if len(opts.Argv) == 0 {
		return 0, fmt.Errorf("procsup: empty argv")
	}

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if opts.Stdout != "" {
		f, err := os.OpenFile(opts.Stdout, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("opening stdout sink: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
	}
	if opts.Stderr != "" {
		f, err := os.OpenFile(opts.Stderr, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("opening stderr sink: %w", err)
		}
		defer f.Close()
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawning %v: %w", opts.Argv, err)
	}

	pid := cmd.Process.Pid

	// Reap the child asynchronously so it doesn't become a zombie; we
	// track liveness ourselves via signal-0 probes, not Wait().
	go cmd.Wait()

	minilog.Info("procsup: spawned pid %d: %v", pid, opts.Argv)
	return pid, nil
}

// Alive reports whether pid refers to a live process via a signal-0
// probe, the standard illumos/POSIX liveness check.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Signal delivers sig to pid.
func Signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// KillResult reports the outcome of Kill.
type KillResult struct {
	Killed bool
	Error  string
}

// Kill asks pid to terminate. With force=false it sends SIGTERM and
// returns immediately. With force=true it sends SIGTERM, waits up to 2s
// polling for death, then SIGKILLs; it only returns Killed=false if the
// process is still alive after the KILL, naming the PID in Error.
func Kill(pid int, force bool) KillResult {
	if !Alive(pid) {
		return KillResult{Killed: true}
	}

	syscall.Kill(pid, syscall.SIGTERM)

	if !force {
		return KillResult{Killed: !Alive(pid)}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return KillResult{Killed: true}
		}
		time.Sleep(100 * time.Millisecond)
	}

	syscall.Kill(pid, syscall.SIGKILL)
	time.Sleep(200 * time.Millisecond)

	if Alive(pid) {
		return KillResult{Killed: false, Error: fmt.Sprintf("pid %d still alive after SIGKILL", pid)}
	}

	return KillResult{Killed: true}
}

// PatternOptions narrows FindByPattern/KillByPattern matching.
// FullCmdline matches against the whole ps line (user, pid, tty and all);
// without it only the COMMAND columns are considered.
type PatternOptions struct {
	FullCmdline bool
	Zone        string
	User        string
}

// psCommandColumn is the index of ps auxww's COMMAND field after
// whitespace splitting (USER PID %CPU %MEM VSZ RSS TT S START TIME CMD).
const psCommandColumn = 10

var psLineFields = regexp.MustCompile(`\s+`)

// FindByPattern scrapes `ps auxww` and returns the PIDs of lines whose
// command text matches re. When opts.Zone is set, only lines also
// containing that zone name match.
func FindByPattern(ctx context.Context, re *regexp.Regexp, opts PatternOptions) ([]int, error) {
	res := cmdrunner.Run(ctx, "ps auxww")
	if !res.Success {
		return nil, fmt.Errorf("ps auxww failed: %s", res.Error)
	}

	var pids []int

	scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			continue // header
		}

		fields := psLineFields.Split(strings.TrimSpace(line), -1)
		if len(fields) < 2 {
			continue
		}

		subject := line
		if !opts.FullCmdline && len(fields) > psCommandColumn {
			subject = strings.Join(fields[psCommandColumn:], " ")
		}

		if !re.MatchString(subject) {
			continue
		}
		if opts.Zone != "" && !strings.Contains(line, opts.Zone) {
			continue
		}
		if opts.User != "" && fields[0] != opts.User {
			continue
		}

		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}

	return pids, nil
}

// KillByPatternResult is the outcome of KillByPattern.
type KillByPatternResult struct {
	Killed []int
	Errors []string
}

// KillByPattern finds every process matching re and force-kills each.
func KillByPattern(ctx context.Context, re *regexp.Regexp, opts PatternOptions) KillByPatternResult {
	pids, err := FindByPattern(ctx, re, opts)
	if err != nil {
		return KillByPatternResult{Errors: []string{err.Error()}}
	}

	var out KillByPatternResult
	for _, pid := range pids {
		r := Kill(pid, true)
		if r.Killed {
			out.Killed = append(out.Killed, pid)
		} else {
			out.Errors = append(out.Errors, r.Error)
		}
	}

	return out
}
