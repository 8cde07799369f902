// Package ptymux maintains one shared console PTY per zone, fed to
// every interactive console subscriber and to the recipe interpreter.
// Each session pairs the PTY with raw and ANSI-stripped ring buffers and
// a subscriber fan-out, so any number of viewers and one automation
// driver can share the same console.
package ptymux

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/kr/pty"

	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
)

const (
	bufferCap       = 100_000
	idleGCInterval  = 5 * time.Minute
	idleGCThreshold = 10 * time.Minute
)

// ansiRe strips ANSI CSI/ESC sequences from the stripped buffer.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b[()][AB012]|\x1b[=>]`)

// Subscriber receives raw PTY data chunks. It MUST NOT block; long work
// must be handed off to the subscriber's own queue, since subscribers
// are served synchronously from the PTY read loop.
type Subscriber func(chunk []byte)

type session struct {
	zoneName string
	ptyFile  *os.File
	cmd      *exec.Cmd

	mu               sync.Mutex
	rawBuffer        []byte
	strippedBuffer   []byte
	subscribers      map[int]Subscriber
	nextSubID        int
	automationActive bool
	createdAt        time.Time
	lastActivity     time.Time
}

// Mux owns every live zone PTY session.
type Mux struct {
	repo *store.Repo

	mu       sync.Mutex
	sessions map[string]*session

	stopCh chan struct{}
}

// New constructs a Mux bound to repo for ZloginSession synchronization.
func New(repo *store.Repo) *Mux {
	return &Mux{
		repo:     repo,
		sessions: map[string]*session{},
		stopCh:   make(chan struct{}),
	}
}

// StartGC launches the idle-session garbage collector: every 5 minutes,
// destroy sessions with zero subscribers, automation inactive, and idle
// longer than 10 minutes.
func (m *Mux) StartGC() {
	go func() {
		ticker := time.NewTicker(idleGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.gcIdle()
			}
		}
	}()
}

// Stop halts the GC loop. Live sessions are left running; a restart will
// re-adopt via startup recovery in the VNC/PTY supervisors.
func (m *Mux) Stop() {
	close(m.stopCh)
}

func (m *Mux) gcIdle() {
	m.mu.Lock()
	var toDestroy []string
	now := time.Now()
	for zone, s := range m.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastActivity)
		destroy := len(s.subscribers) == 0 && !s.automationActive && idle > idleGCThreshold
		s.mu.Unlock()
		if destroy {
			toDestroy = append(toDestroy, zone)
		}
	}
	m.mu.Unlock()

	for _, zone := range toDestroy {
		minilog.Info("ptymux: idle GC destroying session for zone %s", zone)
		m.Destroy(zone)
	}
}

// Get returns the live session for a zone, creating one via Spawn if
// none exists yet.
func (m *Mux) Get(zoneName string, cols, rows int) (*session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[zoneName]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	return m.Spawn(zoneName, cols, rows)
}

// Spawn creates the shared PTY for a zone by running
// `bash -c "pfexec zlogin -C <zone>"` with the requested terminal size.
func (m *Mux) Spawn(zoneName string, cols, rows int) (*session, error) {
	cmd := exec.Command("bash", "-c", fmt.Sprintf("pfexec zlogin -C %s", shellQuoteZone(zoneName)))
	cmd.Env = append(os.Environ(), "TERM=xterm-color")

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("spawning pty for zone %s: %w", zoneName, err)
	}
	setWinsize(f, cols, rows)

	now := time.Now()
	s := &session{
		zoneName:     zoneName,
		ptyFile:      f,
		cmd:          cmd,
		subscribers:  map[int]Subscriber{},
		createdAt:    now,
		lastActivity: now,
	}

	m.mu.Lock()
	m.sessions[zoneName] = s
	m.mu.Unlock()

	if m.repo != nil {
		sess := store.ZloginSession{
			ZoneName:     zoneName,
			PID:          cmd.Process.Pid,
			Status:       store.ZloginActive,
			CreatedAt:    now,
			LastActivity: now,
		}
		_ = m.repo.ZloginSessions.Put(zoneName, sess)
	}

	go m.readLoop(s)

	return s, nil
}

func (m *Mux) readLoop(s *session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptyFile.Read(buf)
		if n > 0 {
			m.onData(s, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			m.onExit(s)
			return
		}
	}
}

func (m *Mux) onData(s *session, chunk []byte) {
	s.mu.Lock()
	s.rawBuffer = appendCapped(s.rawBuffer, chunk)
	stripped := ansiRe.ReplaceAll(chunk, nil)
	s.strippedBuffer = appendCapped(s.strippedBuffer, stripped)
	s.lastActivity = time.Now()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		subs = append(subs, cb)
	}
	s.mu.Unlock()

	for _, cb := range subs {
		invokeSubscriber(cb, chunk)
	}
}

// invokeSubscriber recovers a subscriber panic so one misbehaving
// consumer cannot take down the PTY read loop; failures are logged, not
// propagated.
func invokeSubscriber(cb Subscriber, chunk []byte) {
	defer func() {
		if r := recover(); r != nil {
			minilog.Error("ptymux: subscriber panic: %v", r)
		}
	}()
	cb(chunk)
}

func (m *Mux) onExit(s *session) {
	m.mu.Lock()
	delete(m.sessions, s.zoneName)
	m.mu.Unlock()

	if m.repo != nil {
		_, _ = m.repo.ZloginSessions.UpdateWhere(
			func(z store.ZloginSession) bool { return z.ZoneName == s.zoneName },
			func(z store.ZloginSession) store.ZloginSession { z.Status = store.ZloginClosed; return z },
		)
	}
	minilog.Info("ptymux: pty for zone %s exited", s.zoneName)
}

func appendCapped(buf, chunk []byte) []byte {
	buf = append(buf, chunk...)
	if len(buf) > bufferCap {
		buf = buf[len(buf)-bufferCap:]
	}
	return buf
}

// Subscribe registers cb against the zone's session, returning an
// unsubscribe handle. Both subscribing and unsubscribing count as
// activity for the idle GC.
func (m *Mux) Subscribe(zoneName string, cb Subscriber) (unsubscribe func(), err error) {
	m.mu.Lock()
	s, ok := m.sessions[zoneName]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no pty session for zone %s", zoneName)
	}

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = cb
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.lastActivity = time.Now()
		s.mu.Unlock()
	}, nil
}

// Write sends data to the zone's PTY, failing if it is not alive.
func (m *Mux) Write(zoneName string, data []byte) error {
	m.mu.Lock()
	s, ok := m.sessions[zoneName]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pty session for zone %s", zoneName)
	}

	_, err := s.ptyFile.Write(data)
	return err
}

// ClearBuffer empties both buffers, used by the recipe interpreter
// before issuing a command so exit-code markers match only fresh
// output.
func (m *Mux) ClearBuffer(zoneName string) error {
	m.mu.Lock()
	s, ok := m.sessions[zoneName]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pty session for zone %s", zoneName)
	}

	s.mu.Lock()
	s.rawBuffer = nil
	s.strippedBuffer = nil
	s.mu.Unlock()
	return nil
}

// SetAutomationActive mirrors the flag into the DB ZloginSession row.
func (m *Mux) SetAutomationActive(zoneName string, active bool) error {
	m.mu.Lock()
	s, ok := m.sessions[zoneName]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pty session for zone %s", zoneName)
	}

	s.mu.Lock()
	s.automationActive = active
	s.mu.Unlock()

	if m.repo != nil {
		_, err := m.repo.ZloginSessions.UpdateWhere(
			func(z store.ZloginSession) bool { return z.ZoneName == zoneName },
			func(z store.ZloginSession) store.ZloginSession { z.AutomationActive = active; return z },
		)
		return err
	}
	return nil
}

// WaitForPattern polls the stripped buffer for literal (regex-escaped
// unless useRegex) every <=250ms, bounded by min(now+timeout,
// globalDeadline).
func (m *Mux) WaitForPattern(zoneName, pattern string, useRegex bool, timeout time.Duration, globalDeadline time.Time) (matched string, err error) {
	m.mu.Lock()
	s, ok := m.sessions[zoneName]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no pty session for zone %s", zoneName)
	}

	expr := pattern
	if !useRegex {
		expr = regexp.QuoteMeta(pattern)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return "", fmt.Errorf("compiling pattern: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if globalDeadline.Before(deadline) {
		deadline = globalDeadline
	}

	for {
		s.mu.Lock()
		match := re.Find(s.strippedBuffer)
		s.mu.Unlock()
		if match != nil {
			return string(match), nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("timeout waiting for pattern %q on zone %s", pattern, zoneName)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// Destroy detaches (~.\r\n) then hard-kills the PTY session for a zone.
func (m *Mux) Destroy(zoneName string) {
	m.mu.Lock()
	s, ok := m.sessions[zoneName]
	m.mu.Unlock()
	if !ok {
		return
	}

	_, _ = s.ptyFile.Write([]byte("~.\r\n"))
	time.Sleep(1 * time.Second)

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.ptyFile.Close()
}

// StrippedSnapshot returns a copy of the zone's stripped buffer, used by
// HTTP handlers that surface recent console output without subscribing.
func (m *Mux) StrippedSnapshot(zoneName string) ([]byte, bool) {
	m.mu.Lock()
	s, ok := m.sessions[zoneName]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.strippedBuffer...), true
}

func shellQuoteZone(s string) string {
	return "'" + regexp.MustCompile(`'`).ReplaceAllString(s, `'\''`) + "'"
}

// setWinsize applies the requested terminal size, logging rather than
// failing the spawn if the ioctl is rejected (e.g. under a PTY-less
// test harness).
func setWinsize(f *os.File, cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	ws := &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
	if err := pty.Setsize(f, ws); err != nil {
		minilog.Warn("ptymux: setting window size: %v", err)
	}
}
