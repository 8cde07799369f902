package vncsup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.bdb"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo, err := store.NewRepo(s)
	require.NoError(t, err)

	return New(repo)
}

func withTempPidDir(t *testing.T) {
	t.Helper()

	orig := PidDir
	PidDir = t.TempDir()
	t.Cleanup(func() { PidDir = orig })
}

func TestPidFileRoundTrip(t *testing.T) {
	withTempPidDir(t)

	require.NoError(t, writePidFile("web01", 12345, "0.0.0.0:8002"))

	rec, ok := readPidFile("web01")
	require.True(t, ok)
	require.Equal(t, 12345, rec.PID)
	require.Equal(t, "webvnc", rec.Command)
	require.Equal(t, "web01", rec.Zone)
	require.Equal(t, "0.0.0.0:8002", rec.Address)
	require.WithinDuration(t, time.Now(), rec.Timestamp, time.Minute)

	// The on-disk contract is exactly five newline-terminated lines.
	data, err := os.ReadFile(pidPath("web01"))
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimRight(string(data), "\n"), "\n"), 5)
	require.True(t, strings.HasSuffix(string(data), "\n"))

	removePidFile("web01")
	_, ok = readPidFile("web01")
	require.False(t, ok)
}

func TestReadPidFileRejectsTruncated(t *testing.T) {
	withTempPidDir(t)

	require.NoError(t, os.WriteFile(pidPath("short"), []byte("123\nwebvnc\n"), 0o644))
	_, ok := readPidFile("short")
	require.False(t, ok)

	require.NoError(t, os.WriteFile(pidPath("garbled"), []byte("abc\nwebvnc\nts\nz\naddr\n"), 0o644))
	_, ok = readPidFile("garbled")
	require.False(t, ok)
}

func TestProcessAlive(t *testing.T) {
	require.True(t, processAlive(os.Getpid()))
	require.False(t, processAlive(0))
	require.False(t, processAlive(-1))
}

func TestPortInUseByDB(t *testing.T) {
	s := newTestSupervisor(t)

	require.NoError(t, s.repo.VncSessions.Put("z2", store.VncSession{
		ID: "z2", ZoneName: "z2", WebPort: 8001, Status: store.VncActive,
	}))
	require.NoError(t, s.repo.VncSessions.Put("z3", store.VncSession{
		ID: "z3", ZoneName: "z3", WebPort: 8003, Status: store.VncStopped,
	}))

	require.True(t, s.portInUseByDB(8001))
	// A stopped session does not reserve its port.
	require.False(t, s.portInUseByDB(8003))
	require.False(t, s.portInUseByDB(8002))
}

func TestPortFromAddress(t *testing.T) {
	port, err := portFromAddress("0.0.0.0:8002")
	require.NoError(t, err)
	require.Equal(t, 8002, port)

	_, err = portFromAddress("not-an-address")
	require.Error(t, err)
}

// Periodic cleanup demotes active rows whose PID is dead and purges
// stopped rows.
func TestRunPeriodicCleanupReconcilesDeadPids(t *testing.T) {
	withTempPidDir(t)
	s := newTestSupervisor(t)

	require.NoError(t, s.repo.VncSessions.Put("dead", store.VncSession{
		ID: "dead", ZoneName: "dead", WebPort: 8010, ProcessID: -999,
		Status: store.VncActive, LastAccessed: time.Now(),
	}))

	s.RunPeriodicCleanup()

	all, err := s.repo.VncSessions.All()
	require.NoError(t, err)
	// Demoted to stopped by the PID reconciliation pass; the next cycle's
	// purge removes it.
	for _, v := range all {
		require.Equal(t, store.VncStopped, v.Status)
	}

	s.RunPeriodicCleanup()
	all, err = s.repo.VncSessions.All()
	require.NoError(t, err)
	require.Empty(t, all)
}

// Port allocation under contention: 8000 is held by a live `zadm vnc`
// process (seen via ps), 8001 by an active DB session, so the allocator
// lands on 8002.
func TestAllocatePortUnderContention(t *testing.T) {
	s := newTestSupervisor(t)

	psOutput := "USER   PID %CPU %MEM   VSZ  RSS TT STAT START TIME COMMAND\n" +
		"root  4242  0.0  0.1 12345 6789 ?  S    10:00 0:01 zadm vnc -w 0.0.0.0:8000 web00\n"
	s.psCache.Set("ps", psOutput, gocache.NoExpiration)

	require.NoError(t, s.repo.VncSessions.Put("z2", store.VncSession{
		ID: "z2", ZoneName: "z2", WebPort: 8001, Status: store.VncActive,
	}))

	port, err := s.allocatePort(context.Background())
	require.NoError(t, err)
	require.Equal(t, 8002, port)
}
