package procsup

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAlive(t *testing.T) {
	require.True(t, Alive(os.Getpid()))
	require.False(t, Alive(0))
	require.False(t, Alive(-5))
}

func TestSpawnAndKill(t *testing.T) {
	pid, err := Spawn(SpawnOptions{Argv: []string{"sleep", "300"}})
	require.NoError(t, err)
	require.Greater(t, pid, 0)
	require.True(t, Alive(pid))

	res := Kill(pid, true)
	require.True(t, res.Killed)
	require.Empty(t, res.Error)

	require.Eventually(t, func() bool { return !Alive(pid) }, 2*time.Second, 50*time.Millisecond)
}

func TestKillAlreadyDead(t *testing.T) {
	pid, err := Spawn(SpawnOptions{Argv: []string{"true"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !Alive(pid) }, 2*time.Second, 50*time.Millisecond)

	res := Kill(pid, true)
	require.True(t, res.Killed)
}

func TestSignal(t *testing.T) {
	pid, err := Spawn(SpawnOptions{Argv: []string{"sleep", "300"}})
	require.NoError(t, err)
	t.Cleanup(func() { Kill(pid, true) })

	require.NoError(t, Signal(pid, syscall.SIGTERM))
	require.Eventually(t, func() bool { return !Alive(pid) }, 2*time.Second, 50*time.Millisecond)
}

func TestSpawnEmptyArgv(t *testing.T) {
	_, err := Spawn(SpawnOptions{})
	require.Error(t, err)
}
