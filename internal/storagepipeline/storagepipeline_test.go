package storagepipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
)

func newTestRepo(t *testing.T) *store.Repo {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.bdb"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo, err := store.NewRepo(s)
	require.NoError(t, err)
	return repo
}

func TestUpsertChunked(t *testing.T) {
	repo := newTestRepo(t)
	bp := NewBatchProcessor(10, 2)

	items := make(map[string]store.DiskRecord, 35)
	for i := 0; i < 35; i++ {
		key := fmt.Sprintf("h1/c0t%dd0", i)
		items[key] = store.DiskRecord{Host: "h1", DeviceName: fmt.Sprintf("c0t%dd0", i)}
	}

	require.NoError(t, UpsertChunked(context.Background(), bp, repo.Disks, items))

	all, err := repo.Disks.All()
	require.NoError(t, err)
	require.Len(t, all, 35)

	// Upserting the same keys again must not duplicate rows.
	require.NoError(t, UpsertChunked(context.Background(), bp, repo.Disks, items))
	all, err = repo.Disks.All()
	require.NoError(t, err)
	require.Len(t, all, 35)
}

func TestRunRetentionDeletesOldRows(t *testing.T) {
	repo := newTestRepo(t)
	p := New(repo, 7)

	old := time.Now().AddDate(0, 0, -8)
	fresh := time.Now()

	require.NoError(t, repo.ARCStats.Put("old", store.ARCStatsRecord{Host: "h1", ScannedAt: old}))
	require.NoError(t, repo.ARCStats.Put("fresh", store.ARCStatsRecord{Host: "h1", ScannedAt: fresh}))
	require.NoError(t, repo.PoolIOStats.Put("old", store.PoolIOStatRecord{Host: "h1", ScannedAt: old}))

	p.runRetention()

	arc, err := repo.ARCStats.All()
	require.NoError(t, err)
	require.Len(t, arc, 1)
	_, ok := arc["fresh"]
	require.True(t, ok)

	pool, err := repo.PoolIOStats.All()
	require.NoError(t, err)
	require.Empty(t, pool)
}

// Repeated cycle failures push the slow schedule into backoff; one
// success resets it.
func TestCycleErrorBackoff(t *testing.T) {
	repo := newTestRepo(t)
	p := New(repo, 7)

	for i := 0; i < errorThreshold; i++ {
		p.onCycleResult(false)
	}
	require.Equal(t, backoffInterval, p.currentSlowInterval())

	info, found, err := repo.HostInfo.Get(p.hostname)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, errorThreshold, info.ErrorCount)

	p.onCycleResult(true)
	require.Equal(t, defaultSlowInterval, p.currentSlowInterval())

	info, _, _ = repo.HostInfo.Get(p.hostname)
	require.Equal(t, 0, info.ErrorCount)
}
