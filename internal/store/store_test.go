package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.bdb")
	s, err := Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestTableCreateConflict(t *testing.T) {
	s := openTestStore(t)
	tasks, err := Table[Task](s, "tasks")
	require.NoError(t, err)

	task := Task{ID: "t1", ZoneName: "zone1", Status: TaskPending}
	require.NoError(t, tasks.Create("t1", task))
	require.ErrorIs(t, tasks.Create("t1", task), ErrConflict)

	got, ok, err := tasks.Get("t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "zone1", got.ZoneName)
}

func TestTableFindAllWhereOrderingAndLimit(t *testing.T) {
	s := openTestStore(t)
	tasks, err := Table[Task](s, "tasks")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, tasks.Create("a", Task{ID: "a", Priority: PriorityLow, CreatedAt: now}))
	require.NoError(t, tasks.Create("b", Task{ID: "b", Priority: PriorityCritical, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, tasks.Create("c", Task{ID: "c", Priority: PriorityHigh, CreatedAt: now.Add(2 * time.Second)}))

	out, err := tasks.FindAllWhere(nil, &QueryOptions[Task]{
		Less: func(a, b Task) bool { return a.Priority > b.Priority },
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "b", out[0].ID)
	require.Equal(t, "c", out[1].ID)
	require.Equal(t, "a", out[2].ID)

	limited, err := tasks.FindAllWhere(nil, &QueryOptions[Task]{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestTableBulkUpsertAndDestroyWhere(t *testing.T) {
	s := openTestStore(t)
	disks, err := Table[DiskRecord](s, "disks")
	require.NoError(t, err)

	batch := map[string]DiskRecord{
		"disk1": {Host: "h1", DeviceName: "c0t0d0"},
		"disk2": {Host: "h1", DeviceName: "c0t1d0"},
	}
	require.NoError(t, disks.BulkUpsert(batch))

	all, err := disks.All()
	require.NoError(t, err)
	require.Len(t, all, 2)

	n, err := disks.DestroyWhere(func(d DiskRecord) bool { return d.DeviceName == "c0t0d0" })
	require.NoError(t, err)
	require.Equal(t, 1, n)

	all, err = disks.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestTableUpdateWhere(t *testing.T) {
	s := openTestStore(t)
	tasks, err := Table[Task](s, "tasks")
	require.NoError(t, err)

	require.NoError(t, tasks.Create("t1", Task{ID: "t1", Status: TaskPending}))

	n, err := tasks.UpdateWhere(
		func(t Task) bool { return t.ID == "t1" },
		func(t Task) Task { t.Status = TaskRunning; return t },
	)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, _, _ := tasks.Get("t1")
	require.Equal(t, TaskRunning, got.Status)
}
