package task

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
)

func newTestEngine(t *testing.T, handlers map[string]Handler) (*Engine, *store.Repo) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.bdb"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo, err := store.NewRepo(s)
	require.NoError(t, err)

	return NewEngine(repo, handlers, 4), repo
}

// TestDependencyCancellation: task B depends on task A; A fails; the
// next tick cancels B with error="dependency failed" and never invokes
// B's handler.
func TestDependencyCancellation(t *testing.T) {
	bRan := false

	handlers := map[string]Handler{
		"stop":  func(ctx context.Context, tt store.Task) HandlerResult { return HandlerResult{Success: false, Error: "boom"} },
		"start": func(ctx context.Context, tt store.Task) HandlerResult { bRan = true; return HandlerResult{Success: true} },
	}

	e, repo := newTestEngine(t, handlers)

	aID, _, err := e.Enqueue("z", "stop", "tester", store.PriorityMedium, "", "")
	require.NoError(t, err)

	bID, _, err := e.Enqueue("z", "start", "tester", store.PriorityMedium, aID, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Start(ctx)
	defer e.Stop()

	require.Eventually(t, func() bool {
		a, _, _ := repo.Tasks.Get(aID)
		return a.Status == store.TaskFailed
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		b, _, _ := repo.Tasks.Get(bID)
		return b.Status == store.TaskCancelled && b.Error == "dependency failed"
	}, 2*time.Second, 10*time.Millisecond)

	require.False(t, bRan)
}

// TestZoneExclusion: no two tasks for the same zone run at once.
func TestZoneExclusion(t *testing.T) {
	release := make(chan struct{})

	blocking := func(ctx context.Context, tt store.Task) HandlerResult {
		<-release
		return HandlerResult{Success: true}
	}
	handlers := map[string]Handler{"stop": blocking, "start": blocking}

	e, _ := newTestEngine(t, handlers)

	_, _, err := e.Enqueue("z1", "stop", "tester", store.PriorityMedium, "", "")
	require.NoError(t, err)
	_, _, err = e.Enqueue("z1", "start", "tester", store.PriorityMedium, "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer func() {
		close(release)
		e.Stop()
	}()

	time.Sleep(700 * time.Millisecond)

	all, err := e.repo.Tasks.FindAllWhere(func(x store.Task) bool { return x.Status == store.TaskRunning }, nil)
	require.NoError(t, err)
	require.LessOrEqual(t, len(all), 1, "at most one task per zone may be running concurrently")
}

// TestAlreadyQueuedIsSuccess: re-enqueueing an identical operation
// returns the existing task id rather than a duplicate.
func TestAlreadyQueuedIsSuccess(t *testing.T) {
	e, _ := newTestEngine(t, map[string]Handler{"op": func(ctx context.Context, tt store.Task) HandlerResult { return HandlerResult{Success: true} }})

	id1, already1, err := e.Enqueue("z1", "op", "tester", store.PriorityMedium, "", "")
	require.NoError(t, err)
	require.False(t, already1)

	id2, already2, err := e.Enqueue("z1", "op", "tester", store.PriorityMedium, "", "")
	require.NoError(t, err)
	require.True(t, already2)
	require.Equal(t, id1, id2)
}

// TestSystemResourceClassExclusion: system tasks sharing a resource
// class serialize; distinct classes run concurrently.
func TestSystemResourceClassExclusion(t *testing.T) {
	release := make(chan struct{})

	blocking := func(ctx context.Context, tt store.Task) HandlerResult {
		<-release
		return HandlerResult{Success: true}
	}
	handlers := map[string]Handler{
		"zpool_scrub":  blocking,
		"zpool_export": blocking,
		"nat_create":   blocking,
	}

	e, repo := newTestEngine(t, handlers)

	_, _, err := e.Enqueue("system", "zpool_scrub", "tester", store.PriorityMedium, "", "")
	require.NoError(t, err)
	_, _, err = e.Enqueue("system", "zpool_export", "tester", store.PriorityMedium, "", "")
	require.NoError(t, err)
	_, _, err = e.Enqueue("system", "nat_create", "tester", store.PriorityMedium, "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer func() {
		close(release)
		e.Stop()
	}()

	require.Eventually(t, func() bool {
		running, err := repo.Tasks.FindAllWhere(func(x store.Task) bool { return x.Status == store.TaskRunning }, nil)
		return err == nil && len(running) == 2
	}, 2*time.Second, 20*time.Millisecond)

	// The two running tasks must be in different resource classes; the
	// second zpool_* task stays pending behind the first.
	running, err := repo.Tasks.FindAllWhere(func(x store.Task) bool { return x.Status == store.TaskRunning }, nil)
	require.NoError(t, err)
	classes := map[string]int{}
	for _, r := range running {
		classes[ResourceClass(r.Operation)]++
	}
	for class, n := range classes {
		require.Equal(t, 1, n, "resource class %s over-subscribed", class)
	}
}

// TestRetryableHandlerReentersPending: a failed handler that declares
// itself retryable re-enters pending until retries_left is exhausted.
func TestRetryableHandlerReentersPending(t *testing.T) {
	var attempts atomic.Int32

	handlers := map[string]Handler{
		"discover": func(ctx context.Context, tt store.Task) HandlerResult {
			if attempts.Add(1) < 3 {
				return HandlerResult{Success: false, Error: "transient", Retryable: true}
			}
			return HandlerResult{Success: true}
		},
	}

	e, repo := newTestEngine(t, handlers)
	e.SetMaxRetries("discover", 5)

	id, _, err := e.Enqueue("system", "discover", "tester", store.PriorityMedium, "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	require.Eventually(t, func() bool {
		got, _, _ := repo.Tasks.Get(id)
		return got.Status == store.TaskCompleted
	}, 5*time.Second, 20*time.Millisecond)

	require.Equal(t, int32(3), attempts.Load())

	got, _, _ := repo.Tasks.Get(id)
	require.Equal(t, 3, got.RetriesLeft)
}

// TestCancelPendingOnly: only pending tasks can be cancelled directly.
func TestCancelPendingOnly(t *testing.T) {
	e, repo := newTestEngine(t, map[string]Handler{})

	id, _, err := e.Enqueue("z1", "stop", "tester", store.PriorityMedium, "", "")
	require.NoError(t, err)

	require.NoError(t, e.Cancel(id))

	got, _, _ := repo.Tasks.Get(id)
	require.Equal(t, store.TaskCancelled, got.Status)
	require.NotNil(t, got.FinishedAt)

	require.Error(t, e.Cancel(id))
	require.Error(t, e.Cancel("no-such-task"))
}

// TestPriorityOrdering: with a single worker, a CRITICAL task enqueued
// after a LOW task still runs first.
func TestPriorityOrdering(t *testing.T) {
	var order []string
	var mu = make(chan struct{}, 1)

	record := func(name string) Handler {
		return func(ctx context.Context, tt store.Task) HandlerResult {
			mu <- struct{}{}
			order = append(order, name)
			<-mu
			return HandlerResult{Success: true}
		}
	}

	handlers := map[string]Handler{"low_op": record("low"), "crit_op": record("crit")}

	s, err := store.Open(filepath.Join(t.TempDir(), "test.bdb"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	repo, err := store.NewRepo(s)
	require.NoError(t, err)
	e := NewEngine(repo, handlers, 1)

	_, _, err = e.Enqueue("z1", "low_op", "tester", store.PriorityLow, "", "")
	require.NoError(t, err)
	_, _, err = e.Enqueue("z2", "crit_op", "tester", store.PriorityCritical, "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	require.Eventually(t, func() bool {
		mu <- struct{}{}
		n := len(order)
		<-mu
		return n == 2
	}, 3*time.Second, 20*time.Millisecond)

	require.Equal(t, []string{"crit", "low"}, order)
}
