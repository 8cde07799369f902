// Package task implements the priority-ordered, dependency-aware work
// queue. It is the only component allowed to mutate zones, ZFS
// pools/datasets, and network configuration: every such side effect is
// preceded by a Task row transitioning pending->running and followed by
// running->{completed,failed}, so the queue doubles as the durable
// record of operator intent.
package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
)

// HandlerResult is what an operation handler returns; the engine derives
// the task's terminal status from it.
type HandlerResult struct {
	Success   bool
	Message   string
	Error     string
	Artifact  string
	Retryable bool
}

// Handler implements one operation code. Handlers must be idempotent
// against their own partial effects, since a crash between a side effect
// and the terminal status write can cause a handler to be invoked again
// for the same logical operation after a retry.
type Handler func(ctx context.Context, t store.Task) HandlerResult

// Engine schedules and executes tasks against the shared DB-backed queue.
type Engine struct {
	repo     *store.Repo
	handlers map[string]Handler

	workers    int
	sem        *semaphore.Weighted
	tickPeriod time.Duration
	maxRetries map[string]int // operation -> default max retries; 0 unless overridden

	schedMu sync.Mutex // serializes scheduling decisions (claim is CAS-like under this lock)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine builds a Task Engine with the given worker pool size.
func NewEngine(repo *store.Repo, handlers map[string]Handler, workers int) *Engine {
	if workers <= 0 {
		workers = 4
	}

	return &Engine{
		repo:       repo,
		handlers:   handlers,
		workers:    workers,
		sem:        semaphore.NewWeighted(int64(workers)),
		tickPeriod: 500 * time.Millisecond,
		maxRetries: map[string]int{},
	}
}

// Start runs the scheduler tick loop until ctx is cancelled or Stop is
// called.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.tickPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()
}

// Stop cancels the scheduler loop and waits for in-flight handlers to
// return control. It does not force-interrupt a running handler; a
// running task can only be interrupted cooperatively.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Enqueue creates a new pending Task. If an identical operation is
// already pending or running for the same zone, the existing task's id
// is returned instead of creating a duplicate: "already queued" is a
// success, not a conflict.
func (e *Engine) Enqueue(zoneName, operation, createdBy string, priority store.Priority, dependsOn, metadata string) (id string, alreadyQueued bool, err error) {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()

	existing, found, ferr := e.repo.Tasks.FindOneWhere(func(t store.Task) bool {
		return t.ZoneName == zoneName && t.Operation == operation &&
			(t.Status == store.TaskPending || t.Status == store.TaskRunning)
	})
	if ferr != nil {
		return "", false, ferr
	}
	if found {
		return existing.ID, true, nil
	}

	taskID, err := newID()
	if err != nil {
		return "", false, err
	}

	t := store.Task{
		ID:          taskID,
		ZoneName:    zoneName,
		Operation:   operation,
		Priority:    priority,
		Status:      store.TaskPending,
		DependsOn:   dependsOn,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now(),
		Metadata:    metadata,
		RetriesLeft: e.maxRetries[operation],
	}

	if err := e.repo.Tasks.Create(taskID, t); err != nil {
		return "", false, err
	}

	return taskID, false, nil
}

// Cancel flips a pending task to cancelled. Running tasks cannot be
// force-cancelled; handlers that need interruption observe deadlines
// passed via metadata.
func (e *Engine) Cancel(id string) error {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()

	t, ok, err := e.repo.Tasks.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if t.Status != store.TaskPending {
		return fmt.Errorf("task %s is %s, not pending", id, t.Status)
	}

	_, err = e.repo.Tasks.UpdateWhere(
		func(x store.Task) bool { return x.ID == id },
		func(x store.Task) store.Task {
			x.Status = store.TaskCancelled
			now := time.Now()
			x.FinishedAt = &now
			return x
		},
	)
	return err
}

// tick performs one scheduling pass: resolve dependency-failure
// cancellations, compute eligible tasks, enforce exclusion, and claim as
// many as the worker pool has room for.
func (e *Engine) tick(ctx context.Context) {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()

	all, err := e.repo.Tasks.FindAllWhere(nil, nil)
	if err != nil {
		minilog.Error("task engine: listing tasks: %v", err)
		return
	}

	byID := make(map[string]store.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	// Cancel any pending task whose dependency failed or was cancelled.
	for _, t := range all {
		if t.Status != store.TaskPending || t.DependsOn == "" {
			continue
		}
		dep, ok := byID[t.DependsOn]
		if !ok {
			continue
		}
		if dep.Status == store.TaskFailed || dep.Status == store.TaskCancelled {
			e.repo.Tasks.UpdateWhere(
				func(x store.Task) bool { return x.ID == t.ID },
				func(x store.Task) store.Task {
					x.Status = store.TaskCancelled
					x.Error = "dependency failed"
					now := time.Now()
					x.FinishedAt = &now
					return x
				},
			)
		}
	}

	// Recompute after cancellations so we don't dispatch anything we just
	// cancelled.
	all, err = e.repo.Tasks.FindAllWhere(nil, nil)
	if err != nil {
		minilog.Error("task engine: re-listing tasks: %v", err)
		return
	}
	byID = make(map[string]store.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	runningZones := map[string]bool{}
	runningClasses := map[string]bool{}
	for _, t := range all {
		if t.Status != store.TaskRunning {
			continue
		}
		if t.ZoneName == "system" {
			runningClasses[ResourceClass(t.Operation)] = true
		} else {
			runningZones[t.ZoneName] = true
		}
	}

	var eligible []store.Task
	for _, t := range all {
		if t.Status != store.TaskPending {
			continue
		}
		if t.DependsOn != "" {
			dep, ok := byID[t.DependsOn]
			if !ok || dep.Status != store.TaskCompleted {
				continue
			}
		}
		eligible = append(eligible, t)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	for _, t := range eligible {
		if t.ZoneName == "system" {
			if runningClasses[ResourceClass(t.Operation)] {
				continue
			}
		} else if runningZones[t.ZoneName] {
			continue
		}

		if !e.sem.TryAcquire(1) {
			break
		}

		claimed, err := e.claim(t.ID)
		if err != nil || !claimed {
			e.sem.Release(1)
			continue
		}

		if t.ZoneName == "system" {
			runningClasses[ResourceClass(t.Operation)] = true
		} else {
			runningZones[t.ZoneName] = true
		}

		e.wg.Add(1)
		go e.run(ctx, t)
	}
}

// claim performs the atomic pending->running transition, conditioned on
// the task still being pending (a CAS, since tick holds schedMu for the
// whole decision+claim window, nothing else can race it).
func (e *Engine) claim(id string) (bool, error) {
	n, err := e.repo.Tasks.UpdateWhere(
		func(x store.Task) bool { return x.ID == id && x.Status == store.TaskPending },
		func(x store.Task) store.Task {
			x.Status = store.TaskRunning
			now := time.Now()
			x.StartedAt = &now
			return x
		},
	)
	return n == 1, err
}

// run executes a claimed task's handler and writes the terminal status.
func (e *Engine) run(ctx context.Context, t store.Task) {
	defer e.wg.Done()
	defer e.sem.Release(1)

	handler, ok := e.handlers[t.Operation]
	if !ok {
		e.finish(t.ID, HandlerResult{Success: false, Error: fmt.Sprintf("no handler registered for operation %q", t.Operation)})
		return
	}

	result := e.invoke(ctx, handler, t)
	e.finish(t.ID, result)
}

// invoke calls the handler, recovering a panic into a failed result
// carrying the captured message.
func (e *Engine) invoke(ctx context.Context, handler Handler, t store.Task) (result HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			result = HandlerResult{Success: false, Error: fmt.Sprintf("handler panic: %v", r)}
		}
	}()

	return handler(ctx, t)
}

// finish writes the terminal status for a task, applying retry semantics
// when the handler declared itself retryable and retries remain.
func (e *Engine) finish(id string, result HandlerResult) {
	e.repo.Tasks.UpdateWhere(
		func(x store.Task) bool { return x.ID == id },
		func(x store.Task) store.Task {
			now := time.Now()

			if result.Success {
				x.Status = store.TaskCompleted
				x.FinishedAt = &now
				return x
			}

			x.Error = result.Error

			if result.Retryable && x.RetriesLeft > 0 {
				x.RetriesLeft--
				x.Status = store.TaskPending
				x.StartedAt = nil
				return x
			}

			x.Status = store.TaskFailed
			x.FinishedAt = &now
			return x
		},
	)
}

// SetMaxRetries configures the default retries-left for newly created
// tasks of the given operation. The default is 0: only operations known
// to be idempotent should opt in.
func (e *Engine) SetMaxRetries(operation string, n int) {
	e.maxRetries[operation] = n
}

func newID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
