package job

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchcore/batchcore/internal/breaker"
	"github.com/batchcore/batchcore/internal/retry"
	"github.com/batchcore/batchcore/internal/scheduler"
	"github.com/batchcore/batchcore/internal/task"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEngine bundles a coordinator with its registry for tests.
type testEngine struct {
	registry    *task.Registry
	coordinator *Coordinator
}

func newTestEngine() *testEngine {
	logger := quietLogger()
	registry := task.NewRegistry(breaker.DefaultSettings())
	policy := retry.NewPolicy(retry.Config{Strategy: retry.StrategyImmediate}, rand.New(rand.NewSource(1)))
	executor := task.NewExecutor(registry, policy, logger)
	coordinator := NewCoordinator(registry, executor, scheduler.New(logger), DefaultConfig(), logger)
	return &testEngine{registry: registry, coordinator: coordinator}
}

func (e *testEngine) register(taskType string, h task.Handler) {
	e.registry.Register(taskType, h)
}

func noopHandler(ctx context.Context, payload json.RawMessage) (any, error) {
	return nil, nil
}

func simpleTask(taskType string) task.Task {
	return task.Task{ID: uuid.New(), Type: taskType}
}

func TestCreateJob_Validation(t *testing.T) {
	e := newTestEngine()
	e.register("ok", noopHandler)

	t.Run("rejects empty task set", func(t *testing.T) {
		_, err := e.coordinator.CreateJob("empty", nil, 1)
		assert.ErrorIs(t, err, ErrInvalidJob)
		assert.ErrorIs(t, err, ErrNoTasks)
	})

	t.Run("rejects unregistered handler type", func(t *testing.T) {
		_, err := e.coordinator.CreateJob("bad-type", []task.Task{simpleTask("nope")}, 1)
		assert.ErrorIs(t, err, ErrInvalidJob)
		assert.ErrorIs(t, err, task.ErrHandlerNotFound)
	})

	t.Run("rejects missing dependency", func(t *testing.T) {
		tk := simpleTask("ok")
		tk.Dependencies = []uuid.UUID{uuid.New()}
		_, err := e.coordinator.CreateJob("dangling", []task.Task{tk}, 1)
		assert.ErrorIs(t, err, scheduler.ErrUnknownDependency)
	})

	t.Run("rejects cyclic dependencies", func(t *testing.T) {
		a := simpleTask("ok")
		b := simpleTask("ok")
		a.Dependencies = []uuid.UUID{b.ID}
		b.Dependencies = []uuid.UUID{a.ID}
		_, err := e.coordinator.CreateJob("cycle", []task.Task{a, b}, 1)
		assert.ErrorIs(t, err, scheduler.ErrCyclicDependency)
	})

	t.Run("accepts a valid graph", func(t *testing.T) {
		a := simpleTask("ok")
		b := simpleTask("ok")
		b.Dependencies = []uuid.UUID{a.ID}
		id, err := e.coordinator.CreateJob("valid", []task.Task{a, b}, 2)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, id)
	})
}

func TestRunJob_AllTasksComplete(t *testing.T) {
	e := newTestEngine()
	e.register("ok", noopHandler)

	tasks := []task.Task{simpleTask("ok"), simpleTask("ok"), simpleTask("ok")}
	id, err := e.coordinator.CreateJob("happy", tasks, 2)
	require.NoError(t, err)

	summary, err := e.coordinator.RunJob(context.Background(), id, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.TotalTasks)
	assert.Equal(t, 3, summary.CompletedTasks)
	assert.Equal(t, 0, summary.FailedTasks)
	assert.Equal(t, 1.0, summary.SuccessRate)
	assert.Len(t, summary.TaskResults, 3)
}

func TestRunJob_RunTwiceFails(t *testing.T) {
	e := newTestEngine()
	e.register("ok", noopHandler)

	id, err := e.coordinator.CreateJob("once", []task.Task{simpleTask("ok")}, 1)
	require.NoError(t, err)

	_, err = e.coordinator.RunJob(context.Background(), id, nil)
	require.NoError(t, err)

	_, err = e.coordinator.RunJob(context.Background(), id, nil)
	assert.ErrorIs(t, err, ErrNotRunnable)
}

func TestRunJob_UnknownJob(t *testing.T) {
	e := newTestEngine()
	_, err := e.coordinator.RunJob(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRunJob_PartialCompletion(t *testing.T) {
	// 5 tasks, 2 permanently failing: partially_completed, 3/2, 0.6.
	e := newTestEngine()
	e.register("ok", noopHandler)
	e.register("doomed", func(ctx context.Context, payload json.RawMessage) (any, error) {
		return nil, errors.New("always fails")
	})

	tasks := []task.Task{
		simpleTask("ok"), simpleTask("ok"), simpleTask("ok"),
		simpleTask("doomed"), simpleTask("doomed"),
	}
	tasks[3].MaxRetries = 1
	tasks[4].MaxRetries = 1

	id, err := e.coordinator.CreateJob("partial", tasks, 3)
	require.NoError(t, err)

	summary, err := e.coordinator.RunJob(context.Background(), id, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusPartiallyCompleted, summary.Status)
	assert.Equal(t, 3, summary.CompletedTasks)
	assert.Equal(t, 2, summary.FailedTasks)
	assert.InDelta(t, 0.6, summary.SuccessRate, 1e-9)
}

func TestRunJob_AllFailed(t *testing.T) {
	e := newTestEngine()
	e.register("doomed", func(ctx context.Context, payload json.RawMessage) (any, error) {
		return nil, errors.New("always fails")
	})

	id, err := e.coordinator.CreateJob("hopeless", []task.Task{simpleTask("doomed"), simpleTask("doomed")}, 2)
	require.NoError(t, err)

	summary, err := e.coordinator.RunJob(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, summary.Status)
	assert.Equal(t, 0, summary.CompletedTasks)
	assert.Equal(t, 2, summary.FailedTasks)
}

func TestRunJob_DependencyOrdering(t *testing.T) {
	e := newTestEngine()

	var mu sync.Mutex
	started := make(map[uuid.UUID]time.Time)
	finished := make(map[uuid.UUID]time.Time)

	e.register("trace", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var id uuid.UUID
		if err := json.Unmarshal(payload, &id); err != nil {
			return nil, err
		}
		mu.Lock()
		started[id] = time.Now()
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		finished[id] = time.Now()
		mu.Unlock()
		return nil, nil
	})

	withPayload := func(deps ...uuid.UUID) task.Task {
		tk := simpleTask("trace")
		raw, _ := json.Marshal(tk.ID)
		tk.Payload = raw
		tk.Dependencies = deps
		return tk
	}

	root := withPayload()
	mid := withPayload(root.ID)
	leafA := withPayload(mid.ID)
	leafB := withPayload(mid.ID)

	id, err := e.coordinator.CreateJob("ordered", []task.Task{leafB, leafA, mid, root}, 4)
	require.NoError(t, err)

	summary, err := e.coordinator.RunJob(context.Background(), id, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, summary.Status)

	// Every task starts only after all of its dependencies finished.
	assert.True(t, started[mid.ID].After(finished[root.ID]))
	assert.True(t, started[leafA.ID].After(finished[mid.ID]))
	assert.True(t, started[leafB.ID].After(finished[mid.ID]))
}

func TestRunJob_FailedDependencyStillRunsDependent(t *testing.T) {
	e := newTestEngine()
	e.register("doomed", func(ctx context.Context, payload json.RawMessage) (any, error) {
		return nil, errors.New("nope")
	})
	var dependentRan atomic.Bool
	e.register("after", func(ctx context.Context, payload json.RawMessage) (any, error) {
		dependentRan.Store(true)
		return nil, nil
	})

	parent := simpleTask("doomed")
	child := simpleTask("after")
	child.Dependencies = []uuid.UUID{parent.ID}

	id, err := e.coordinator.CreateJob("degrade", []task.Task{parent, child}, 2)
	require.NoError(t, err)

	summary, err := e.coordinator.RunJob(context.Background(), id, nil)
	require.NoError(t, err)

	assert.True(t, dependentRan.Load())
	assert.Equal(t, StatusPartiallyCompleted, summary.Status)
}

func TestRunJob_ConcurrencyBound(t *testing.T) {
	// 10 independent 100ms tasks under a bound of 3: never more than 3
	// running at once, wall clock at least ceil(10/3)*100ms.
	e := newTestEngine()

	var running, peak atomic.Int32
	e.register("sleepy", func(ctx context.Context, payload json.RawMessage) (any, error) {
		now := running.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	})

	tasks := make([]task.Task, 10)
	for i := range tasks {
		tasks[i] = simpleTask("sleepy")
	}

	id, err := e.coordinator.CreateJob("bounded", tasks, 3)
	require.NoError(t, err)

	start := time.Now()
	summary, err := e.coordinator.RunJob(context.Background(), id, nil)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, summary.Status)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
}

func TestRunJob_PriorityOrderUnderSerialExecution(t *testing.T) {
	e := newTestEngine()

	var mu sync.Mutex
	var order []string
	e.register("record", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var name string
		if err := json.Unmarshal(payload, &name); err != nil {
			return nil, err
		}
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		return nil, nil
	})

	named := func(name string, priority int) task.Task {
		tk := simpleTask("record")
		raw, _ := json.Marshal(name)
		tk.Payload = raw
		tk.Priority = priority
		return tk
	}

	tasks := []task.Task{named("low", 1), named("high", 10), named("mid", 5)}
	id, err := e.coordinator.CreateJob("prioritized", tasks, 1)
	require.NoError(t, err)

	_, err = e.coordinator.RunJob(context.Background(), id, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestRunJob_ProgressCallbacks(t *testing.T) {
	e := newTestEngine()
	e.register("ok", noopHandler)

	tasks := []task.Task{simpleTask("ok"), simpleTask("ok"), simpleTask("ok"), simpleTask("ok")}
	id, err := e.coordinator.CreateJob("observed", tasks, 1)
	require.NoError(t, err)

	var mu sync.Mutex
	var fractions []float64
	_, err = e.coordinator.RunJob(context.Background(), id, func(jobID uuid.UUID, progress float64, completed, failed int) {
		assert.Equal(t, id, jobID)
		mu.Lock()
		fractions = append(fractions, progress)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Len(t, fractions, 4)
	assert.Equal(t, []float64{0.25, 0.5, 0.75, 1.0}, fractions)
}

func TestCancelJob_SkipsUndispatchedTasks(t *testing.T) {
	e := newTestEngine()

	release := make(chan struct{})
	var handlerCalls atomic.Int32
	e.register("gated", func(ctx context.Context, payload json.RawMessage) (any, error) {
		handlerCalls.Add(1)
		<-release
		return nil, nil
	})

	tasks := make([]task.Task, 5)
	for i := range tasks {
		tasks[i] = simpleTask("gated")
	}

	id, err := e.coordinator.CreateJob("cancelme", tasks, 2)
	require.NoError(t, err)

	done := make(chan Summary, 1)
	go func() {
		summary, runErr := e.coordinator.RunJob(context.Background(), id, nil)
		require.NoError(t, runErr)
		done <- summary
	}()

	// Wait until exactly two tasks hold slots and are executing.
	require.Eventually(t, func() bool {
		return handlerCalls.Load() == 2
	}, time.Second, 5*time.Millisecond)

	require.True(t, e.coordinator.CancelJob(id))
	close(release)

	summary := <-done
	assert.Equal(t, StatusCancelled, summary.Status)
	assert.Equal(t, int32(2), handlerCalls.Load())

	// The two in-flight tasks ran to terminal results.
	assert.Equal(t, 2, summary.CompletedTasks)

	var skipped int
	for _, res := range summary.TaskResults {
		if res.Status == task.StatusSkipped {
			skipped++
		}
	}
	assert.Equal(t, 3, skipped)
}

func TestCancelJob_UnknownOrTerminal(t *testing.T) {
	e := newTestEngine()
	e.register("ok", noopHandler)

	assert.False(t, e.coordinator.CancelJob(uuid.New()))

	id, err := e.coordinator.CreateJob("done", []task.Task{simpleTask("ok")}, 1)
	require.NoError(t, err)
	_, err = e.coordinator.RunJob(context.Background(), id, nil)
	require.NoError(t, err)

	assert.False(t, e.coordinator.CancelJob(id))
}

func TestGetJobStatus(t *testing.T) {
	e := newTestEngine()
	e.register("ok", noopHandler)

	id, err := e.coordinator.CreateJob("introspect", []task.Task{simpleTask("ok"), simpleTask("ok")}, 1)
	require.NoError(t, err)

	info, err := e.coordinator.GetJobStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, info.Status)
	assert.Equal(t, 0.0, info.Progress)

	_, err = e.coordinator.RunJob(context.Background(), id, nil)
	require.NoError(t, err)

	info, err = e.coordinator.GetJobStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, info.Status)
	assert.Equal(t, 1.0, info.Progress)

	_, err = e.coordinator.GetJobStatus(uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCleanupCompletedJobs(t *testing.T) {
	e := newTestEngine()
	e.register("ok", noopHandler)

	finishedID, err := e.coordinator.CreateJob("old", []task.Task{simpleTask("ok")}, 1)
	require.NoError(t, err)
	_, err = e.coordinator.RunJob(context.Background(), finishedID, nil)
	require.NoError(t, err)

	pendingID, err := e.coordinator.CreateJob("fresh", []task.Task{simpleTask("ok")}, 1)
	require.NoError(t, err)

	// Nothing is old enough yet.
	assert.Equal(t, 0, e.coordinator.CleanupCompletedJobs(time.Hour))

	// With a zero max age every terminal job is eligible; the pending
	// job must survive.
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, e.coordinator.CleanupCompletedJobs(0))

	_, err = e.coordinator.GetJobStatus(finishedID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = e.coordinator.GetJobStatus(pendingID)
	assert.NoError(t, err)
}

func TestRunJob_RetriesBoundedPerTask(t *testing.T) {
	e := newTestEngine()

	var calls atomic.Int32
	e.register("flaky", func(ctx context.Context, payload json.RawMessage) (any, error) {
		calls.Add(1)
		return nil, errors.New("transient")
	})

	tk := simpleTask("flaky")
	tk.MaxRetries = 2

	id, err := e.coordinator.CreateJob("bounded-retries", []task.Task{tk}, 1)
	require.NoError(t, err)

	summary, err := e.coordinator.RunJob(context.Background(), id, nil)
	require.NoError(t, err)

	require.Len(t, summary.TaskResults, 1)
	res := summary.TaskResults[0]
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.LessOrEqual(t, res.Retries, 2)
	assert.Equal(t, int32(3), calls.Load())
}
