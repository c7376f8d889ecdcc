// Package scheduler orders a job's tasks so that every task is
// dispatched only after its declared dependencies have reached a
// terminal result, breaking ties among ready tasks by priority.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/batchcore/batchcore/internal/task"
)

// Validation errors for a job's dependency graph.
var (
	ErrUnknownDependency = errors.New("task depends on an unknown task")
	ErrSelfDependency    = errors.New("task depends on itself")
	ErrCyclicDependency  = errors.New("cyclic dependency between tasks")
)

// Scheduler selects ready tasks for a single job. It holds no
// per-job state; callers pass the current pending/terminal sets.
type Scheduler struct {
	logger *slog.Logger
}

// New creates a Scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Validate checks a job's dependency graph: every dependency must
// reference a task in the same job, no task may depend on itself, and
// the graph must be acyclic. Cycle detection is Kahn's algorithm; any
// node left with unresolved in-degree after the peel is on a cycle.
func Validate(tasks []task.Task) error {
	byID := make(map[uuid.UUID]task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	indegree := make(map[uuid.UUID]int, len(tasks))
	dependents := make(map[uuid.UUID][]uuid.UUID)
	for _, t := range tasks {
		indegree[t.ID] = len(t.Dependencies)
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return fmt.Errorf("%w: %s", ErrSelfDependency, t.ID)
			}
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, t.ID, dep)
			}
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	queue := make([]uuid.UUID, 0, len(tasks))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	resolved := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		resolved++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if resolved != len(tasks) {
		return fmt.Errorf("%w: %d task(s) unreachable", ErrCyclicDependency, len(tasks)-resolved)
	}
	return nil
}

// Ready returns the pending tasks whose dependencies have all reached
// a terminal result, ordered by descending priority. Task ID is the
// secondary key so the order is deterministic.
func (s *Scheduler) Ready(pending map[uuid.UUID]task.Task, terminal map[uuid.UUID]struct{}) []task.Task {
	var ready []task.Task
	for _, t := range pending {
		eligible := true
		for _, dep := range t.Dependencies {
			if _, done := terminal[dep]; !done {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, t)
		}
	}

	sortByPriority(ready)
	return ready
}

// ReleaseAll is the non-deadlocking fallback: when no pending task is
// ready and nothing is running, every remaining task is treated as
// ready and ordered by priority alone. Validation at job creation
// should make this unreachable; it exists so a stuck graph degrades
// into out-of-order execution instead of a hang.
func (s *Scheduler) ReleaseAll(pending map[uuid.UUID]task.Task) []task.Task {
	released := make([]task.Task, 0, len(pending))
	for _, t := range pending {
		released = append(released, t)
	}
	sortByPriority(released)

	s.logger.Warn("scheduling anomaly: no task is ready, releasing remaining tasks by priority",
		"remaining", len(released))
	return released
}

func sortByPriority(tasks []task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].ID.String() < tasks[j].ID.String()
	})
}
