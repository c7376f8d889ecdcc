package task

import (
	"errors"
	"fmt"
	"sync"

	"github.com/batchcore/batchcore/internal/breaker"
	"github.com/batchcore/batchcore/internal/retry"
)

// ErrHandlerNotFound is returned when a task type has no registered
// handler. This is a configuration error, never retried.
var ErrHandlerNotFound = errors.New("no handler registered for task type")

// registration bundles the process-wide shared state for one handler
// type: the handler itself, its circuit breaker, and its attempt
// metrics. The breaker and metrics outlive individual jobs.
type registration struct {
	handler Handler
	breaker *breaker.Breaker
	metrics *retry.Recorder
}

// Registry maps task types to handlers and owns one circuit breaker
// and one metrics recorder per type. It is the explicit home for what
// would otherwise be ambient global state, and is passed to the job
// coordinator at construction.
type Registry struct {
	mu              sync.RWMutex
	handlers        map[string]*registration
	breakerDefaults breaker.Settings
}

// NewRegistry creates an empty Registry whose breakers use the given
// default settings.
func NewRegistry(breakerDefaults breaker.Settings) *Registry {
	return &Registry{
		handlers:        make(map[string]*registration),
		breakerDefaults: breakerDefaults,
	}
}

// Register binds a handler to a task type using the registry's default
// breaker settings. Registering the same type twice replaces the
// handler but keeps the existing breaker and metrics, so accumulated
// failure state survives handler swaps.
func (r *Registry) Register(taskType string, h Handler) {
	r.RegisterWithBreaker(taskType, h, r.breakerDefaults)
}

// RegisterWithBreaker binds a handler with explicit breaker settings
// for its type.
func (r *Registry) RegisterWithBreaker(taskType string, h Handler, settings breaker.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handlers[taskType]; ok {
		existing.handler = h
		return
	}
	r.handlers[taskType] = &registration{
		handler: h,
		breaker: breaker.New(settings),
		metrics: retry.NewRecorder(),
	}
}

// Registered reports whether a handler exists for the task type.
func (r *Registry) Registered(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[taskType]
	return ok
}

// lookup returns the registration for a task type.
func (r *Registry) lookup(taskType string) (*registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.handlers[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotFound, taskType)
	}
	return reg, nil
}

// CircuitStatus returns the breaker status for a task type.
func (r *Registry) CircuitStatus(taskType string) (breaker.Status, error) {
	reg, err := r.lookup(taskType)
	if err != nil {
		return breaker.Status{}, err
	}
	return reg.breaker.Status(), nil
}

// Metrics returns the aggregated retry metrics for a task type.
func (r *Registry) Metrics(taskType string) (retry.MetricsSnapshot, error) {
	reg, err := r.lookup(taskType)
	if err != nil {
		return retry.MetricsSnapshot{}, err
	}
	return reg.metrics.Snapshot(), nil
}

// ResetMetrics clears the attempt log for a task type. Metrics are
// never reset implicitly.
func (r *Registry) ResetMetrics(taskType string) error {
	reg, err := r.lookup(taskType)
	if err != nil {
		return err
	}
	reg.metrics.Reset()
	return nil
}
