package retry

import (
	"sync"
	"time"
)

// Attempt is one entry in the append-only attempt log for a handler
// type.
type Attempt struct {
	Timestamp time.Time
	Success   bool
	Duration  time.Duration
	Error     string
}

// MetricsSnapshot is an aggregate view over the recorded attempts of
// one handler type.
type MetricsSnapshot struct {
	TotalAttempts  int           `json:"total_attempts"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency"`
}

// Recorder accumulates attempt outcomes for a single handler type.
// It is shared by every concurrently-executing task of that type, so
// all access goes through an internal mutex.
type Recorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one attempt outcome to the log.
func (r *Recorder) Record(success bool, duration time.Duration, err error) {
	a := Attempt{
		Timestamp: time.Now(),
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		a.Error = err.Error()
	}

	r.mu.Lock()
	r.attempts = append(r.attempts, a)
	r.mu.Unlock()
}

// Snapshot computes the aggregate metrics over all recorded attempts.
// An empty log yields a zero snapshot.
func (r *Recorder) Snapshot() MetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(r.attempts)
	if total == 0 {
		return MetricsSnapshot{}
	}

	var successes int
	var elapsed time.Duration
	for _, a := range r.attempts {
		if a.Success {
			successes++
		}
		elapsed += a.Duration
	}

	return MetricsSnapshot{
		TotalAttempts:  total,
		SuccessRate:    float64(successes) / float64(total),
		AverageLatency: elapsed / time.Duration(total),
	}
}

// Reset discards all recorded attempts. Metrics only shrink on an
// explicit reset, never on job completion.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.attempts = nil
	r.mu.Unlock()
}
