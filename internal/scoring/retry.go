package scoring

import (
	"context"
	"sync"
	"time"

	"planwise/internal/logging"
)

const maxRetryAttempts = 3

var retryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// JobStatus is one job's externally visible retry state.
type JobStatus struct {
	Status        string    `json:"status"` // queued, retrying, failed, succeeded
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
}

// Diagnostics is the queue-level gauge snapshot.
type Diagnostics struct {
	QueueDepth int `json:"queue_depth"`
	InFlight   int `json:"in_flight"`
}

// RetryQueue re-runs failed score estimations with 1s/2s/4s backoff, at most
// three attempts per job. Test mode zeroes the delays; it is an explicit
// constructor argument, never inferred from the environment.
type RetryQueue struct {
	plog     *logging.ProcessingLogger
	testMode bool
	now      func() time.Time

	mu   sync.Mutex
	jobs map[string]map[string]*JobStatus // session id -> task id
	wg   sync.WaitGroup
	gen  int // bumped by Reset so stale workers stop writing
}

func NewRetryQueue(plog *logging.ProcessingLogger, testMode bool) *RetryQueue {
	return &RetryQueue{
		plog:     plog,
		testMode: testMode,
		now:      time.Now,
		jobs:     map[string]map[string]*JobStatus{},
	}
}

// Enqueue schedules retries for one task's estimation. attempt runs up to
// three times with backoff; the first success stops the job. onFailure fires
// only after exhaustion.
func (q *RetryQueue) Enqueue(ctx context.Context, sessionID, taskID string, attempt func(ctx context.Context) error, onSuccess func(), onFailure func(err error)) {
	q.mu.Lock()
	gen := q.gen
	if q.jobs[sessionID] == nil {
		q.jobs[sessionID] = map[string]*JobStatus{}
	}
	st := &JobStatus{Status: "queued", NextAttemptAt: q.now().Add(q.delay(0))}
	q.jobs[sessionID][taskID] = st
	q.wg.Add(1)
	q.mu.Unlock()

	go q.work(ctx, gen, sessionID, taskID, st, attempt, onSuccess, onFailure)
}

func (q *RetryQueue) work(ctx context.Context, gen int, sessionID, taskID string, st *JobStatus, attempt func(ctx context.Context) error, onSuccess func(), onFailure func(err error)) {
	defer q.wg.Done()

	var lastErr error
	for n := 1; n <= maxRetryAttempts; n++ {
		if !q.sleep(ctx, q.delay(n-1)) {
			q.setStatus(gen, sessionID, taskID, func(s *JobStatus) {
				s.Status = "failed"
				s.LastError = "cancelled"
			})
			return
		}
		q.setStatus(gen, sessionID, taskID, func(s *JobStatus) {
			s.Status = "retrying"
			s.Attempts = n
		})

		lastErr = attempt(ctx)
		if lastErr == nil {
			q.setStatus(gen, sessionID, taskID, func(s *JobStatus) {
				s.Status = "succeeded"
				s.LastError = ""
			})
			if onSuccess != nil {
				onSuccess()
			}
			return
		}

		q.setStatus(gen, sessionID, taskID, func(s *JobStatus) {
			s.LastError = lastErr.Error()
			if n < maxRetryAttempts {
				s.NextAttemptAt = q.now().Add(q.delay(n))
			}
		})
		q.plog.Log("strategic_score_retry", "retry", map[string]interface{}{
			"session_id": sessionID,
			"task_id":    taskID,
			"attempts":   n,
			"last_error": lastErr.Error(),
		})
	}

	q.setStatus(gen, sessionID, taskID, func(s *JobStatus) { s.Status = "failed" })
	q.plog.Log("strategic_score_retry", "retry_exhausted", map[string]interface{}{
		"session_id": sessionID,
		"task_id":    taskID,
		"attempts":   maxRetryAttempts,
		"last_error": lastErr.Error(),
	})
	if onFailure != nil {
		onFailure(lastErr)
	}
}

func (q *RetryQueue) delay(i int) time.Duration {
	if q.testMode || i >= len(retryDelays) {
		return 0
	}
	return retryDelays[i]
}

// sleep waits for d or until ctx is done; false means cancelled.
func (q *RetryQueue) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *RetryQueue) setStatus(gen int, sessionID, taskID string, mutate func(*JobStatus)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return
	}
	if st, ok := q.jobs[sessionID][taskID]; ok {
		mutate(st)
	}
}

// GetStatusSnapshot copies the retry state for one session.
func (q *RetryQueue) GetStatusSnapshot(sessionID string) map[string]JobStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]JobStatus, len(q.jobs[sessionID]))
	for taskID, st := range q.jobs[sessionID] {
		out[taskID] = *st
	}
	return out
}

// GetDiagnostics reports queue gauges.
func (q *RetryQueue) GetDiagnostics() Diagnostics {
	q.mu.Lock()
	defer q.mu.Unlock()
	var d Diagnostics
	for _, session := range q.jobs {
		for _, st := range session {
			switch st.Status {
			case "queued":
				d.QueueDepth++
			case "retrying":
				d.InFlight++
			}
		}
	}
	return d
}

// Reset drops all state; in-flight workers become no-ops. Tests only.
func (q *RetryQueue) Reset() {
	q.mu.Lock()
	q.gen++
	q.jobs = map[string]map[string]*JobStatus{}
	q.mu.Unlock()
}

// WaitIdle blocks until every enqueued job finishes. Tests only.
func (q *RetryQueue) WaitIdle() {
	q.wg.Wait()
}
