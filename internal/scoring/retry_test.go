package scoring

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"planwise/internal/logging"
)

func retryHarness(t *testing.T) (*RetryQueue, *logging.ProcessingLogger) {
	t.Helper()
	dbConn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := dbConn.AutoMigrate(&logging.ProcessingLog{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	plog := logging.NewProcessingLogger(dbConn)
	return NewRetryQueue(plog, true), plog
}

func TestRetryQueue_ExhaustionLogsThreeRetriesThenExhausted(t *testing.T) {
	q, plog := retryHarness(t)

	attempts := 0
	var failedWith error
	q.Enqueue(context.Background(), "s1", "t1",
		func(ctx context.Context) error {
			attempts++
			return errors.New("rate limited")
		},
		nil,
		func(err error) { failedWith = err },
	)
	q.WaitIdle()

	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
	if failedWith == nil {
		t.Error("onFailure must fire after exhaustion")
	}

	logs, err := plog.Recent("strategic_score_retry", 10)
	if err != nil {
		t.Fatalf("reading logs: %v", err)
	}
	var retries, exhausted int
	for _, l := range logs {
		switch l.Status {
		case "retry":
			retries++
		case "retry_exhausted":
			exhausted++
		}
	}
	if retries != 3 || exhausted != 1 {
		t.Errorf("expected 3 retry + 1 retry_exhausted entries, got %d + %d", retries, exhausted)
	}

	snap := q.GetStatusSnapshot("s1")
	if st := snap["t1"]; st.Status != "failed" || st.Attempts != 3 {
		t.Errorf("final status should be failed/3, got %+v", st)
	}
}

func TestRetryQueue_SuccessStopsRetrying(t *testing.T) {
	q, _ := retryHarness(t)

	attempts := 0
	succeeded := false
	q.Enqueue(context.Background(), "s1", "t1",
		func(ctx context.Context) error {
			attempts++
			if attempts < 2 {
				return errors.New("transient")
			}
			return nil
		},
		func() { succeeded = true },
		nil,
	)
	q.WaitIdle()

	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if !succeeded {
		t.Error("onSuccess must fire")
	}
	if st := q.GetStatusSnapshot("s1")["t1"]; st.Status != "succeeded" {
		t.Errorf("expected succeeded, got %+v", st)
	}
}

func TestRetryQueue_CancellationStopsJob(t *testing.T) {
	q, _ := retryHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	q.Enqueue(ctx, "s1", "t1",
		func(ctx context.Context) error {
			ran = true
			return errors.New("should not run")
		},
		nil, nil,
	)
	q.WaitIdle()

	if ran {
		t.Error("attempt must not run on a cancelled context")
	}
	if st := q.GetStatusSnapshot("s1")["t1"]; st.Status != "failed" {
		t.Errorf("cancelled job should read failed, got %+v", st)
	}
}

func TestRetryQueue_ResetClearsState(t *testing.T) {
	q, _ := retryHarness(t)
	q.Enqueue(context.Background(), "s1", "t1",
		func(ctx context.Context) error { return nil }, nil, nil)
	q.WaitIdle()
	q.Reset()

	if len(q.GetStatusSnapshot("s1")) != 0 {
		t.Error("Reset must drop all job state")
	}
	d := q.GetDiagnostics()
	if d.QueueDepth != 0 || d.InFlight != 0 {
		t.Errorf("Reset must zero diagnostics, got %+v", d)
	}
}
