package reflection

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"planwise/internal/logging"
)

const (
	debounceSettle      = 2 * time.Second
	debounceMinInterval = 10 * time.Second
	rateLimitKeyPrefix  = "planwise:reflection:recompute:"
)

// RecomputeFunc runs the actual re-adjustment for one user.
type RecomputeFunc func(ctx context.Context, userID string) error

// Debouncer coalesces reflection toggles: a recompute fires 2 seconds after
// the last toggle, at most once per 10 seconds per user. The per-user rate
// limit lives in redis so it survives restarts; without a redis client the
// limiter degrades to process-local state.
type Debouncer struct {
	recompute RecomputeFunc
	rdb       *redis.Client
	settle    time.Duration
	interval  time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	lastRun map[string]time.Time
	now     func() time.Time
}

func NewDebouncer(recompute RecomputeFunc, rdb *redis.Client) *Debouncer {
	return &Debouncer{
		recompute: recompute,
		rdb:       rdb,
		settle:    debounceSettle,
		interval:  debounceMinInterval,
		timers:    map[string]*time.Timer{},
		lastRun:   map[string]time.Time{},
		now:       time.Now,
	}
}

// SetDelaysForTest shrinks the windows so tests run fast.
func (d *Debouncer) SetDelaysForTest(settle, interval time.Duration) {
	d.settle = settle
	d.interval = interval
}

// Trigger (re)arms the settle timer for a user. Repeated triggers within the
// settle window collapse into one recompute.
func (d *Debouncer) Trigger(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[userID]; ok {
		t.Stop()
	}
	d.timers[userID] = time.AfterFunc(d.settle, func() { d.fire(userID) })
}

func (d *Debouncer) fire(userID string) {
	d.mu.Lock()
	delete(d.timers, userID)
	d.mu.Unlock()

	if !d.acquire(userID) {
		logging.Event("recompute_rate_limited", map[string]interface{}{"user_id": userID})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.recompute(ctx, userID); err != nil {
		logging.EventError("recompute_trigger_failed", err, map[string]interface{}{"user_id": userID})
	}
}

// acquire claims the per-user rate-limit slot.
func (d *Debouncer) acquire(userID string) bool {
	if d.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ok, err := d.rdb.SetNX(ctx, rateLimitKeyPrefix+userID, 1, d.interval).Result()
		if err == nil {
			return ok
		}
		// Redis down: fall through to local state rather than dropping the run.
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastRun[userID]; ok && d.now().Sub(last) < d.interval {
		return false
	}
	d.lastRun[userID] = d.now()
	return true
}
