package gate

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/harvester/internal/core/domain"
)

const (
	leaseKey       = "harvester:gate:lease"
	lastReleaseKey = "harvester:gate:last_release"
)

// releaseScript deletes the lease only when the caller still holds it, and
// stamps the cooldown key in the same atomic step. The cooldown key carries
// MinInterval as TTL, so its mere existence means "inside the window" and no
// cross-host clock comparison is needed.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

// ticket is one local waiter's place in line. ready is closed when the ticket
// reaches the front and may start polling Redis.
type ticket struct {
	ready chan struct{}
}

// RedisGate coordinates sibling processes through a shared lease key. Within
// one process waiters are strictly FIFO; across processes order is approximate
// because remote waiters poll.
type RedisGate struct {
	rdb *redis.Client
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	queue       []*ticket
	lastGrantAt time.Time
	grants      uint64
	timeouts    uint64
	closed      bool
	done        chan struct{}
}

// NewRedisGate creates a gate backed by the given Redis client. The client's
// lifecycle belongs to the caller; Close does not close it.
func NewRedisGate(rdb *redis.Client, cfg Config) *RedisGate {
	return &RedisGate{
		rdb:  rdb,
		cfg:  cfg.withDefaults(),
		log:  slog.Default().With("component", "gate"),
		done: make(chan struct{}),
	}
}

// WaitForPermit implements Gate.
func (g *RedisGate) WaitForPermit(ctx context.Context, callerID string, timeout time.Duration) domain.Permit {
	if g.isClosed() {
		return domain.Permit{Granted: false, Reason: ReasonClosed}
	}

	if timeout == 0 {
		p, _ := g.tryAcquire(ctx, callerID)
		return p
	}

	deadline := time.Now().Add(timeout)

	t := g.enqueue()
	defer g.dequeue(t)

	// Wait for our turn at the shared key. Only the front ticket polls, which
	// keeps local waiters FIFO and avoids a thundering herd against Redis.
	waitTimer := time.NewTimer(timeout)
	defer waitTimer.Stop()
	select {
	case <-t.ready:
	case <-waitTimer.C:
		g.recordTimeout()
		return domain.Permit{Granted: false, Reason: ReasonTimeout}
	case <-ctx.Done():
		return domain.Permit{Granted: false, Reason: ReasonCanceled}
	case <-g.done:
		return domain.Permit{Granted: false, Reason: ReasonClosed}
	}

	for {
		p, retryable := g.tryAcquire(ctx, callerID)
		if p.Granted || !retryable {
			return p
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			g.recordTimeout()
			return domain.Permit{Granted: false, Reason: ReasonTimeout}
		}

		sleep := g.pollDelay()
		if sleep > remaining {
			sleep = remaining
		}
		pollTimer := time.NewTimer(sleep)
		select {
		case <-pollTimer.C:
		case <-ctx.Done():
			pollTimer.Stop()
			return domain.Permit{Granted: false, Reason: ReasonCanceled}
		case <-g.done:
			pollTimer.Stop()
			return domain.Permit{Granted: false, Reason: ReasonClosed}
		}
	}
}

// tryAcquire makes one pass at the lease. The second return reports whether a
// denial is worth polling again (held or cooling down) as opposed to terminal
// (canceled). Transport errors are logged and treated as retryable.
func (g *RedisGate) tryAcquire(ctx context.Context, callerID string) (domain.Permit, bool) {
	if err := ctx.Err(); err != nil {
		return domain.Permit{Granted: false, Reason: ReasonCanceled}, false
	}

	cooling, err := g.rdb.Exists(ctx, lastReleaseKey).Result()
	if err != nil {
		g.log.Warn("gate cooldown check failed", "caller", callerID, "error", err)
		return domain.Permit{Granted: false, Reason: ReasonCooldown}, true
	}
	if cooling > 0 {
		return domain.Permit{Granted: false, Reason: ReasonCooldown}, true
	}

	leaseID := uuid.New().String()
	ok, err := g.rdb.SetNX(ctx, leaseKey, leaseID, g.cfg.MaxHold).Result()
	if err != nil {
		g.log.Warn("gate acquire failed", "caller", callerID, "error", err)
		return domain.Permit{Granted: false, Reason: ReasonHeld}, true
	}
	if !ok {
		return domain.Permit{Granted: false, Reason: ReasonHeld}, true
	}

	now := time.Now()
	g.mu.Lock()
	g.grants++
	g.lastGrantAt = now
	g.mu.Unlock()

	return domain.Permit{
		Granted:   true,
		LeaseID:   leaseID,
		ExpiresAt: now.Add(g.cfg.MaxHold),
	}, false
}

// Release implements Gate. The compare-and-delete runs server-side so an
// expired lease that was re-granted to another process is never deleted.
func (g *RedisGate) Release(ctx context.Context, leaseID string) error {
	if leaseID == "" {
		return ErrNotHolder
	}
	nowMs := time.Now().UnixMilli()
	res, err := releaseScript.Run(ctx, g.rdb,
		[]string{leaseKey, lastReleaseKey},
		leaseID, nowMs, g.cfg.MinInterval.Milliseconds(),
	).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHolder
	}
	return nil
}

// Stats implements Gate. Held reflects the shared key, so it covers leases
// granted by sibling processes too.
func (g *RedisGate) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	held, err := g.rdb.Exists(ctx, leaseKey).Result()
	if err != nil {
		held = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		QueueDepth:  len(g.queue),
		Held:        held > 0,
		LastGrantAt: g.lastGrantAt,
		Grants:      g.grants,
		Timeouts:    g.timeouts,
	}
}

// Close implements Gate. It releases local waiters only; the shared lease key
// expires on its own.
func (g *RedisGate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	close(g.done)
	g.queue = nil
	return nil
}

// ============================================================================
// Local FIFO queue
// ============================================================================

func (g *RedisGate) enqueue() *ticket {
	t := &ticket{ready: make(chan struct{})}
	g.mu.Lock()
	g.queue = append(g.queue, t)
	if len(g.queue) == 1 {
		close(t.ready)
	}
	g.mu.Unlock()
	return t
}

func (g *RedisGate) dequeue(target *ticket) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, t := range g.queue {
		if t != target {
			continue
		}
		wasFront := i == 0
		g.queue = append(g.queue[:i], g.queue[i+1:]...)
		if wasFront && len(g.queue) > 0 && !g.closed {
			close(g.queue[0].ready)
		}
		return
	}
}

func (g *RedisGate) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *RedisGate) recordTimeout() {
	g.mu.Lock()
	g.timeouts++
	g.mu.Unlock()
}

// pollDelay spreads sibling processes out with up to 50% jitter.
func (g *RedisGate) pollDelay() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(g.cfg.PollInterval)/2 + 1))
	return g.cfg.PollInterval + jitter
}
