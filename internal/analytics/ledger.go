package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foundermatch/funnel/internal/pkg/logger"
)

// Ledger records which (backend, event, session) tuples already fired.
type Ledger interface {
	// Claim returns true the first time key is seen within the ledger's
	// retention and false afterwards.
	Claim(ctx context.Context, key string) bool
}

// MemoryLedger is a process-local ledger. A zero ttl keeps keys forever.
type MemoryLedger struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
	calls int
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (l *MemoryLedger) Claim(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.ttl > 0 && l.calls%1024 == 0 {
		l.evict(now)
	}

	if at, ok := l.seen[key]; ok && (l.ttl <= 0 || now.Sub(at) < l.ttl) {
		return false
	}
	l.seen[key] = now
	return true
}

// Len returns the number of retained keys.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

func (l *MemoryLedger) evict(now time.Time) {
	for k, at := range l.seen {
		if now.Sub(at) >= l.ttl {
			delete(l.seen, k)
		}
	}
}

// RedisLedger shares dedup state between server instances with SET NX.
// Claim fails open: a Redis error lets the event through.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLedger{client: client, ttl: ttl, prefix: "analytics:fired:"}
}

func (l *RedisLedger) Claim(ctx context.Context, key string) bool {
	ok, err := l.client.SetNX(ctx, l.prefix+key, 1, l.ttl).Result()
	if err != nil {
		logger.Warn("analytics ledger unavailable", "error", err)
		return true
	}
	return ok
}
