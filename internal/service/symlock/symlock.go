package symlock

import (
	"strings"
	"sync"
	"time"
)

// Kind partitions the lock key space so unrelated concerns on the same
// ticker never contend with each other.
type Kind string

const (
	KindOrder    Kind = "order"
	KindExit     Kind = "exit"
	KindWall     Kind = "wall"
	KindStopLoss Kind = "stoploss"
)

// DefaultTTL covers a validate-then-write critical section while staying
// short enough that a crashed holder self-heals without a manual unlock.
const DefaultTTL = 3 * time.Second

type entry struct {
	acquiredAt time.Time
	ttl        time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.acquiredAt) >= e.ttl
}

// Registry is a best-effort single-process mutex table keyed by
// (ticker, kind). Locks vanish on restart, which is acceptable: they only
// guard same-process race windows between concurrent signal deliveries.
type Registry struct {
	mu    sync.Mutex
	locks map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]entry)}
}

// Acquire records a lock and returns true iff no unexpired lock exists for
// the key. It never blocks; on contention the caller aborts or retries.
func (r *Registry) Acquire(ticker string, kind Kind, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := lockKey(ticker, kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.locks[key]; ok && !cur.expired(time.Now()) {
		return false
	}
	r.locks[key] = entry{acquiredAt: time.Now(), ttl: ttl}
	return true
}

// Release drops a lock before its TTL runs out.
func (r *Registry) Release(ticker string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, lockKey(ticker, kind))
}

// IsLocked treats an aged-out entry as absent and lazily evicts it.
func (r *Registry) IsLocked(ticker string, kind Kind) bool {
	key := lockKey(ticker, kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.locks[key]
	if !ok {
		return false
	}
	if cur.expired(time.Now()) {
		delete(r.locks, key)
		return false
	}
	return true
}

func lockKey(ticker string, kind Kind) string {
	return strings.ToUpper(ticker) + ":" + string(kind)
}
