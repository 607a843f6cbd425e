// Package throttle spaces outbound requests per origin. Every catalog,
// mirror, and probe request goes through Wait before touching the network,
// so one pipeline instance can never hammer a single origin regardless of
// which component issues the request.
package throttle

import (
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Throttle enforces a minimum interval plus random jitter between requests
// to the same origin. State is per-origin; independent origins never delay
// each other. The zero value is not usable, use New.
type Throttle struct {
	minInterval time.Duration
	jitterMax   time.Duration

	mu   sync.Mutex
	next map[string]time.Time

	// sleep and now are swapped out in tests.
	sleep func(time.Duration)
	now   func() time.Time
	rng   *rand.Rand
}

// New creates a Throttle with the given minimum spacing and jitter ceiling.
func New(minInterval, jitterMax time.Duration) *Throttle {
	return &Throttle{
		minInterval: minInterval,
		jitterMax:   jitterMax,
		next:        make(map[string]time.Time),
		sleep:       time.Sleep,
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until at least minInterval plus a fresh jitter draw has elapsed
// since the previous request to origin. It reserves its slot under the lock
// and sleeps outside it, so callers targeting other origins are not held up.
// Wait cannot fail; it only delays.
func (t *Throttle) Wait(origin string) {
	t.mu.Lock()
	now := t.now()
	earliest := t.next[origin]
	start := now
	if earliest.After(now) {
		start = earliest
	}
	t.next[origin] = start.Add(t.minInterval + t.jitter())
	t.mu.Unlock()

	if delay := start.Sub(now); delay > 0 {
		log.WithField("origin", origin).Debugf("Throttling request for %v", delay)
		t.sleep(delay)
	}
}

func (t *Throttle) jitter() time.Duration {
	if t.jitterMax <= 0 {
		return 0
	}
	return time.Duration(t.rng.Int63n(int64(t.jitterMax) + 1))
}
