package throttle

import (
	"sync"
	"testing"
	"time"
)

// fakeClock drives a Throttle without real sleeping. Sleeps advance the
// clock instead.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	sleeps int
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.sleeps++
	c.now = c.now.Add(d)
}

func newTestThrottle(minInterval, jitterMax time.Duration) (*Throttle, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	t := New(minInterval, jitterMax)
	t.now = clock.Now
	t.sleep = clock.Sleep
	return t, clock
}

func TestWaitFirstRequestIsImmediate(t *testing.T) {
	th, clock := newTestThrottle(2*time.Second, 0)

	th.Wait("catalog.example")
	if clock.sleeps != 0 {
		t.Errorf("first request to an origin slept %d times, want 0", clock.sleeps)
	}
}

func TestWaitEnforcesMinimumSpacing(t *testing.T) {
	th, clock := newTestThrottle(2*time.Second, 0)

	th.Wait("catalog.example")
	th.Wait("catalog.example")

	if clock.sleeps != 1 {
		t.Fatalf("second request slept %d times, want 1", clock.sleeps)
	}
	if got := clock.slept[0]; got != 2*time.Second {
		t.Errorf("second request slept %v, want 2s", got)
	}
}

func TestWaitJitterIsBounded(t *testing.T) {
	const jitterMax = 500 * time.Millisecond
	th, clock := newTestThrottle(time.Second, jitterMax)

	th.Wait("catalog.example")
	for i := 0; i < 50; i++ {
		th.Wait("catalog.example")
	}

	for i, d := range clock.slept {
		if d < time.Second || d > time.Second+jitterMax {
			t.Fatalf("sleep %d was %v, want within [1s, 1s+%v]", i, d, jitterMax)
		}
	}
}

func TestWaitOriginsAreIndependent(t *testing.T) {
	th, clock := newTestThrottle(5*time.Second, 0)

	th.Wait("catalog.example")
	th.Wait("mirror.example")

	if clock.sleeps != 0 {
		t.Errorf("requests to distinct origins slept %d times, want 0", clock.sleeps)
	}
}

func TestWaitConcurrentCallersShareOriginState(t *testing.T) {
	th, clock := newTestThrottle(time.Second, 0)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th.Wait("catalog.example")
		}()
	}
	wg.Wait()

	// Five callers, one origin: four of them must have been delayed.
	if clock.sleeps != 4 {
		t.Errorf("got %d sleeps for 5 concurrent callers, want 4", clock.sleeps)
	}
}
