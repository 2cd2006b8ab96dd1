package strategy

import (
	"sync"
	"time"
)

// Debounce returns a function that delays invoking fn until delay has elapsed
// without a new call. Each call resets the timer; only the last call in a
// burst fires. Used for caller-triggered operations, not network retries.
func Debounce(fn func(), delay time.Duration) func() {
	var mu sync.Mutex
	var timer *time.Timer

	return func() {
		mu.Lock()
		defer mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(delay, fn)
	}
}

// Throttle returns a function that invokes fn at most once per delay window.
// Calls arriving inside an open window are dropped, not queued.
func Throttle(fn func(), delay time.Duration) func() {
	var mu sync.Mutex
	var last time.Time

	return func() {
		mu.Lock()
		now := time.Now()
		if now.Sub(last) < delay {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()

		fn()
	}
}
