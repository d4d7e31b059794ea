// Package lifecycle has helpers for bounded goroutine shutdown.
package lifecycle

import (
	"sync"
	"time"
)

// Join waits for done to close. It returns false if timeout elapses first.
// A nil channel counts as already closed.
func Join(done <-chan struct{}, timeout time.Duration) bool {
	if done == nil {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel that closes once wg reaches zero.
func Done(wg *sync.WaitGroup) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	return ch
}

// SleepRemainder sleeps for whatever is left of period after the work that
// started at start. It returns early when stop closes. The return value is
// false if stop closed.
func SleepRemainder(start time.Time, period time.Duration, stop <-chan struct{}) bool {
	remaining := period - time.Since(start)
	if remaining <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

// Period converts a rate in Hz to a loop period.
func Period(hz float64) time.Duration {
	if hz <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / hz)
}
