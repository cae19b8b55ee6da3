package service

import "time"

// RetryPolicy is a bounded fixed-delay retry, pulled out of the login path
// so the budget is configurable and the delay observable in tests. The
// 3 x 500ms default absorbs transient account-backend contention (for
// instance concurrent writers on the same account record) without pushing
// retry loops to every caller.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration

	// Sleep is swapped out in tests; nil means time.Sleep. The sleep
	// blocks only the calling context, never a shared structure.
	Sleep func(time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond}
}

// Do runs fn until it reports success or the attempt budget is spent,
// sleeping the fixed delay between attempts. There is no cancellation
// beyond the attempt bound; callers needing one wrap the call externally.
func (p RetryPolicy) Do(fn func() bool) bool {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for i := 1; ; i++ {
		if fn() {
			return true
		}
		if i >= attempts {
			return false
		}
		sleep(p.Delay)
	}
}
