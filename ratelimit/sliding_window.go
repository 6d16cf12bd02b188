/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import "time"

// slidingWindowChecker keeps the timestamps of the allowed requests within the
// trailing window. Unlike the fixed window, request budget frees up gradually
// as old timestamps expire, so there is no burst at window boundaries.
// Denied requests are not recorded and consume no budget.
type slidingWindowChecker struct {
	window time.Duration
}

func (c slidingWindowChecker) check(st *clientState, now time.Time, effLimit int) Result {
	cutoff := now.Add(-c.window)
	i := 0
	for i < len(st.timestamps) && !st.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.timestamps = append(st.timestamps[:0], st.timestamps[i:]...)
	}

	allowed := len(st.timestamps) < effLimit
	if allowed {
		st.timestamps = append(st.timestamps, now)
	}

	// The next slot frees up when the oldest recorded request leaves the window.
	resetIn := c.window
	if len(st.timestamps) > 0 {
		resetIn = st.timestamps[0].Add(c.window).Sub(now)
	}

	return Result{
		Allowed:        allowed,
		CurrentCount:   len(st.timestamps),
		EffectiveLimit: effLimit,
		ResetIn:        resetIn,
	}
}
