/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import "time"

// fixedWindowChecker counts requests in non-overlapping windows anchored at the
// client's first request. The counter includes denied requests, so a client that
// keeps hammering past the limit does not gain a fresh budget mid-window.
type fixedWindowChecker struct {
	window time.Duration
}

func (c fixedWindowChecker) check(st *clientState, now time.Time, effLimit int) Result {
	if st.windowStart.IsZero() || now.Sub(st.windowStart) >= c.window {
		st.windowStart = now
		st.count = 0
	}
	st.count++
	return Result{
		Allowed:        st.count <= effLimit,
		CurrentCount:   st.count,
		EffectiveLimit: effLimit,
		ResetIn:        st.windowStart.Add(c.window).Sub(now),
	}
}
