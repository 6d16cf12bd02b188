/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// tokenBucket wraps rate.Limiter and remembers the parameters it was built
// with, so a change of the effective limit can be applied in place without
// discarding the accumulated token state.
type tokenBucket struct {
	limiter  *rate.Limiter
	capacity int
	refill   rate.Limit
}

// tokenBucketChecker grants a token per request from a bucket that refills
// continuously. A full bucket allows short bursts up to its capacity while the
// refill rate bounds the sustained throughput. The explicit-time rate.Limiter
// API is used throughout so the injected clock drives the refill.
type tokenBucketChecker struct {
	window          time.Duration
	tokensPerSecond float64
	bucketSize      int
}

func (c tokenBucketChecker) check(st *clientState, now time.Time, effLimit int) Result {
	capacity := c.bucketSize
	if capacity == 0 {
		capacity = effLimit
	}
	refill := rate.Limit(c.tokensPerSecond)
	if refill == 0 {
		refill = rate.Limit(float64(effLimit) / c.window.Seconds())
	}

	if st.bucket == nil {
		st.bucket = &tokenBucket{
			limiter:  rate.NewLimiter(refill, capacity),
			capacity: capacity,
			refill:   refill,
		}
	} else if st.bucket.capacity != capacity || st.bucket.refill != refill {
		// The effective limit changed (CPU pressure began or subsided);
		// reshape the bucket in place so accumulated tokens survive.
		st.bucket.limiter.SetLimitAt(now, refill)
		st.bucket.limiter.SetBurstAt(now, capacity)
		st.bucket.capacity = capacity
		st.bucket.refill = refill
	}

	allowed := st.bucket.limiter.AllowN(now, 1)

	tokens := st.bucket.limiter.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}
	current := capacity - int(math.Floor(tokens))
	if current > capacity {
		current = capacity
	}

	// Estimate the wait for the next token without consuming one:
	// reserve, read the delay, put the token back.
	var resetIn time.Duration
	if !allowed {
		r := st.bucket.limiter.ReserveN(now, 1)
		resetIn = r.DelayFrom(now)
		r.CancelAt(now)
	}

	return Result{
		Allowed:        allowed,
		CurrentCount:   current,
		EffectiveLimit: effLimit,
		ResetIn:        resetIn,
	}
}
