// Package retry provides the small backoff helpers the feed client and
// the strategy loop use on transient failures. Grounded on the
// teacher's pkg/retry.RetryPolicy, adapted to the spec's fixed
// escalation schedules (5s feed reconnect; 5/10/30s strategy-loop
// backoff, §4.H "Outer-loop backoff") rather than exponential backoff.
package retry

import "time"

// LinearSchedule returns the backoff duration for the n-th (1-indexed)
// consecutive failure, following §4.H: 5s -> 10s -> 30s, then holding at
// 30s for further consecutive failures.
func LinearSchedule(consecutiveFailures int) time.Duration {
	switch {
	case consecutiveFailures <= 1:
		return 5 * time.Second
	case consecutiveFailures == 2:
		return 10 * time.Second
	default:
		return 30 * time.Second
	}
}

// FeedReconnectDelay is the fixed reconnect delay for the market feed
// client (§4.A): no exponential backoff, the remote is highly
// available.
const FeedReconnectDelay = 5 * time.Second
