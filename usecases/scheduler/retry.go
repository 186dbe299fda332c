//  _                          _
// | | _____  _____  ___  _ __| |_
// | |/ _ \ \/ / __|/ _ \| '__| __|
// | |  __/>  <\__ \ (_) | |  | |_
// |_|\___/_/\_\___/\___/|_|   \__|
//
//  Copyright © 2022 - 2026 Lexsort B.V. All rights reserved.
//
//  CONTACT: hello@lexsort.io
//

package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// constantBackOff retries a fixed number of times at a fixed interval. Used
// for short store operations such as deferred deletions.
func constantBackOff(maxRetry int, interval time.Duration) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxRetry))
}

// bodyBackOff is the retry policy for job bodies: exponential growth from
// initial, capped at maxAttempts total attempts. A maxElapsed of 0 means no
// elapsed-time cap.
func bodyBackOff(initial, maxElapsed time.Duration, maxAttempts int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxElapsedTime = maxElapsed
	return backoff.WithMaxRetries(eb, uint64(maxAttempts-1))
}
