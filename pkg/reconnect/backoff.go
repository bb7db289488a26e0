// Package reconnect retries a failed link to the remembered peer with
// capped exponential backoff.
package reconnect

import "time"

// Delay returns min(max, initial*2^attempt). It never overflows for large
// attempt counts.
func Delay(attempt int, initial, max time.Duration) time.Duration {
    if initial <= 0 { initial = time.Second }
    if max < initial { max = initial }
    d := initial
    for i := 0; i < attempt; i++ {
        if d > max-d {
            return max
        }
        d *= 2
    }
    if d > max { return max }
    return d
}
