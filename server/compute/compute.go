// Package compute implements the bounded summation served under /api/:n.
package compute

import "fmt"

// MaxLimit is the largest ceiling whose triangular number still fits in a
// uint64.
const MaxLimit uint64 = 6074000999

// ValidateLimit reports whether Sum can run up to limit without wrapping.
func ValidateLimit(limit uint64) error {
	if limit > MaxLimit {
		return fmt.Errorf("limit %d exceeds %d", limit, MaxLimit)
	}
	return nil
}

// Clamp bounds n to [0, limit].
func Clamp(n int64, limit uint64) uint64 {
	if n < 0 {
		return 0
	}
	if uint64(n) > limit {
		return limit
	}
	return uint64(n)
}

// Sum adds every integer from 0 up to Clamp(n, limit), one at a time. It is
// deliberately CPU-bound and is not cancellable.
func Sum(n int64, limit uint64) uint64 {
	end := Clamp(n, limit)
	var count uint64
	// Stop on equality rather than i <= end: end may be math.MaxUint64.
	for i := uint64(0); ; i++ {
		count += i
		if i == end {
			return count
		}
	}
}

// Triangular returns n(n+1)/2. The even factor is halved before multiplying,
// so the result is exact for every n <= MaxLimit.
func Triangular(n uint64) uint64 {
	if n%2 == 0 {
		return (n / 2) * (n + 1)
	}
	return n * ((n + 1) / 2)
}
