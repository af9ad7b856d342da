// Package sizing provides checked size arithmetic for values read from
// untrusted manifests and chunk headers.
package sizing

import "math"

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// Sum adds every value in sizes, returning (total, false) on overflow.
func Sum[T ~uint32 | ~uint64](sizes []T) (uint64, bool) {
	var total uint64
	for _, s := range sizes {
		var ok bool
		if total, ok = AddUint64(total, uint64(s)); !ok {
			return 0, false
		}
	}
	return total, true
}

// Within reports whether [off, off+n) lies inside a buffer of length limit.
func Within(off, n uint64, limit int) bool {
	if limit < 0 {
		return false
	}
	end, ok := AddUint64(off, n)
	if !ok {
		return false
	}
	return end <= uint64(limit)
}
