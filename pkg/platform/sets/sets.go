// Package sets provides small generic helpers for slices used as sets.
package sets

// Dedupe removes duplicates from a slice. Order of first occurrence is preserved.
//
// Example:
//
//	Dedupe([]int{3, 1, 3, 2, 1})
//	// Returns: []int{3, 1, 2}
func Dedupe[T comparable](values []T) []T {
	if len(values) == 0 {
		return values
	}

	seen := make(map[T]struct{}, len(values))
	result := make([]T, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}
	return result
}

// FirstDuplicate reports the first value that appears more than once.
func FirstDuplicate[T comparable](values []T) (T, bool) {
	seen := make(map[T]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			return v, true
		}
		seen[v] = struct{}{}
	}
	var zero T
	return zero, false
}

// Contains reports whether v is in values.
func Contains[T comparable](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
