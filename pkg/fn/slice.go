package fn

// Map applies f to each element.
func Map[T, U any](items []T, f func(T) U) []U {
	out := make([]U, len(items))
	for i, v := range items {
		out[i] = f(v)
	}
	return out
}

// Filter returns elements where pred is true.
func Filter[T any](items []T, pred func(T) bool) []T {
	var out []T
	for _, v := range items {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

// Take returns at most the first n elements. The result shares the
// backing array of items.
func Take[T any](items []T, n int) []T {
	if n < 0 {
		n = 0
	}
	if len(items) > n {
		return items[:n]
	}
	return items
}

// Pad returns a copy of items extended with zero values up to length n.
// Longer inputs are truncated to n.
func Pad[T any](items []T, n int) []T {
	out := make([]T, n)
	copy(out, items)
	return out
}

