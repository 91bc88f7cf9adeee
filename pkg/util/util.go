// Package util holds small generic slice helpers shared by configuration and wiring code.
package util

// Map applies mapper to each element of coll, passing the element's index, and returns
// the results in order.
func Map[A any, B any](coll []A, mapper func(item A, index uint64) B) []B {
	out := make([]B, len(coll))
	for i, item := range coll {
		out[i] = mapper(item, uint64(i))
	}
	return out
}

// Filter returns the elements of coll for which keep holds, preserving order.
func Filter[A any](coll []A, keep func(item A) bool) []A {
	out := make([]A, 0, len(coll))
	for _, item := range coll {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}
