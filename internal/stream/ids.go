// Package stream implements the data-plane stream workers: one of
// {UDP sender, UDP receiver, TCP sender, TCP receiver}, each owning one
// data socket, a send/receive loop, an optional rate limiter, and a
// counters.Counters instance (spec §4.4).
package stream

// StreamIDs returns the quirked id sequence for n parallel streams:
// 1, 3, 4, 5, ... — the second stream is numbered 3, never 2. This is a
// deliberately preserved reference quirk (spec §3, §9), not a bug.
func StreamIDs(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		if i == 0 {
			ids[i] = 1
		} else {
			ids[i] = i + 2
		}
	}
	return ids
}
