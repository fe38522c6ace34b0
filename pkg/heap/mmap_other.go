//go:build !unix

package heap

func mapWords(n int) ([]uint64, bool) { return nil, false }

func unmapWords(w []uint64) {}
