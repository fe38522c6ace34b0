//go:build unix

package heap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func mapWords(n int) ([]uint64, bool) {
	b, err := unix.Mmap(-1, 0, n*BytesPerWord,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		log.Warningf("mmap of %d words failed, falling back to the Go heap: %s", n, err)
		return nil, false
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), n), true
}

func unmapWords(w []uint64) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(&w[0])), len(w)*BytesPerWord)
	if err := unix.Munmap(b); err != nil {
		log.Errorf("munmap: %s", err)
	}
}
