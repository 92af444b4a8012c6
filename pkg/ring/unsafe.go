package ring

import "unsafe"

// ptrAt returns an unsafe.Pointer into data at the given byte offset, used
// for atomic access to header fields that live inside the mmap'd segment.
func ptrAt(data []byte, offset int) unsafe.Pointer {
	return unsafe.Pointer(&data[offset])
}
