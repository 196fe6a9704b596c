package stub

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// sliceAddr returns the address of a mmap-backed byte slice's first
// element. The slice is kept alive by the caller for the lifetime of
// the mapping; this package never lets such mappings get collected,
// since they back process memory the entrypoint jumps into.
func sliceAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// mmapFixed issues an mmap(2) with MAP_FIXED at a caller-chosen address,
// a capability golang.org/x/sys/unix.Mmap does not expose since it
// always lets the kernel pick.
func mmapFixed(addr uintptr, length uint64, prot, flags, fd int, offset int64) (uintptr, error) {
	ret, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		uintptr(length),
		uintptr(prot),
		uintptr(flags),
		uintptr(fd),
		uintptr(offset),
	)
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}

// zeroRange fills [start, end) with zero bytes, used to clear the
// portion of a writable segment's final page that lies past the file
// data but within p_memsz.
func zeroRange(start, end uintptr) {
	for p := start; p < end; p++ {
		*(*byte)(unsafe.Pointer(p)) = 0
	}
}
