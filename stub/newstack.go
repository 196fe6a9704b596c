package stub

import (
	"fmt"
	"unsafe"

	"github.com/xyproto/wrapstub/manifest"
	"github.com/xyproto/wrapstub/strtable"
	"golang.org/x/sys/unix"
)

// rlimitStack is RLIMIT_STACK, stable at 3 across Linux architectures.
const rlimitStack = 3

// PrepareStack mmaps a fresh, growable stack and writes a complete
// argc/argv/NULL/envp/NULL/auxv/AT_NULL block at its top, matching the
// System V AMD64 process-startup layout the kernel itself would build.
// It returns the resulting stack pointer.
func PrepareStack(m *manifest.Manifest, stack *Stack) (uintptr, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(rlimitStack, &rlim); err != nil {
		return 0, fmt.Errorf("stub: prepare stack: getrlimit: %w", err)
	}
	stackSize := rlim.Cur

	mem, err := unix.Mmap(-1, 0, int(stackSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_GROWSDOWN)
	if err != nil {
		return 0, fmt.Errorf("stub: prepare stack: mmap: %w", err)
	}
	sp := sliceAddr(mem) + uintptr(stackSize)

	envp := make([]uintptr, 0, len(m.Argv)+1)
	m.Env.Iterate(func(key, val strtable.Str) bool {
		line := make([]byte, 0, len(key)+len(val)+2)
		line = append(line, key...)
		line = append(line, '=')
		line = append(line, val...)
		line = append(line, 0)
		sp = pushBytes(sp, line)
		envp = append(envp, sp)
		return true
	})

	argv := make([]uintptr, 0, len(m.Argv)+1)
	sp = pushCString(sp, stack.Argv[0])
	argv = append(argv, sp)
	for _, a := range m.Argv {
		sp = pushBytes(sp, appendNUL(a))
		argv = append(argv, sp)
	}

	sp -= 8
	writeWord(sp, 0)
	sp -= 8
	writeWord(sp, 0)

	sp &^= 15

	if (len(envp)+len(argv))%2 == 0 {
		sp -= 8
		writeWord(sp, 0)
	}

	for x := len(stack.Auxv) - 1; x >= 0; x-- {
		sp -= 16
		writeWord(sp, stack.Auxv[x].Type)
		writeWord(sp+8, stack.Auxv[x].Val)
	}

	sp -= 8
	writeWord(sp, 0)

	for i := len(envp) - 1; i >= 0; i-- {
		sp -= 8
		writeWord(sp, uint64(envp[i]))
	}

	sp -= 8
	writeWord(sp, 0)

	for i := len(argv) - 1; i >= 0; i-- {
		sp -= 8
		writeWord(sp, uint64(argv[i]))
	}

	sp -= 8
	writeWord(sp, uint64(len(argv)))

	if sp%16 != 0 {
		return 0, fmt.Errorf("stub: prepare stack: misaligned result sp %#x", sp)
	}
	return sp, nil
}

func pushBytes(sp uintptr, b []byte) uintptr {
	sp -= uintptr(len(b))
	dst := (*[1 << 30]byte)(unsafe.Pointer(sp))[:len(b):len(b)]
	copy(dst, b)
	return sp
}

func pushCString(sp uintptr, s string) uintptr {
	return pushBytes(sp, appendNUL([]byte(s)))
}

func appendNUL(b []byte) []byte {
	out := make([]byte, len(b)+1)
	copy(out, b)
	return out
}

func writeWord(addr uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = v
}
