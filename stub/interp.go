package stub

import (
	"fmt"
	"os"

	"github.com/xyproto/wrapstub/elfconst"
	"golang.org/x/sys/unix"
)

// LoadedInterpreter describes a dynamic interpreter (e.g. ld-linux.so)
// that has been mmap-loaded into this process's address space.
type LoadedInterpreter struct {
	Phdr        []elfconst.Phdr
	Entry       uint64
	BaseAddress uintptr
	PhdrAddr    uintptr
}

// LoadInterpreter maps an ET_DYN interpreter binary into memory at an
// address chosen by the kernel, PT_LOAD segment by PT_LOAD segment,
// matching load_interpreter: reserve the whole [0, maxvaddr) span with
// one PROT_NONE mapping first so later MAP_FIXED segment mappings can't
// collide with anything else, then map each segment over a slice of
// that reservation.
func LoadInterpreter(path string) (*LoadedInterpreter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stub: load interpreter: open %s: %w", path, err)
	}
	defer f.Close()

	var ehdrBuf [elfconst.EHeaderSize]byte
	if _, err := f.ReadAt(ehdrBuf[:], 0); err != nil {
		return nil, fmt.Errorf("stub: load interpreter: read ehdr: %w", err)
	}
	ehdr := elfconst.DecodeEhdr(ehdrBuf[:])
	if ehdr.Type != 3 { // ET_DYN
		return nil, fmt.Errorf("stub: load interpreter: %s is not ET_DYN", path)
	}

	phdrs := make([]elfconst.Phdr, ehdr.Phnum)
	phBuf := make([]byte, uint64(ehdr.Phnum)*uint64(ehdr.Phentsize))
	if _, err := f.ReadAt(phBuf, int64(ehdr.Phoff)); err != nil {
		return nil, fmt.Errorf("stub: load interpreter: read phdrs: %w", err)
	}
	for i := range phdrs {
		off := i * int(ehdr.Phentsize)
		phdrs[i] = elfconst.DecodePhdr(phBuf[off : off+elfconst.PHeaderSize])
	}

	const pageSz = 4096
	var minvaddr, maxvaddr uint64
	first := true
	for _, p := range phdrs {
		if p.Type != elfconst.PTLoad {
			continue
		}
		if first || p.Vaddr < minvaddr {
			minvaddr = p.Vaddr
		}
		end := p.Vaddr + p.Memsz
		if first || end > maxvaddr {
			maxvaddr = end
		}
		first = false
	}

	reserveLen := elfconst.Align(maxvaddr, pageSz)
	reservation, err := unix.Mmap(-1, 0, int(reserveLen), unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("stub: load interpreter: reserve %d bytes: %w", reserveLen, err)
	}
	base := sliceAddr(reservation)
	bias := int64(base) - int64(minvaddr)

	phdrAddr := uintptr(0)
	for _, p := range phdrs {
		if p.Type != elfconst.PTLoad {
			continue
		}
		misalign := p.Offset & (pageSz - 1)
		fileOffset := p.Offset - misalign
		segAddr := uintptr(int64(bias) + int64(p.Vaddr) - int64(misalign))
		prot := 0
		if p.Flags&elfconst.PFR != 0 {
			prot |= unix.PROT_READ
		}
		if p.Flags&elfconst.PFW != 0 {
			prot |= unix.PROT_WRITE
		}
		if p.Flags&elfconst.PFX != 0 {
			prot |= unix.PROT_EXEC
		}

		filesz := elfconst.Align(p.Filesz+misalign, pageSz)
		memsz := elfconst.Align(p.Memsz+misalign, pageSz)

		if p.Filesz > 0 {
			flags := unix.MAP_FIXED | unix.MAP_SHARED
			if p.Flags&elfconst.PFW != 0 {
				flags = unix.MAP_FIXED | unix.MAP_PRIVATE
			}
			if _, err := mmapFixed(segAddr, filesz, prot, flags, int(f.Fd()), int64(fileOffset)); err != nil {
				unix.Munmap(reservation)
				return nil, fmt.Errorf("stub: load interpreter: map segment at %#x: %w", segAddr, err)
			}
		}
		if memsz > filesz {
			extAddr := segAddr + uintptr(filesz)
			extLen := memsz - filesz
			if _, err := mmapFixed(extAddr, extLen, prot, unix.MAP_FIXED|unix.MAP_ANON|unix.MAP_PRIVATE, -1, 0); err != nil {
				unix.Munmap(reservation)
				return nil, fmt.Errorf("stub: load interpreter: extend segment at %#x: %w", extAddr, err)
			}
		}
		if p.Flags&elfconst.PFW != 0 && p.Memsz > p.Filesz {
			gapStart := segAddr + uintptr(misalign+p.Filesz)
			gapEnd := segAddr + uintptr(filesz)
			zeroRange(gapStart, gapEnd)
		}

		fileEnd := p.Offset + p.Filesz
		if ehdr.Phoff >= p.Offset && fileEnd >= ehdr.Phoff+uint64(ehdr.Phnum)*uint64(ehdr.Phentsize) {
			phdrAddr = segAddr + uintptr(misalign+(ehdr.Phoff-p.Offset))
		}
	}

	// Entry is stored raw (not bias-adjusted) and BaseAddress holds the
	// bias itself, not the raw mmap address -- callers add the two
	// together at the point they need an absolute entrypoint.
	return &LoadedInterpreter{
		Phdr:        phdrs,
		Entry:       ehdr.Entry,
		BaseAddress: uintptr(bias),
		PhdrAddr:    phdrAddr,
	}, nil
}
