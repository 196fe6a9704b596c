package stub

import (
	"fmt"

	"github.com/xyproto/wrapstub/arena"
	"github.com/xyproto/wrapstub/elfconst"
)

// BuildProgramHeaders produces the program header table for the
// process image the stub is about to jump into: the LOAD segment that
// held the stub itself is dropped (the new entrypoint doesn't need it
// mapped any more), PT_PHDR is rewritten to point at the new table's
// own address, and -- when the manifest names an interpreter -- a
// synthetic PT_INTERP entry is appended pointing at an arena-copied
// path string.
//
// mem must outlive the jump to the new entrypoint: its backing pages
// are the only place the new program header table and PT_INTERP path
// string live, so BuildProgramHeaders takes a caller-supplied arena
// kept alive past the point any other allocator is torn down.
// It returns the new table and the address its encoded bytes were
// written to within mem, suitable for patching into AT_PHDR.
func BuildProgramHeaders(mem *arena.Arena, interpreter []byte, baseAddress uintptr, originalEntrypoint uintptr, old []elfconst.Phdr) ([]elfconst.Phdr, uintptr, error) {
	maxEntries := len(old) + 1
	raw, err := mem.Alloc(uintptr(maxEntries*elfconst.PHeaderSize), 8)
	if err != nil {
		return nil, 0, fmt.Errorf("stub: build program headers: %w", err)
	}
	addr := sliceAddr(raw)

	out := make([]elfconst.Phdr, 0, maxEntries)
	for i, p := range old {
		if p.Type == elfconst.PTLoad &&
			p.Vaddr <= uint64(originalEntrypoint) &&
			uint64(originalEntrypoint) < p.Vaddr+p.Memsz {
			continue
		}

		entry := p
		if p.Type == elfconst.PTPhdr {
			if i != 0 {
				return nil, 0, fmt.Errorf("stub: build program headers: PT_PHDR must appear first")
			}
			entry.Vaddr = uint64(addr) - uint64(baseAddress)
		}
		out = append(out, entry)
	}

	if len(interpreter) > 0 {
		pathBuf, err := mem.Alloc(uintptr(len(interpreter)), 1)
		if err != nil {
			return nil, 0, fmt.Errorf("stub: build program headers: alloc interp path: %w", err)
		}
		copy(pathBuf, interpreter)
		pathAddr := uint64(sliceAddr(pathBuf)) - uint64(baseAddress)
		out = append(out, elfconst.Phdr{
			Type:   elfconst.PTInterp,
			Flags:  elfconst.PFR,
			Vaddr:  pathAddr,
			Paddr:  pathAddr,
			Align:  1,
			Filesz: 0,
			Memsz:  uint64(len(interpreter)),
		})
	}

	for i, p := range out {
		off := i * elfconst.PHeaderSize
		elfconst.EncodePhdr(raw[off:off+elfconst.PHeaderSize], p)
	}

	return out, addr, nil
}
