package stub

import (
	"testing"

	"github.com/xyproto/wrapstub/arena"
	"github.com/xyproto/wrapstub/elfconst"
)

func TestBuildProgramHeadersDropsStubSegmentAndRebiasesPhdr(t *testing.T) {
	mem, err := arena.New(4096)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	defer mem.Destroy()

	old := []elfconst.Phdr{
		{Type: elfconst.PTPhdr, Vaddr: 0x40},
		{Type: elfconst.PTLoad, Vaddr: 0x1000, Memsz: 0x1000},
		{Type: elfconst.PTLoad, Vaddr: 0x2000, Memsz: 0x1000}, // stub's own segment
	}
	const baseAddress = 0x400000
	const originalEntrypoint = 0x2100 // inside the third segment

	out, addr, err := BuildProgramHeaders(mem, nil, baseAddress, originalEntrypoint, old)
	if err != nil {
		t.Fatalf("BuildProgramHeaders: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (PT_PHDR + first LOAD, stub segment dropped)", len(out))
	}
	if out[0].Type != elfconst.PTPhdr {
		t.Fatalf("expected PT_PHDR first, got %+v", out[0])
	}
	if out[0].Vaddr != uint64(addr)-baseAddress {
		t.Fatalf("PT_PHDR.Vaddr = %#x, want %#x", out[0].Vaddr, uint64(addr)-baseAddress)
	}
	if out[1].Vaddr != 0x1000 {
		t.Fatalf("expected the surviving LOAD segment, got %+v", out[1])
	}
}

func TestBuildProgramHeadersAppendsPTInterp(t *testing.T) {
	mem, err := arena.New(4096)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	defer mem.Destroy()

	old := []elfconst.Phdr{{Type: elfconst.PTLoad, Vaddr: 0x1000, Memsz: 0x1000}}
	out, _, err := BuildProgramHeaders(mem, []byte("/lib/ld-linux.so\x00"), 0x400000, 0, old)
	if err != nil {
		t.Fatalf("BuildProgramHeaders: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (LOAD + PT_INTERP)", len(out))
	}
	if out[1].Type != elfconst.PTInterp {
		t.Fatalf("expected PT_INTERP last, got %+v", out[1])
	}
}

func TestBuildProgramHeadersRejectsNonFirstPTPhdr(t *testing.T) {
	mem, err := arena.New(4096)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	defer mem.Destroy()

	old := []elfconst.Phdr{
		{Type: elfconst.PTLoad, Vaddr: 0x1000, Memsz: 0x1000},
		{Type: elfconst.PTPhdr, Vaddr: 0x40},
	}
	if _, _, err := BuildProgramHeaders(mem, nil, 0x400000, 0xffffffff, old); err == nil {
		t.Fatalf("expected an error for PT_PHDR not appearing first")
	}
}
