package stub

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xyproto/wrapstub/elfconst"
)

// buildMinimalETDyn writes a tiny, structurally valid ELF-64 shared
// object with a single PT_LOAD segment, of the given e_type, covering
// the whole file including its own program header table.
func buildMinimalETDyn(t *testing.T, path string, etype uint16, entry uint64) {
	t.Helper()
	const phoff = elfconst.EHeaderSize
	const bodyLen = 256
	total := phoff + elfconst.PHeaderSize + bodyLen

	buf := make([]byte, total)
	ehdr := elfconst.Ehdr{
		Type:      etype,
		Machine:   elfconst.EMX8664,
		Version:   1,
		Entry:     entry,
		Phoff:     uint64(phoff),
		Ehsize:    elfconst.EHeaderSize,
		Phentsize: elfconst.PHeaderSize,
		Phnum:     1,
	}
	ehdr.Ident[0], ehdr.Ident[1], ehdr.Ident[2], ehdr.Ident[3] = 0x7f, 'E', 'L', 'F'
	ehdr.Ident[elfconst.EIClass] = elfconst.ELFClass64
	ehdr.Ident[elfconst.EIData] = elfconst.ELFDataLSB
	elfconst.EncodeEhdr(buf[:elfconst.EHeaderSize], ehdr)

	phdr := elfconst.Phdr{
		Type:   elfconst.PTLoad,
		Flags:  elfconst.PFR | elfconst.PFX,
		Offset: 0,
		Vaddr:  0,
		Paddr:  0,
		Filesz: uint64(total),
		Memsz:  uint64(total),
		Align:  0x1000,
	}
	elfconst.EncodePhdr(buf[phoff:phoff+elfconst.PHeaderSize], phdr)

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadInterpreterMapsSingleSegmentAndFindsPhdrTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ld.so")
	const entry = 0x1100
	buildMinimalETDyn(t, path, 3 /* ET_DYN */, entry)

	li, err := LoadInterpreter(path)
	if err != nil {
		t.Fatalf("LoadInterpreter: %v", err)
	}
	if li.Entry != entry {
		t.Fatalf("Entry = %#x, want %#x", li.Entry, entry)
	}
	if len(li.Phdr) != 1 {
		t.Fatalf("Phdr count = %d, want 1", len(li.Phdr))
	}

	// The phdr table lives at file offset elfconst.EHeaderSize, inside
	// the single PT_LOAD segment's own Filesz, so phdrAddr must be
	// found and rebased by the same bias as everything else.
	if li.PhdrAddr == 0 {
		t.Fatalf("PhdrAddr not set even though the phdr table fits inside the single PT_LOAD segment")
	}
	wantPhdrAddr := li.BaseAddress + uintptr(elfconst.EHeaderSize)
	if li.PhdrAddr != wantPhdrAddr {
		t.Fatalf("PhdrAddr = %#x, want BaseAddress+e_phoff = %#x", li.PhdrAddr, wantPhdrAddr)
	}
}

func TestLoadInterpreterRejectsNonETDyn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exec")
	buildMinimalETDyn(t, path, 2 /* ET_EXEC */, 0x400000)

	if _, err := LoadInterpreter(path); err == nil {
		t.Fatalf("expected an error for a non-ET_DYN interpreter")
	}
}

func TestLoadInterpreterLeavesPhdrAddrZeroWhenTableNotCovered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ld.so")

	// A two-segment layout where the phdr table (at file offset 64)
	// falls entirely outside both PT_LOAD segments' file ranges: no
	// segment should claim it. The segments start at a page-aligned file
	// offset and each p_vaddr is congruent to its p_offset modulo the
	// page size, so every fixed mapping address is page-aligned.
	const phoff = elfconst.EHeaderSize
	const phnum = 2
	const segStart = 0x1000
	const bodyLen = 4096
	total := segStart + bodyLen

	buf := make([]byte, total)
	ehdr := elfconst.Ehdr{
		Type:      3,
		Machine:   elfconst.EMX8664,
		Version:   1,
		Entry:     0x2000,
		Phoff:     uint64(phoff),
		Ehsize:    elfconst.EHeaderSize,
		Phentsize: elfconst.PHeaderSize,
		Phnum:     phnum,
	}
	ehdr.Ident[0], ehdr.Ident[1], ehdr.Ident[2], ehdr.Ident[3] = 0x7f, 'E', 'L', 'F'
	ehdr.Ident[elfconst.EIClass] = elfconst.ELFClass64
	ehdr.Ident[elfconst.EIData] = elfconst.ELFDataLSB
	elfconst.EncodeEhdr(buf[:elfconst.EHeaderSize], ehdr)

	phdrs := []elfconst.Phdr{
		{
			Type: elfconst.PTLoad, Flags: elfconst.PFR,
			Offset: segStart, Vaddr: 0x1000, Paddr: 0x1000,
			Filesz: uint64(bodyLen) / 2, Memsz: uint64(bodyLen) / 2, Align: 0x1000,
		},
		{
			Type: elfconst.PTLoad, Flags: elfconst.PFR | elfconst.PFX,
			Offset: segStart + uint64(bodyLen)/2, Vaddr: 0x2800, Paddr: 0x2800,
			Filesz: uint64(bodyLen) / 2, Memsz: uint64(bodyLen) / 2, Align: 0x1000,
		},
	}
	for i, p := range phdrs {
		off := phoff + i*elfconst.PHeaderSize
		elfconst.EncodePhdr(buf[off:off+elfconst.PHeaderSize], p)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}

	li, err := LoadInterpreter(path)
	if err != nil {
		t.Fatalf("LoadInterpreter: %v", err)
	}
	if li.PhdrAddr != 0 {
		t.Fatalf("PhdrAddr = %#x, want 0: neither segment's file range covers the phdr table", li.PhdrAddr)
	}
}
