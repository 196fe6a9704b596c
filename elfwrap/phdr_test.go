package elfwrap

import (
	"testing"

	"github.com/xyproto/wrapstub/elfconst"
)

func TestSortLoadSegmentsOrdersByVaddr(t *testing.T) {
	phdrs := []elfconst.Phdr{
		{Vaddr: 0x2000, Memsz: 0x1000},
		{Vaddr: 0x1000, Memsz: 0x1000},
	}
	if err := sortLoadSegments(phdrs); err != nil {
		t.Fatalf("sortLoadSegments: %v", err)
	}
	if phdrs[0].Vaddr != 0x1000 || phdrs[1].Vaddr != 0x2000 {
		t.Fatalf("not sorted: %+v", phdrs)
	}
}

func TestSortLoadSegmentsRejectsOverlap(t *testing.T) {
	phdrs := []elfconst.Phdr{
		{Vaddr: 0x1000, Memsz: 0x2000},
		{Vaddr: 0x1800, Memsz: 0x1000},
	}
	if err := sortLoadSegments(phdrs); err == nil {
		t.Fatalf("expected an overlap error")
	}
}

func TestNewProgramHeaderTablePlacesStubAfterLoads(t *testing.T) {
	existing := []elfconst.Phdr{
		{Type: elfconst.PTLoad, Vaddr: 0x1000},
		{Type: elfconst.PTNote},
		{Type: elfconst.PTLoad, Vaddr: 0x2000},
	}
	table, stubIndex, err := newProgramHeaderTable(existing)
	if err != nil {
		t.Fatalf("newProgramHeaderTable: %v", err)
	}
	if stubIndex != 2 {
		t.Fatalf("stubIndex = %d, want 2 (after both LOAD entries)", stubIndex)
	}
	if len(table) != 4 {
		t.Fatalf("len(table) = %d, want 4", len(table))
	}
	if table[3].Type != elfconst.PTNote {
		t.Fatalf("expected the non-LOAD entry last, got %+v", table[3])
	}
}

func TestNewProgramHeaderTableRejectsExistingPhdr(t *testing.T) {
	existing := []elfconst.Phdr{{Type: elfconst.PTPhdr}}
	if _, _, err := newProgramHeaderTable(existing); err == nil {
		t.Fatalf("expected error for unexpected PT_PHDR")
	}
}
