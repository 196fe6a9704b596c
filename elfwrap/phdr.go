package elfwrap

import (
	"fmt"

	"github.com/xyproto/wrapstub/elfconst"
)

// sortLoadSegments bubble-sorts the PT_LOAD subset of phdrs by p_vaddr,
// aborting if any two LOAD segments' [vaddr, vaddr+memsz) ranges
// overlap. Grounded on an elf_sort_segments-style bubble sort, with
// the overlap test restated as the actual range-overlap check its
// comment describes rather than its literal (looser) condition.
func sortLoadSegments(phdrs []elfconst.Phdr) error {
	for {
		swapped := false
		for n := 0; n < len(phdrs)-1; n++ {
			end := phdrs[n].Vaddr + phdrs[n].Memsz
			nextStart := phdrs[n+1].Vaddr
			nextEnd := phdrs[n+1].Vaddr + phdrs[n+1].Memsz
			if rangesOverlap(phdrs[n].Vaddr, end, nextStart, nextEnd) {
				return fmt.Errorf("elfwrap: overlapping PT_LOAD segments at vaddr %#x and %#x", phdrs[n].Vaddr, nextStart)
			}
			if end > nextStart {
				phdrs[n], phdrs[n+1] = phdrs[n+1], phdrs[n]
				swapped = true
			}
		}
		if !swapped {
			return nil
		}
	}
}

func rangesOverlap(aStart, aEnd, bStart, bEnd uint64) bool {
	return aStart < bEnd && bStart < aEnd
}

// newProgramHeaderTable builds a fresh program header table when the
// input executable has no PT_INTERP slot to repurpose: every existing
// PT_LOAD entry first, then a placeholder reserved for the stub
// segment, then every remaining non-PT_LOAD entry. The caller fills in
// the placeholder afterward.
func newProgramHeaderTable(existing []elfconst.Phdr) (table []elfconst.Phdr, stubIndex int, err error) {
	for _, p := range existing {
		if p.Type == elfconst.PTPhdr {
			return nil, 0, fmt.Errorf("elfwrap: unexpected PT_PHDR in input with no PT_INTERP")
		}
	}

	table = make([]elfconst.Phdr, 0, len(existing)+1)
	for _, p := range existing {
		if p.Type == elfconst.PTLoad {
			table = append(table, p)
		}
	}
	stubIndex = len(table)
	table = append(table, elfconst.Phdr{})
	for _, p := range existing {
		if p.Type != elfconst.PTLoad {
			table = append(table, p)
		}
	}
	return table, stubIndex, nil
}
