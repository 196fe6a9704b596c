package elfwrap

import (
	"fmt"

	"github.com/xyproto/wrapstub/elfconst"
)

// Names of the placeholder sections the input executable carries for
// the wrapper to repurpose: one becomes the stub binary's PROGBITS
// section, the other the manifest's NOTE section.
const (
	stubSectionName     = ".text.tangram-stub"
	manifestSectionName = ".note.tg-manifest"
)

// analysis summarizes the structural facts the wrapper needs out of the
// input executable's program and section header tables.
type analysis struct {
	interpIndex int // index of the PT_INTERP entry, or -1 if none
	maxVaddr    uint64
	maxAlign    uint64

	stubSectionIndex     int // index of .text.tangram-stub, or -1 if none
	manifestSectionIndex int // index of .note.tg-manifest, or -1 if none
}

// analyze scans v's program headers for its PT_INTERP entry (if any),
// the highest PT_LOAD end address, and the largest PT_LOAD alignment,
// then locates the placeholder stub and manifest sections via the
// section header string table.
func analyze(v *view) (analysis, error) {
	a := analysis{interpIndex: -1, stubSectionIndex: -1, manifestSectionIndex: -1}
	for i := 0; i < int(v.ehdr.Phnum); i++ {
		p := v.phdr(i)
		switch p.Type {
		case elfconst.PTLoad:
			end := p.Vaddr + p.Memsz
			if end > a.maxVaddr {
				a.maxVaddr = end
			}
			if p.Align > a.maxAlign {
				a.maxAlign = p.Align
			}
		case elfconst.PTInterp:
			if a.interpIndex != -1 {
				return analysis{}, fmt.Errorf("elfwrap: multiple PT_INTERP segments found")
			}
			a.interpIndex = i
		}
	}

	if _, idx, ok := sectionLookup(v, stubSectionName); ok {
		a.stubSectionIndex = idx
	}
	if _, idx, ok := sectionLookup(v, manifestSectionName); ok {
		a.manifestSectionIndex = idx
	}
	return a, nil
}

// sectionLookup locates a named section via the section header string
// table, honoring the SHN_XINDEX overflow encoding for e_shnum/
// e_shstrndx the same way debug/elf's NewFile does. Wrap uses it to
// find the placeholder ".text.tangram-stub" and ".note.tg-manifest"
// sections so their headers can be patched to describe the spliced-in
// stub segment and manifest bytes.
func sectionLookup(v *view, name string) (elfconst.Shdr, int, bool) {
	shnum := int(v.ehdr.Shnum)
	shstrndx := int(v.ehdr.Shstrndx)
	if shnum == 0 && v.ehdr.Shoff != 0 {
		first := v.shdr(0)
		shnum = int(first.Size)
		if shstrndx == elfconst.SHNXindex {
			shstrndx = int(first.Link)
		}
	}
	if shnum == 0 || shstrndx >= shnum {
		return elfconst.Shdr{}, 0, false
	}
	strtab := v.shdr(shstrndx)
	strtabData := v.data[strtab.Offset : strtab.Offset+strtab.Size]

	for i := 0; i < shnum; i++ {
		s := v.shdr(i)
		n := cstr(strtabData, int(s.Name))
		if n == name {
			return s, i, true
		}
	}
	return elfconst.Shdr{}, 0, false
}

func cstr(b []byte, off int) string {
	end := off
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[off:end])
}
