// Package elfconst holds the raw on-disk ELF-64 structure layouts and
// the structural constants shared by the binary wrapper and the stub
// runtime. Both sides need to mutate program headers in place, which
// rules out depending on debug/elf's read-only File abstraction for
// anything but constant lookups.
package elfconst

import "encoding/binary"

const (
	EIClass      = 4
	EIData       = 5
	ELFClass64   = 2
	ELFDataLSB   = 1
	EHeaderSize  = 64
	PHeaderSize  = 56
	SHeaderSize  = 64
	NoteHdrSize  = 12
	SHNXindex    = 0xffff
	SHNUndef     = 0
)

// Segment types (p_type).
const (
	PTNull    = 0
	PTLoad    = 1
	PTDynamic = 2
	PTInterp  = 3
	PTNote    = 4
	PTPhdr    = 6
)

// Segment flags (p_flags).
const (
	PFX = 1 << 0
	PFW = 1 << 1
	PFR = 1 << 2
)

// Section types (sh_type).
const (
	SHTNull     = 0
	SHTProgBits = 1
	SHTStrTab   = 3
	SHTNote     = 7
)

// Section flags (sh_flags).
const (
	SHFAlloc     = 1 << 1
	SHFExecinstr = 1 << 2
)

// Machine types (e_machine), matching the subset of architectures this
// module cares about.
const (
	EMX8664   = 0x3e
	EMAArch64 = 0xb7
)

// ArchMachine maps a CLI architecture name to its e_machine constant.
func ArchMachine(arch string) (uint16, bool) {
	switch arch {
	case "x86_64", "amd64":
		return EMX8664, true
	case "aarch64", "arm64":
		return EMAArch64, true
	default:
		return 0, false
	}
}

// Ehdr is the raw 64-byte ELF header.
type Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// Phdr is one 56-byte ELF-64 program header entry.
type Phdr struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Shdr is one 64-byte ELF-64 section header entry.
type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// DecodeEhdr parses the header at the start of b.
func DecodeEhdr(b []byte) Ehdr {
	var h Ehdr
	copy(h.Ident[:], b[0:16])
	o := binary.LittleEndian
	h.Type = o.Uint16(b[16:])
	h.Machine = o.Uint16(b[18:])
	h.Version = o.Uint32(b[20:])
	h.Entry = o.Uint64(b[24:])
	h.Phoff = o.Uint64(b[32:])
	h.Shoff = o.Uint64(b[40:])
	h.Flags = o.Uint32(b[48:])
	h.Ehsize = o.Uint16(b[52:])
	h.Phentsize = o.Uint16(b[54:])
	h.Phnum = o.Uint16(b[56:])
	h.Shentsize = o.Uint16(b[58:])
	h.Shnum = o.Uint16(b[60:])
	h.Shstrndx = o.Uint16(b[62:])
	return h
}

// EncodeEhdr writes h into b, which must be at least EHeaderSize bytes.
func EncodeEhdr(b []byte, h Ehdr) {
	copy(b[0:16], h.Ident[:])
	o := binary.LittleEndian
	o.PutUint16(b[16:], h.Type)
	o.PutUint16(b[18:], h.Machine)
	o.PutUint32(b[20:], h.Version)
	o.PutUint64(b[24:], h.Entry)
	o.PutUint64(b[32:], h.Phoff)
	o.PutUint64(b[40:], h.Shoff)
	o.PutUint32(b[48:], h.Flags)
	o.PutUint16(b[52:], h.Ehsize)
	o.PutUint16(b[54:], h.Phentsize)
	o.PutUint16(b[56:], h.Phnum)
	o.PutUint16(b[58:], h.Shentsize)
	o.PutUint16(b[60:], h.Shnum)
	o.PutUint16(b[62:], h.Shstrndx)
}

// DecodePhdr parses one program header entry at b[0:56].
func DecodePhdr(b []byte) Phdr {
	o := binary.LittleEndian
	return Phdr{
		Type:   o.Uint32(b[0:]),
		Flags:  o.Uint32(b[4:]),
		Offset: o.Uint64(b[8:]),
		Vaddr:  o.Uint64(b[16:]),
		Paddr:  o.Uint64(b[24:]),
		Filesz: o.Uint64(b[32:]),
		Memsz:  o.Uint64(b[40:]),
		Align:  o.Uint64(b[48:]),
	}
}

// EncodePhdr writes p into b[0:56].
func EncodePhdr(b []byte, p Phdr) {
	o := binary.LittleEndian
	o.PutUint32(b[0:], p.Type)
	o.PutUint32(b[4:], p.Flags)
	o.PutUint64(b[8:], p.Offset)
	o.PutUint64(b[16:], p.Vaddr)
	o.PutUint64(b[24:], p.Paddr)
	o.PutUint64(b[32:], p.Filesz)
	o.PutUint64(b[40:], p.Memsz)
	o.PutUint64(b[48:], p.Align)
}

// DecodeShdr parses one section header entry at b[0:64].
func DecodeShdr(b []byte) Shdr {
	o := binary.LittleEndian
	return Shdr{
		Name:      o.Uint32(b[0:]),
		Type:      o.Uint32(b[4:]),
		Flags:     o.Uint64(b[8:]),
		Addr:      o.Uint64(b[16:]),
		Offset:    o.Uint64(b[24:]),
		Size:      o.Uint64(b[32:]),
		Link:      o.Uint32(b[40:]),
		Info:      o.Uint32(b[44:]),
		Addralign: o.Uint64(b[48:]),
		Entsize:   o.Uint64(b[56:]),
	}
}

// EncodeShdr writes s into b[0:64].
func EncodeShdr(b []byte, s Shdr) {
	o := binary.LittleEndian
	o.PutUint32(b[0:], s.Name)
	o.PutUint32(b[4:], s.Type)
	o.PutUint64(b[8:], s.Flags)
	o.PutUint64(b[16:], s.Addr)
	o.PutUint64(b[24:], s.Offset)
	o.PutUint64(b[32:], s.Size)
	o.PutUint32(b[40:], s.Link)
	o.PutUint32(b[44:], s.Info)
	o.PutUint64(b[48:], s.Addralign)
	o.PutUint64(b[56:], s.Entsize)
}

// Align rounds n up to the next multiple of align, matching the
// ALIGN(m,n) macro pattern used throughout ELF layout code.
func Align(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
