// Package elfwrap implements the host-side binary wrapper: splicing a
// stub LOAD segment and a manifest NOTE section into an existing ELF-64
// executable.
package elfwrap

import (
	"fmt"
	"io"
	"os"

	"github.com/xyproto/wrapstub/elfconst"
	"golang.org/x/sys/unix"
)

// concatBufSize matches the wrapper's 32 KiB copy buffer size.
const concatBufSize = 2 << 14

// concat appends the full contents of src to dst: it reads src from its
// start and writes at the current end of dst.
func concat(dst *os.File, src *os.File) error {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("elfwrap: seek %s: %w", src.Name(), err)
	}
	if _, err := dst.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("elfwrap: seek %s: %w", dst.Name(), err)
	}
	buf := make([]byte, concatBufSize)
	if _, err := io.CopyBuffer(dst, src, buf); err != nil {
		return fmt.Errorf("elfwrap: copy %s -> %s: %w", src.Name(), dst.Name(), err)
	}
	return nil
}

// view is a memory-mapped read-only or read-write window over an ELF
// file, giving direct access to its header and program header table.
type view struct {
	data []byte
	ehdr elfconst.Ehdr
}

func mapELF(path string, writable bool) (*view, error) {
	flag := os.O_RDONLY
	prot := unix.PROT_READ
	if writable {
		flag = os.O_RDWR
		prot |= unix.PROT_WRITE
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("elfwrap: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("elfwrap: stat %s: %w", path, err)
	}
	if info.Size() < elfconst.EHeaderSize {
		return nil, fmt.Errorf("elfwrap: %s is too small to be an ELF file", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("elfwrap: mmap %s: %w", path, err)
	}

	v := &view{data: data, ehdr: elfconst.DecodeEhdr(data)}
	if err := v.validate(); err != nil {
		unix.Munmap(data)
		return nil, err
	}
	return v, nil
}

func (v *view) validate() error {
	e := v.ehdr
	if e.Ident[0] != 0x7f || e.Ident[1] != 'E' || e.Ident[2] != 'L' || e.Ident[3] != 'F' {
		return fmt.Errorf("elfwrap: not an ELF file")
	}
	if e.Ident[elfconst.EIClass] != elfconst.ELFClass64 || e.Ident[elfconst.EIData] != elfconst.ELFDataLSB {
		return fmt.Errorf("elfwrap: not a 64-bit little-endian ELF file")
	}
	if e.Phentsize != elfconst.PHeaderSize {
		return fmt.Errorf("elfwrap: unexpected program header entry size %d", e.Phentsize)
	}
	return nil
}

func (v *view) checkMachine(machine uint16) error {
	if v.ehdr.Machine != machine {
		return fmt.Errorf("elfwrap: unsupported architecture (e_machine=%#x, want %#x)", v.ehdr.Machine, machine)
	}
	return nil
}

// phdr returns the n'th program header entry.
func (v *view) phdr(n int) elfconst.Phdr {
	off := int(v.ehdr.Phoff) + n*elfconst.PHeaderSize
	return elfconst.DecodePhdr(v.data[off : off+elfconst.PHeaderSize])
}

// setPhdr overwrites the n'th program header entry in place.
func (v *view) setPhdr(n int, p elfconst.Phdr) {
	off := int(v.ehdr.Phoff) + n*elfconst.PHeaderSize
	elfconst.EncodePhdr(v.data[off:off+elfconst.PHeaderSize], p)
}

func (v *view) setEhdr(e elfconst.Ehdr) {
	elfconst.EncodeEhdr(v.data[:elfconst.EHeaderSize], e)
	v.ehdr = e
}

// shdr returns the n'th section header entry.
func (v *view) shdr(n int) elfconst.Shdr {
	off := int(v.ehdr.Shoff) + n*elfconst.SHeaderSize
	return elfconst.DecodeShdr(v.data[off : off+elfconst.SHeaderSize])
}

// setShdr overwrites the n'th section header entry in place.
func (v *view) setShdr(n int, s elfconst.Shdr) {
	off := int(v.ehdr.Shoff) + n*elfconst.SHeaderSize
	elfconst.EncodeShdr(v.data[off:off+elfconst.SHeaderSize], s)
}

func (v *view) close() error {
	return unix.Munmap(v.data)
}
