// Package arena implements a bump-pointer allocator backed by anonymous
// mmap segments. Allocations are never freed individually; the whole
// arena is torn down at once via Destroy.
package arena

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// defaultSegmentPages is the number of pages requested for the first
// segment and the minimum for any new segment grown on demand; a larger
// request gets a segment sized to fit it.
const defaultSegmentPages = 16

// maxPages bounds the total memory an Arena may hand out across all of
// its segments. It exists as a sanity backstop, not a tunable budget.
const maxPages = 0x40000

// segment is one mmap'd region in the arena's segment chain.
type segment struct {
	base []byte
	used uintptr
	next *segment
}

// Arena is a single-threaded bump allocator. It is not safe for
// concurrent use; nothing in this module calls it concurrently.
type Arena struct {
	pageSize   uintptr
	head       *segment
	totalPages uintptr
}

// New creates an Arena whose segments are multiples of pageSize bytes.
// pageSize must be a power of two; a pageSize of 0 selects 4096.
func New(pageSize uintptr) (*Arena, error) {
	if pageSize == 0 {
		pageSize = 4096
	}
	a := &Arena{pageSize: pageSize}
	if err := a.grow(defaultSegmentPages); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Arena) grow(pages uintptr) error {
	if a.totalPages+pages > maxPages {
		return fmt.Errorf("arena: grow: would exceed %d page soft cap", maxPages)
	}
	length := int(pages * a.pageSize)
	b, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("arena: mmap %d bytes: %w", length, err)
	}
	seg := &segment{base: b, next: a.head}
	a.head = seg
	a.totalPages += pages
	return nil
}

// Alloc returns a zeroed slice of size bytes aligned to alignment, which
// must be a power of two. size must be a multiple of alignment, matching
// the invariant this allocator is grounded on.
func (a *Arena) Alloc(size, alignment uintptr) ([]byte, error) {
	if alignment == 0 {
		alignment = 1
	}
	if size%alignment != 0 {
		return nil, fmt.Errorf("arena: alloc: size %d not a multiple of alignment %d", size, alignment)
	}

	seg := a.head
	pad := alignPad(seg.used, alignment)
	if seg.used+pad+size > uintptr(len(seg.base)) {
		pages := pagesFor(size, a.pageSize)
		if pages < defaultSegmentPages {
			pages = defaultSegmentPages
		}
		if err := a.grow(pages); err != nil {
			return nil, err
		}
		seg = a.head
		pad = 0
	}

	start := seg.used + pad
	seg.used = start + size
	return seg.base[start : start+size : start+size], nil
}

func alignPad(used, alignment uintptr) uintptr {
	rem := used % alignment
	if rem == 0 {
		return 0
	}
	return alignment - rem
}

func pagesFor(size, pageSize uintptr) uintptr {
	return (size + pageSize - 1) / pageSize
}

// AllocString copies s into the arena and returns a view over the copy.
func (a *Arena) AllocString(s []byte) ([]byte, error) {
	if len(s) == 0 {
		return nil, nil
	}
	b, err := a.Alloc(uintptr(len(s)), 1)
	if err != nil {
		return nil, err
	}
	copy(b, s)
	return b, nil
}

// AllocCString copies s into the arena followed by a NUL terminator,
// the arena-backed equivalent of a cstr() helper.
func (a *Arena) AllocCString(s []byte) ([]byte, error) {
	b, err := a.Alloc(uintptr(len(s)+1), 1)
	if err != nil {
		return nil, err
	}
	copy(b, s)
	b[len(s)] = 0
	return b, nil
}

// Destroy unmaps every segment in the chain. A failure to unmap is
// treated as fatal by callers, matching the invariant that arena
// teardown cannot be partially completed.
func (a *Arena) Destroy() error {
	for seg := a.head; seg != nil; {
		next := seg.next
		if err := unix.Munmap(seg.base); err != nil {
			return fmt.Errorf("arena: munmap: %w", err)
		}
		seg = next
	}
	a.head = nil
	return nil
}
