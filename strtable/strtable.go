// Package strtable implements the pointer+length string view and the
// arena-backed hash table used to hold a manifest's environment map.
package strtable

import (
	"bytes"

	"github.com/xyproto/wrapstub/arena"
)

// Str is a string view into arena-owned memory. It is not necessarily
// NUL-terminated; callers that need a C-style string use
// (*arena.Arena).AllocCString separately.
type Str []byte

// Equal reports whether two views hold identical bytes.
func (s Str) Equal(o Str) bool {
	return bytes.Equal(s, o)
}

// String satisfies fmt.Stringer for debug tracing.
func (s Str) String() string {
	return string(s)
}

const (
	fnvOffsetBasis uint64 = 0xcbf29ce484222325
	fnvPrime       uint64 = 0x100000001b3
)

func fnv1a(s Str) uint64 {
	h := fnvOffsetBasis
	for _, b := range s {
		h ^= uint64(b)
		h *= fnvPrime
	}
	return h
}

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// node is one entry in a bucket's singly-linked chain. A tombstoned
// node (Key == nil) stays linked so that Iterate's bucket-major,
// chain-minor walk order is stable across Remove calls, matching the
// table's duplicate-key behavior.
type node struct {
	key  Str
	val  Str
	next *node
}

// Table is an FNV-1a hash table with power-of-two bucket capacity and
// separate chaining. Nodes are ordinary Go heap allocations; the Arena
// passed to New is kept on the table but nodes are not allocated from it.
type Table struct {
	arena    *arena.Arena
	buckets  []*node
	capacity uint64
}

// New creates a Table with at least minBuckets buckets, rounded up to
// the next power of two.
func New(a *arena.Arena, minBuckets uint64) *Table {
	if minBuckets == 0 {
		minBuckets = 16
	}
	cap := nextPow2(minBuckets)
	return &Table{
		arena:    a,
		buckets:  make([]*node, cap),
		capacity: cap,
	}
}

func (t *Table) bucketFor(key Str) uint64 {
	return fnv1a(key) & (t.capacity - 1)
}

// Insert stores val under key, overwriting any existing value for an
// equal key (including a key that was previously tombstoned by Remove).
func (t *Table) Insert(key, val Str) {
	idx := t.bucketFor(key)
	var free *node
	for n := t.buckets[idx]; n != nil; n = n.next {
		if n.key != nil && n.key.Equal(key) {
			n.val = val
			return
		}
		if n.key == nil && free == nil {
			free = n
		}
	}
	if free != nil {
		free.key, free.val = key, val
		return
	}
	t.buckets[idx] = &node{key: key, val: val, next: t.buckets[idx]}
}

// Lookup returns the value stored under key, if any.
func (t *Table) Lookup(key Str) (Str, bool) {
	idx := t.bucketFor(key)
	for n := t.buckets[idx]; n != nil; n = n.next {
		if n.key != nil && n.key.Equal(key) {
			return n.val, true
		}
	}
	return nil, false
}

// Remove tombstones the node holding key, if present, so it no longer
// matches Lookup but its slot is available for reuse by a later Insert.
func (t *Table) Remove(key Str) {
	idx := t.bucketFor(key)
	for n := t.buckets[idx]; n != nil; n = n.next {
		if n.key != nil && n.key.Equal(key) {
			n.key, n.val = nil, nil
			return
		}
	}
}

// Clear tombstones every node in every bucket, the table-wide
// equivalent of the env "unset" mutation applied to every key.
func (t *Table) Clear() {
	for _, n := range t.buckets {
		for ; n != nil; n = n.next {
			n.key, n.val = nil, nil
		}
	}
}

// Iterate walks the table bucket-major, chain-minor, skipping
// tombstoned nodes, calling fn(key, val) for each live entry until fn
// returns false or the table is exhausted.
func (t *Table) Iterate(fn func(key, val Str) bool) {
	for _, n := range t.buckets {
		for ; n != nil; n = n.next {
			if n.key == nil {
				continue
			}
			if !fn(n.key, n.val) {
				return
			}
		}
	}
}

// Join concatenates parts with sep between them, skipping any nil part
// the same way a renderer skips an absent prior value
// rather than rendering it as an empty path segment.
// A zero sep joins the parts with no separator.
func Join(a *arena.Arena, sep byte, parts []Str) (Str, error) {
	var n int
	first := true
	for _, p := range parts {
		if p == nil {
			continue
		}
		if !first && sep != 0 {
			n++
		}
		first = false
		n += len(p)
	}

	out, err := a.Alloc(uintptr(n), 1)
	if err != nil {
		return nil, err
	}

	var off int
	first = true
	for _, p := range parts {
		if p == nil {
			continue
		}
		if !first && sep != 0 {
			out[off] = sep
			off++
		}
		first = false
		off += copy(out[off:], p)
	}
	return Str(out), nil
}
