package strtable

import (
	"testing"

	"github.com/xyproto/wrapstub/arena"
)

func newTestTable(t *testing.T) (*arena.Arena, *Table) {
	t.Helper()
	a, err := arena.New(4096)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	t.Cleanup(func() { a.Destroy() })
	return a, New(a, 4)
}

func TestInsertLookup(t *testing.T) {
	_, tbl := newTestTable(t)
	tbl.Insert(Str("PATH"), Str("/usr/bin"))
	v, ok := tbl.Lookup(Str("PATH"))
	if !ok || v.String() != "/usr/bin" {
		t.Fatalf("Lookup = %q, %v", v, ok)
	}
}

func TestInsertOverwritesDuplicateKey(t *testing.T) {
	_, tbl := newTestTable(t)
	tbl.Insert(Str("PATH"), Str("/usr/bin"))
	tbl.Insert(Str("PATH"), Str("/opt/bin"))
	v, ok := tbl.Lookup(Str("PATH"))
	if !ok || v.String() != "/opt/bin" {
		t.Fatalf("Lookup after overwrite = %q, %v", v, ok)
	}
}

func TestRemoveTombstonesKey(t *testing.T) {
	_, tbl := newTestTable(t)
	tbl.Insert(Str("PATH"), Str("/usr/bin"))
	tbl.Remove(Str("PATH"))
	if _, ok := tbl.Lookup(Str("PATH")); ok {
		t.Fatalf("expected Lookup to miss after Remove")
	}
}

func TestClearTombstonesEveryKey(t *testing.T) {
	_, tbl := newTestTable(t)
	tbl.Insert(Str("A"), Str("1"))
	tbl.Insert(Str("B"), Str("2"))
	tbl.Clear()
	count := 0
	tbl.Iterate(func(k, v Str) bool { count++; return true })
	if count != 0 {
		t.Fatalf("expected 0 live entries after Clear, got %d", count)
	}
}

func TestJoinSkipsNilParts(t *testing.T) {
	a, _ := newTestTable(t)
	got, err := Join(a, ':', []Str{nil, Str("/a"), nil, Str("/b")})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if got.String() != "/a:/b" {
		t.Fatalf("Join = %q, want /a:/b", got)
	}
}

func TestJoinAllNilYieldsEmpty(t *testing.T) {
	a, _ := newTestTable(t)
	got, err := Join(a, ':', []Str{nil, nil})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Join = %q, want empty", got)
	}
}
