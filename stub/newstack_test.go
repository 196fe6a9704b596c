package stub

import (
	"testing"

	"github.com/xyproto/wrapstub/arena"
	"github.com/xyproto/wrapstub/manifest"
	"github.com/xyproto/wrapstub/strtable"
)

func TestPrepareStackProducesAlignedScannableStack(t *testing.T) {
	a, err := arena.New(4096)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	defer a.Destroy()

	m := &manifest.Manifest{
		Argv: []strtable.Str{strtable.Str("arg-from-manifest")},
		Env:  strtable.New(a, 16),
	}
	m.Env.Insert(strtable.Str("KEY"), strtable.Str("VALUE"))

	origStack := &Stack{
		Argv: []string{"/bin/orig"},
		Auxv: []AuxEntry{
			{Type: AtPagesz, Val: 4096},
			{Type: AtNull, Val: 0},
		},
	}

	sp, err := PrepareStack(m, origStack)
	if err != nil {
		t.Fatalf("PrepareStack: %v", err)
	}
	if sp%16 != 0 {
		t.Fatalf("sp %#x not 16-byte aligned", sp)
	}

	scanned, err := ScanStack(sp)
	if err != nil {
		t.Fatalf("ScanStack on prepared stack: %v", err)
	}
	if len(scanned.Argv) != 2 {
		t.Fatalf("argc = %d, want 2 (argv0 + manifest arg)", len(scanned.Argv))
	}
	if scanned.Argv[0] != "/bin/orig" {
		t.Fatalf("argv[0] = %q, want /bin/orig", scanned.Argv[0])
	}
	if scanned.Argv[1] != "arg-from-manifest" {
		t.Fatalf("argv[1] = %q, want arg-from-manifest", scanned.Argv[1])
	}
	foundEnv := false
	for _, e := range scanned.Envp {
		if e == "KEY=VALUE" {
			foundEnv = true
		}
	}
	if !foundEnv {
		t.Fatalf("expected KEY=VALUE in envp, got %v", scanned.Envp)
	}
	if len(scanned.Auxv) != len(origStack.Auxv) {
		t.Fatalf("auxc = %d, want %d (exactly auxc entries, not auxc+1)", len(scanned.Auxv), len(origStack.Auxv))
	}
}
