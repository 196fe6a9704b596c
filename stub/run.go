package stub

import (
	"fmt"
	"os"

	"github.com/xyproto/wrapstub/arena"
	"github.com/xyproto/wrapstub/manifest"
)

// pageSizeFallback is used when AT_PAGESZ is absent from the auxiliary
// vector, matching the ordinary page size on every architecture this
// stub targets.
const pageSizeFallback = 4096

// loadBias returns the difference between where this binary's own LOAD
// segments actually ended up at runtime (AT_ENTRY) and where its
// on-disk ELF header says its entry point is (e_entry). It must be
// computed from the binary's own e_entry, never from the manifest's
// entrypoint field: the manifest's entrypoint is an address-mode
// target to add the bias to, not this binary's own load address.
func loadBias(atEntry, ehdrEntry uint64) uint64 {
	return atEntry - ehdrEntry
}

// directEntrypoint computes the absolute address to jump to for a
// manifest that does not name a dynamic interpreter: this binary's own
// load bias plus the manifest's entrypoint offset.
func directEntrypoint(bias uint64, manifestEntrypoint uint64) uintptr {
	return uintptr(bias + manifestEntrypoint)
}

// Run is the stub's logical entrypoint: given the raw process stack
// pointer the kernel (or an exec'ing parent) handed it, it scans argv/
// envp/auxv, loads the embedded manifest, optionally loads a dynamic
// interpreter, rewrites the program header table, synthesizes a fresh
// process stack, and transfers control. It only returns on error --
// success ends with a tail jump that never comes back.
func Run(sp uintptr) error {
	stack, err := ScanStack(sp)
	if err != nil {
		return err
	}
	opts := ParseOptions(stack)
	opts.trace("options: tracing=%v suppress_args=%v suppress_env=%v", opts.EnableTracing, opts.SuppressArgs, opts.SuppressEnv)

	pageSz := stack.AuxvGlob[AtPagesz]
	if pageSz == 0 {
		pageSz = pageSizeFallback
	}

	mainArena, err := arena.New(uintptr(pageSz))
	if err != nil {
		return fmt.Errorf("stub: run: create arena: %w", err)
	}

	nPhdr, nPhnum, nEntry, nBase := -1, -1, -1, -1
	for i, e := range stack.Auxv {
		if nEntry >= 0 && nBase >= 0 {
			break
		}
		switch e.Type {
		case AtPhdr:
			if nPhdr >= 0 {
				return fmt.Errorf("stub: run: duplicate AT_PHDR")
			}
			nPhdr = i
		case AtPhnum:
			if nPhnum >= 0 {
				return fmt.Errorf("stub: run: duplicate AT_PHNUM")
			}
			nPhnum = i
		case AtEntry:
			if nEntry >= 0 {
				return fmt.Errorf("stub: run: duplicate AT_ENTRY")
			}
			nEntry = i
		case AtBase:
			if nBase >= 0 {
				return fmt.Errorf("stub: run: duplicate AT_BASE")
			}
			nBase = i
		}
	}
	// A correct binary always carries both: treating auxv index 0 as
	// "missing" (as a bare truthiness check on the index would) is
	// wrong, since index 0 is a perfectly valid position.
	if nPhdr < 0 || nEntry < 0 {
		return fmt.Errorf("stub: run: missing AT_PHDR or AT_ENTRY")
	}

	artifactsDir, err := manifest.FindArtifactsDir(os.Executable)
	if err != nil {
		return err
	}

	m, exeEhdr, exeOld, err := ReadExecutable(mainArena, stack, opts, artifactsDir)
	if err != nil {
		return err
	}
	opts.trace("read executable, entrypoint=%#x executable=%q interpreter=%q", m.Entrypoint, m.Executable, m.Interpreter)

	loadAddress := loadBias(stack.AuxvGlob[AtEntry], exeEhdr.Entry)

	for _, arg := range stack.Argv[1:] {
		if arg == "--tangram-print-manifest" {
			fmt.Fprintf(os.Stderr, "%+v\n", m)
			os.Exit(0)
		}
	}

	if len(m.Executable) > 0 {
		return Exec(m, stack.Argv[0])
	}
	if m.Entrypoint == 0 {
		return fmt.Errorf("stub: run: missing entrypoint")
	}

	var entrypoint uintptr
	if len(m.Interpreter) > 0 {
		stack.Auxv[nEntry].Val = loadAddress + m.Entrypoint

		loaded, err := LoadInterpreter(string(m.Interpreter))
		if err != nil {
			return err
		}
		if nBase >= 0 {
			stack.Auxv[nBase].Val = uint64(loaded.BaseAddress)
		}
		entrypoint = loaded.BaseAddress + uintptr(loaded.Entry)
	} else {
		entrypoint = directEntrypoint(loadAddress, m.Entrypoint)
	}

	preserved, err := arena.New(uintptr(pageSz))
	if err != nil {
		return fmt.Errorf("stub: run: create preserved arena: %w", err)
	}

	newPhdrs, newPhdrAddr, err := BuildProgramHeaders(preserved, []byte(m.Interpreter), uintptr(loadAddress), uintptr(exeEhdr.Entry), exeOld)
	if err != nil {
		return err
	}
	stack.Auxv[nPhdr].Val = uint64(newPhdrAddr)
	stack.Auxv[nPhnum].Val = uint64(len(newPhdrs))

	newSP, err := PrepareStack(m, stack)
	if err != nil {
		return err
	}

	if err := mainArena.Destroy(); err != nil {
		return fmt.Errorf("stub: run: %w", err)
	}
	// preserved is intentionally not destroyed: the new program header
	// table and the PT_INTERP path string it holds must remain valid
	// after this point, since the jump below never returns to run them
	// through a deferred cleanup.

	opts.trace("about to transfer control, entrypoint=%#x", entrypoint)
	Jump(newSP, entrypoint)
	return fmt.Errorf("stub: run: unreachable")
}
