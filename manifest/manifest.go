// Package manifest implements the restricted-JSON manifest format and
// the template/environment-mutation interpreter that turns a parsed
// manifest into an Executable description and a process environment.
package manifest

import (
	"fmt"

	"github.com/xyproto/wrapstub/arena"
	"github.com/xyproto/wrapstub/strtable"
)

// InterpreterKind selects how the wrapped process is launched.
type InterpreterKind int

const (
	InterpreterNormal InterpreterKind = iota
	InterpreterLDLinux
	InterpreterLDMusl
)

// Manifest is the fully interpreted form of a manifest document: an
// executable description, an optional dynamic interpreter, and the
// environment mutations to apply before exec.
type Manifest struct {
	Entrypoint      uint64
	Executable      strtable.Str
	Interpreter     strtable.Str
	InterpreterKind InterpreterKind
	LibraryPaths    []strtable.Str
	Preloads        []strtable.Str
	Argv            []strtable.Str
	InterpArgv      []strtable.Str
	LDLibraryPath   strtable.Str
	LDPreload       strtable.Str
	Env             *strtable.Table
}

// cx carries the allocator, the manifest under construction, and the
// artifacts directory resolved for this process, threaded through every
// interpreter function the same way a parse context
// struct is.
type cx struct {
	arena        *arena.Arena
	manifest     *Manifest
	artifactsDir strtable.Str
}

// Parse parses a manifest document and produces its fully interpreted
// Manifest, including LD_LIBRARY_PATH/LD_PRELOAD synthesis and the
// TANGRAM_RESTORE_*/TANGRAM_CLEAR_* bookkeeping needed to undo the
// injected values inside the wrapped process, if it execs a further
// dynamic loader of its own.
func Parse(a *arena.Arena, data []byte, artifactsDir strtable.Str) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest: parse: empty input")
	}
	root, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	return FromValue(a, root, artifactsDir)
}

// FromValue builds a Manifest from an already-decoded JSON root value,
// for callers (tests, tooling) that constructed or parsed the document
// separately.
func FromValue(a *arena.Arena, root *Value, artifactsDir strtable.Str) (*Manifest, error) {
	m := &Manifest{Env: strtable.New(a, 16)}
	c := &cx{arena: a, manifest: m, artifactsDir: artifactsDir}
	if err := c.fromJSON(root); err != nil {
		return nil, err
	}
	if err := c.finishEnv(); err != nil {
		return nil, err
	}
	return m, nil
}
