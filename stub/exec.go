package stub

import (
	"fmt"

	"github.com/xyproto/wrapstub/manifest"
	"github.com/xyproto/wrapstub/strtable"
	"golang.org/x/sys/unix"
)

// Exec replaces the current process image via execve, launching the
// manifest's interpreter (if set) or its executable directly. argv0 is
// the value the launched process will see reported back to it via
// --argv0 when an interpreter is in play, matching how ld-linux/ld-musl
// expect to be told the "real" argv[0] of the program they load.
func Exec(m *manifest.Manifest, argv0 string) error {
	if len(m.Executable) == 0 {
		return fmt.Errorf("stub: exec: missing executable")
	}
	if argv0 == "" {
		return fmt.Errorf("stub: exec: missing argv0")
	}

	pathname := string(m.Executable)
	if len(m.Interpreter) > 0 {
		pathname = string(m.Interpreter)
	}

	argv := make([]string, 0, len(m.Argv)+len(m.InterpArgv)+4)
	argv = append(argv, pathname)
	if len(m.Interpreter) > 0 {
		for _, a := range m.InterpArgv {
			argv = append(argv, string(a))
		}
		argv = append(argv, "--argv0", argv0)
		if m.InterpreterKind == manifest.InterpreterLDMusl {
			argv = append(argv, "--")
		}
		argv = append(argv, string(m.Executable))
	}
	for _, a := range m.Argv {
		argv = append(argv, string(a))
	}

	envp := make([]string, 0, 16)
	m.Env.Iterate(func(key, val strtable.Str) bool {
		envp = append(envp, string(key)+"="+string(val))
		return true
	})

	err := unix.Exec(pathname, argv, envp)
	return fmt.Errorf("stub: exec: execve %s failed: %w", pathname, err)
}
