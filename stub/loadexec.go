package stub

import (
	"fmt"
	"os"

	"github.com/xyproto/wrapstub/arena"
	"github.com/xyproto/wrapstub/elfconst"
	"github.com/xyproto/wrapstub/manifest"
	"github.com/xyproto/wrapstub/strtable"
)

// ReadExecutable loads the manifest and footer embedded at the end of
// the running binary (found via /proc/self/exe), seeds the manifest's
// environment table from the scanned process envp, and -- unless
// suppressed -- prepends the manifest's own argv ahead of the stack's
// argv[1:]. It also returns the running binary's own on-disk ELF header
// and program header table: the header's e_entry is needed by the
// caller to recover the load bias (AT_ENTRY - e_entry), and the program
// header table is needed later to build the replacement one.
//
// The manifest's bytes sit immediately before the trailing footer that
// Wrap appended, so discovery here is a tail read rather than a
// section-table walk. Wrap does patch a .note.tg-manifest section
// header to describe the same bytes, but it sizes and positions that
// section to land exactly at end-of-file, so the two lookups are
// equivalent; the tail read is simpler and needs no section table.
func ReadExecutable(mem *arena.Arena, stack *Stack, opts Options, artifactsDir strtable.Str) (*manifest.Manifest, elfconst.Ehdr, []elfconst.Phdr, error) {
	exe, err := os.Open("/proc/self/exe")
	if err != nil {
		return nil, elfconst.Ehdr{}, nil, fmt.Errorf("stub: read executable: open /proc/self/exe: %w", err)
	}
	defer exe.Close()

	var ehdrBuf [elfconst.EHeaderSize]byte
	if _, err := exe.ReadAt(ehdrBuf[:], 0); err != nil {
		return nil, elfconst.Ehdr{}, nil, fmt.Errorf("stub: read executable: read ehdr: %w", err)
	}
	ehdr := elfconst.DecodeEhdr(ehdrBuf[:])

	phBuf := make([]byte, uint64(ehdr.Phnum)*uint64(ehdr.Phentsize))
	if _, err := exe.ReadAt(phBuf, int64(ehdr.Phoff)); err != nil {
		return nil, elfconst.Ehdr{}, nil, fmt.Errorf("stub: read executable: read phdrs: %w", err)
	}
	phdrs := make([]elfconst.Phdr, ehdr.Phnum)
	for i := range phdrs {
		off := i * int(ehdr.Phentsize)
		phdrs[i] = elfconst.DecodePhdr(phBuf[off : off+elfconst.PHeaderSize])
	}

	info, err := exe.Stat()
	if err != nil {
		return nil, elfconst.Ehdr{}, nil, fmt.Errorf("stub: read executable: stat: %w", err)
	}
	size := info.Size()
	if size < int64(manifest.FooterSize) {
		return nil, elfconst.Ehdr{}, nil, fmt.Errorf("stub: read executable: file too small for a footer")
	}

	footerBuf := make([]byte, manifest.FooterSize)
	if _, err := exe.ReadAt(footerBuf, size-int64(manifest.FooterSize)); err != nil {
		return nil, elfconst.Ehdr{}, nil, fmt.Errorf("stub: read executable: read footer: %w", err)
	}
	footer, err := manifest.DecodeFooter(footerBuf)
	if err != nil {
		return nil, elfconst.Ehdr{}, nil, fmt.Errorf("stub: read executable: %w", err)
	}

	manifestOffset := size - int64(manifest.FooterSize) - int64(footer.ManifestSize)
	if manifestOffset < 0 {
		return nil, elfconst.Ehdr{}, nil, fmt.Errorf("stub: read executable: manifest size %d exceeds file size", footer.ManifestSize)
	}
	manifestBuf := make([]byte, footer.ManifestSize)
	if _, err := exe.ReadAt(manifestBuf, manifestOffset); err != nil {
		return nil, elfconst.Ehdr{}, nil, fmt.Errorf("stub: read executable: read manifest: %w", err)
	}

	m, err := manifest.Parse(mem, manifestBuf, artifactsDir)
	if err != nil {
		return nil, elfconst.Ehdr{}, nil, fmt.Errorf("stub: read executable: parse manifest: %w", err)
	}

	if !opts.SuppressEnv {
		seedEnvFromProcess(m.Env, stack.Envp)
	}

	if !opts.SuppressArgs {
		full := make([]strtable.Str, 0, len(m.Argv)+len(stack.Argv)-1)
		full = append(full, m.Argv...)
		for _, tailArg := range stack.Argv[1:] {
			full = append(full, strtable.Str(tailArg))
		}
		m.Argv = full
	}

	return m, ehdr, phdrs, nil
}

// seedEnvFromProcess splits each "key=value" string on its first '='
// and inserts it into env. Strings without '=' are skipped.
func seedEnvFromProcess(env *strtable.Table, envp []string) {
	for _, e := range envp {
		idx := -1
		for i := 0; i < len(e); i++ {
			if e[i] == '=' {
				idx = i
				break
			}
		}
		if idx <= 0 {
			continue
		}
		key := strtable.Str(e[:idx])
		val := strtable.Str(e[idx+1:])
		env.Insert(key, val)
	}
}
