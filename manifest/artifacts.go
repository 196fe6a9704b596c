package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xyproto/env/v2"
	"github.com/xyproto/wrapstub/strtable"
)

const wellKnownArtifactsDir = "/.tangram/artifacts"
const systemArtifactsDir = "/opt/tangram/artifacts"

// FindArtifactsDir resolves the directory manifest templates resolve
// "artifact" components against. It checks, in order: a
// TANGRAM_ARTIFACTS_DIR override (an enrichment over the reference
// implementation, useful when neither well-known root exists, e.g. in
// tests), the two well-known roots, then an ancestor walk starting from
// the directory of the running executable (/proc/self/exe), upgraded
// from a cwd-based walk per the
// executable-relative behavior the distilled specification calls for.
func FindArtifactsDir(resolveExePath func() (string, error)) (strtable.Str, error) {
	if dir := env.Str("TANGRAM_ARTIFACTS_DIR", ""); dir != "" {
		return strtable.Str(dir), nil
	}
	if st, err := os.Stat(wellKnownArtifactsDir); err == nil && st.IsDir() {
		return strtable.Str(wellKnownArtifactsDir), nil
	}
	if st, err := os.Stat(systemArtifactsDir); err == nil && st.IsDir() {
		return strtable.Str(systemArtifactsDir), nil
	}

	exe, err := resolveExePath()
	if err != nil {
		return nil, fmt.Errorf("manifest: find artifacts dir: %w", err)
	}
	dir := filepath.Dir(exe)
	for {
		candidate := filepath.Join(dir, wellKnownArtifactsDir)
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return strtable.Str(candidate), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, fmt.Errorf("manifest: find artifacts dir: not found")
}
