package manifest

import (
	"encoding/binary"
	"fmt"
)

// FooterSize is the fixed size, in bytes, of the trailer appended after
// the stub binary and manifest JSON at the end of a wrapped binary.
const FooterSize = 16

var footerMagic = [8]byte{'t', 'a', 'n', 'g', 'r', 'a', 'm', 0}

// Footer describes the layout of the 16-byte trailer a wrapped binary
// carries after its manifest JSON: a magic string and the manifest's
// byte length, letting a reader locate the manifest from end-of-file
// without needing a section table entry.
type Footer struct {
	Version      uint32
	ManifestSize uint32
}

// EncodeFooter serializes f into its 16-byte on-disk form.
func EncodeFooter(f Footer) []byte {
	b := make([]byte, FooterSize)
	copy(b[0:8], footerMagic[:])
	binary.LittleEndian.PutUint32(b[8:12], f.Version)
	binary.LittleEndian.PutUint32(b[12:16], f.ManifestSize)
	return b
}

// DecodeFooter parses the trailing 16 bytes of a wrapped binary.
func DecodeFooter(b []byte) (Footer, error) {
	if len(b) != FooterSize {
		return Footer{}, fmt.Errorf("manifest: footer: want %d bytes, got %d", FooterSize, len(b))
	}
	if string(b[0:8]) != string(footerMagic[:]) {
		return Footer{}, fmt.Errorf("manifest: footer: bad magic %q", b[0:8])
	}
	return Footer{
		Version:      binary.LittleEndian.Uint32(b[8:12]),
		ManifestSize: binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}
