package elfwrap

import (
	"fmt"
	"os"

	"github.com/xyproto/wrapstub/elfconst"
	"github.com/xyproto/wrapstub/manifest"
)

// Config holds the arguments to Wrap, one field per positional CLI
// argument.
type Config struct {
	Arch         string
	InputPath    string
	OutputPath   string
	StubElfPath  string
	StubBinPath  string
	ManifestPath string
	Verbose      bool
}

func (c Config) trace(format string, args ...any) {
	if c.Verbose {
		fmt.Fprintf(os.Stderr, "wrap: "+format+"\n", args...)
	}
}

// Wrap splices a stub LOAD segment and the manifest NOTE section into
// Config.InputPath, writing the result to Config.OutputPath.
func Wrap(cfg Config) error {
	machine, ok := elfconst.ArchMachine(cfg.Arch)
	if !ok {
		return fmt.Errorf("elfwrap: unknown architecture %q", cfg.Arch)
	}

	stubBinInfo, err := os.Stat(cfg.StubBinPath)
	if err != nil {
		return fmt.Errorf("elfwrap: stat stub.bin: %w", err)
	}
	manifestInfo, err := os.Stat(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("elfwrap: stat manifest: %w", err)
	}

	if err := copyFile(cfg.OutputPath, cfg.InputPath); err != nil {
		return err
	}
	cfg.trace("copied %s to %s", cfg.InputPath, cfg.OutputPath)

	out, err := os.OpenFile(cfg.OutputPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("elfwrap: open %s: %w", cfg.OutputPath, err)
	}
	defer out.Close()
	outInfo, err := out.Stat()
	if err != nil {
		return fmt.Errorf("elfwrap: stat %s: %w", cfg.OutputPath, err)
	}
	outSize := outInfo.Size()

	outView, err := mapELF(cfg.OutputPath, true)
	if err != nil {
		return err
	}
	if err := outView.checkMachine(machine); err != nil {
		outView.close()
		return err
	}

	stubView, err := mapELF(cfg.StubElfPath, false)
	if err != nil {
		outView.close()
		return err
	}
	if err := stubView.checkMachine(machine); err != nil {
		outView.close()
		stubView.close()
		return err
	}
	stubEntry := stubView.ehdr.Entry
	if err := stubView.close(); err != nil {
		outView.close()
		return err
	}

	an, err := analyze(outView)
	if err != nil {
		outView.close()
		return err
	}
	cfg.trace("analysis: interpIndex=%d max_vaddr=%#x max_align=%#x", an.interpIndex, an.maxVaddr, an.maxAlign)

	existing := make([]elfconst.Phdr, outView.ehdr.Phnum)
	for i := range existing {
		existing[i] = outView.phdr(i)
	}

	var (
		newTable    []elfconst.Phdr
		stubIndex   int
		headersOffs uint64
		haveNew     bool
	)
	if an.interpIndex == -1 {
		newTable, stubIndex, err = newProgramHeaderTable(existing)
		if err != nil {
			outView.close()
			return err
		}
		headersOffs = elfconst.Align(uint64(outSize), 64)
		haveNew = true
		cfg.trace("created new program headers")
	} else {
		stubIndex = an.interpIndex
	}

	var stubOffs uint64
	if haveNew {
		headersSize := uint64(len(newTable)) * elfconst.PHeaderSize
		stubOffs = elfconst.Align(headersOffs+headersSize, an.maxAlign)
	} else {
		stubOffs = elfconst.Align(uint64(outSize), an.maxAlign)
	}

	// p_filesz/p_memsz cover both the stub binary image and the
	// manifest bytes that follow it in the same LOAD segment -- a
	// stub-binary-only accounting would leave the manifest unmapped
	// at runtime.
	stubPayloadSize := uint64(stubBinInfo.Size()) + uint64(manifestInfo.Size())
	stubSize := elfconst.Align(stubPayloadSize, an.maxAlign)
	stubVaddr := elfconst.Align(an.maxVaddr, an.maxAlign)

	stubSegment := elfconst.Phdr{
		Type:   elfconst.PTLoad,
		Flags:  elfconst.PFR | elfconst.PFX,
		Align:  an.maxAlign,
		Offset: stubOffs,
		Paddr:  stubVaddr,
		Vaddr:  stubVaddr,
		Filesz: stubSize,
		Memsz:  stubSize,
	}
	cfg.trace("new segment vaddr=%#x memsz=%#x", stubSegment.Vaddr, stubSegment.Memsz)

	if an.stubSectionIndex >= 0 {
		s := outView.shdr(an.stubSectionIndex)
		s.Type = elfconst.SHTProgBits
		s.Flags = elfconst.SHFAlloc | elfconst.SHFExecinstr
		s.Addr = stubSegment.Vaddr
		s.Offset = stubSegment.Offset
		s.Size = uint64(stubBinInfo.Size())
		outView.setShdr(an.stubSectionIndex, s)
		cfg.trace("patched %s section addr=%#x offset=%#x size=%#x", stubSectionName, s.Addr, s.Offset, s.Size)
	}
	if an.manifestSectionIndex >= 0 {
		s := outView.shdr(an.manifestSectionIndex)
		s.Type = elfconst.SHTNote
		s.Flags = elfconst.SHFAlloc
		s.Addr = stubSegment.Vaddr + uint64(stubBinInfo.Size())
		s.Offset = stubSegment.Offset + uint64(stubBinInfo.Size())
		s.Size = uint64(manifestInfo.Size()) + uint64(manifest.FooterSize)
		outView.setShdr(an.manifestSectionIndex, s)
		cfg.trace("patched %s section addr=%#x offset=%#x size=%#x", manifestSectionName, s.Addr, s.Offset, s.Size)
	}

	newEhdr := outView.ehdr
	newEhdr.Entry = stubSegment.Vaddr + stubEntry

	if haveNew {
		newTable[stubIndex] = stubSegment
		newEhdr.Phoff = headersOffs
		newEhdr.Phnum = uint16(len(newTable))
	} else {
		existing[stubIndex] = stubSegment
		var loadOnly []elfconst.Phdr
		loadIdx := map[int]int{}
		for i, p := range existing {
			if p.Type == elfconst.PTLoad {
				loadIdx[len(loadOnly)] = i
				loadOnly = append(loadOnly, p)
			}
		}
		if err := sortLoadSegments(loadOnly); err != nil {
			outView.close()
			return err
		}
		for j, p := range loadOnly {
			existing[loadIdx[j]] = p
		}
		for i, p := range existing {
			outView.setPhdr(i, p)
		}
	}
	outView.setEhdr(newEhdr)

	if err := outView.close(); err != nil {
		return err
	}

	if err := out.Truncate(int64(stubOffs)); err != nil {
		return fmt.Errorf("elfwrap: truncate %s: %w", cfg.OutputPath, err)
	}
	cfg.trace("resized output to %d", stubOffs)

	if haveNew {
		if _, err := out.Seek(int64(headersOffs), 0); err != nil {
			return fmt.Errorf("elfwrap: seek %s: %w", cfg.OutputPath, err)
		}
		for _, p := range newTable {
			if err := writePhdr(out, p); err != nil {
				return err
			}
		}
		cfg.trace("wrote new program header table at %#x", headersOffs)
	}

	stubBin, err := os.Open(cfg.StubBinPath)
	if err != nil {
		return fmt.Errorf("elfwrap: open stub.bin: %w", err)
	}
	defer stubBin.Close()
	if err := concat(out, stubBin); err != nil {
		return err
	}
	cfg.trace("appended stub to binary")

	manifestFile, err := os.Open(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("elfwrap: open manifest: %w", err)
	}
	defer manifestFile.Close()
	if err := concat(out, manifestFile); err != nil {
		return err
	}
	cfg.trace("appended manifest to binary")

	footer := manifest.EncodeFooter(manifest.Footer{Version: 0, ManifestSize: uint32(manifestInfo.Size())})
	if _, err := out.Write(footer); err != nil {
		return fmt.Errorf("elfwrap: append footer: %w", err)
	}
	cfg.trace("appended footer to binary")
	return nil
}

func writePhdr(out *os.File, p elfconst.Phdr) error {
	b := make([]byte, elfconst.PHeaderSize)
	elfconst.EncodePhdr(b, p)
	_, err := out.Write(b)
	if err != nil {
		return fmt.Errorf("elfwrap: write program header: %w", err)
	}
	return nil
}

func copyFile(dstPath, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("elfwrap: open %s: %w", srcPath, err)
	}
	defer src.Close()
	dst, err := os.OpenFile(dstPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("elfwrap: create %s: %w", dstPath, err)
	}
	defer dst.Close()
	if err := concat(dst, src); err != nil {
		return err
	}
	return nil
}
