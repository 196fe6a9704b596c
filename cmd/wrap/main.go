// Command wrap splices a stub LOAD segment and a manifest NOTE section
// into an existing ELF-64 binary, producing a self-wrapping executable.
package main

import (
	"fmt"
	"os"

	"github.com/xyproto/env/v2"
	"github.com/xyproto/wrapstub/elfwrap"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: wrap <arch> <input> <output> <stub.elf> <stub.bin> <manifest>\n")
}

func main() {
	if len(os.Args) != 7 {
		usage()
		os.Exit(111)
	}

	cfg := elfwrap.Config{
		Arch:         os.Args[1],
		InputPath:    os.Args[2],
		OutputPath:   os.Args[3],
		StubElfPath:  os.Args[4],
		StubBinPath:  os.Args[5],
		ManifestPath: os.Args[6],
		Verbose:      env.Bool("TANGRAM_TRACING"),
	}

	if err := elfwrap.Wrap(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "wrap: %v\n", err)
		os.Exit(111)
	}
}
