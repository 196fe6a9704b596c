// Command stub is the freestanding program spliced into a wrapped
// binary by wrap: at launch it parses the manifest embedded in its own
// image and either execs the named executable or synthesizes a fresh
// process stack and jumps to an in-memory entrypoint.
//
// It is never invoked directly by a user -- wrap's output jumps into
// its code at a raw stack pointer, not through Go's normal runtime
// entry sequence -- so main here exists only to host Run for the
// --replay-stack test harness and to document the calling convention.
package main

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/xyproto/wrapstub/stub"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: stub --replay-stack=<path>\n")
}

func main() {
	if len(os.Args) != 2 || os.Args[1] == "" {
		usage()
		os.Exit(111)
	}
	const prefix = "--replay-stack="
	if len(os.Args[1]) <= len(prefix) || os.Args[1][:len(prefix)] != prefix {
		usage()
		os.Exit(111)
	}
	path := os.Args[1][len(prefix):]

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stub: read replay stack: %v\n", err)
		os.Exit(111)
	}
	sp := uintptr(unsafe.Pointer(&data[0]))

	if err := stub.Run(sp); err != nil {
		fmt.Fprintf(os.Stderr, "stub: %v\n", err)
		os.Exit(111)
	}
}
