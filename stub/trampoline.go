package stub

// jumpToEntrypoint is implemented in per-GOARCH assembly (trampoline_amd64.s,
// trampoline_arm64.s). It switches to stack, clears the registers a
// freshly exec'd process would have clear, and transfers control to
// entrypoint. It does not return.
func jumpToEntrypoint(stack, entrypoint uintptr)

// Jump is the exported entrypoint used by Run. It is a thin name
// so the asm symbol stays package-private.
func Jump(stack, entrypoint uintptr) {
	jumpToEntrypoint(stack, entrypoint)
}
