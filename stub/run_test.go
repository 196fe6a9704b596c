package stub

import "testing"

// TestLoadBiasUsesOnDiskEntryNotManifestEntrypoint guards against a
// regression where the load bias was computed as AT_ENTRY minus the
// manifest's entrypoint field instead of AT_ENTRY minus the binary's
// own e_entry. That mistake makes directEntrypoint's
// bias+manifestEntrypoint collapse back to exactly AT_ENTRY for every
// manifest, silently turning the address-mode dispatch path into a
// no-op that always jumps back to the stub's own entry point.
func TestLoadBiasUsesOnDiskEntryNotManifestEntrypoint(t *testing.T) {
	const atEntry = 0x560000001000
	const ehdrEntry = 0x1000
	const manifestEntrypoint = 0x2000

	bias := loadBias(atEntry, ehdrEntry)
	if want := uint64(atEntry - ehdrEntry); bias != want {
		t.Fatalf("loadBias(%#x, %#x) = %#x, want %#x", atEntry, ehdrEntry, bias, want)
	}

	got := directEntrypoint(bias, manifestEntrypoint)
	if got == uintptr(atEntry) {
		t.Fatalf("directEntrypoint collapsed to AT_ENTRY (%#x): address-mode dispatch is a no-op", atEntry)
	}
	want := uintptr(atEntry - ehdrEntry + manifestEntrypoint)
	if got != want {
		t.Fatalf("directEntrypoint(%#x, %#x) = %#x, want %#x", bias, manifestEntrypoint, got, want)
	}
}

func TestLoadBiasZeroWhenEntryUnrelocated(t *testing.T) {
	if got := loadBias(0x401000, 0x401000); got != 0 {
		t.Fatalf("loadBias with matching addresses = %#x, want 0", got)
	}
}
