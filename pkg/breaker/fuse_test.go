package breaker

import (
	"testing"
	"time"
)

func newTestFuse() (*VendorTypeFuse, *testClock) {
	clock := newTestClock()
	return NewVendorTypeFuse(time.Minute, WithFuseClock(clock.Now)), clock
}

func TestVendorTypeFuse_OpenAndExpiry(t *testing.T) {
	f, clock := newTestFuse()

	if f.IsOpen("vendor-a", "claude") {
		t.Fatal("fuse should start closed")
	}

	f.OpenFuse("vendor-a", "claude", "all endpoints failed")
	if !f.IsOpen("vendor-a", "claude") {
		t.Fatal("fuse should be open after OpenFuse")
	}

	clock.Advance(59 * time.Second)
	if !f.IsOpen("vendor-a", "claude") {
		t.Error("fuse should still be open inside the window")
	}

	clock.Advance(time.Second)
	if f.IsOpen("vendor-a", "claude") {
		t.Error("fuse should expire once the window elapses, with no close call")
	}
}

func TestVendorTypeFuse_PairsAreIndependent(t *testing.T) {
	f, _ := newTestFuse()

	f.OpenFuse("vendor-a", "claude", "outage")

	if f.IsOpen("vendor-a", "gemini") {
		t.Error("different provider type should be unaffected")
	}
	if f.IsOpen("vendor-b", "claude") {
		t.Error("different vendor should be unaffected")
	}
}

func TestVendorTypeFuse_ReopenRestartsWindow(t *testing.T) {
	f, clock := newTestFuse()

	f.OpenFuse("vendor-a", "claude", "outage")
	clock.Advance(45 * time.Second)
	f.OpenFuse("vendor-a", "claude", "still down")
	clock.Advance(45 * time.Second)

	if !f.IsOpen("vendor-a", "claude") {
		t.Error("reopening should restart the expiry window")
	}
}

func TestVendorTypeFuse_Snapshots(t *testing.T) {
	f, clock := newTestFuse()

	f.OpenFuse("vendor-a", "claude", "outage")
	f.OpenFuse("vendor-b", "gemini", "probe failures")
	clock.Advance(2 * time.Minute)
	f.OpenFuse("vendor-c", "codex", "fresh outage")

	snaps := f.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("Snapshots() returned %d entries, want 1 (expired fuses hidden)", len(snaps))
	}
	if snaps[0].VendorID != "vendor-c" || snaps[0].Reason != "fresh outage" {
		t.Errorf("snapshot = %+v", snaps[0])
	}
}
