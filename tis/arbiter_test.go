package tis

import (
	"testing"

	"example.com/tpmtis/tis/swtpm"
)

func newTestDevice(t *testing.T, version Version) (*Device, *swtpm.Stub) {
	t.Helper()
	be := swtpm.New(version, BufferMax, swtpm.EchoHandler)
	dev, err := NewDevice(Config{IRQ: 10, Backend: be})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev, be
}

// TestRequestUseGrantsOwnershipWhenIdle pins that a single REQUEST_USE
// against an otherwise idle arbiter grants ACTIVE_LOCALITY immediately.
func TestRequestUseGrantsOwnershipWhenIdle(t *testing.T) {
	dev, _ := newTestDevice(t, Version2_0)

	dev.mu.Lock()
	dev.handleAccessWrite(2, AccessRequestUse)
	active := dev.activeLocty
	flags := dev.loc[2].Access
	dev.mu.Unlock()

	if active != 2 {
		t.Fatalf("active locality = %d, want 2", active)
	}
	if flags&AccessActiveLocality == 0 {
		t.Fatalf("ACTIVE_LOCALITY not set on granted locality: 0x%02x", flags)
	}
}

// TestAtMostOneActiveLocality pins the core invariant: granting a second
// locality never leaves two ACTIVE_LOCALITY bits set.
func TestAtMostOneActiveLocality(t *testing.T) {
	dev, _ := newTestDevice(t, Version2_0)

	dev.mu.Lock()
	dev.handleAccessWrite(1, AccessRequestUse)
	dev.handleAccessWrite(3, AccessRequestUse) // queued, 1 still owns it
	dev.mu.Unlock()

	dev.mu.Lock()
	count := 0
	for l := range dev.loc {
		if dev.loc[l].Access&AccessActiveLocality != 0 {
			count++
		}
	}
	dev.mu.Unlock()

	if count != 1 {
		t.Fatalf("active locality count = %d, want 1", count)
	}
}

// TestSeizeTransfersOwnershipAndMarksBeenSeized exercises a higher
// locality seizing from a lower active one.
func TestSeizeTransfersOwnershipAndMarksBeenSeized(t *testing.T) {
	dev, _ := newTestDevice(t, Version2_0)

	dev.mu.Lock()
	dev.handleAccessWrite(1, AccessRequestUse)
	dev.handleAccessWrite(3, AccessSeize)
	active := dev.activeLocty
	oldFlags := dev.loc[1].Access
	newFlags := dev.loc[3].Access
	dev.mu.Unlock()

	if active != 3 {
		t.Fatalf("active locality after seize = %d, want 3", active)
	}
	if oldFlags&AccessBeenSeized == 0 {
		t.Fatalf("seized-from locality missing BEEN_SEIZED: 0x%02x", oldFlags)
	}
	if newFlags&AccessActiveLocality == 0 {
		t.Fatalf("seizing locality missing ACTIVE_LOCALITY: 0x%02x", newFlags)
	}
}

// TestSeizeDeniedFromLowerLocality pins that SEIZE only succeeds
// against a strictly lower active locality.
func TestSeizeDeniedFromLowerLocality(t *testing.T) {
	dev, _ := newTestDevice(t, Version2_0)

	dev.mu.Lock()
	dev.handleAccessWrite(3, AccessRequestUse)
	dev.handleAccessWrite(1, AccessSeize) // 1 < 3, must be denied
	active := dev.activeLocty
	seizeFlag := dev.loc[1].Access & AccessSeize
	dev.mu.Unlock()

	if active != 3 {
		t.Fatalf("active locality = %d, want 3 (seize from lower locality must fail)", active)
	}
	if seizeFlag != 0 {
		t.Fatalf("locality 1 kept SEIZE set despite a denied seize")
	}
}

// TestSeizeLowerClearOffByOne pins the verbatim-preserved off-by-one in
// the original device's SEIZE handling: when locality N seizes, lower
// localities 0..N-2 have SEIZE cleared but locality N-1 does not.
func TestSeizeLowerClearOffByOne(t *testing.T) {
	dev, _ := newTestDevice(t, Version2_0)

	dev.mu.Lock()
	// No one active; localities 1 and 2 both mark SEIZE pending state by
	// going through a seize themselves isn't representative, so poke the
	// bits directly to set up "every lower locality already has SEIZE
	// set" and then have locality 3 seize.
	dev.loc[0].Access |= AccessSeize
	dev.loc[1].Access |= AccessSeize
	dev.loc[2].Access |= AccessSeize
	dev.handleAccessWrite(3, AccessSeize)
	got0 := dev.loc[0].Access & AccessSeize
	got1 := dev.loc[1].Access & AccessSeize
	got2 := dev.loc[2].Access & AccessSeize
	active := dev.activeLocty
	dev.mu.Unlock()

	// The seize itself succeeds and ownership moves to locality 3 (its own
	// transient SEIZE bit is cleared again by newActiveLocality once
	// ownership transfers, the same as the original).
	if active != 3 {
		t.Fatalf("active locality = %d, want 3", active)
	}
	if got0 != 0 {
		t.Errorf("locality 0 SEIZE = 0x%x, want cleared", got0)
	}
	if got1 != 0 {
		t.Errorf("locality 1 SEIZE = 0x%x, want cleared", got1)
	}
	if got2 == 0 {
		t.Errorf("locality 2 (locty-1) SEIZE was cleared; the off-by-one must leave it set")
	}
}

// TestPendingRequestVisibleToOtherLocalities covers the PENDING_REQUEST
// computed bit: it must appear in every locality's ACCESS read except the
// requester's own.
func TestPendingRequestVisibleToOtherLocalities(t *testing.T) {
	dev, _ := newTestDevice(t, Version2_0)

	dev.mu.Lock()
	dev.handleAccessWrite(2, AccessRequestUse) // grants locality 2 immediately (idle)
	dev.handleAccessWrite(0, AccessRequestUse) // queued: 2 already owns it
	self := dev.accessRead(0)
	active := dev.accessRead(2)
	dev.mu.Unlock()

	if self&AccessPendingRequest != 0 {
		t.Errorf("requester's own ACCESS read should not show PENDING_REQUEST")
	}
	if active&AccessPendingRequest == 0 {
		t.Errorf("active locality should see PENDING_REQUEST while locality 0's request is queued")
	}
}
