package tis

// accessRead computes the ACCESS byte a given locality observes: its own
// flags, minus SEIZE (never read back), plus the two bits that are
// computed rather than stored (PENDING_REQUEST, TPM_ESTABLISHMENT).
func (d *Device) accessRead(locty uint8) uint32 {
	val := d.loc[locty].Access &^ AccessSeize
	if d.anyOtherLocalityRequesting(locty) {
		val |= AccessPendingRequest
	}
	if !d.backend.EstablishedFlag() {
		val |= AccessTPMEstablishment
	}
	return val
}

func (d *Device) anyOtherLocalityRequesting(locty uint8) bool {
	for l := uint8(0); l < NumLocalities; l++ {
		if l == locty {
			continue
		}
		if d.loc[l].Access&AccessRequestUse != 0 {
			return true
		}
	}
	return false
}

// handleAccessWrite applies a guest write to ACCESS. Order matters: SEIZE
// dominates, then ACTIVE_LOCALITY release (with possible requeue to a
// waiting locality), then BEEN_SEIZED ack, then SEIZE grant, then
// REQUEST_USE.
func (d *Device) handleAccessWrite(locty uint8, val uint32) {
	setNewLocty := true
	if val&AccessSeize != 0 {
		val &^= AccessRequestUse | AccessActiveLocality
	}

	newActive := d.activeLocty

	if val&AccessActiveLocality != 0 {
		if d.activeLocty == locty {
			next := uint8(NoLocality)
			for c := int(NumLocalities) - 1; c >= 0; c-- {
				if d.loc[c].Access&AccessRequestUse != 0 {
					next = uint8(c)
					break
				}
			}
			if isValidLocality(next) {
				setNewLocty = false
				d.prepAbort(locty, next)
			} else {
				newActive = NoLocality
			}
		} else {
			d.loc[locty].Access &^= AccessRequestUse
		}
	}

	if val&AccessBeenSeized != 0 {
		d.loc[locty].Access &^= AccessBeenSeized
	}

	if val&AccessSeize != 0 {
		canSeize := (isValidLocality(d.activeLocty) && locty > d.activeLocty) || !isValidLocality(d.activeLocty)
		if canSeize && d.loc[locty].Access&AccessSeize == 0 {
			higherSeize := false
			for l := locty + 1; l < NumLocalities; l++ {
				if d.loc[l].Access&AccessSeize != 0 {
					higherSeize = true
					break
				}
			}
			if !higherSeize {
				// Mirrors the original's C integer-promotion behavior for
				// "locty - 1" when locty is 0 or 1: the loop bound is
				// computed in int, not uint8, so it does not wrap and
				// instead simply clears nothing for low localities. The
				// upper bound excludes locty-1 itself.
				for l := 0; l < int(locty)-1; l++ {
					d.loc[l].Access &^= AccessSeize
				}
				d.loc[locty].Access |= AccessSeize
				setNewLocty = false
				d.prepAbort(d.activeLocty, locty)
			}
		}
	}

	if val&AccessRequestUse != 0 {
		if d.activeLocty != locty {
			if isValidLocality(d.activeLocty) {
				d.loc[locty].Access |= AccessRequestUse
			} else {
				newActive = locty
			}
		}
	}

	if setNewLocty {
		d.newActiveLocality(newActive)
	}
}

// newActiveLocality transfers ownership to newActive, clearing the old
// owner's flags (and marking it BEEN_SEIZED if it lost ownership to a
// seize rather than a release) and raising LOCALITY_CHANGED if ownership
// actually moved.
func (d *Device) newActiveLocality(newActive uint8) {
	changed := d.activeLocty != newActive

	if changed && isValidLocality(d.activeLocty) {
		seized := isValidLocality(newActive) && d.loc[newActive].Access&AccessSeize != 0
		if seized {
			d.loc[d.activeLocty].Access &^= AccessActiveLocality
			d.loc[d.activeLocty].Access |= AccessBeenSeized
		} else {
			d.loc[d.activeLocty].Access &^= AccessActiveLocality | AccessRequestUse
		}
	}

	d.activeLocty = newActive

	if isValidLocality(newActive) {
		d.loc[newActive].Access |= AccessActiveLocality
		d.loc[newActive].Access &^= AccessRequestUse | AccessSeize
	}

	if changed {
		d.raiseIRQ(d.activeLocty, IntLocalityChanged)
	}
}
