package tis

// prepAbort begins transferring ownership away from locty towards next.
// If a command is currently executing anywhere, the abort is deferred to
// the back-end's cancellation and finished asynchronously by
// onRequestCompleted; otherwise it completes immediately.
func (d *Device) prepAbort(locty, next uint8) {
	d.abortingLocty = locty
	d.nextLocty = next

	for l := range d.loc {
		if d.loc[l].State == StateExecution {
			d.backend.CancelCmd()
			return
		}
	}
	d.finishAbort()
}

// finishAbort hands ownership to nextLocty and, if the abort was a
// same-locality reset (COMMAND_READY write during Reception/Execution),
// puts that locality back in Ready.
func (d *Device) finishAbort() {
	d.rwOffset = 0
	if d.abortingLocty == d.nextLocty {
		d.loc[d.abortingLocty].State = StateReady
		stsSet(&d.loc[d.abortingLocty], StsCommandReady)
		d.raiseIRQ(d.abortingLocty, IntCommandReady)
	}
	d.newActiveLocality(d.nextLocty)
	d.nextLocty = NoLocality
	d.abortingLocty = NoLocality
}
