package tis

// stsWriteKind classifies an STS write after the TPM2-only side-effect
// bits are consumed and everything outside {COMMAND_READY, TPM_GO,
// RESPONSE_RETRY} is masked away. A write that doesn't resolve to exactly
// one of these (including zero, or more than one bit set) has no effect.
type stsWriteKind int

const (
	stsWriteNone stsWriteKind = iota
	stsWriteCommandReady
	stsWriteTPMGo
	stsWriteResponseRetry
)

func classifyStsWrite(masked uint32) stsWriteKind {
	switch masked {
	case StsCommandReady:
		return stsWriteCommandReady
	case StsTPMGo:
		return stsWriteTPMGo
	case StsResponseRetry:
		return stsWriteResponseRetry
	default:
		return stsWriteNone
	}
}

// transitions maps (current state, write kind) to the handler that
// performs the resulting state change. Table-driven rather than nested
// per-state conditionals, per the locality's single writer invariant: at
// most one goroutine ever calls writeSts for a given locality at a time.
var transitions = map[State]map[stsWriteKind]func(d *Device, locty uint8){
	StateIdle: {
		stsWriteCommandReady: func(d *Device, locty uint8) {
			stsSet(&d.loc[locty], StsCommandReady)
			d.loc[locty].State = StateReady
			d.raiseIRQ(locty, IntCommandReady)
		},
	},
	StateReady: {
		stsWriteCommandReady: func(d *Device, locty uint8) {
			d.rwOffset = 0
		},
	},
	StateReception: {
		stsWriteCommandReady: func(d *Device, locty uint8) {
			d.prepAbort(locty, locty)
		},
		stsWriteTPMGo: func(d *Device, locty uint8) {
			if d.loc[locty].Sts&StsExpect == 0 {
				d.sendCommand(locty)
			}
		},
	},
	StateExecution: {
		stsWriteCommandReady: func(d *Device, locty uint8) {
			d.prepAbort(locty, locty)
		},
	},
	StateCompletion: {
		stsWriteCommandReady: func(d *Device, locty uint8) {
			d.rwOffset = 0
			d.loc[locty].State = StateReady
			if d.loc[locty].Sts&StsCommandReady == 0 {
				stsSet(&d.loc[locty], StsCommandReady)
				d.raiseIRQ(locty, IntCommandReady)
			}
			d.loc[locty].Sts &^= StsDataAvailable
		},
		stsWriteResponseRetry: func(d *Device, locty uint8) {
			d.rwOffset = 0
			stsSet(&d.loc[locty], StsValid|StsDataAvailable)
		},
	},
}

// writeSts handles a guest write to STS for its active locality.
func (d *Device) writeSts(locty uint8, val uint32) {
	if d.beVersion == Version2_0 {
		if val&StsCommandCancel != 0 && d.loc[locty].State == StateExecution {
			d.backend.CancelCmd()
		}
		if val&StsResetEstablishmentBit != 0 && (locty == 3 || locty == 4) {
			d.backend.ResetEstablishedFlag(locty)
		}
	}

	kind := classifyStsWrite(val & (StsCommandReady | StsTPMGo | StsResponseRetry))
	if kind == stsWriteNone {
		return
	}
	if handler, ok := transitions[d.loc[locty].State][kind]; ok {
		handler(d, locty)
	}
}
