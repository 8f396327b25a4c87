package tis

// Version identifies which TPM command/response family a back-end speaks.
// It changes which sticky STS family bits and INTERFACE_ID flags the core
// reports, and whether STS_COMMAND_CANCEL / RESET_ESTABLISHMENT_BIT are
// recognized at all.
type Version int

const (
	VersionUnspecified Version = iota
	Version1_2
	Version2_0
)

// Command is the snapshot handed to a back-end once the guest TPM_GOes a
// locality. In and Out alias the same underlying buffer: the back-end is
// expected to fully consume In before writing its response into Out, and
// nothing else touches that memory until the completion it signals has
// been observed by the core.
type Command struct {
	Locality uint8
	In       []byte
	Out      []byte
}

// Completion reports how a delivered Command finished. Ret carries a
// back-end failure for logging and test assertions only: a guest never
// learns a command failed at this layer, it just sees Completion state
// with no response it can use. That's a known gap, not fixed here.
type Completion struct {
	Ret          error
	SelfTestDone bool
}

// Backend is the contract the core needs from whatever actually executes
// TPM commands: a real software TPM, a passthrough to a hardware part, or
// a test double.
type Backend interface {
	Version() Version
	BufferSize() int
	HadStartupError() bool
	EstablishedFlag() bool
	ResetEstablishedFlag(locality uint8)

	Reset() error
	Startup(bufferSize int) error

	// DeliverRequest hands off cmd for asynchronous execution. The
	// returned channel receives exactly one Completion and is then
	// never used again.
	DeliverRequest(cmd Command) <-chan Completion

	// CancelCmd best-effort cancels whatever command is currently
	// executing. A back-end that can't interrupt in-flight work may
	// ignore it and complete normally; the core doesn't depend on
	// cancellation actually happening.
	CancelCmd()
}

func (d *Device) capabilities() uint32 {
	if d.beVersion == Version2_0 {
		return CapabilitiesSupported2_0
	}
	return CapabilitiesSupported1_2
}

// sendCommand snapshots the pending request out of the shared buffer and
// hands it to the back-end, then forwards its eventual completion onto
// the device's single completion channel so it's always applied under
// Device.mu regardless of which goroutine the back-end runs on.
func (d *Device) sendCommand(locty uint8) {
	d.loc[locty].State = StateExecution
	cmd := Command{
		Locality: locty,
		In:       d.buffer[:d.rwOffset],
		Out:      d.buffer[:d.beBufferSize],
	}
	ch := d.backend.DeliverRequest(cmd)
	go func() {
		comp, ok := <-ch
		if !ok {
			return
		}
		select {
		case d.completions <- completionEvent{locty: locty, comp: comp}:
		case <-d.stopCh:
		}
	}()
}

// onRequestCompleted applies a Completion. Called on the device's
// completion-draining goroutine, under Device.mu.
func (d *Device) onRequestCompleted(locty uint8, comp Completion) {
	if comp.SelfTestDone {
		for l := range d.loc {
			d.loc[l].Sts |= StsSelftestDone
		}
	}
	stsSet(&d.loc[locty], StsValid|StsDataAvailable)
	d.loc[locty].State = StateCompletion
	d.rwOffset = 0

	if isValidLocality(d.nextLocty) {
		d.finishAbort()
	}

	d.raiseIRQ(locty, IntDataAvailable|IntStsValid)

	if d.debug && comp.Ret != nil {
		d.logger.Printf("tis: locality %d command completed with backend error: %v", locty, comp.Ret)
	}
}
