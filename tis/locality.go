package tis

// State is a locality's position in the command lifecycle.
type State int

const (
	StateIdle State = iota
	StateReady
	StateReception
	StateExecution
	StateCompletion
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateReception:
		return "reception"
	case StateExecution:
		return "execution"
	case StateCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// Locality holds the per-locality register file. It is a plain record: it
// never reaches back into the owning Device.
type Locality struct {
	State   State
	Access  uint32 // ACCESS, bits 0-7 meaningful
	Sts     uint32 // STS
	Inte    uint32 // INT_ENABLE
	Ints    uint32 // INT_STATUS
	IfaceID uint32 // INTERFACE_ID
}

// stsSet overwrites the non-sticky bits of STS, preserving SELFTEST_DONE
// and the family bits rather than clobbering them on every write.
func stsSet(l *Locality, flags uint32) {
	l.Sts &= StsSelftestDone | StsFamilyMask
	l.Sts |= flags
}
