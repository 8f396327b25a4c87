// Package tis implements the TPM Interface Specification (TIS) register
// file: the memory-mapped protocol a guest uses to talk to a TPM over five
// arbitrated localities, independent of whatever actually executes the
// commands on the other side.
package tis

// Locality and addressing layout (TIS §5.1, 5.2).
const (
	NumLocalities = 5
	NoLocality    = 0xFF

	LocalityShift = 12
	BufferMax     = 4096
)

// WindowSize is the total MMIO footprint the core occupies: one 4 KiB
// register page per locality.
var WindowSize = uint32(NumLocalities) << LocalityShift

// Fixed identification values returned from DID_VID/RID regardless of
// back-end.
const (
	TPMVID = 0x1014 // PCI vendor ID, IBM
	TPMDID = 0x0001
	TPMRID = 0x0001
)

// Register offsets, masked to the low 12 bits of an address (the locality
// selector occupies bits 12-14 and is stripped before this switch).
const (
	RegAccess         uint32 = 0x00
	RegIntEnable      uint32 = 0x08
	RegIntVector      uint32 = 0x0C
	RegIntStatus      uint32 = 0x10
	RegIntfCapability uint32 = 0x14
	RegSTS            uint32 = 0x18
	RegDataFIFO       uint32 = 0x24
	RegInterfaceID    uint32 = 0x30
	RegDataXFIFO      uint32 = 0x80
	RegDataXFIFOEnd   uint32 = 0xBC
	RegDIDVID         uint32 = 0xF00
	RegRID            uint32 = 0xF04
)

// ACCESS register bits (byte-wide).
const (
	AccessTPMRegValidSTS   uint32 = 1 << 7
	AccessActiveLocality   uint32 = 1 << 5
	AccessBeenSeized       uint32 = 1 << 4
	AccessSeize            uint32 = 1 << 3
	AccessPendingRequest   uint32 = 1 << 2
	AccessRequestUse       uint32 = 1 << 1
	AccessTPMEstablishment uint32 = 1 << 0
)

// STS register bits.
const (
	StsValid         uint32 = 1 << 7
	StsCommandReady  uint32 = 1 << 6
	StsTPMGo         uint32 = 1 << 5
	StsDataAvailable uint32 = 1 << 4
	StsExpect        uint32 = 1 << 3
	StsSelftestDone  uint32 = 1 << 2
	StsResponseRetry uint32 = 1 << 1

	StsCommandCancel         uint32 = 1 << 24
	StsResetEstablishmentBit uint32 = 1 << 25
	StsFamilyMask            uint32 = 0x3 << 26
	StsFamily1_2             uint32 = 0 << 26
	StsFamily2_0             uint32 = 1 << 26

	BurstCountShift = 8
)

// INT_ENABLE / INT_STATUS bits.
const (
	IntEnabled          uint32 = 1 << 31
	IntPolarityMask     uint32 = 3 << 3
	IntPolarityLowLevel uint32 = 1 << 3

	IntDataAvailable   uint32 = 1 << 0
	IntStsValid        uint32 = 1 << 1
	IntLocalityChanged uint32 = 1 << 2
	IntCommandReady    uint32 = 1 << 7

	IntInterruptsSupported = IntLocalityChanged | IntStsValid | IntDataAvailable | IntCommandReady
)

// INTF_CAPABILITY bits.
const (
	CapInterruptLowLevel            uint32 = 1 << 4
	CapBurstCountDynamic            uint32 = 0 << 8
	CapDataTransfer64B              uint32 = 3 << 9
	CapInterfaceVersion1_3          uint32 = 2 << 28
	CapInterfaceVersion1_3ForTPM2_0 uint32 = 3 << 28

	CapabilitiesSupported1_2 = CapInterruptLowLevel | CapBurstCountDynamic | CapDataTransfer64B | CapInterfaceVersion1_3 | IntInterruptsSupported
	CapabilitiesSupported2_0 = CapInterruptLowLevel | CapBurstCountDynamic | CapDataTransfer64B | CapInterfaceVersion1_3ForTPM2_0 | IntInterruptsSupported
)

// INTERFACE_ID bits.
const (
	IfaceIDInterfaceTIS1_3  uint32 = 0xF
	IfaceIDInterfaceFIFO    uint32 = 0x0
	IfaceIDInterfaceVerFIFO uint32 = 0 << 4
	IfaceIDCap5Localities   uint32 = 1 << 8
	IfaceIDCapTISSupported  uint32 = 1 << 13
	IfaceIDIntSelLock       uint32 = 1 << 19

	IfaceIDSupportedFlags1_3 uint32 = IfaceIDInterfaceTIS1_3 | 0xFFFFFFF0
	IfaceIDSupportedFlags2_0 uint32 = IfaceIDInterfaceFIFO | IfaceIDInterfaceVerFIFO | IfaceIDCap5Localities | IfaceIDCapTISSupported
)

// NoDataByte is returned for any byte read the guest isn't entitled to.
const NoDataByte uint32 = 0xFF

func isValidLocality(l uint8) bool {
	return l < NumLocalities
}

// decodeAddress splits an MMIO offset into the locality it targets, the
// register it selects (masked to a 4-byte boundary), and the bit shift of
// the addressed byte lane within that register's 32-bit value.
func decodeAddress(addr uint32) (locty uint8, regOff uint32, shift uint8) {
	locty = uint8((addr >> LocalityShift) & 0x7)
	regOff = addr & 0xFFC
	shift = uint8((addr & 0x3) * 8)
	return
}

func sizeMask(size int) uint32 {
	switch {
	case size >= 4:
		return 0xFFFFFFFF
	case size <= 0:
		return 0
	default:
		return (uint32(1) << uint(size*8)) - 1
	}
}

// fifoAccessSize clamps a DATA_FIFO/DATA_XFIFO access width to the number
// of bytes remaining before the next 4-byte boundary: a FIFO access never
// crosses a dword lane, it's just truncated to whatever remainder fits.
func fifoAccessSize(addr uint32, size int) int {
	if rem := 4 - int(addr&0x3); size > rem {
		return rem
	}
	return size
}

// readRegister performs a guest MMIO read of addr, honoring the decoder's
// per-register access rules. Callers hold Device.mu.
func (d *Device) readRegister(addr uint32, size int) uint32 {
	if d.backend.HadStartupError() {
		return 0
	}
	locty, regOff, shift := decodeAddress(addr)
	val := uint32(0xFFFFFFFF)
	switch {
	case regOff == RegAccess:
		val = d.accessRead(locty)
	case regOff == RegIntEnable:
		val = d.loc[locty].Inte
	case regOff == RegIntVector:
		val = d.irqNum
	case regOff == RegIntStatus:
		val = d.loc[locty].Ints
	case regOff == RegIntfCapability:
		val = d.capabilities()
	case regOff == RegSTS:
		if d.activeLocty == locty {
			val = d.stsRead(locty, size)
		}
	case regOff == RegDataFIFO || (regOff >= RegDataXFIFO && regOff <= RegDataXFIFOEnd):
		if d.activeLocty == locty {
			n := fifoAccessSize(addr, size)
			var packed uint32
			for i := 0; i < n; i++ {
				packed |= d.readDataFIFO(locty) << uint(8*i)
			}
			return packed
		}
		// Not the active locality: leave val at its all-ones default,
		// same as every other register this locality can't see.
	case regOff == RegInterfaceID:
		val = d.loc[locty].IfaceID
	case regOff == RegDIDVID:
		val = (uint32(TPMDID) << 16) | uint32(TPMVID)
	case regOff == RegRID:
		val = uint32(TPMRID)
	}
	if shift != 0 {
		val >>= shift
	}
	return val & sizeMask(size)
}

// writeRegister performs a guest MMIO write of addr. Callers hold Device.mu.
func (d *Device) writeRegister(addr uint32, size int, raw uint32) {
	if d.backend.HadStartupError() {
		return
	}
	locty, regOff, shift := decodeAddress(addr)
	if locty == 4 {
		return // locality 4 is reserved to the host; writes are dropped
	}
	mask := sizeMask(size)
	lane := (raw & mask) << shift
	invMask := ^(mask << shift)

	switch {
	case regOff == RegAccess:
		d.handleAccessWrite(locty, lane)
	case regOff == RegIntEnable:
		if d.activeLocty != locty {
			return
		}
		d.writeIntEnable(locty, lane, invMask)
	case regOff == RegIntVector:
		// hardwired; writes have no effect
	case regOff == RegIntStatus:
		if d.activeLocty != locty {
			return
		}
		d.writeIntStatus(locty, lane)
	case regOff == RegSTS:
		if d.activeLocty != locty {
			return
		}
		d.writeSts(locty, lane)
	case regOff == RegDataFIFO || (regOff >= RegDataXFIFO && regOff <= RegDataXFIFOEnd):
		if d.activeLocty != locty {
			return
		}
		n := fifoAccessSize(addr, size)
		d.writeDataFIFO(locty, raw&sizeMask(n), n)
	case regOff == RegInterfaceID:
		if lane&IfaceIDIntSelLock != 0 {
			for l := range d.loc {
				d.loc[l].IfaceID |= IfaceIDIntSelLock
			}
		}
	}
}
