package tis

import "encoding/binary"

// commandSize reads the 16-bit big-endian length field embedded at byte
// offset 2 of whatever has been written into buffer so far.
func (d *Device) commandSize() uint16 {
	return binary.BigEndian.Uint16(d.buffer[2:4])
}

// writeDataFIFO appends up to size low-order bytes of val to the command
// buffer for locty, advancing Ready -> Reception on the first byte.
// Outside {Ready, Reception} the write is silently dropped.
func (d *Device) writeDataFIFO(locty uint8, val uint32, size int) {
	loc := &d.loc[locty]
	switch loc.State {
	case StateReady:
		loc.State = StateReception
		stsSet(loc, StsExpect|StsValid)
	case StateReception:
		// already accepting bytes
	default:
		return
	}

	for loc.Sts&StsExpect != 0 && size > 0 {
		if d.rwOffset < uint16(d.beBufferSize) && int(d.rwOffset) < len(d.buffer) {
			d.buffer[d.rwOffset] = byte(val)
			d.rwOffset++
			val >>= 8
			size--
		} else {
			// Buffer exhausted before the guest stopped writing: drop
			// EXPECT so the guest sees "no longer accepting data" on its
			// next STS read.
			stsSet(loc, StsValid)
		}
	}

	if d.rwOffset > 5 && loc.Sts&StsExpect != 0 {
		needIRQ := loc.Sts&StsValid == 0
		length := d.commandSize()
		if length > d.rwOffset {
			stsSet(loc, StsExpect|StsValid)
		} else {
			stsSet(loc, StsValid)
		}
		if needIRQ {
			d.raiseIRQ(locty, IntStsValid)
		}
	}
}

// readDataFIFO returns the next response byte for locty, or NoDataByte
// outside Completion or once DATA_AVAILABLE has already been cleared.
func (d *Device) readDataFIFO(locty uint8) uint32 {
	if d.loc[locty].State != StateCompletion {
		return NoDataByte
	}
	return d.dataRead(locty)
}

func (d *Device) dataRead(locty uint8) uint32 {
	loc := &d.loc[locty]
	if loc.Sts&StsDataAvailable == 0 {
		return NoDataByte
	}
	length := d.commandSize()
	if int(length) > d.beBufferSize {
		length = uint16(d.beBufferSize)
	}
	ret := uint32(d.buffer[d.rwOffset])
	d.rwOffset++
	if d.rwOffset >= length {
		stsSet(loc, StsValid)
		d.raiseIRQ(locty, IntStsValid)
	}
	return ret
}

// stsRead computes the STS register value as observed by locty, including
// the dynamic burst count in bits 8-23. The two branches are genuinely
// different formulas, not one formula with a clamp: DATA_AVAILABLE uses
// the framed response length, anything else uses raw buffer headroom
// (clamped to 0xff only for single-byte reads).
func (d *Device) stsRead(locty uint8, size int) uint32 {
	loc := &d.loc[locty]
	var avail uint32
	if loc.Sts&StsDataAvailable != 0 {
		length := d.commandSize()
		if int(length) > d.beBufferSize {
			length = uint16(d.beBufferSize)
		}
		avail = uint32(length) - uint32(d.rwOffset)
	} else {
		avail = uint32(d.beBufferSize) - uint32(d.rwOffset)
		if size == 1 && avail > 0xFF {
			avail = 0xFF
		}
	}
	return (avail << BurstCountShift) | loc.Sts
}
