package tis

import (
	"fmt"
	"log"
	"sync"
)

// Config wires a Device to the rest of a host: the back-end that executes
// commands, the interrupt line it signals through, and the IRQ number it
// reports to the guest via INT_VECTOR.
type Config struct {
	IRQ     uint32
	Backend Backend
	IRQLine IRQLine

	Logger *log.Logger
	Debug  bool
}

type completionEvent struct {
	locty uint8
	comp  Completion
}

// Device is the TIS core: the full register file across all localities,
// plus the plumbing that keeps MMIO access, the arbitration/state-machine
// rules, and the asynchronous back-end in sync. ReadMMIO, WriteMMIO and
// Reset lock mu, so a Device may be driven from multiple goroutines the
// way a real MMIO bus can be hit from several VCPUs.
type Device struct {
	mu sync.Mutex

	loc    [NumLocalities]Locality
	buffer [BufferMax]byte

	rwOffset      uint16
	activeLocty   uint8
	nextLocty     uint8
	abortingLocty uint8

	beVersion    Version
	beBufferSize int

	irqNum  uint32
	backend Backend
	irqLine IRQLine

	logger *log.Logger
	debug  bool

	completions chan completionEvent
	stopCh      chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// NewDevice constructs a Device and resets it, which in turn resets and
// starts up cfg.Backend.
func NewDevice(cfg Config) (*Device, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("tis: backend is required")
	}
	if cfg.IRQ > 15 {
		return nil, fmt.Errorf("tis: irq %d is outside the valid range of 0 to 15", cfg.IRQ)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	d := &Device{
		irqNum:      cfg.IRQ,
		backend:     cfg.Backend,
		irqLine:     cfg.IRQLine,
		logger:      logger,
		debug:       cfg.Debug,
		completions: make(chan completionEvent, 1),
		stopCh:      make(chan struct{}),
	}

	d.wg.Add(1)
	go d.completionLoop()

	if err := d.Reset(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Device) completionLoop() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.completions:
			d.mu.Lock()
			d.onRequestCompleted(ev.locty, ev.comp)
			d.mu.Unlock()
		case <-d.stopCh:
			return
		}
	}
}

// Close stops the background completion-draining goroutine. It does not
// touch the back-end.
func (d *Device) Close() error {
	d.closeOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	return nil
}

// Reset resets the back-end and every locality's register file to its
// power-on state.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.backend.Reset(); err != nil {
		return fmt.Errorf("tis: backend reset: %w", err)
	}

	d.beVersion = d.backend.Version()
	bufSize := d.backend.BufferSize()
	if bufSize <= 0 || bufSize > BufferMax {
		bufSize = BufferMax
	}
	d.beBufferSize = bufSize

	d.activeLocty = NoLocality
	d.nextLocty = NoLocality
	d.abortingLocty = NoLocality
	d.rwOffset = 0

	for l := range d.loc {
		d.loc[l] = Locality{
			State:  StateIdle,
			Access: AccessTPMRegValidSTS,
			Inte:   IntPolarityLowLevel,
		}
		switch d.beVersion {
		case Version1_2:
			d.loc[l].Sts = StsFamily1_2
			d.loc[l].IfaceID = IfaceIDSupportedFlags1_3
		case Version2_0:
			d.loc[l].Sts = StsFamily2_0
			d.loc[l].IfaceID = IfaceIDSupportedFlags2_0
		}
	}

	if err := d.backend.Startup(d.beBufferSize); err != nil {
		return fmt.Errorf("tis: backend startup: %w", err)
	}
	return nil
}

// ReadMMIO services a guest read of size bytes (1, 2, or 4) at addr,
// where addr is the offset from the start of the core's MMIO window.
func (d *Device) ReadMMIO(addr uint32, size int) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if addr >= WindowSize {
		return NoDataByte & sizeMask(size)
	}
	val := d.readRegister(addr, size)
	if d.debug {
		d.logger.Printf("tis: read addr=0x%04x size=%d -> 0x%08x", addr, size, val)
	}
	return val
}

// WriteMMIO services a guest write of size bytes (1, 2, or 4) at addr.
func (d *Device) WriteMMIO(addr uint32, size int, val uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if addr >= WindowSize {
		return
	}
	if d.debug {
		d.logger.Printf("tis: write addr=0x%04x size=%d val=0x%08x", addr, size, val)
	}
	d.writeRegister(addr, size, val)
}
