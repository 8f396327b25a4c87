//go:build linux

package platform

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// EventfdIRQLine signals a level-sensitive interrupt line to the host via
// a Linux eventfd: the same doorbell primitive KVM's irqfd mechanism uses
// to let a device model raise a guest interrupt without a vmexit. A real
// VMM wires the other end of the fd to its interrupt controller; this
// type only owns the device-model side.
type EventfdIRQLine struct {
	mu       sync.Mutex
	fd       int
	asserted bool
}

// NewEventfdIRQLine creates the eventfd and returns a deasserted line.
func NewEventfdIRQLine() (*EventfdIRQLine, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("platform: eventfd: %w", err)
	}
	return &EventfdIRQLine{fd: fd}, nil
}

// FD returns the eventfd, for a caller that needs to hand it to an ioctl
// such as KVM_IRQFD.
func (e *EventfdIRQLine) FD() int {
	return e.fd
}

func (e *EventfdIRQLine) Assert() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.asserted {
		return
	}
	e.asserted = true
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(e.fd, buf[:])
}

func (e *EventfdIRQLine) Deassert() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.asserted {
		return
	}
	e.asserted = false
	var buf [8]byte
	_, _ = unix.Read(e.fd, buf[:])
}

// Close releases the underlying eventfd.
func (e *EventfdIRQLine) Close() error {
	return unix.Close(e.fd)
}
