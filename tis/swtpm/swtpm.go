// Package swtpm provides a reference software back-end satisfying
// tis.Backend: enough of a TPM command/response contract to drive the
// core end-to-end in tests and in the demo CLI, without shelling out to a
// real TPM implementation.
package swtpm

import (
	"errors"
	"sync"

	"example.com/tpmtis/tis"
)

// ErrCancelled is the Completion.Ret a Stub reports when a command was
// cancelled before its handler ran.
var ErrCancelled = errors.New("swtpm: command cancelled")

// Handler computes a response for an in-flight command. It returns the
// response bytes (to be copied into the TIS buffer), whether this command
// constitutes a self-test completion, and any execution error.
type Handler func(locality uint8, cmd []byte) (resp []byte, selfTestDone bool, err error)

// Stub is a small, in-memory fake of a real TPM: it implements
// tis.Backend with behavior supplied by the caller instead of hardwired,
// so the same Stub drives both unit tests and the demo CLI.
type Stub struct {
	mu sync.Mutex

	version         tis.Version
	bufferSize      int
	handler         Handler
	startupError    bool
	established     bool
	cancelRequested bool
	ignoreCancel    bool
}

// New constructs a Stub. handler defaults to EchoHandler if nil.
func New(version tis.Version, bufferSize int, handler Handler) *Stub {
	if handler == nil {
		handler = EchoHandler
	}
	return &Stub{
		version:     version,
		bufferSize:  bufferSize,
		handler:     handler,
		established: true,
	}
}

// SetStartupError makes HadStartupError report true, simulating a
// back-end that failed self-test during Reset/Startup.
func (s *Stub) SetStartupError(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startupError = v
}

// SetIgnoreCancel controls whether CancelCmd actually prevents a
// not-yet-started command from running its handler.
func (s *Stub) SetIgnoreCancel(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreCancel = v
}

func (s *Stub) Version() tis.Version { return s.version }
func (s *Stub) BufferSize() int      { return s.bufferSize }

func (s *Stub) HadStartupError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startupError
}

func (s *Stub) EstablishedFlag() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.established
}

func (s *Stub) ResetEstablishedFlag(locality uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.established = false
}

func (s *Stub) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.established = true
	s.cancelRequested = false
	return nil
}

func (s *Stub) Startup(bufferSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufferSize = bufferSize
	return nil
}

// DeliverRequest runs handler on its own goroutine and reports back over
// the returned channel, matching the asynchronous shape tis.Backend
// requires even though this stub has no real latency to hide. A cancel
// left over from an earlier command is discarded.
func (s *Stub) DeliverRequest(cmd tis.Command) <-chan tis.Completion {
	s.mu.Lock()
	s.cancelRequested = false
	s.mu.Unlock()

	ch := make(chan tis.Completion, 1)
	go func() {
		s.mu.Lock()
		cancelled := s.cancelRequested && !s.ignoreCancel
		s.cancelRequested = false
		handler := s.handler
		s.mu.Unlock()

		if cancelled {
			ch <- tis.Completion{Ret: ErrCancelled}
			return
		}

		resp, selfTestDone, err := handler(cmd.Locality, cmd.In)
		copy(cmd.Out, resp)
		ch <- tis.Completion{Ret: err, SelfTestDone: selfTestDone}
	}()
	return ch
}

// CancelCmd is best-effort: it only takes effect if the in-flight
// command's handler hasn't started yet by the time DeliverRequest's
// goroutine checks.
func (s *Stub) CancelCmd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRequested = true
}

// EchoHandler is the default Handler: it returns a fixed 12-byte TPM2
// response whose embedded size field (bytes 2-3, big-endian) matches its
// own length, regardless of the command it was given.
func EchoHandler(locality uint8, cmd []byte) (resp []byte, selfTestDone bool, err error) {
	resp = []byte{
		0x80, 0x01, // tag
		0x00, 0x0C, // size = 12
		0x00, 0x00, 0x00, 0x00, // return code: success
		0, 0, 0, 0, // padding to a round 12 bytes
	}
	return resp, true, nil
}
