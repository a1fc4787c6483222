// Package packetio implements the raw L2 send/receive boundary cellsim
// treats as an external collaborator, on a named interface. Packets
// are opaque byte strings; this package never inspects their
// contents.
package packetio

import "errors"

// ErrUnsupportedPlatform is returned by the non-Linux build of Open,
// which exists only so the module builds off Linux; it cannot open a
// real raw socket there.
var ErrUnsupportedPlatform = errors.New("packetio: raw L2 sockets are only implemented on linux")

// Socket is the narrow contract cellsim's driver loop consumes: a file
// descriptor it can hand to the readiness multiplexer, a receive
// primitive yielding zero or more complete frames, and a send
// primitive for one frame.
type Socket interface {
	// Fd returns the underlying file descriptor for readiness polling.
	Fd() int
	// RecvAll returns every frame currently available without
	// blocking. An empty result with a nil error means "none ready".
	RecvAll() ([][]byte, error)
	// Send transmits one frame.
	Send(frame []byte) error
	// Close releases the underlying descriptor.
	Close() error
}
