//go:build !linux

package packetio

// Open always fails off Linux: the original PacketSocket boundary is
// Linux-only (raw AF_PACKET sockets), and this build keeps the module
// compiling on other platforms without pretending to support them.
func Open(ifaceName string) (Socket, error) {
	return nil, ErrUnsupportedPlatform
}
