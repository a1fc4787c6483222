//go:build linux

package packetio

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// maxFrameSize bounds a single recv; it comfortably covers one
// Ethernet MTU frame plus headroom for VLAN tags and link-layer
// headers.
const maxFrameSize = 2048

// rawSocket implements Socket over an AF_PACKET/SOCK_RAW socket bound
// to one named interface. gopacket/afpacket was considered for this
// boundary and set aside: packets here are explicitly opaque, with no
// L2/L3 decoding anywhere in this module, so gopacket's layer model
// buys nothing, and afpacket.TPacket's mmap ring needs frame/block-size
// tuning this narrow send/recv contract has no use for. A plain raw
// socket is the minimal faithful implementation of the contract this
// boundary already draws.
type rawSocket struct {
	fd int
}

// Open binds a raw socket to ifaceName, capturing and injecting every
// Ethernet frame on that interface.
func Open(ifaceName string) (Socket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("packetio: socket: %w", err)
	}

	iface, err := netInterfaceByName(ifaceName)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("packetio: bind %q: %w", ifaceName, err)
	}

	return &rawSocket{fd: fd}, nil
}

func (s *rawSocket) Fd() int {
	return s.fd
}

func (s *rawSocket) RecvAll() ([][]byte, error) {
	var frames [][]byte
	buf := make([]byte, maxFrameSize)
	for {
		n, _, err := unix.Recvfrom(s.fd, buf, unix.MSG_DONTWAIT)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return frames, fmt.Errorf("packetio: recvfrom: %w", err)
		}
		if n <= 0 {
			break
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		frames = append(frames, frame)
	}
	return frames, nil
}

func (s *rawSocket) Send(frame []byte) error {
	if err := unix.Send(s.fd, frame, 0); err != nil {
		return fmt.Errorf("packetio: send: %w", err)
	}
	return nil
}

func (s *rawSocket) Close() error {
	return unix.Close(s.fd)
}

func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

func netInterfaceByName(name string) (int, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("packetio: interface %q: %w", name, err)
	}
	return iface.Index, nil
}
