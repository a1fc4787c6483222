package cellsim

import (
	"context"

	"github.com/apex/log"
)

// Socket is the narrow view of a packet socket the driver needs: a
// descriptor to watch for readability, a non-blocking receive-many, and
// a send-one. Defined here, at the point of use, rather than imported
// from internal/packetio, so this package does not depend on a
// specific transport implementation — any Socket works, including a
// test double.
type Socket interface {
	Fd() int
	RecvAll() ([][]byte, error)
	Send([]byte) error
}

// Multiplexer is the narrow view of the readiness multiplexer the
// driver needs.
type Multiplexer interface {
	AddFD(fd int)
	Wait(ctx context.Context, timeoutMs int) ([]int, error)
}

// Driver glues two Sockets and the two DelayQueues together: it is the
// main event loop, pulled out of cmd/cellsim so it can be exercised by
// tests with fake sockets and a fake multiplexer.
type Driver struct {
	Uplink   *DelayQueue
	Downlink *DelayQueue

	// InternetSide carries traffic to/from the internet; frames read
	// from it are written into Downlink, and frames delivered by
	// Uplink are sent to it.
	InternetSide Socket
	// ClientSide carries traffic to/from the client; frames read from
	// it are written into Uplink, and frames delivered by Downlink are
	// sent to it.
	ClientSide Socket

	Mux Multiplexer
}

// Run pumps packets between the two sockets and the two queues until
// ctx is cancelled. Cancellation is cooperative: Run checks ctx at the
// top of each iteration, and after a failed Mux.Wait to tell shutdown
// apart from a real error (the only suspension point is the Mux.Wait
// call, which itself also observes ctx so shutdown is not delayed
// behind a long wait).
func (d *Driver) Run(ctx context.Context) error {
	d.Mux.AddFD(d.InternetSide.Fd())
	d.Mux.AddFD(d.ClientSide.Fd())

	for {
		if ctx.Err() != nil {
			return nil
		}

		wait := d.Uplink.WaitTime()
		if dw := d.Downlink.WaitTime(); dw < wait {
			wait = dw
		}

		readable, err := d.Mux.Wait(ctx, clampTimeout(wait))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, fd := range readable {
			switch fd {
			case d.ClientSide.Fd():
				frames, err := d.ClientSide.RecvAll()
				if err != nil {
					log.Warnf("cellsim: client-side recv: %s", err)
					continue
				}
				for _, f := range frames {
					d.Uplink.Write(f)
				}
			case d.InternetSide.Fd():
				frames, err := d.InternetSide.RecvAll()
				if err != nil {
					log.Warnf("cellsim: internet-side recv: %s", err)
					continue
				}
				for _, f := range frames {
					d.Downlink.Write(f)
				}
			}
		}

		for _, f := range d.Uplink.Read() {
			if err := d.InternetSide.Send(f); err != nil {
				log.Warnf("cellsim: internet-side send: %s", err)
			}
		}
		for _, f := range d.Downlink.Read() {
			if err := d.ClientSide.Send(f); err != nil {
				log.Warnf("cellsim: client-side send: %s", err)
			}
		}
	}
}

// clampTimeout converts a DelayQueue wait (possibly NoDeadline) into
// the int millisecond timeout Multiplexer.Wait expects, where negative
// means "block indefinitely".
func clampTimeout(ms int64) int {
	if ms == NoDeadline || ms > int64(1<<31) {
		return -1
	}
	return int(ms)
}
