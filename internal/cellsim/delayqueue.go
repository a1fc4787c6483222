package cellsim

import (
	"fmt"
	"io"
	"math"
)

// NoDeadline is the WaitTime sentinel meaning "no scheduled event is
// pending; block until a socket becomes readable instead." It is the
// maximum representable non-negative millisecond value.
const NoDeadline = int64(math.MaxInt64)

// Stats is a snapshot of a DelayQueue's counters, useful for tests and
// for an operator-facing status line.
type Stats struct {
	PacketsAdded   uint32
	PacketsDropped uint32
	TotalBytes     uint64
	UsedBytes      uint64
	QueuedBytes    uint64
	BinSec         int64
}

// DelayQueue is the per-direction shaping engine: propagation delay,
// trace-driven service capacity, partial-packet accounting, a
// queue-limit drop policy, and stochastic loss, combined into a
// deterministic delivery schedule.
type DelayQueue struct {
	name      string
	msDelay   int64
	tracePath string

	loss *lossModel

	delay     *Queue[DelayedPacket]
	pdp       *Queue[DelayedPacket]
	limbo     Limbo
	schedule  *Queue[int64]
	delivered [][]byte

	stats Stats

	log    *queueLog
	stderr io.Writer
	clock  Clock

	// onFatal is invoked when a schedule reload mid-run fails to open
	// its trace file. This is treated the same as the construction-time
	// failure (both are ConfigError), but tick cannot return an error
	// without breaking the write/read/wait_time contract, which
	// otherwise surfaces none. Defaults to a handler that logs and
	// exits the process.
	onFatal func(error)
}

// DelayQueueOption configures optional DelayQueue behavior, mainly for
// tests that need to control time or capture fatal errors instead of
// exiting the process.
type DelayQueueOption func(*DelayQueue)

// WithClock overrides the default system clock.
func WithClock(c Clock) DelayQueueOption {
	return func(q *DelayQueue) { q.clock = c }
}

// WithFatalHandler overrides the default os.Exit(1)-on-ConfigError
// behavior for reload failures encountered mid-run.
func WithFatalHandler(f func(error)) DelayQueueOption {
	return func(q *DelayQueue) { q.onFatal = f }
}

// NewDelayQueue constructs a DelayQueue for one direction. log receives
// the bit-exact per-direction trace log; stderr receives stochastic-drop
// diagnostics. Returns a wrapped ErrConfig if the trace file cannot be
// opened or is malformed.
func NewDelayQueue(
	logw io.Writer,
	stderr io.Writer,
	name string,
	msDelay int64,
	tracePath string,
	baseTimestamp int64,
	lossRate float64,
	opts ...DelayQueueOption,
) (*DelayQueue, error) {
	q := &DelayQueue{
		name:      name,
		msDelay:   msDelay,
		tracePath: tracePath,
		loss:      newLossModel(lossRate),
		delay:     NewQueue[DelayedPacket](),
		pdp:       NewQueue[DelayedPacket](),
		schedule:  NewQueue[int64](),
		log:       newQueueLog(logw),
		stderr:    stderr,
		clock:     SystemClock,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.stats.BinSec = baseTimestamp / 1000

	if err := loadSchedule(q.schedule, tracePath, baseTimestamp); err != nil {
		return nil, err
	}
	q.log.header(tracePath, name, q.schedule.Len(), baseTimestamp)
	return q, nil
}

func (q *DelayQueue) fatal(err error) {
	if q.onFatal != nil {
		q.onFatal(err)
		return
	}
	fmt.Fprintf(q.stderr, "cellsim: %s: %v\n", q.name, err)
	osExit(1)
}

// Name returns the direction name ("uplink"/"downlink").
func (q *DelayQueue) Name() string {
	return q.name
}

// Stats returns a snapshot of the current counters.
func (q *DelayQueue) Stats() Stats {
	return q.stats
}

// Write ingests one packet at the current time. It always increments
// PacketsAdded; it may drop the packet to loss or to the queue limit,
// in that order.
func (q *DelayQueue) Write(packet []byte) {
	now := q.clock()
	q.stats.PacketsAdded++

	if q.loss.draw() {
		q.stats.PacketsDropped++
		fmt.Fprintf(q.stderr,
			"# %s , Stochastic drop of packet, _packets_added so far %d , _packets_dropped %d , drop rate %f \n",
			q.name, q.stats.PacketsAdded, q.stats.PacketsDropped,
			float64(q.stats.PacketsDropped)/float64(q.stats.PacketsAdded))
		return
	}

	if q.delay.Len() >= QueueLimitInPackets {
		q.log.droppedQueueFull(now, len(packet))
		q.log.Flush()
		return
	}

	dp := DelayedPacket{
		EntryTime:   now,
		ReleaseTime: now + q.msDelay,
		Payload:     packet,
	}
	q.delay.Push(dp)
	q.stats.QueuedBytes += uint64(len(packet))
	q.log.admitted(now, len(packet))
	q.log.Flush()
}

// Read advances state to the current time and returns, then clears,
// every packet delivered since the previous Read.
func (q *DelayQueue) Read() [][]byte {
	now := q.clock()
	q.tick(now)

	ret := q.delivered
	q.delivered = nil
	return ret
}

// WaitTime advances state to the current time and returns the number
// of milliseconds until the next interesting instant: propagation
// release or a pending PDO. Returns NoDeadline if neither is pending.
func (q *DelayQueue) WaitTime() int64 {
	now := q.clock()
	q.tick(now)

	delayWait := NoDeadline
	if !q.delay.Empty() {
		dw := q.delay.Front().ReleaseTime - now
		if dw < 0 {
			dw = 0
		}
		delayWait = dw
	}

	scheduleWait := NoDeadline
	if !q.schedule.Empty() {
		sw := q.schedule.Front() - now
		if sw < 0 {
			panic(fmt.Sprintf("cellsim: schedule invariant violated: front %d before now %d", q.schedule.Front(), now))
		}
		scheduleWait = sw
	}

	if delayWait < scheduleWait {
		return delayWait
	}
	return scheduleWait
}

// tick is the single consolidated state advancer. It is idempotent when
// called repeatedly at the same now. Apart from Write's admission and
// Read's draining of the delivered buffer, it is the only place
// DelayQueue state changes.
func (q *DelayQueue) tick(now int64) {
	// Step 1: repopulate an exhausted schedule.
	if q.schedule.Empty() {
		if err := loadSchedule(q.schedule, q.tracePath, now); err != nil {
			q.fatal(err)
			return
		}
	}

	// Step 2: migrate released packets from delay into pdp, in order.
	for !q.delay.Empty() && q.delay.Front().ReleaseTime <= now {
		q.pdp.Push(q.delay.Pop())
	}

	// Step 3: execute every due PDO, in timestamp order.
	for !q.schedule.Empty() && q.schedule.Front() <= now {
		t := q.schedule.Pop()
		q.log.pdo(t)
		budget := ServicePacketSize

		if pp, ok := q.limbo.Peek(); ok {
			if pp.BytesEarned+budget >= pp.Packet.Size() {
				size := pp.Packet.Size()
				q.deliver(pp.Packet, t)
				budget -= size - pp.BytesEarned
				q.limbo.Clear()
			} else {
				pp.BytesEarned += budget
				q.limbo.Update(pp)
				budget = 0
			}
		}

		for budget > 0 {
			if q.pdp.Empty() {
				// underflow: capacity wasted, not used.
				q.stats.TotalBytes += uint64(budget)
				budget = 0
				break
			}
			p := q.pdp.Pop()
			if budget >= p.Size() {
				q.deliver(p, t)
				budget -= p.Size()
			} else {
				q.limbo.Set(PartialPacket{BytesEarned: budget, Packet: p})
				budget = 0
			}
		}

		q.log.Flush()
	}

	// Step 4: bin rollover. A long stall between ticks zeroes stats for
	// every intervening second without logging them individually; this
	// is preserved behavior, not a bug.
	for now/1000 > q.stats.BinSec {
		q.stats.TotalBytes = 0
		q.stats.UsedBytes = 0
		q.stats.QueuedBytes = 0
		q.stats.BinSec++
	}
}

// deliver moves a packet into the delivered buffer and accounts for it
// in the log and the byte counters.
func (q *DelayQueue) deliver(p DelayedPacket, pdoTime int64) {
	q.delivered = append(q.delivered, p.Payload)
	q.log.delivered(pdoTime, p.Size(), pdoTime-p.EntryTime)
	q.stats.TotalBytes += uint64(p.Size())
	q.stats.UsedBytes += uint64(p.Size())
}
