package cellsim

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testClock lets a test drive DelayQueue's notion of "now" explicitly
// instead of racing the wall clock.
type testClock struct {
	now int64
}

func (c *testClock) Now() int64 {
	return c.now
}

func writeTrace(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trace")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing trace: %v", err)
	}
	return path
}

func newTestQueue(t *testing.T, trace string, delayMs int64, lossRate float64) (*DelayQueue, *testClock, *bytes.Buffer) {
	t.Helper()
	clk := &testClock{}
	var logBuf bytes.Buffer
	q, err := NewDelayQueue(&logBuf, &bytes.Buffer{}, "test", delayMs, trace, 0, lossRate, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewDelayQueue: %v", err)
	}
	return q, clk, &logBuf
}

// Scenario 1: zero delay, single PDO, single packet fits.
func TestScenarioSinglePacketFits(t *testing.T) {
	trace := writeTrace(t, "0\n")
	q, clk, logBuf := newTestQueue(t, trace, 0, 0)

	clk.now = 0
	q.Write(make([]byte, 500))

	delivered := q.Read()
	if len(delivered) != 1 || len(delivered[0]) != 500 {
		t.Fatalf("expected one 500-byte packet delivered, got %v", delivered)
	}

	logStr := logBuf.String()
	for _, want := range []string{"0 + 500\n", "0 # 1514\n", "0 - 500 0\n"} {
		if !strings.Contains(logStr, want) {
			t.Errorf("log missing %q; got:\n%s", want, logStr)
		}
	}
}

// Scenario 2: a packet straddles two PDOs.
func TestScenarioPacketStraddlesTwoPDOs(t *testing.T) {
	trace := writeTrace(t, "0\n5\n")
	q, clk, logBuf := newTestQueue(t, trace, 0, 0)

	clk.now = 0
	q.Write(make([]byte, 2000))
	if delivered := q.Read(); len(delivered) != 0 {
		t.Fatalf("expected no delivery yet, got %v", delivered)
	}

	clk.now = 5
	delivered := q.Read()
	if len(delivered) != 1 || len(delivered[0]) != 2000 {
		t.Fatalf("expected the 2000-byte packet delivered at t=5, got %v", delivered)
	}
	if !strings.Contains(logBuf.String(), "5 - 2000 5\n") {
		t.Errorf("log missing delivery line; got:\n%s", logBuf.String())
	}
}

// Scenario 3: underflow wastes capacity but delivers nothing.
func TestScenarioUnderflow(t *testing.T) {
	trace := writeTrace(t, "0\n10\n")
	q, clk, _ := newTestQueue(t, trace, 0, 0)

	clk.now = 10
	delivered := q.Read()
	if len(delivered) != 0 {
		t.Fatalf("expected no deliveries, got %v", delivered)
	}
	stats := q.Stats()
	if stats.TotalBytes != 2*ServicePacketSize {
		t.Errorf("expected %d wasted bytes, got %d", 2*ServicePacketSize, stats.TotalBytes)
	}
	if stats.UsedBytes != 0 {
		t.Errorf("expected 0 used bytes, got %d", stats.UsedBytes)
	}
}

// Scenario 4: the delay queue drops the 257th packet at the limit.
func TestScenarioQueueLimitDrop(t *testing.T) {
	trace := writeTrace(t, "1000000\n")
	q, clk, logBuf := newTestQueue(t, trace, 10000, 0)

	clk.now = 0
	for i := 0; i < QueueLimitInPackets+1; i++ {
		q.Write([]byte{byte(i)})
	}

	stats := q.Stats()
	if stats.PacketsAdded != QueueLimitInPackets+1 {
		t.Errorf("expected %d packets added, got %d", QueueLimitInPackets+1, stats.PacketsAdded)
	}
	if !strings.Contains(logBuf.String(), "0 + 1 (dropped)\n") {
		t.Errorf("expected a queue-limit drop line; got:\n%s", logBuf.String())
	}
	if delivered := q.Read(); len(delivered) != 0 {
		t.Fatalf("expected nothing delivered before propagation completes, got %v", delivered)
	}
}

// Scenario 5: deterministic loss replays identically given the same
// seed and write sequence.
func TestScenarioDeterministicLoss(t *testing.T) {
	trace := writeTrace(t, "1000000\n")

	run := func() []bool {
		q, clk, _ := newTestQueue(t, trace, 0, 0.5)
		clk.now = 0
		var drops []bool
		for i := 0; i < 200; i++ {
			before := q.Stats().PacketsDropped
			q.Write([]byte{byte(i)})
			drops = append(drops, q.Stats().PacketsDropped != before)
		}
		return drops
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatalf("length mismatch")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("drop decision %d diverged: %v vs %v", i, a[i], b[i])
		}
	}
}

// Scenario 6: schedule repopulation reloads with "now" as the new base.
// The original trace ("0\n10\n") is exhausted by a first tick that runs
// past t=10; a later wait_time at t=20 then observes an empty schedule
// and reloads with base 20, giving PDOs at 20 and 30. Because the
// reload happens inside the same tick that requested it, a PDO landing
// exactly at "now" (20) fires immediately, same as any other tick; the
// PDO at 30 is left pending, which is what this test observes.
func TestScenarioScheduleRepopulation(t *testing.T) {
	trace := writeTrace(t, "0\n10\n")
	q, clk, logBuf := newTestQueue(t, trace, 0, 0)

	clk.now = 10
	_ = q.WaitTime()
	if !q.schedule.Empty() {
		t.Fatalf("expected the original trace to be fully consumed by t=10")
	}

	clk.now = 20
	_ = q.WaitTime()

	if !strings.Contains(logBuf.String(), "20 # 1514\n") {
		t.Errorf("expected the reloaded PDO at 20 to have fired; log:\n%s", logBuf.String())
	}
	if q.schedule.Len() != 1 {
		t.Fatalf("expected exactly one pending reloaded PDO, got %d", q.schedule.Len())
	}
	if got := q.schedule.Front(); got != 30 {
		t.Errorf("expected the pending PDO at base+10=30, got %d", got)
	}
}

// Idempotence: calling tick twice at the same now must not double-apply
// state changes. The trace keeps a PDO pending well past "now" so the
// schedule is never exhausted mid-test; an exhausted schedule reloads
// on the very next tick, which is a distinct, documented behavior, not
// an idempotence violation.
func TestTickIdempotent(t *testing.T) {
	trace := writeTrace(t, "0\n1000\n")
	q, clk, _ := newTestQueue(t, trace, 0, 0)

	clk.now = 0
	q.Write(make([]byte, 500))
	q.tick(0)
	first := q.Stats()
	firstDelivered := len(q.delivered)
	q.tick(0)
	second := q.Stats()

	if first != second {
		t.Errorf("tick was not idempotent: %+v vs %+v", first, second)
	}
	if len(q.delivered) != firstDelivered {
		t.Errorf("delivered buffer changed on repeated tick: %d vs %d", firstDelivered, len(q.delivered))
	}
}

// Read drains: after Read returns, the delivered buffer is empty and a
// packet appears exactly once across two Read calls.
func TestReadDrains(t *testing.T) {
	trace := writeTrace(t, "0\n1\n")
	q, clk, _ := newTestQueue(t, trace, 0, 0)

	clk.now = 0
	q.Write(make([]byte, 100))
	first := q.Read()
	if len(q.delivered) != 0 {
		t.Fatalf("delivered buffer not cleared after Read")
	}

	clk.now = 1
	second := q.Read()

	total := len(first) + len(second)
	if total != 1 {
		t.Fatalf("expected the packet delivered exactly once across both reads, got %d", total)
	}
}

// The limbo invariant is enforced by the type: Set on an occupied limbo
// panics rather than silently holding two packets.
func TestLimboInvariant(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic from double Set on Limbo")
		}
	}()
	var l Limbo
	l.Set(PartialPacket{BytesEarned: 1, Packet: DelayedPacket{Payload: []byte{1, 2, 3}}})
	l.Set(PartialPacket{BytesEarned: 1, Packet: DelayedPacket{Payload: []byte{1, 2, 3}}})
}

// A delivered packet's PDO time must be no earlier than its entry time
// plus the propagation delay.
func TestDeliveryRespectsPropagationDelay(t *testing.T) {
	trace := writeTrace(t, "50\n")
	q, clk, _ := newTestQueue(t, trace, 20, 0)

	clk.now = 0
	q.Write(make([]byte, 100))

	clk.now = 50
	delivered := q.Read()
	if len(delivered) != 1 {
		t.Fatalf("expected delivery at t=50, got %v", delivered)
	}
}
