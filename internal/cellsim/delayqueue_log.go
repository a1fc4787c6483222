package cellsim

import (
	"bufio"
	"fmt"
	"io"
)

// queueLog writes the per-direction trace log. Format strings are
// bit-exact contracts for downstream analysis tools: this is the one
// place in the package allowed to touch the log file's bytes, and it
// never routes through the operational logger (apex/log) used
// elsewhere in this repo.
type queueLog struct {
	w *bufio.Writer
}

func newQueueLog(w io.Writer) *queueLog {
	return &queueLog{w: bufio.NewWriter(w)}
}

func (l *queueLog) header(tracePath string, name string, numServices int, baseTimestamp int64) {
	fmt.Fprintf(l.w, "# Initialized %s queue with %d services.\n", tracePath, numServices)
	fmt.Fprintf(l.w, "# Direction: %s\n", name)
	fmt.Fprintf(l.w, "# base timestamp: %d\n", baseTimestamp)
	l.w.Flush()
}

func (l *queueLog) admitted(now int64, size int) {
	fmt.Fprintf(l.w, "%d + %d\n", now, size)
}

func (l *queueLog) droppedQueueFull(now int64, size int) {
	fmt.Fprintf(l.w, "%d + %d (dropped)\n", now, size)
}

func (l *queueLog) pdo(t int64) {
	fmt.Fprintf(l.w, "%d # %d\n", t, ServicePacketSize)
}

func (l *queueLog) delivered(t int64, size int, latencyMs int64) {
	fmt.Fprintf(l.w, "%d - %d %d\n", t, size, latencyMs)
}

// Flush pushes buffered lines to the underlying writer. Callers flush
// after each Write and after each PDO a tick executes, so the lines of
// one PDO (its header and its deliveries) go out together while every
// record still surfaces promptly.
func (l *queueLog) Flush() error {
	return l.w.Flush()
}
