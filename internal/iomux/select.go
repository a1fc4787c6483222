// Package iomux provides the readiness multiplexer the driver loop
// waits on: the single suspension point in cellsim's otherwise
// cooperative, single-threaded event loop.
package iomux

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Select waits on a fixed set of file descriptors for readability,
// with a timeout. It is an explicit, constructible value rather than a
// process-wide singleton: nothing here needs to be global, and a
// singleton would make the driver loop untestable.
type Select struct {
	fds []int
}

// New returns a Select watching no file descriptors.
func New() *Select {
	return &Select{}
}

// AddFD registers fd to be watched by future Wait calls.
func (s *Select) AddFD(fd int) {
	s.fds = append(s.fds, fd)
}

// waitResult carries the outcome of a blocking unix.Select call back
// to the goroutine that issued it.
type waitResult struct {
	readable []int
	err      error
}

// Wait blocks until one of the registered descriptors is readable, the
// timeout elapses, or ctx is done. timeoutMs < 0 blocks indefinitely
// (the NoDeadline sentinel, translated at the driver boundary).
//
// The underlying unix.Select call is necessarily blocking and cannot
// itself observe ctx cancellation, so it runs on its own goroutine and
// this method races its result against ctx.Done(). This is the one
// concession to "single-threaded" in the whole package: it exists only
// to make OS-signal-driven shutdown (ctx cancellation) interrupt a
// pending wait immediately rather than after the next readability
// event, so the driver exits its loop promptly on signal. No
// DelayQueue or other driver state is touched by this goroutine.
func (s *Select) Wait(ctx context.Context, timeoutMs int) ([]int, error) {
	if len(s.fds) == 0 {
		if timeoutMs < 0 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		}
	}

	resultCh := make(chan waitResult, 1)
	go func() {
		resultCh <- s.selectOnce(timeoutMs)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.readable, r.err
	}
}

func (s *Select) selectOnce(timeoutMs int) waitResult {
	var rfds unix.FdSet
	maxFd := 0
	for _, fd := range s.fds {
		fdSetAdd(&rfds, fd)
		if fd > maxFd {
			maxFd = fd
		}
	}

	var tv *unix.Timeval
	if timeoutMs >= 0 {
		t := unix.NsecToTimeval(int64(timeoutMs) * int64(1000000))
		tv = &t
	}

	n, err := unix.Select(maxFd+1, &rfds, nil, nil, tv)
	if err != nil {
		return waitResult{nil, fmt.Errorf("iomux: select: %w", err)}
	}
	if n == 0 {
		return waitResult{nil, nil}
	}

	readable := make([]int, 0, n)
	for _, fd := range s.fds {
		if fdSetIsSet(&rfds, fd) {
			readable = append(readable, fd)
		}
	}
	return waitResult{readable, nil}
}

func fdSetAdd(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdSetIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
