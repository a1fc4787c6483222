// Command cellsim is a bidirectional cellular-link emulator: it sits
// between two network interfaces and shapes traffic to mimic a
// variable-capacity, lossy, delay-bounded wireless channel.
//
// Usage:
//
//	cellsim up_trace down_trace up_loss down_loss up_delay_ms down_delay_ms \
//	        internet_iface client_iface up_log down_log
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/apex/log"

	"github.com/mphe/cellsim/internal/cellsim"
	"github.com/mphe/cellsim/internal/iomux"
	"github.com/mphe/cellsim/internal/packetio"
)

const argCount = 10

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	cfg, err := parseArgs(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	upLog, err := os.Create(cfg.UpLog)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer upLog.Close()

	downLog, err := os.Create(cfg.DownLog)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer downLog.Close()

	now := cellsim.SystemClock()

	uplink, err := cellsim.NewDelayQueue(upLog, os.Stderr, "uplink", cfg.UpDelayMs, cfg.UpTrace, now, cfg.UpLossRate)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	downlink, err := cellsim.NewDelayQueue(downLog, os.Stderr, "downlink", cfg.DownDelayMs, cfg.DownTrace, now, cfg.DownLossRate)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	internetSide, err := packetio.Open(cfg.InternetIface)
	if err != nil {
		log.Errorf("cellsim: opening %s: %s", cfg.InternetIface, err)
		return 1
	}
	defer internetSide.Close()

	clientSide, err := packetio.Open(cfg.ClientIface)
	if err != nil {
		log.Errorf("cellsim: opening %s: %s", cfg.ClientIface, err)
		return 1
	}
	defer clientSide.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigCh
		cancel()
	}()

	driver := &cellsim.Driver{
		Uplink:       uplink,
		Downlink:     downlink,
		InternetSide: internetSide,
		ClientSide:   clientSide,
		Mux:          iomux.New(),
	}

	log.Infof("cellsim: up %s (%s, %.4g loss, %dms) down %s (%s, %.4g loss, %dms)",
		cfg.UpTrace, cfg.ClientIface, cfg.UpLossRate, cfg.UpDelayMs,
		cfg.DownTrace, cfg.InternetIface, cfg.DownLossRate, cfg.DownDelayMs)

	if err := driver.Run(ctx); err != nil {
		log.Errorf("cellsim: %s", err)
		return 1
	}
	return 0
}

// parseArgs validates the fixed, positional CLI contract: exactly
// argCount arguments, parsed by position. Flag-parsing libraries such
// as akamensky/argparse cannot express this: they parse "--name
// value"/"-n value" pairs, not a fixed positional tuple. Any arity
// mismatch returns a wrapped ErrConfig carrying a one-line usage
// string, which run prints to stderr before exiting non-zero.
func parseArgs(argv []string) (cellsim.Config, error) {
	args := argv[1:]
	if len(args) != argCount {
		return cellsim.Config{}, fmt.Errorf("%w: usage: cellsim up_trace down_trace up_loss down_loss up_delay_ms down_delay_ms internet_iface client_iface up_log down_log", cellsim.ErrConfig)
	}

	upLoss, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return cellsim.Config{}, fmt.Errorf("%w: up_loss: %v", cellsim.ErrConfig, err)
	}
	downLoss, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return cellsim.Config{}, fmt.Errorf("%w: down_loss: %v", cellsim.ErrConfig, err)
	}
	upDelay, err := strconv.ParseUint(args[4], 10, 63)
	if err != nil {
		return cellsim.Config{}, fmt.Errorf("%w: up_delay_ms: %v", cellsim.ErrConfig, err)
	}
	downDelay, err := strconv.ParseUint(args[5], 10, 63)
	if err != nil {
		return cellsim.Config{}, fmt.Errorf("%w: down_delay_ms: %v", cellsim.ErrConfig, err)
	}

	return cellsim.Config{
		UpTrace:       args[0],
		DownTrace:     args[1],
		UpLossRate:    upLoss,
		DownLossRate:  downLoss,
		UpDelayMs:     int64(upDelay),
		DownDelayMs:   int64(downDelay),
		InternetIface: args[6],
		ClientIface:   args[7],
		UpLog:         args[8],
		DownLog:       args[9],
	}, nil
}
