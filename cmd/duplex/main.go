package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gen2brain/i2s"
)

func main() {
	var (
		variant    string
		periodSize int
		channels   int
		duration   int
		verbose    bool
	)

	flag.StringVar(&variant, "variant", "elk-pi", "The hardware variant (elk-pi, hifi-berry, hifi-berry-pro)")
	flag.IntVar(&periodSize, "period-size", 64, "The size of a period in frames")
	flag.IntVar(&channels, "channels", 2, "The number of channels per frame")
	flag.IntVar(&duration, "duration", 5, "The duration of the run in seconds")
	flag.BoolVar(&verbose, "verbose", false, "Print per-period statistics")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Runs a full-duplex loopback stream on the simulated I2S device:")
		fmt.Fprintln(os.Stderr, "each received period is copied back into the transmit buffer.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if !i2s.IsSupportedPeriodSize(uint32(periodSize)) {
		fmt.Fprintf(os.Stderr, "Error: period size %d not in %v\n", periodSize, i2s.SupportedPeriodSizes)
		os.Exit(1)
	}

	sim := i2s.NewSimHardware()
	dev, err := i2s.Open(sim.Hardware())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening device: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	if err := dev.InitStream(variant); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing stream: %v\n", err)
		os.Exit(1)
	}

	if err := dev.SetupBuffers(uint32(periodSize), uint32(channels)); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up buffers: %v\n", err)
		os.Exit(1)
	}

	profile := dev.Profile()
	fmt.Printf("Variant: %s\n", profile.Name)
	fmt.Printf("Configuration: %d channels, %d Hz, %d-bit\n", channels, profile.SampleRate, profile.WordLength)
	fmt.Printf("Period: %d frames (%v), double-buffered\n", periodSize, dev.PeriodTime())

	// A simulated codec driving a 1 kHz-ish ramp into the receive side.
	var phase int32
	sim.Dma.Channel("rx").FillFunc = func(periodIdx uint32, period []byte) {
		for i := 0; i+4 <= len(period); i += 4 {
			phase += 1 << 16
			period[i] = byte(phase)
			period[i+1] = byte(phase >> 8)
			period[i+2] = byte(phase >> 16)
			period[i+3] = byte(phase >> 24)
		}
	}

	// The codec only delivers the frame boundary marker once the bus runs;
	// preload it so the frame-sync search succeeds immediately.
	if profile.FrameSyncSearch {
		sim.Regs.EnqueueRx(1, 1, 0, 0)
	}

	if err := dev.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting stream: %v\n", err)
		os.Exit(1)
	}

	stop := sim.Dma.AutoFire(dev.PeriodTime())
	defer stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	deadline := time.After(time.Duration(duration) * time.Second)
	fmt.Println("Streaming... Press Ctrl+C to stop early.")

	running := true
	for running {
		select {
		case <-sigChan:
			fmt.Println("\nInterrupted.")
			running = false
		case <-deadline:
			running = false
		case idx := <-dev.Completions():
			rx, tx := dev.CurrentHalf()
			copy(tx, rx)
			dev.ConsumerDone()

			if verbose {
				fmt.Printf("period %d: half %d, first sample %d, gates in %#x\n",
					dev.Interrupts(), idx, rx[0], dev.Buffers().GateInWord())
			}
		}
	}

	stop()
	dev.Stop()

	clockRate, syncPoll, xferStatus := dev.WarningCounts()
	fmt.Printf("Periods: %d, underruns: %d\n", dev.Interrupts(), dev.Underruns())
	fmt.Printf("Warnings: clock-rate %d, sync-poll %d, xfer-status %d\n", clockRate, syncPoll, xferStatus)
}
