package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gen2brain/i2s"
)

func main() {
	var (
		natsURL    string
		subject    string
		variant    string
		periodSize int
		channels   int
		duration   int
	)

	flag.StringVar(&natsURL, "nats", nats.DefaultURL, "The NATS server URL")
	flag.StringVar(&subject, "subject", "audio.capture", "The subject to publish periods on")
	flag.StringVar(&variant, "variant", "hifi-berry-pro", "The hardware variant (elk-pi, hifi-berry, hifi-berry-pro)")
	flag.IntVar(&periodSize, "period-size", 64, "The size of a period in frames")
	flag.IntVar(&channels, "channels", 2, "The number of channels per frame")
	flag.IntVar(&duration, "duration", 10, "The duration of the run in seconds (0 = until interrupted)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Publishes each captured period from the simulated I2S device to NATS")
		fmt.Fprintln(os.Stderr, "as raw interleaved 32-bit little-endian samples.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	nc, err := nats.Connect(natsURL,
		nats.Name("i2s-pub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to NATS at %s: %v\n", natsURL, err)
		os.Exit(1)
	}
	defer nc.Close()

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
	fullSubject := fmt.Sprintf("%s.%s", subject, profile.Name)
	fmt.Printf("Publishing to %s on %s\n", fullSubject, nc.ConnectedUrl())
	fmt.Printf("Variant: %s, %d channels, %d Hz, period %d frames (%v)\n",
		profile.Name, channels, profile.SampleRate, periodSize, dev.PeriodTime())

	// The simulated codec: a slow full-scale ramp.
	var level int32
	sim.Dma.Channel("rx").FillFunc = func(periodIdx uint32, period []byte) {
		for i := 0; i+4 <= len(period); i += 4 {
			level += 1 << 12
			binary.LittleEndian.PutUint32(period[i:], uint32(level))
		}
	}

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

	var deadline <-chan time.Time
	if duration > 0 {
		deadline = time.After(time.Duration(duration) * time.Second)
	}

	fmt.Println("Streaming... Press Ctrl+C to stop.")

	payload := make([]byte, periodSize*channels*4)
	var published uint64

	running := true
	for running {
		select {
		case <-sigChan:
			fmt.Println("\nInterrupted.")
			running = false
		case <-deadline:
			running = false
		case <-dev.Completions():
			rx, _ := dev.CurrentHalf()
			for i, s := range rx {
				binary.LittleEndian.PutUint32(payload[i*4:], uint32(s))
			}
			dev.ConsumerDone()

			if err := nc.Publish(fullSubject, payload); err != nil {
				fmt.Fprintf(os.Stderr, "Error publishing period: %v\n", err)
				running = false

				continue
			}
			published++
		}
	}

	stop()
	dev.Stop()

	if err := nc.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing NATS connection: %v\n", err)
	}

	fmt.Printf("Published %d periods, %d underruns\n", published, dev.Underruns())
}
