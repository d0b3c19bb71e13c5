package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/gen2brain/i2s"
)

func main() {
	var (
		variant    string
		periodSize int
		channels   int
		duration   int
		freq       float64
	)

	flag.StringVar(&variant, "variant", "hifi-berry-pro", "The hardware variant (elk-pi, hifi-berry, hifi-berry-pro)")
	flag.IntVar(&periodSize, "period-size", 64, "The size of a period in frames")
	flag.IntVar(&channels, "channels", 2, "The number of channels per frame")
	flag.IntVar(&duration, "duration", 5, "The duration of the capture in seconds")
	flag.Float64Var(&freq, "freq", 440, "The frequency of the simulated codec's test tone in Hz")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <output-wav-file>\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Captures from the simulated I2S device into a 32-bit WAV file. The")
		fmt.Fprintln(os.Stderr, "simulated codec produces a sine test tone.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	outputPath := flag.Arg(0)

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
	fmt.Printf("Capturing to: %s\n", outputPath)
	fmt.Printf("Variant: %s, %d channels, %d Hz, period %d frames (%v)\n",
		profile.Name, channels, profile.SampleRate, periodSize, dev.PeriodTime())

	// The simulated codec: a sine tone on every channel.
	var sampleIdx uint64
	step := 2 * math.Pi * freq / float64(profile.SampleRate)
	sim.Dma.Channel("rx").FillFunc = func(periodIdx uint32, period []byte) {
		for i := 0; i+4 <= len(period); i += 4 {
			frame := sampleIdx / uint64(channels)
			s := int32(math.Sin(float64(frame)*step) * math.MaxInt32 * 0.5)
			binary.LittleEndian.PutUint32(period[i:], uint32(s))
			sampleIdx++
		}
	}

	wavFile, err := os.Create(outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating WAV file: %v\n", err)
		os.Exit(1)
	}
	defer wavFile.Close()

	encoder := wav.NewEncoder(wavFile, int(profile.SampleRate), 32, channels, 1)
	defer encoder.Close()

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

	fmt.Println("Starting capture... Press Ctrl+C to stop early.")

	totalFrames := uint64(duration) * uint64(profile.SampleRate)
	intBuffer := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  int(profile.SampleRate),
		},
		SourceBitDepth: 32,
		Data:           make([]int, periodSize*channels),
	}

	var framesCaptured uint64
	running := true
	for running && framesCaptured < totalFrames {
		select {
		case <-sigChan:
			fmt.Println("\nCapture interrupted by user.")
			running = false
		case <-dev.Completions():
			rx, _ := dev.CurrentHalf()
			for i, s := range rx {
				intBuffer.Data[i] = int(s)
			}
			dev.ConsumerDone()

			if err := encoder.Write(intBuffer); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing to WAV file: %v\n", err)
				running = false

				continue
			}

			framesCaptured += uint64(periodSize)
		}
	}

	stop()
	dev.Stop()

	seconds := float64(framesCaptured) / float64(profile.SampleRate)
	fmt.Printf("Capture finished. Wrote %d frames (%.2f seconds) to %s, %d underruns\n",
		framesCaptured, seconds, outputPath, dev.Underruns())
}
