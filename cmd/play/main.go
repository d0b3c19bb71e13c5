package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"

	"github.com/gen2brain/i2s"
)

func main() {
	var (
		variant    string
		periodSize int
		channels   int
	)

	flag.StringVar(&variant, "variant", "hifi-berry", "The hardware variant (elk-pi, hifi-berry, hifi-berry-pro)")
	flag.IntVar(&periodSize, "period-size", 64, "The size of a period in frames")
	flag.IntVar(&channels, "channels", 0, "The number of channels per frame (0 = use the file's channels)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <wav-or-mp3-file>\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Plays an audio file through the simulated I2S device, one period per")
		fmt.Fprintln(os.Stderr, "completion, with samples widened to the bus word size.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	path := flag.Arg(0)
	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	decoder, err := newDecoder(path, file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening decoder: %v\n", err)
		os.Exit(1)
	}

	if channels == 0 {
		channels = int(decoder.NumChans())
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
	fmt.Printf("Playing: %s\n", path)
	fmt.Printf("Source: %d channels, %d Hz, %d-bit\n", decoder.NumChans(), decoder.SampleRate(), decoder.BitDepth())
	fmt.Printf("Variant: %s, period %d frames (%v)\n", profile.Name, periodSize, dev.PeriodTime())

	if profile.FrameSyncSearch {
		sim.Regs.EnqueueRx(1, 1, 0, 0)
	}

	if err := dev.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting stream: %v\n", err)
		os.Exit(1)
	}

	stop := sim.Dma.AutoFire(dev.PeriodTime())
	defer stop()

	pcmBuffer := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  int(decoder.SampleRate()),
		},
		Data: make([]int, periodSize*channels),
	}

	// Left-justify source samples in the 32-bit bus word.
	shift := 32 - int(decoder.BitDepth())

	var framesPlayed uint64
	startTime := time.Now()

	for {
		n, err := decoder.PCMBuffer(pcmBuffer)
		if err != nil && !errors.Is(err, io.EOF) {
			fmt.Fprintf(os.Stderr, "Error decoding: %v\n", err)
			os.Exit(1)
		}
		if n == 0 {
			break
		}

		<-dev.Completions()
		_, tx := dev.CurrentHalf()

		for i := 0; i < n && i < len(tx); i++ {
			tx[i] = int32(pcmBuffer.Data[i]) << shift
		}
		for i := n; i < len(tx); i++ {
			tx[i] = 0
		}

		dev.ConsumerDone()
		framesPlayed += uint64(n / channels)
	}

	stop()
	dev.Stop()

	fmt.Printf("Playback finished in %v. (%d frames, %d underruns)\n",
		time.Since(startTime).Round(time.Millisecond), framesPlayed, dev.Underruns())
}
