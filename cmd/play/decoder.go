package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// AudioDecoder abstracts the source format so the streaming loop can feed
// WAV and MP3 files through the same period-sized reads.
type AudioDecoder interface {
	// PCMBuffer reads decoded PCM audio data into the provided buffer.
	// It returns the number of samples (not frames) read.
	PCMBuffer(buf *audio.IntBuffer) (n int, err error)
	// NumChans returns the number of audio channels.
	NumChans() uint16
	// SampleRate returns the sample rate in Hz.
	SampleRate() uint32
	// BitDepth returns the bit depth of the decoded samples.
	BitDepth() uint16
}

// newDecoder picks a decoder from the file extension.
func newDecoder(path string, r io.ReadSeeker) (AudioDecoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return newWavDecoder(r)
	case ".mp3":
		return newMp3Decoder(r)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
}

type wavDecoderWrapper struct {
	*wav.Decoder
}

func newWavDecoder(r io.ReadSeeker) (AudioDecoder, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	return &wavDecoderWrapper{Decoder: decoder}, nil
}

func (w *wavDecoderWrapper) SampleRate() uint32 { return w.Decoder.SampleRate }
func (w *wavDecoderWrapper) NumChans() uint16   { return w.Decoder.NumChans }
func (w *wavDecoderWrapper) BitDepth() uint16   { return uint16(w.Decoder.BitDepth) }

type mp3DecoderWrapper struct {
	decoder    *mp3.Decoder
	sampleRate uint32
}

func newMp3Decoder(r io.Reader) (AudioDecoder, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	return &mp3DecoderWrapper{decoder: decoder, sampleRate: uint32(decoder.SampleRate())}, nil
}

// PCMBuffer reads the decoder's 16-bit little-endian output and widens it to
// the generic integer buffer.
func (m *mp3DecoderWrapper) PCMBuffer(buf *audio.IntBuffer) (n int, err error) {
	byteBuf := make([]byte, len(buf.Data)*2)

	bytesRead, err := m.decoder.Read(byteBuf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}

	samplesRead := bytesRead / 2
	for i := 0; i < samplesRead; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(byteBuf[i*2:])))
	}

	return samplesRead, err
}

func (m *mp3DecoderWrapper) SampleRate() uint32 { return m.sampleRate }

// go-mp3 always decodes to 16-bit stereo.
func (m *mp3DecoderWrapper) NumChans() uint16 { return 2 }
func (m *mp3DecoderWrapper) BitDepth() uint16 { return 16 }
