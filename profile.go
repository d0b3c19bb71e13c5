package i2s

import "fmt"

// Profile describes the bus timing and role parameters of one hardware
// variant. A Profile is immutable once resolved; all fields are derived from
// the variant name alone, with no hardware access.
type Profile struct {
	// Name is the variant name the profile was resolved from.
	Name string

	// WordLength is the slot width in bits (always 32).
	WordLength uint32

	// Slots is the number of slots per frame (always 2).
	Slots uint32

	// FrameLength is Slots * WordLength in bit clocks.
	FrameLength uint32

	// BitClockMaster is true when this device generates the bit clock.
	BitClockMaster bool

	// FrameSyncMaster is true when this device generates the frame sync.
	FrameSyncMaster bool

	// Ch1Pos and Ch2Pos are the bit offsets of the two slots within a frame.
	Ch1Pos uint32
	Ch2Pos uint32

	// ClockRate, when non-zero, is the bit-clock rate in Hz to request from
	// the shared clock source during configuration.
	ClockRate uint32

	// SampleRate is the nominal audio sample rate of the variant in Hz.
	SampleRate uint32

	// FrameSyncSearch is true when stream start must run the active
	// search-and-discard frame synchronization before enabling streaming.
	FrameSyncSearch bool

	// GateSupport is true when the variant carries the control-voltage gate
	// side channel multiplexed into the stream buffer.
	GateSupport bool
}

// Sample rates of the supported variants.
const (
	ELK_PI_SAMPLING_RATE         = 48000
	HIFI_BERRY_SAMPLING_RATE     = 48000
	HIFI_BERRY_PRO_SAMPLING_RATE = 48000
)

// LookupProfile resolves a hardware variant name to its Profile. It performs
// no I/O. Unknown names return ErrUnknownVariant.
func LookupProfile(name string) (Profile, error) {
	p := Profile{
		Name:        name,
		WordLength:  BCM2835_PCM_WORD_LEN,
		Slots:       BCM2835_PCM_SLOTS,
		FrameLength: BCM2835_PCM_SLOTS * BCM2835_PCM_WORD_LEN,
	}

	switch name {
	case "elk-pi":
		// The codec drives both clocks. Its trailing channel pair is always
		// zero, which is what the frame-sync search keys on.
		p.Ch1Pos = 0
		p.Ch2Pos = 32
		p.SampleRate = ELK_PI_SAMPLING_RATE
		p.FrameSyncSearch = true
		p.GateSupport = true
	case "hifi-berry":
		p.BitClockMaster = true
		p.FrameSyncMaster = true
		p.Ch1Pos = 1
		p.Ch2Pos = 33
		p.SampleRate = HIFI_BERRY_SAMPLING_RATE
		p.ClockRate = p.FrameLength * HIFI_BERRY_SAMPLING_RATE
	case "hifi-berry-pro":
		p.Ch1Pos = 1
		p.Ch2Pos = 33
		p.SampleRate = HIFI_BERRY_PRO_SAMPLING_RATE
	default:
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}

	return p, nil
}

// ProfileNames returns the recognized hardware variant names.
func ProfileNames() []string {
	return []string{"elk-pi", "hifi-berry", "hifi-berry-pro"}
}
