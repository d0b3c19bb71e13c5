package i2s

// Default GPIO lines of the control-voltage gate side channel.
var (
	DefaultGateOutLines = []int{17, 27, 22, 23}
	DefaultGateInLines  = []int{5, 6, 16, 26}
)

// gateBank is the gate capability bound to a stream. It exists only for
// profiles with gate support; the streaming engine never touches GPIO
// directly. Both operations are a fixed handful of single-bit accesses, so
// they are safe to run inside the completion path.
type gateBank struct {
	io   GateIO
	outs []int
	ins  []int
}

func newGateBank(io GateIO, outs, ins []int) *gateBank {
	if len(outs) == 0 {
		outs = DefaultGateOutLines
	}
	if len(ins) == 0 {
		ins = DefaultGateInLines
	}

	return &gateBank{io: io, outs: outs, ins: ins}
}

// drive sets each output line from the corresponding bit of word.
func (g *gateBank) drive(word uint32) {
	for i, line := range g.outs {
		g.io.SetOutput(line, word&(1<<uint(i)) != 0)
	}
}

// sample packs the input lines into a word, line i at bit i.
func (g *gateBank) sample() uint32 {
	var v uint32
	for i, line := range g.ins {
		if g.io.ReadInput(line) {
			v |= 1 << uint(i)
		}
	}

	return v
}
