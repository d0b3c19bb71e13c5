package i2s

// fifoSyncPollBudget bounds the SYNC toggle poll in ClearFifos. The SYNC bit
// echoes writes after two bus clocks, so on healthy hardware the loop exits
// within a handful of reads.
const fifoSyncPollBudget = 1000

// frameSyncPollBudget bounds the frame synchronization drain. A responding
// codec delivers the zero/zero marker within one frame; this budget is far
// above that but keeps a dead codec from hanging the caller.
const frameSyncPollBudget = 1 << 20

// ClearFifos resets the hardware sample queues for the requested
// direction(s). The bus enable state is snapshotted first and restored
// afterwards, so clearing never turns a stopped bus on. The clear pulse must
// persist at least two bus clocks; completion is detected by toggling the
// SYNC bit and polling for the echo. Exhausting the poll budget is counted
// as a hardware warning, not an error.
func (d *Device) ClearFifos(tx, rx bool) {
	var off, clr uint32
	if tx {
		off |= BCM2835_I2S_TXON
		clr |= BCM2835_I2S_TXCLR
	}
	if rx {
		off |= BCM2835_I2S_RXON
		clr |= BCM2835_I2S_RXCLR
	}

	csreg := d.regs.Read(BCM2835_I2S_CS_A_REG)
	activeState := csreg & (BCM2835_I2S_RXON | BCM2835_I2S_TXON)

	d.regs.UpdateBits(BCM2835_I2S_CS_A_REG, off, 0)

	d.regs.UpdateBits(BCM2835_I2S_CS_A_REG, clr, clr)

	sync := d.regs.Read(BCM2835_I2S_CS_A_REG) & BCM2835_I2S_SYNC

	d.regs.UpdateBits(BCM2835_I2S_CS_A_REG, BCM2835_I2S_SYNC, ^sync)

	timeout := fifoSyncPollBudget
	for ; timeout > 0; timeout-- {
		csreg = d.regs.Read(BCM2835_I2S_CS_A_REG)
		if (csreg & BCM2835_I2S_SYNC) != sync {
			break
		}
	}
	if timeout == 0 {
		d.warnSyncPoll.Add(1)
		d.logf("i2s: SYNC did not toggle within %d polls", fifoSyncPollBudget)
	}

	d.regs.UpdateBits(BCM2835_I2S_CS_A_REG,
		BCM2835_I2S_RXON|BCM2835_I2S_TXON, activeState)
}

// synchFrame enables streaming and drains the receive FIFO sample by sample
// until the two most recent samples are both zero. The codec's trailing
// channel pair is always zero, and two successive zero samples anywhere else
// in the frame are next to impossible, so the zero/zero boundary is a
// reliable phase reference. Returns the number of discarded samples.
func (d *Device) synchFrame(mask uint32) (int, error) {
	d.regs.UpdateBits(BCM2835_I2S_CS_A_REG, mask, mask)

	samples := [2]int32{0xff, 0xff}
	discarded := 0

	for polls := 0; samples[0] != 0 || samples[1] != 0; polls++ {
		if polls >= frameSyncPollBudget {
			// Back out the enable: a failed start must not leave the bus
			// streaming into the live DMA buffers.
			d.regs.UpdateBits(BCM2835_I2S_CS_A_REG, mask, 0)

			return discarded, ErrSyncTimeout
		}

		if d.regs.Read(BCM2835_I2S_CS_A_REG)&BCM2835_I2S_RXD == 0 {
			continue
		}

		// Pace the read with a dummy transmit word, then shift the sample
		// pair down and pull a fresh one.
		d.regs.Write(BCM2835_I2S_FIFO_A_REG, 0)
		samples[1] = samples[0]
		samples[0] = int32(d.regs.Read(BCM2835_I2S_FIFO_A_REG))
		discarded++
	}

	d.logf("i2s: %d samples discarded", discarded)

	return discarded, nil
}

// busStart enables both bus directions, running the frame-sync search first
// for variants that need phase alignment. The lifecycle mutex held by every
// caller orders all prior buffer writes before these register writes.
func (d *Device) busStart() error {
	mask := uint32(BCM2835_I2S_RXON | BCM2835_I2S_TXON)

	if d.profile.FrameSyncSearch {
		if _, err := d.synchFrame(mask); err != nil {
			return err
		}

		return nil
	}

	d.regs.UpdateBits(BCM2835_I2S_CS_A_REG, mask, mask)

	return nil
}

// busStop disables both bus directions.
func (d *Device) busStop() {
	d.regs.UpdateBits(BCM2835_I2S_CS_A_REG,
		BCM2835_I2S_RXON|BCM2835_I2S_TXON, 0)
}
