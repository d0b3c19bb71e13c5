package i2s

// configure programs the protocol registers from the resolved profile in one
// pass. The bus engine stays disabled; enable turns it on separately. The
// register block is left with every field defined, in this order: mode,
// receive format, transmit format, clock distribution, DMA thresholds.
func (d *Device) configure() {
	p := d.profile

	dataLength := p.WordLength
	frameLength := p.FrameLength
	framesyncLength := frameLength / 2

	// Channel format: enable, extended width, width encoded from the word
	// length. CH2 uses the same format as CH1.
	format := uint32(BCM2835_I2S_CHEN | BCM2835_I2S_CHWEX)
	format |= chwid((dataLength - 8) & 0xf)

	var mode uint32
	if p.ClockRate != 0 {
		// Only the bit-clock-master variant programs the shared clock. A
		// failed rate request leaves the bus timing out of spec but is not
		// fatal; it is reported and configuration proceeds.
		if d.clock == nil {
			d.warnClockRate.Add(1)
			d.logf("i2s: no clock source for variant %q", p.Name)
		} else {
			if err := d.clock.SetRate(p.ClockRate); err != nil {
				d.warnClockRate.Add(1)
				d.logf("i2s: clock rate %d Hz request failed: %v", p.ClockRate, err)
			}
			d.clock.Enable()
		}
	}
	if p.BitClockMaster {
		mode |= BCM2835_I2S_CLKI
	}

	format = ch1(format) | ch2(format)

	mode |= flen(frameLength - 1)
	mode |= fslen(framesyncLength)

	if !p.BitClockMaster {
		mode |= BCM2835_I2S_CLKDIS | BCM2835_I2S_CLKM | BCM2835_I2S_CLKI
	}

	if !p.FrameSyncMaster {
		mode |= BCM2835_I2S_FSM
	}

	// Invert frame sync so channel 0 (left) arrives with the FS line low.
	mode |= BCM2835_I2S_FSI

	d.regs.Write(BCM2835_I2S_MODE_A_REG, mode)

	d.regs.Write(BCM2835_I2S_RXC_A_REG,
		format|ch1(chpos(p.Ch1Pos))|ch2(chpos(p.Ch2Pos)))

	d.regs.Write(BCM2835_I2S_TXC_A_REG,
		format|ch1(chpos(p.Ch1Pos))|ch2(chpos(p.Ch2Pos)))

	// Clock distribution on, as the final mode change.
	d.regs.UpdateBits(BCM2835_I2S_MODE_A_REG, BCM2835_I2S_CLKDIS, 0)

	// DMA request thresholds.
	d.regs.UpdateBits(BCM2835_I2S_CS_A_REG,
		rxthr(1)|txthr(1)|BCM2835_I2S_DMAEN, 0xffffffff)

	d.regs.UpdateBits(BCM2835_I2S_DREQ_A_REG,
		panictx(BCM2835_DMA_TX_PANIC_THR)|
			panicrx(BCM2835_DMA_RX_PANIC_THR)|
			dreqtx(BCM2835_DMA_THR_TX)|
			dreqrx(BCM2835_DMA_THR_RX), 0xffffffff)
}

// enable releases the RAM standby, unmasks the error interrupts and turns
// the PCM block on.
func (d *Device) enable() {
	d.regs.UpdateBits(BCM2835_I2S_CS_A_REG,
		BCM2835_I2S_STBY, BCM2835_I2S_STBY)

	d.regs.UpdateBits(BCM2835_I2S_INTEN_A_REG,
		BCM2835_I2S_INT_TXERR|BCM2835_I2S_INT_RXERR,
		BCM2835_I2S_INT_TXERR|BCM2835_I2S_INT_RXERR)

	d.regs.UpdateBits(BCM2835_I2S_CS_A_REG,
		BCM2835_I2S_EN, BCM2835_I2S_EN)
}

// clearRegs resets the whole control block to its power-on state.
func (d *Device) clearRegs() {
	d.regs.Write(BCM2835_I2S_CS_A_REG, 0)
	d.regs.Write(BCM2835_I2S_MODE_A_REG, 0)
	d.regs.Write(BCM2835_I2S_RXC_A_REG, 0)
	d.regs.Write(BCM2835_I2S_TXC_A_REG, 0)
	d.regs.Write(BCM2835_I2S_DREQ_A_REG, 0)
	d.regs.Write(BCM2835_I2S_INTEN_A_REG, 0)
	d.regs.Write(BCM2835_I2S_INTSTC_A_REG, 0)
	d.regs.Write(BCM2835_I2S_GRAY_REG, 0)
}
