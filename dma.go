package i2s

import "fmt"

// prepareCyclic configures one channel's peripheral side and builds its
// cyclic descriptor: the full double buffer, segmented into period-sized
// chunks, repeating indefinitely.
func (d *Device) prepareCyclic(dir Direction) (DmaDescriptor, error) {
	cfg := SlaveConfig{
		Direction: dir,
		Addr:      d.fifoBusAddr,
		AddrWidth: d.addrWidth,
		MaxBurst:  d.burstSize,
	}

	var (
		ch      DmaChannel
		busAddr uint32
	)
	switch dir {
	case DMA_MEM_TO_DEV:
		ch = d.txChan
		busAddr = d.buffers.TxBusAddr()
	case DMA_DEV_TO_MEM:
		ch = d.rxChan
		busAddr = d.buffers.RxBusAddr()
	default:
		return nil, fmt.Errorf("%w: unsupported direction %d", ErrDescriptorUnavailable, dir)
	}

	if err := ch.ConfigureSlave(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s slave config: %v", ErrDescriptorUnavailable, dir, err)
	}

	desc, err := ch.PrepCyclic(busAddr, d.buffers.BufferLen(), d.buffers.PeriodLen(), dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDescriptorUnavailable, dir, err)
	}

	return desc, nil
}

// dmaPrepare builds both cyclic descriptors, transmit first. If the receive
// side fails after the transmit side succeeded, the transmit channel is
// terminated so no half-initialized pair is left pending. The completion
// callback rides on the receive transfer only; the two directions are paced
// together by the hardware.
func (d *Device) dmaPrepare() error {
	var err error

	d.txDesc, err = d.prepareCyclic(DMA_MEM_TO_DEV)
	if err != nil {
		return err
	}

	d.rxDesc, err = d.prepareCyclic(DMA_DEV_TO_MEM)
	if err != nil {
		if termErr := d.txChan.Terminate(); termErr != nil {
			d.logf("i2s: tx terminate after rx prepare failure: %v", termErr)
		}
		d.txDesc = nil

		return err
	}

	d.rxDesc.SetCallback(d.onPeriodComplete)

	return nil
}

// submitDma submits receive before transmit (the receive side owns the
// callback and paces the pair) and then issues both queues. A failed
// transmit submit unwinds the already submitted receive side.
func (d *Device) submitDma() error {
	var err error

	d.rxCookie, err = d.rxDesc.Submit()
	if err != nil {
		return fmt.Errorf("%w: rx: %v", ErrSubmissionFailed, err)
	}

	d.txCookie, err = d.txDesc.Submit()
	if err != nil {
		if termErr := d.rxChan.Terminate(); termErr != nil {
			d.logf("i2s: rx terminate after tx submit failure: %v", termErr)
		}

		return fmt.Errorf("%w: tx: %v", ErrSubmissionFailed, err)
	}

	d.rxChan.IssuePending()
	d.txChan.IssuePending()

	return nil
}

// dmaTeardown terminates and synchronizes transmit, then receive. A failed
// termination aborts the teardown there and is surfaced to the caller; the
// coherent region must not be released in that case.
func (d *Device) dmaTeardown() error {
	if err := d.txChan.Terminate(); err != nil {
		return fmt.Errorf("%w: tx: %v", ErrTerminationFailed, err)
	}
	d.txChan.Synchronize()

	if err := d.rxChan.Terminate(); err != nil {
		return fmt.Errorf("%w: rx: %v", ErrTerminationFailed, err)
	}
	d.rxChan.Synchronize()

	return nil
}

// onPeriodComplete runs once per period boundary, in the completion context
// of the receive channel. It must stay non-blocking and bounded: status
// checks, counter updates, the buffer-index flip, one non-blocking signal
// send and a fixed handful of gate bit operations.
func (d *Device) onPeriodComplete() {
	if st := d.txChan.TxStatus(d.txCookie); st.State == DMA_ERROR {
		d.warnXferStatus.Add(1)
		d.logf("i2s: DMA TX status: %d (%d %d)", st.State, st.Residue, st.InFlightBytes)
	}
	if st := d.rxChan.TxStatus(d.rxCookie); st.State == DMA_ERROR {
		d.warnXferStatus.Add(1)
		d.logf("i2s: DMA RX status: %d (%d %d)", st.State, st.Residue, st.InFlightBytes)
	}

	d.interrupts.Add(1)

	// The callback is the only writer of the buffer index.
	idx := d.bufferIdx.Load() ^ 1
	d.bufferIdx.Store(idx)

	// Replace any unconsumed signal with the fresh index; never block here.
	select {
	case d.completions <- idx:
	default:
		select {
		case <-d.completions:
		default:
		}
		select {
		case d.completions <- idx:
		default:
		}
	}

	if d.gates != nil {
		d.gates.drive(d.buffers.GateOutWord())
		d.buffers.setGateInWord(d.gates.sample())
	}
}
