package raspa

import (
	"sync/atomic"
	"unsafe"
)

// The processing loops. One of these runs on the pinned task, chosen by
// platform type. The steady state body performs no allocation and no system
// call other than the two driver ioctls.

func (e *engine) rtLoop() {
	switch e.platform {
	case platformNative:
		e.rtLoopNative()
	case platformSync:
		e.rtLoopSync()
	case platformAsync:
		e.rtLoopAsync()
	}
}

// irqWait blocks until the next audio period. The driver reports the half
// of the double buffer to operate on through the request argument.
func (e *engine) irqWait(bufIdx *int32) bool {
	_, err := e.dev.oobIoctl(reqIrqWait, unsafe.Pointer(bufIdx))

	return err == nil
}

func (e *engine) userprocFinished(correctionNs *int32) bool {
	_, err := e.dev.oobIoctl(reqUserprocFinished, unsafe.Pointer(correctionNs))

	return err == nil
}

// checkModeSwitch arms mode switch detection once the startup periods are
// over, then disarms the flag so it fires at most once.
func (e *engine) checkModeSwitch() {
	if e.breakOnModeSw.Load() && e.interrupts.Load() > 1 {
		e.breakOnModeSw.Store(false)
	}
}

// performUserCallback converts the input half into the planar float
// buffers, invokes the callback and converts the result back.
func (e *engine) performUserCallback(input, output []int32) {
	for _, conv := range e.inConverters {
		conv.toFloat32(e.userIn, input)
	}

	e.userCallback(e.userIn, e.userOut, e.userData)

	for _, conv := range e.outConverters {
		conv.toInt32(output, e.userOut)
	}
}

func (e *engine) logPeriod(start MicroSec) {
	if e.runLog != nil {
		e.runLog.put(start, monotonicMicros())
	}
}

func (e *engine) rtLoopNative() {
	var bufIdx int32

	for {
		if !e.irqWait(&bufIdx) {
			return
		}
		start := monotonicMicros()

		e.checkModeSwitch()

		// Silence the output once a stop has been requested.
		if e.stopRequest.Load() {
			e.clearDriverBuffers()
		} else {
			e.userGateIn.Store(atomic.LoadUint32(e.cvIn))
			e.performUserCallback(e.audioIn[bufIdx], e.audioOut[bufIdx])
			atomic.StoreUint32(e.cvOut, e.userGateOut.Load())
		}

		e.logPeriod(start)
		e.userprocFinished(nil)
		e.interrupts.Add(1)
	}
}

func (e *engine) rtLoopAsync() {
	var bufIdx int32

	for {
		if !e.irqWait(&bufIdx) {
			return
		}
		start := monotonicMicros()

		e.checkModeSwitch()

		e.userGateIn.Store(e.rxPkt[bufIdx].gateIn())

		e.parseRxPkt(e.rxPkt[bufIdx])
		e.performUserCallback(e.audioIn[bufIdx], e.audioOut[bufIdx])
		e.nextTxPkt(e.txPkt[bufIdx])

		e.txPkt[bufIdx].setGateOut(e.userGateOut.Load())

		e.logPeriod(start)
		e.userprocFinished(nil)
		e.interrupts.Add(1)
	}
}

func (e *engine) rtLoopSync() {
	var bufIdx int32

	// Warm-up: the callback is suppressed until the delay filter has
	// settled, but the filter and the packet layer keep running so the
	// timing correction converges before audio begins.
	for e.interrupts.Load() < delayFilterSettlingPeriods {
		if !e.irqWait(&bufIdx) {
			return
		}

		correctionNs := e.filter.process(e.rxPkt[bufIdx].timingError())

		e.parseRxPkt(e.rxPkt[bufIdx])
		e.nextTxPkt(e.txPkt[bufIdx])

		if !e.userprocFinished(&correctionNs) {
			return
		}
		e.interrupts.Add(1)
	}

	for {
		if !e.irqWait(&bufIdx) {
			return
		}
		start := monotonicMicros()

		e.checkModeSwitch()

		correctionNs := e.filter.process(e.rxPkt[bufIdx].timingError())

		e.userGateIn.Store(e.rxPkt[bufIdx].gateIn())

		e.parseRxPkt(e.rxPkt[bufIdx])
		e.performUserCallback(e.audioIn[bufIdx], e.audioOut[bufIdx])
		e.nextTxPkt(e.txPkt[bufIdx])

		e.txPkt[bufIdx].setGateOut(e.userGateOut.Load())

		e.logPeriod(start)
		if !e.userprocFinished(&correctionNs) {
			return
		}
		e.interrupts.Add(1)
	}
}

// parseRxPkt dispatches the sideband content of a received packet. GPIO
// blobs go to the bridge; a full to-RT fifo drops the remainder at the
// sender.
func (e *engine) parseRxPkt(pkt *audioCtrlPkt) {
	if !pkt.validate() {
		return
	}

	if numBlobs := pkt.checkForGpioData(); numBlobs > 0 {
		for i := 0; i < numBlobs; i++ {
			e.gpio.sendGpioDataToNrt(pkt.gpioBlob(i))
		}

		return
	}

	// Midi payloads are counted but not routed anywhere yet.
	_ = pkt.checkForMidiData()
}

// nextTxPkt decides what the next outgoing packet carries: a cease command
// when stopping, pending GPIO blobs when the bridge has any, otherwise a
// default no-op packet.
func (e *engine) nextTxPkt(pkt *audioCtrlPkt) {
	if e.stopRequest.Load() {
		pkt.prepareAudioCease(e.seq)
		return
	}

	if e.gpio.rxGpioDataAvailable() {
		e.prepareGpioCmdPkt(pkt)
		return
	}

	pkt.makeDefault(e.seq)
}

// prepareGpioCmdPkt fills the payload with up to maxGpioDataBlobs pending
// blobs from the bridge.
func (e *engine) prepareGpioCmdPkt(pkt *audioCtrlPkt) {
	e.seq++
	pkt.makeDefault(e.seq)

	var blob gpioDataBlob
	numBlobs := 0
	for numBlobs < maxGpioDataBlobs && e.gpio.getGpioDataFromNrt(&blob) {
		pkt.setGpioBlob(numBlobs, blob)
		numBlobs++
	}

	pkt.prepareGpioCmd(numBlobs)
}
