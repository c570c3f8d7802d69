package raspa

// Sideband protocol between raspa and the companion micro-controller. One
// fixed-size control packet precedes each audio buffer in shared memory on
// the sync and async platforms.

const (
	// Sizes in 32 bit words of the two control blocks that precede each
	// audio buffer in shared memory.
	deviceCtrlPktWords = 16
	audioCtrlPktWords  = 38

	audioCtrlPktMagicStart0 uint32 = 0x414b4c45 // "ELKA"
	audioCtrlPktMagicStart1 uint32 = 0x4f494455 // "UDIO"

	audioCtrlPktPayloadSize = 128

	gpioDataBlobSize    = 32
	maxGpioDataBlobs    = audioCtrlPktPayloadSize / gpioDataBlobSize
	maxMidiPayloadBytes = audioCtrlPktPayloadSize
)

// Packet commands.
const (
	pktCmdDefault    uint8 = 0
	pktCmdGpio       uint8 = 1
	pktCmdMidi       uint8 = 2
	pktCmdAudioCease uint8 = 3
)

// gpioDataBlob is an opaque record shared by convention with the GPIO host
// daemon. Raspa neither interprets nor reorders it.
type gpioDataBlob [gpioDataBlobSize]byte

// audioCtrlPkt is overlaid directly on the shared memory region, so the
// field order and sizes are the wire layout. 38 words in total.
type audioCtrlPkt struct {
	magicStart    [2]uint32
	seq           uint32
	cmd           uint8
	subCmd        uint8
	payloadLen    uint8
	_             uint8
	timingErrorNs int32
	gate          uint32
	payload       [audioCtrlPktPayloadSize]byte
}

// clear zeroes the packet.
func (p *audioCtrlPkt) clear() {
	*p = audioCtrlPkt{}
}

// makeDefault clears the packet and stamps the magic words and the given
// sequence number. The command stays at the default no-op.
func (p *audioCtrlPkt) makeDefault(seq uint32) {
	p.clear()
	p.magicStart[0] = audioCtrlPktMagicStart0
	p.magicStart[1] = audioCtrlPktMagicStart1
	p.seq = seq
}

// validate reports whether the magic words are present. No payload may be
// consumed from a packet that does not validate.
func (p *audioCtrlPkt) validate() bool {
	return p.magicStart[0] == audioCtrlPktMagicStart0 &&
		p.magicStart[1] == audioCtrlPktMagicStart1
}

// prepareGpioCmd marks the packet as carrying numBlobs GPIO data blobs. The
// blobs themselves are written with setGpioBlob beforehand.
func (p *audioCtrlPkt) prepareGpioCmd(numBlobs int) {
	p.cmd = pktCmdGpio
	p.subCmd = uint8(numBlobs)
	p.payloadLen = uint8(numBlobs * gpioDataBlobSize)
}

// prepareAudioCease turns the packet into a cease command telling the
// companion to power down audio.
func (p *audioCtrlPkt) prepareAudioCease(seq uint32) {
	p.makeDefault(seq)
	p.cmd = pktCmdAudioCease
}

// timingError returns the timing error in nanoseconds reported by the
// companion. Only meaningful on the sync platform.
func (p *audioCtrlPkt) timingError() int32 {
	return p.timingErrorNs
}

func (p *audioCtrlPkt) gateIn() uint32 {
	return p.gate
}

func (p *audioCtrlPkt) setGateOut(val uint32) {
	p.gate = val
}

// checkForGpioData returns the number of GPIO blobs in the payload, or zero
// when the packet carries something else.
func (p *audioCtrlPkt) checkForGpioData() int {
	if p.cmd != pktCmdGpio {
		return 0
	}

	n := int(p.subCmd)
	if n > maxGpioDataBlobs {
		return 0
	}

	return n
}

// checkForMidiData returns the number of midi bytes in the payload, or zero
// when the packet carries something else.
func (p *audioCtrlPkt) checkForMidiData() int {
	if p.cmd != pktCmdMidi {
		return 0
	}

	n := int(p.payloadLen)
	if n > maxMidiPayloadBytes {
		return 0
	}

	return n
}

// gpioBlob copies blob i out of the payload.
func (p *audioCtrlPkt) gpioBlob(i int) gpioDataBlob {
	var blob gpioDataBlob
	copy(blob[:], p.payload[i*gpioDataBlobSize:])

	return blob
}

// setGpioBlob copies a blob into payload slot i.
func (p *audioCtrlPkt) setGpioBlob(i int, blob gpioDataBlob) {
	copy(p.payload[i*gpioDataBlobSize:], blob[:])
}
