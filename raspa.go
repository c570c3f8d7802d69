// Package raspa bridges a real-time audio kernel driver to a user supplied
// processing callback. The driver exposes a shared memory double buffer
// pair plus control word regions; raspa maps them, runs a processing task
// woken by driver interrupts, converts codec integer samples to normalized
// floats, invokes the callback and acknowledges the driver.
//
// The lifecycle is Init, Open, StartRealtime, Close. The callback receives
// planar float32 buffers, one channel after the other, and must neither
// allocate nor block.
package raspa

import (
	"sync"

	"golang.org/x/sys/unix"
)

// MicroSec is a timestamp or duration in microseconds.
type MicroSec int64

// ProcessCallback is invoked once per audio period with the input samples
// converted to planar float32 and an output buffer of the same shape to
// fill. userData is the value passed to Open.
type ProcessCallback func(input, output []float32, userData any)

// Debug flags for Open.
const (
	// DebugSignalOnModeSw arms a one-shot warning when the processing
	// task drops out of its real-time scheduling mode.
	DebugSignalOnModeSw uint32 = 1 << 0

	// DebugEnableRunLogToFile logs per-period (start, end) timestamps to
	// DefaultRunLogPath.
	DebugEnableRunLogToFile uint32 = 1 << 1
)

// The facade is process wide: one driver instance, one engine.
var (
	mu          sync.Mutex
	eng         *engine
	initialized bool
	opened      bool
)

// Init installs the process wide real-time scaffolding. Calling it more
// than once is a no-op.
func Init() error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return nil
	}

	if eng == nil {
		eng = newEngine()
	}

	if err := eng.initEngine(); err != nil {
		return err
	}

	initialized = true

	return nil
}

// Open validates the driver configuration, maps the shared region and
// prepares the processing resources. bufferSize must equal the driver's
// configured buffer size in frames. A second Open without an intervening
// Close fails.
func Open(bufferSize int, callback ProcessCallback, userData any, debugFlags uint32) error {
	mu.Lock()
	defer mu.Unlock()

	if opened {
		return &Error{Code: EDeviceOpen, Errno: unix.EBUSY}
	}

	if eng == nil {
		eng = newEngine()
	}

	if err := eng.open(bufferSize, callback, userData, debugFlags); err != nil {
		return err
	}

	opened = true

	return nil
}

// StartRealtime spawns the processing task and tells the driver to start
// the transfer. The callback fires from the next driver interrupt on.
func StartRealtime() error {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return &Error{Code: EDeviceOpen}
	}

	return eng.startRealtime()
}

// Close stops the processing task, tells the driver to stop and releases
// all resources acquired by Open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return nil
	}

	opened = false

	return eng.closeDevice()
}

// SamplingRate returns the driver's sample rate in Hz, or 0 when not open.
func SamplingRate() float32 {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return 0
	}

	return eng.samplingRate()
}

// NumInputChannels returns the number of input channels, or 0 when not
// open.
func NumInputChannels() int {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return 0
	}

	return eng.numInputChans
}

// NumOutputChannels returns the number of output channels, or 0 when not
// open.
func NumOutputChannels() int {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return 0
	}

	return eng.numOutputChans
}

// Samplecount returns the number of frames processed since StartRealtime.
func Samplecount() int64 {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return 0
	}

	return eng.samplecount()
}

// Time returns the monotonic clock in microseconds.
func Time() MicroSec {
	return monotonicMicros()
}

// OutputLatency returns a coarse estimate of the output latency.
func OutputLatency() MicroSec {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return 0
	}

	return eng.outputLatency()
}

// GateValues returns the gate input word of the most recent period.
func GateValues() uint32 {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return 0
	}

	return eng.gateValues()
}

// SetGateValues sets the gate output word emitted on the next period.
func SetGateValues(val uint32) {
	mu.Lock()
	defer mu.Unlock()

	if opened {
		eng.setGateValues(val)
	}
}

// ErrorMsg returns the text for a library error code, including the system
// errno detail recorded when the error occurred.
func ErrorMsg(code int) string {
	mu.Lock()
	defer mu.Unlock()

	if eng == nil {
		return composeErrorText(ErrorCode(code), 0)
	}

	return eng.errs.text(ErrorCode(code))
}

// RequestOutGpio claims a driver GPIO pin and configures it as an output.
func RequestOutGpio(pin int) error {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return &Error{Code: EGpioUnsupported}
	}

	return eng.requestOutGpio(pin)
}

// SetGpio sets the value of a previously requested output pin.
func SetGpio(pin, val int) error {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return &Error{Code: EGpioUnsupported}
	}

	return eng.setGpio(pin, val)
}

// FreeGpio releases a previously requested pin.
func FreeGpio(pin int) error {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return &Error{Code: EGpioUnsupported}
	}

	return eng.freeGpio(pin)
}
