package raspa

import (
	"errors"
	"os"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// Scheduling priority of the processing task.
	processingTaskPrio = 90

	// Delay for the driver to close and stop its thread.
	closeDelay = 500 * time.Millisecond

	// Delay for a stop request to be seen by the processing task.
	stopRequestDelay = 10 * time.Millisecond

	// Settling delay after spawning the processing task.
	threadCreateDelay = 10 * time.Millisecond
)

// engine owns the device handle, the shared memory mappings, the user
// buffers and the processing task. It implements the lifecycle behind the
// package level facade.
type engine struct {
	conf *driverConfig
	errs *errorRegistry

	// newDevice and scheduleRTTask are swapped for deterministic
	// substitutes in tests.
	newDevice      func(path string) (deviceIO, error)
	scheduleRTTask func(tid int) *Error
	dev            deviceIO

	gpioLocalPath string
	gpioHostPath  string
	runLogPath    string

	kernelMemSize int

	// Views into the shared memory region.
	words    []int32
	audioIn  [2][]int32
	audioOut [2][]int32
	cvIn     *uint32
	cvOut    *uint32
	rxPkt    [2]*audioCtrlPkt
	txPkt    [2]*audioCtrlPkt

	// User side buffers, planar float32, 16 byte aligned.
	userIn  []float32
	userOut []float32

	userGateIn  atomic.Uint32
	userGateOut atomic.Uint32

	sampleRate     int
	numInputChans  int
	numOutputChans int
	numCodecChans  int
	frames         int
	samples        int
	codecFmt       codecFormat
	platform       platformType

	inConverters  []channelConverter
	outConverters []channelConverter
	filter        *downsampledDelayFilter
	gpio          *gpioBridge
	runLog        *runLogger

	userCallback ProcessCallback
	userData     any

	seq           uint32
	interrupts    atomic.Int64
	stopRequest   atomic.Bool
	breakOnModeSw atomic.Bool

	// Init phases, used for cleanup in reverse order.
	deviceOpened    bool
	mmapInitialized bool
	taskStarted     bool
	taskDone        chan struct{}
}

func newEngine() *engine {
	return &engine{
		conf:           newDriverConfig(),
		errs:           newErrorRegistry(),
		newDevice:      openRtdmDevice,
		scheduleRTTask: applyRTScheduling,
		gpioLocalPath:  raspaSocketPath,
		gpioHostPath:   gpioHostSocketPath,
		runLogPath:     DefaultRunLogPath,
	}
}

// initEngine installs the process wide real time scaffolding: all current
// and future pages are locked into RAM and the runtime affinity spans all
// CPUs until the processing task is pinned.
func (e *engine) initEngine() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return e.errs.set(EMlockall, err)
	}

	var set unix.CPUSet
	for i := 0; i < runtime.NumCPU(); i++ {
		set.Set(i)
	}
	unix.SchedSetaffinity(0, &set)

	e.kernelMemSize = numPagesKernelMem * os.Getpagesize()

	return nil
}

func (e *engine) open(bufferSize int, callback ProcessCallback, userData any, debugFlags uint32) error {
	if err := e.conf.checkVersion(); err != nil {
		var rerr *Error
		if errors.As(err, &rerr) && rerr.Code == EVersion {
			return rerr
		}
		return e.errs.set(EParamVersion, err)
	}

	if err := e.audioInfoFromDriver(); err != nil {
		return err
	}

	e.frames = bufferSize
	if err := e.validateBufferSize(); err != nil {
		return err
	}

	if debugFlags&DebugSignalOnModeSw != 0 {
		e.breakOnModeSw.Store(true)
	}
	runLogEnabled := debugFlags&DebugEnableRunLogToFile != 0

	if err := e.openDriver(); err != nil {
		return err
	}

	if err := e.mapDriverBuffers(); err != nil {
		e.cleanup()
		return err
	}

	e.carveDriverBuffers()
	e.initUserBuffers()

	if err := e.initSampleConverters(); err != nil {
		e.cleanup()
		return e.errs.set(EBufferSizeSC, err)
	}

	// The delay filter is needed for synchronization with the companion.
	if e.platform == platformSync {
		e.filter = newDownsampledDelayFilter(delayFilterSettlingPeriods)
	}

	if e.platform != platformNative {
		e.gpio = newGpioBridge(e.gpioLocalPath, e.gpioHostPath, e.errs)
		if err := e.gpio.init(); err != nil {
			e.cleanup()
			return err
		}
	}

	if runLogEnabled {
		e.runLog = newRunLogger()
		if err := e.runLog.start(e.runLogPath); err != nil {
			e.cleanup()
			return e.errs.set(ERunLogFileOpen, err)
		}
	}

	e.userCallback = callback
	e.userData = userData
	e.interrupts.Store(0)
	e.seq = 0
	e.stopRequest.Store(false)

	return nil
}

func (e *engine) audioInfoFromDriver() error {
	sampleRate, err := e.conf.sampleRate()
	if err != nil {
		return e.errs.set(EParamSampleRate, err)
	}

	numIn, err := e.conf.numInputChans()
	if err != nil {
		return e.errs.set(EParamInputChans, err)
	}

	numOut, err := e.conf.numOutputChans()
	if err != nil {
		return e.errs.set(EParamOutputChans, err)
	}

	format, err := e.conf.codecFormat()
	if err != nil {
		return e.errs.set(EParamCodecFormat, err)
	}

	platform, err := e.conf.platformType()
	if err != nil {
		return e.errs.set(EParamPlatformType, err)
	}

	if format <= codecFormatNone || format >= numCodecFormats {
		return e.errs.set(ECodecFormat, nil)
	}

	if platform < platformNative || platform > platformAsync {
		return e.errs.set(EPlatformType, nil)
	}

	e.sampleRate = sampleRate
	e.numInputChans = numIn
	e.numOutputChans = numOut
	e.codecFmt = format
	e.platform = platform

	e.numCodecChans = numIn
	if numOut > numIn {
		e.numCodecChans = numOut
	}

	return nil
}

func (e *engine) validateBufferSize() error {
	driverBufferSize, err := e.conf.bufferSize()
	if err != nil {
		return e.errs.set(EParamBufferSize, err)
	}

	if driverBufferSize != e.frames {
		return e.errs.set(EBufferSizeMismatch, nil)
	}

	return nil
}

func (e *engine) openDriver() error {
	dev, err := e.newDevice(deviceName)
	if err != nil {
		var errno syscall.Errno
		errors.As(err, &errno)

		if errno == driverErrInvalidBufferSize {
			return e.errs.set(EBufferSizeInvalid, err)
		}

		// Companion related failures only exist on non native platforms.
		if e.platform != platformNative {
			switch errno {
			case driverErrDeviceInactive:
				return e.errs.set(EDeviceInactive, err)
			case driverErrInvalidFirmware:
				return e.errs.set(EDeviceFirmware, err)
			}
		}

		return e.errs.set(EDeviceOpen, err)
	}

	e.dev = dev
	e.deviceOpened = true

	return nil
}

func (e *engine) mapDriverBuffers() error {
	if e.kernelMemSize == 0 {
		e.kernelMemSize = numPagesKernelMem * os.Getpagesize()
	}

	mem, err := e.dev.mmap(e.kernelMemSize)
	if err != nil {
		return e.errs.set(ENoMem, err)
	}

	e.words = unsafe.Slice((*int32)(unsafe.Pointer(&mem[0])), len(mem)/4)
	e.mmapInitialized = true

	return nil
}

// carveDriverBuffers computes the buffer views for the platform's shared
// memory image. Non native platforms prepend a device control block and an
// audio control packet to every audio slot; native exposes raw buffers
// followed by the two gate words. Pointers are computed by word summation,
// never by struct padding.
func (e *engine) carveDriverBuffers() {
	e.samples = e.frames * e.numCodecChans
	w := e.words

	if e.platform != platformNative {
		off := 0
		for i := 0; i < 2; i++ {
			off += deviceCtrlPktWords
			e.rxPkt[i] = (*audioCtrlPkt)(unsafe.Pointer(&w[off]))
			off += audioCtrlPktWords
			e.audioIn[i] = w[off : off+e.samples]
			off += e.samples
		}
		for i := 0; i < 2; i++ {
			off += deviceCtrlPktWords
			e.txPkt[i] = (*audioCtrlPkt)(unsafe.Pointer(&w[off]))
			off += audioCtrlPktWords
			e.audioOut[i] = w[off : off+e.samples]
			off += e.samples
		}
	} else {
		e.audioIn[0] = w[:e.samples]
		e.audioIn[1] = w[e.samples : 2*e.samples]
		e.audioOut[0] = w[2*e.samples : 3*e.samples]
		e.audioOut[1] = w[3*e.samples : 4*e.samples]
		e.cvOut = (*uint32)(unsafe.Pointer(&w[4*e.samples]))
		e.cvIn = (*uint32)(unsafe.Pointer(&w[4*e.samples+1]))
	}

	e.clearDriverBuffers()
}

func (e *engine) clearDriverBuffers() {
	if !e.mmapInitialized {
		return
	}

	if e.platform != platformNative {
		e.rxPkt[0].clear()
		e.rxPkt[1].clear()
		e.txPkt[0].clear()
		e.txPkt[1].clear()
	}

	for i := 0; i < 2; i++ {
		clear(e.audioIn[i])
		clear(e.audioOut[i])
	}
}

func (e *engine) initUserBuffers() {
	e.userIn = alignedFloat32(e.samples)
	e.userOut = alignedFloat32(e.samples)
}

// alignedFloat32 allocates a float32 slice whose backing array starts on a
// 16 byte boundary.
func alignedFloat32(n int) []float32 {
	buf := make([]byte, n*4+15)
	off := 0
	if rem := uintptr(unsafe.Pointer(&buf[0])) & 15; rem != 0 {
		off = int(16 - rem)
	}

	return unsafe.Slice((*float32)(unsafe.Pointer(&buf[off])), n)
}

// initSampleConverters materializes one converter per channel. The driver
// interleaves channels, so the stride is the codec channel count and each
// channel starts at its own index.
func (e *engine) initSampleConverters() error {
	stride := e.numCodecChans

	e.inConverters = e.inConverters[:0]
	for k := 0; k < e.numInputChans; k++ {
		conv, err := newChannelConverter(e.codecFmt, e.frames, stride, k, k)
		if err != nil {
			return err
		}
		e.inConverters = append(e.inConverters, conv)
	}

	e.outConverters = e.outConverters[:0]
	for k := 0; k < e.numOutputChans; k++ {
		conv, err := newChannelConverter(e.codecFmt, e.frames, stride, k, k)
		if err != nil {
			return err
		}
		e.outConverters = append(e.outConverters, conv)
	}

	return nil
}

type schedParam struct {
	priority int32
}

// applyRTScheduling pins the calling thread to CPU 0 and requests
// SCHED_FIFO at the processing priority.
func applyRTScheduling(tid int) *Error {
	var set unix.CPUSet
	set.Set(0)
	if err := unix.SchedSetaffinity(tid, &set); err != nil {
		return &Error{Code: ETaskAffinity, Errno: errnoOf(err)}
	}

	param := schedParam{priority: processingTaskPrio}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER,
		uintptr(tid), uintptr(unix.SCHED_FIFO), uintptr(unsafe.Pointer(&param)))
	// EPERM means no CAP_SYS_NICE; run without RT priority rather than
	// refusing to start.
	if errno != 0 && errno != unix.EPERM {
		return &Error{Code: ETaskCreate, Errno: errno}
	}

	return nil
}

// rtTask is the entry point of the processing task. It pins itself to CPU 0
// and requests SCHED_FIFO before entering the loop.
func (e *engine) rtTask(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := e.scheduleRTTask(unix.Gettid()); err != nil {
		ready <- err
		return
	}

	ready <- nil

	defer close(e.taskDone)
	e.rtLoop()
}

func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	errors.As(err, &errno)

	return errno
}

func (e *engine) startRealtime() error {
	e.taskDone = make(chan struct{})
	ready := make(chan error, 1)
	go e.rtTask(ready)

	// On a startup failure the engine stays opened; teardown is left to
	// the close path.
	if err := <-ready; err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			return e.errs.set(rerr.Code, rerr.Errno)
		}
		return e.errs.set(ETaskCreate, err)
	}

	e.taskStarted = true
	time.Sleep(threadCreateDelay)

	// Creating the pinned task narrows the caller's affinity on some RT
	// runtimes; revert to the default of using all cores.
	var set unix.CPUSet
	for i := 0; i < runtime.NumCPU(); i++ {
		set.Set(i)
	}
	unix.SchedSetaffinity(0, &set)

	if _, err := e.dev.ioctl(reqProcStart, nil); err != nil {
		return e.errs.set(ETaskStart, err)
	}

	return nil
}

func (e *engine) closeDevice() error {
	e.stopRequest.Store(true)

	// Give the processing task time to send the mute or cease command.
	time.Sleep(stopRequestDelay)

	_, err := e.dev.ioctl(reqProcStop, nil)

	// Wait for the driver to stop current transfers.
	time.Sleep(closeDelay)

	if err != nil {
		e.cleanup()
		return e.errs.set(ETaskStop, err)
	}

	return e.cleanup()
}

// cleanup reverses the completed open steps in strict reverse order. Safe
// to call at any init phase.
func (e *engine) cleanup() error {
	var firstErr error
	record := func(err error) {
		if firstErr == nil && err != nil {
			firstErr = err
		}
	}

	record(e.stopTask())
	e.userIn = nil
	e.userOut = nil
	record(e.releaseDriverBuffers())
	record(e.closeDriver())

	e.inConverters = nil
	e.outConverters = nil
	e.filter = nil

	if e.gpio != nil {
		e.gpio.deinit()
		e.gpio = nil
	}

	if e.runLog != nil {
		if err := e.runLog.terminate(); err != nil {
			record(e.errs.set(ERunLogFileClose, err))
		}
		e.runLog = nil
	}

	return firstErr
}

func (e *engine) stopTask() error {
	if !e.taskStarted {
		return nil
	}

	e.stopRequest.Store(true)
	e.taskStarted = false

	// The loop exits on its next failed ioctl once the driver stopped.
	select {
	case <-e.taskDone:
	case <-time.After(closeDelay):
		return e.errs.set(ETaskCancel, unix.ETIMEDOUT)
	}

	return nil
}

func (e *engine) releaseDriverBuffers() error {
	if !e.mmapInitialized {
		return nil
	}

	e.mmapInitialized = false
	e.words = nil
	if err := e.dev.munmap(); err != nil {
		return e.errs.set(EUnmap, err)
	}

	return nil
}

func (e *engine) closeDriver() error {
	if !e.deviceOpened {
		return nil
	}

	e.deviceOpened = false
	if err := e.dev.close(); err != nil {
		return e.errs.set(EDeviceClose, err)
	}

	return nil
}

// Observation operations, safe from non-RT threads.

func (e *engine) samplingRate() float32 {
	return float32(e.sampleRate)
}

func (e *engine) samplecount() int64 {
	return e.interrupts.Load() * int64(e.frames)
}

func (e *engine) outputLatency() MicroSec {
	if e.sampleRate > 0 {
		return MicroSec(e.samples) * 1000000 / MicroSec(e.sampleRate)
	}

	return 0
}

func (e *engine) gateValues() uint32 {
	return e.userGateIn.Load()
}

func (e *engine) setGateValues(val uint32) {
	e.userGateOut.Store(val)
}

func monotonicMicros() MicroSec {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}

	return MicroSec(ts.Sec)*1000000 + MicroSec(ts.Nsec)/1000
}

// Hardware GPIO pin control through the driver.

func (e *engine) requestOutGpio(pin int) error {
	gpio := rtGpio{num: int32(pin)}

	if _, err := e.dev.ioctl(reqGpioGetPin, unsafe.Pointer(&gpio)); err != nil {
		return e.errs.set(EGpioUnsupported, err)
	}

	if _, err := e.dev.ioctl(reqGpioSetDirOut, unsafe.Pointer(&gpio)); err != nil {
		return e.errs.set(EGpioUnsupported, err)
	}

	return nil
}

func (e *engine) setGpio(pin, val int) error {
	gpio := rtGpio{num: int32(pin), val: int32(val)}

	if _, err := e.dev.oobIoctl(reqGpioSetVal, unsafe.Pointer(&gpio)); err != nil {
		return e.errs.set(EGpioUnsupported, err)
	}

	return nil
}

func (e *engine) freeGpio(pin int) error {
	gpio := rtGpio{num: int32(pin)}

	if _, err := e.dev.ioctl(reqGpioRelease, unsafe.Pointer(&gpio)); err != nil {
		return e.errs.set(EGpioUnsupported, err)
	}

	return nil
}
