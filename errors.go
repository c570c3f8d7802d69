package raspa

import (
	"errors"
	"sync"
	"syscall"
)

// ErrorCode identifies a library error. The numeric values are part of the
// public contract: facade operations return them wrapped in *Error and
// ErrorMsg maps them back to text. Codes at or above EParam relate to the
// driver parameter surface.
type ErrorCode int

const (
	Success ErrorCode = 0

	EBufferSizeMismatch ErrorCode = 100
	EVersion            ErrorCode = 101
	ENoMem              ErrorCode = 102
	EUserBuffers        ErrorCode = 103
	ETaskAffinity       ErrorCode = 104
	ETaskCreate         ErrorCode = 105
	ETaskStart          ErrorCode = 106
	ETaskStop           ErrorCode = 107
	ETaskCancel         ErrorCode = 108
	EUnmap              ErrorCode = 109
	EDeviceOpen         ErrorCode = 110
	EDeviceClose        ErrorCode = 111
	ECodecFormat        ErrorCode = 112
	EPlatformType       ErrorCode = 113
	EDeviceFirmware     ErrorCode = 114
	EDeviceInactive     ErrorCode = 115
	EInSocketCreation   ErrorCode = 116
	EOutSocketCreation  ErrorCode = 117
	EInSocketBind       ErrorCode = 118
	EInSocketTimeout    ErrorCode = 119
	EMlockall           ErrorCode = 120
	EBufferSizeInvalid  ErrorCode = 121
	EBufferSizeSC       ErrorCode = 122
	ERunLogFileOpen     ErrorCode = 123
	ERunLogFileClose    ErrorCode = 124
	EGpioUnsupported    ErrorCode = 125

	EParam             ErrorCode = 200
	EParamSampleRate   ErrorCode = 201
	EParamInputChans   ErrorCode = 202
	EParamOutputChans  ErrorCode = 203
	EParamCodecFormat  ErrorCode = 204
	EParamPlatformType ErrorCode = 205
	EParamVersion      ErrorCode = 206
	EParamBufferSize   ErrorCode = 207
	EAlsaInit          ErrorCode = 208
)

// Additional message for parameter related errors.
const driverParamErrorInfo = "The driver might not have been" +
	" loaded or has invalid configuration or version."

var errorStrings = map[ErrorCode]string{
	Success:             "Raspa: No error. ",
	EBufferSizeMismatch: "Raspa: Buffer size mismatch with driver ",
	EVersion:            "Raspa: Version mismatch with driver ",
	ENoMem:              "Raspa: Failed to get buffers from driver ",
	EUserBuffers:        "Raspa: Failed to allocate user audio buffers ",
	ETaskAffinity:       "Raspa: Failed to set affinity for RT task ",
	ETaskCreate:         "Raspa: Failed to create RT task ",
	ETaskStart:          "Raspa: Failed to start RT task ",
	ETaskStop:           "Raspa: Failed to stop RT task ",
	ETaskCancel:         "Raspa: Failed to cancel RT task ",
	EUnmap:              "Raspa: Failed to unmap driver buffers ",
	EDeviceOpen:         "Raspa: Failed to open driver ",
	EDeviceClose:        "Raspa: Failed to close driver ",
	ECodecFormat:        "Raspa: Unsupported codec format ",
	EPlatformType:       "Raspa: Unsupported platform type ",
	EDeviceFirmware:     "Raspa: Incorrect firmware on external micro-controller ",
	EDeviceInactive:     "Raspa: External micro-controller not responding ",
	EInSocketCreation:   "Raspa: Failed to create input socket for gpio data communication ",
	EOutSocketCreation:  "Raspa: Failed to create output socket for gpio data communication ",
	EInSocketBind:       "Raspa: Failed to bind input socket to address ",
	EInSocketTimeout:    "Raspa: Failed to set timeout on input socket ",
	EMlockall:           "Raspa: Failed to lock memory needed to prevent page swapping ",
	EBufferSizeInvalid:  "Raspa: driver configured with invalid buffer size. ",
	EBufferSizeSC:       "Raspa: sample converter does not support specified buffer size. ",
	ERunLogFileOpen:     "Raspa: Failed to open run log file ",
	ERunLogFileClose:    "Raspa: Failed to close run log file ",
	EGpioUnsupported:    "Raspa: GPIO operation not supported by driver ",
	EParam:              "Raspa: Unable to read param from driver ",
	EParamSampleRate:    "Raspa: Unable to read sample rate param from driver ",
	EParamInputChans:    "Raspa: Unable to read num input chans param from driver ",
	EParamOutputChans:   "Raspa: Unable to read num output chans param from driver ",
	EParamCodecFormat:   "Raspa: Unable to read codec format param from driver ",
	EParamPlatformType:  "Raspa: Unable to read platform type param from driver ",
	EParamVersion:       "Raspa: Unable to read driver version param from driver ",
	EParamBufferSize:    "Raspa: Unable to access buffer size param of driver ",
	EAlsaInit:           "Raspa: Alsa usb init failed ",
}

// Error carries an ErrorCode plus the linux errno that caused it, when one
// is known. It is the error type returned by all facade operations.
type Error struct {
	Code  ErrorCode
	Errno syscall.Errno
}

func (e *Error) Error() string {
	return composeErrorText(e.Code, e.Errno)
}

func composeErrorText(code ErrorCode, errno syscall.Errno) string {
	if code < 0 {
		code = -code
	}

	text, ok := errorStrings[code]
	if !ok {
		return "Raspa: Unknown error"
	}

	if errno == 0 {
		return text
	}

	text += "(" + errno.Error() + "). "
	if code >= EParam {
		text += driverParamErrorInfo
	}

	return text
}

// errorRegistry stores the last errno seen per error code so that ErrorMsg
// can compose the full text after the fact. It is never touched from the
// RT loop.
type errorRegistry struct {
	mu     sync.Mutex
	errnos map[ErrorCode]syscall.Errno
}

func newErrorRegistry() *errorRegistry {
	return &errorRegistry{errnos: make(map[ErrorCode]syscall.Errno)}
}

func (r *errorRegistry) set(code ErrorCode, err error) *Error {
	if code < 0 {
		code = -code
	}

	var errno syscall.Errno
	errors.As(err, &errno)

	r.mu.Lock()
	r.errnos[code] = errno
	r.mu.Unlock()

	return &Error{Code: code, Errno: errno}
}

func (r *errorRegistry) text(code ErrorCode) string {
	if code < 0 {
		code = -code
	}

	r.mu.Lock()
	errno := r.errnos[code]
	r.mu.Unlock()

	return composeErrorText(code, errno)
}
