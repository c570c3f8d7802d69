package raspa

import (
	"fmt"
	stdio "io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	deviceName           = "/dev/rtdm/audio_rtdm"
	moduleParametersPath = "/sys/module/audio_rtdm/parameters"

	requiredDriverVersionMaj = 0
	requiredDriverVersionMin = 2

	// Parameter values are small decimal integers written by the driver.
	paramValueMaxLen = 25
)

// codecFormat describes how a 32 bit word in the driver buffers carries one
// sample of a channel. The values match the driver's audio_format parameter.
type codecFormat int

const (
	codecFormatNone codecFormat = iota
	codecInt24Lj
	codecInt24I2s
	codecInt24Rj
	codecInt24In32Rj
	codecInt32
	codecBinary
	numCodecFormats
)

// platformType describes the deployment shape of the board. The values match
// the driver's platform_type parameter.
type platformType int

const (
	platformNative platformType = iota + 1
	platformSync
	platformAsync
)

// driverConfig reads typed parameters from the driver's module parameter
// surface. Each parameter is a text file containing a decimal integer.
type driverConfig struct {
	base string
}

func newDriverConfig() *driverConfig {
	return &driverConfig{base: moduleParametersPath}
}

// read opens a parameter file, reads at most paramValueMaxLen bytes and
// parses them as a decimal integer.
func (c *driverConfig) read(name string) (int, error) {
	f, err := os.Open(filepath.Join(c.base, name))
	if err != nil {
		return 0, fmt.Errorf("open parameter %s: %w", name, err)
	}
	defer f.Close()

	buf := make([]byte, paramValueMaxLen)
	n, err := f.Read(buf)
	if err != nil && err != stdio.EOF {
		return 0, fmt.Errorf("read parameter %s: %w", name, err)
	}

	val, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0, fmt.Errorf("parse parameter %s: %w", name, err)
	}

	return val, nil
}

func (c *driverConfig) sampleRate() (int, error) {
	return c.read("audio_sampling_rate")
}

func (c *driverConfig) numInputChans() (int, error) {
	return c.read("audio_input_channels")
}

func (c *driverConfig) numOutputChans() (int, error) {
	return c.read("audio_output_channels")
}

func (c *driverConfig) bufferSize() (int, error) {
	return c.read("audio_buffer_size")
}

func (c *driverConfig) codecFormat() (codecFormat, error) {
	val, err := c.read("audio_format")
	return codecFormat(val), err
}

func (c *driverConfig) platformType() (platformType, error) {
	val, err := c.read("platform_type")
	return platformType(val), err
}

func (c *driverConfig) usbAudioType() (int, error) {
	return c.read("usb_audio_type")
}

func (c *driverConfig) irqAffinity() (int, error) {
	return c.read("audio_irq_affinity")
}

// checkVersion verifies the driver version against what this library was
// built for. The major version has to match exactly, the minor version has
// to be at least the required one.
func (c *driverConfig) checkVersion() error {
	maj, err := c.read("audio_ver_maj")
	if err != nil {
		return fmt.Errorf("driver version: %w", err)
	}

	min, err := c.read("audio_ver_min")
	if err != nil {
		return fmt.Errorf("driver version: %w", err)
	}

	if maj != requiredDriverVersionMaj || min < requiredDriverVersionMin {
		return &Error{Code: EVersion}
	}

	return nil
}

// DriverInfo is a snapshot of the driver parameter surface. It can be read
// without opening the audio device.
type DriverInfo struct {
	SampleRate        int
	NumInputChannels  int
	NumOutputChannels int
	BufferSize        int
	CodecFormat       int
	PlatformType      int
	VersionMajor      int
	VersionMinor      int
	UsbAudioType      int
	IrqAffinity       int
}

// ReadDriverInfo reads all driver parameters in one pass. Parameters that
// cannot be read are reported as an error, except the optional usb audio and
// irq affinity ones which default to zero.
func ReadDriverInfo() (*DriverInfo, error) {
	conf := newDriverConfig()
	info := &DriverInfo{}

	var err error
	if info.SampleRate, err = conf.sampleRate(); err != nil {
		return nil, err
	}
	if info.NumInputChannels, err = conf.numInputChans(); err != nil {
		return nil, err
	}
	if info.NumOutputChannels, err = conf.numOutputChans(); err != nil {
		return nil, err
	}
	if info.BufferSize, err = conf.bufferSize(); err != nil {
		return nil, err
	}

	format, err := conf.codecFormat()
	if err != nil {
		return nil, err
	}
	info.CodecFormat = int(format)

	platform, err := conf.platformType()
	if err != nil {
		return nil, err
	}
	info.PlatformType = int(platform)

	if info.VersionMajor, err = conf.read("audio_ver_maj"); err != nil {
		return nil, err
	}
	if info.VersionMinor, err = conf.read("audio_ver_min"); err != nil {
		return nil, err
	}

	info.UsbAudioType, _ = conf.usbAudioType()
	info.IrqAffinity, _ = conf.irqAffinity()

	return info, nil
}
