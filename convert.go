package raspa

import (
	"fmt"
	"math"
)

const (
	floatToInt24Scale = 8388607.0      // 2**23 - 1
	int24ToFloatScale = 1.19209304e-07 // 1.0 / (2**23 - 1)

	floatToInt32Scale = 2147483647.0 // 2**31 - 1
	int32ToFloatScale = 1.0 / floatToInt32Scale
)

// Buffer sizes and channel strides the converters are specialized for. Any
// other combination is rejected at open time.
var (
	supportedBufferSizes = []int{8, 16, 32, 48, 64, 128, 192, 256, 512}
	supportedStrides     = []int{2, 4, 6, 8, 10, 12, 14, 16, 24, 32}
)

// channelConverter converts exactly one channel between the packed integer
// layout of the driver buffers and the planar float32 layout of the user
// buffers. One converter is materialized per channel at open time; the
// concrete type is picked by codec format so the per-sample arithmetic has
// no format branch.
type channelConverter interface {
	// toFloat32 deinterleaves one channel from src and converts it into
	// the channel's planar run in dst.
	toFloat32(dst []float32, src []int32)

	// toInt32 converts the channel's planar run in src and interleaves it
	// into dst.
	toInt32(dst []int32, src []float32)
}

// chanLayout carries the geometry shared by all converter variants. The
// hardware side is read at offset + n*stride, the float side is planar at
// base + n.
type chanLayout struct {
	frames int
	stride int
	offset int
	base   int
}

func supportedValue(val int, set []int) bool {
	for _, v := range set {
		if v == val {
			return true
		}
	}

	return false
}

// newChannelConverter returns a converter for one channel. swChan is the
// channel id the user callback observes, startOffset the channel's first
// word in the driver buffer.
func newChannelConverter(format codecFormat, frames, stride, swChan, startOffset int) (channelConverter, error) {
	if !supportedValue(frames, supportedBufferSizes) || !supportedValue(stride, supportedStrides) {
		return nil, fmt.Errorf("unsupported converter geometry: %d frames, stride %d", frames, stride)
	}

	layout := chanLayout{
		frames: frames,
		stride: stride,
		offset: startOffset,
		base:   swChan * frames,
	}

	switch format {
	case codecInt24Lj:
		return &int24LjConverter{layout}, nil
	case codecInt24I2s:
		return &int24I2sConverter{layout}, nil
	case codecInt24Rj:
		return &int24RjConverter{layout}, nil
	case codecInt24In32Rj:
		return &int24In32RjConverter{layout}, nil
	case codecInt32:
		return &int32Converter{layout}, nil
	case codecBinary:
		return &binaryConverter{layout}, nil
	}

	return nil, fmt.Errorf("unsupported codec format %d", format)
}

func clampFloat(x float32) float32 {
	if x < -1.0 {
		return -1.0
	}
	if x > 1.0 {
		return 1.0
	}

	return x
}

// int24LjConverter handles samples left justified in the 32 bit word.
type int24LjConverter struct{ chanLayout }

func (c *int24LjConverter) toFloat32(dst []float32, src []int32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		dst[c.base+n] = float32(src[s]>>8) * int24ToFloatScale
		s += c.stride
	}
}

func (c *int24LjConverter) toInt32(dst []int32, src []float32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		x := clampFloat(src[c.base+n])
		dst[s] = int32(x*floatToInt24Scale) << 8
		s += c.stride
	}
}

// int24I2sConverter handles the I2S framing where the sign bit sits one
// position below the msb, so sign extension takes two shifts.
type int24I2sConverter struct{ chanLayout }

func (c *int24I2sConverter) toFloat32(dst []float32, src []int32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		dst[c.base+n] = float32((src[s]<<1)>>8) * int24ToFloatScale
		s += c.stride
	}
}

func (c *int24I2sConverter) toInt32(dst []int32, src []float32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		x := clampFloat(src[c.base+n])
		sample := int32(x * floatToInt24Scale)
		dst[s] = (sample << 7) & 0x7FFFFF80
		s += c.stride
	}
}

// int24RjConverter handles samples right justified without sign extension
// in the upper byte.
type int24RjConverter struct{ chanLayout }

func (c *int24RjConverter) toFloat32(dst []float32, src []int32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		dst[c.base+n] = float32((src[s]<<8)>>8) * int24ToFloatScale
		s += c.stride
	}
}

func (c *int24RjConverter) toInt32(dst []int32, src []float32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		x := clampFloat(src[c.base+n])
		sample := int32(x * floatToInt24Scale)
		dst[s] = sample & 0x00FFFFFF
		s += c.stride
	}
}

// int24In32RjConverter handles 24 bit samples already sign extended to 32
// bits, so the word passes through unchanged.
type int24In32RjConverter struct{ chanLayout }

func (c *int24In32RjConverter) toFloat32(dst []float32, src []int32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		dst[c.base+n] = float32(src[s]) * int24ToFloatScale
		s += c.stride
	}
}

func (c *int24In32RjConverter) toInt32(dst []int32, src []float32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		x := clampFloat(src[c.base+n])
		dst[s] = int32(x * floatToInt24Scale)
		s += c.stride
	}
}

// int32Converter handles full range 32 bit samples. The encode side scales
// in float64 so that values near +1.0 stay inside int32 range before
// truncation.
type int32Converter struct{ chanLayout }

func (c *int32Converter) toFloat32(dst []float32, src []int32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		dst[c.base+n] = float32(float64(src[s]) * int32ToFloatScale)
		s += c.stride
	}
}

func (c *int32Converter) toInt32(dst []int32, src []float32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		x := clampFloat(src[c.base+n])
		v := float64(x) * floatToInt32Scale
		if v > math.MaxInt32 {
			v = math.MaxInt32
		}
		dst[s] = int32(v)
		s += c.stride
	}
}

// binaryConverter moves words bit for bit between the integer and float
// views, with no numeric conversion. Used for non-audio data carried over
// the same transport.
type binaryConverter struct{ chanLayout }

func (c *binaryConverter) toFloat32(dst []float32, src []int32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		dst[c.base+n] = math.Float32frombits(uint32(src[s]))
		s += c.stride
	}
}

func (c *binaryConverter) toInt32(dst []int32, src []float32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		dst[s] = int32(math.Float32bits(src[c.base+n]))
		s += c.stride
	}
}

// genericConverter is a format-branching fallback kept for benchmarking
// against the specialized variants. It is never selected by the engine.
type genericConverter struct {
	chanLayout
	format codecFormat
}

func (c *genericConverter) toFloat32(dst []float32, src []int32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		x := src[s]
		switch c.format {
		case codecInt24Lj:
			dst[c.base+n] = float32(x>>8) * int24ToFloatScale
		case codecInt24I2s:
			dst[c.base+n] = float32((x<<1)>>8) * int24ToFloatScale
		case codecInt24Rj:
			dst[c.base+n] = float32((x<<8)>>8) * int24ToFloatScale
		case codecInt24In32Rj:
			dst[c.base+n] = float32(x) * int24ToFloatScale
		case codecInt32:
			dst[c.base+n] = float32(float64(x) * int32ToFloatScale)
		case codecBinary:
			dst[c.base+n] = math.Float32frombits(uint32(x))
		}
		s += c.stride
	}
}

func (c *genericConverter) toInt32(dst []int32, src []float32) {
	s := c.offset
	for n := 0; n < c.frames; n++ {
		x := src[c.base+n]
		switch c.format {
		case codecBinary:
			dst[s] = int32(math.Float32bits(x))
		case codecInt32:
			v := float64(clampFloat(x)) * floatToInt32Scale
			if v > math.MaxInt32 {
				v = math.MaxInt32
			}
			dst[s] = int32(v)
		default:
			sample := int32(clampFloat(x) * floatToInt24Scale)
			switch c.format {
			case codecInt24Lj:
				dst[s] = sample << 8
			case codecInt24I2s:
				dst[s] = (sample << 7) & 0x7FFFFF80
			case codecInt24Rj:
				dst[s] = sample & 0x00FFFFFF
			case codecInt24In32Rj:
				dst[s] = sample
			}
		}
		s += c.stride
	}
}
