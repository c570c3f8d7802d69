package raspa

import "math"

// Number of periods the delay filter needs to settle before its output can
// be trusted. The user callback is suppressed for this long in sync mode.
const delayFilterSettlingPeriods = 100

// Only every Nth filter output is forwarded to the driver as a correction.
const delayFilterDownsampleRate = 16

// delayErrorFilter is a second order IIR low pass that turns the stream of
// per-period timing errors reported by the micro-controller into a
// correction signal for the driver's wake period.
type delayErrorFilter struct {
	b0, b1, b2 float32
	a1, a2     float32
	z1, z2     float32
}

// newDelayErrorFilter derives the coefficients from t60InPeriods, the time
// constant (in periods) to reach 99.9% of a target value.
func newDelayErrorFilter(t60InPeriods int) *delayErrorFilter {
	omega := float32(math.Log(1000.0)) / float32(t60InPeriods)
	alpha := float32(math.Sin(float64(omega)))
	comega := float32(math.Cos(float64(omega)))

	a0 := 1.0 + alpha

	return &delayErrorFilter{
		b0: (0.5 * (1.0 - comega)) / a0,
		b1: (1.0 - comega) / a0,
		b2: (0.5 * (1.0 - comega)) / a0,
		a1: (-2.0 * comega) / a0,
		a2: (1.0 - alpha) / a0,
	}
}

// tick feeds one timing error in nanoseconds through the filter and returns
// the filtered correction, rounded to the nearest nanosecond.
func (f *delayErrorFilter) tick(errorNs int32) int32 {
	x := float32(errorNs)
	y := f.b0*x + f.z1

	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y

	return int32(math.Round(float64(y)))
}

// downsampledDelayFilter wraps delayErrorFilter with the downsampling the
// driver expects: the filter runs every period but only every
// delayFilterDownsampleRate-th output is passed through, the rest are
// reported as zero.
type downsampledDelayFilter struct {
	filter *delayErrorFilter
	count  int
}

func newDownsampledDelayFilter(t60InPeriods int) *downsampledDelayFilter {
	return &downsampledDelayFilter{filter: newDelayErrorFilter(t60InPeriods)}
}

func (d *downsampledDelayFilter) process(timingErrorNs int32) int32 {
	correction := d.filter.tick(timingErrorNs)

	d.count++
	if d.count < delayFilterDownsampleRate {
		return 0
	}

	d.count = 0

	return correction
}
