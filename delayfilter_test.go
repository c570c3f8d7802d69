package raspa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A constant timing error must drive the filter output to that value, with
// 99.9% of the step reached within the configured time constant.
func TestDelayFilterStepResponse(t *testing.T) {
	const (
		t60   = 100
		input = int32(100000)
	)

	f := newDelayErrorFilter(t60)

	var out int32
	for i := 0; i < t60; i++ {
		out = f.tick(input)
	}

	assert.InDelta(t, float64(input), float64(out), 0.01*float64(input),
		"output after one time constant")

	for i := 0; i < 5*t60; i++ {
		out = f.tick(input)
	}

	assert.InDelta(t, float64(input), float64(out), 1)
}

// An impulse must decay back to zero instead of ringing.
func TestDelayFilterImpulseDecays(t *testing.T) {
	const t60 = 100

	f := newDelayErrorFilter(t60)

	peak := f.tick(1000000)
	if p := f.tick(0); p > peak {
		peak = p
	}
	require.NotZero(t, peak)

	var out int32
	for i := 0; i < 5*t60; i++ {
		out = f.tick(0)
	}

	assert.LessOrEqual(t, abs32(out), abs32(peak)/1000+1)
}

func TestDelayFilterZeroInput(t *testing.T) {
	f := newDelayErrorFilter(100)

	for i := 0; i < 50; i++ {
		assert.Zero(t, f.tick(0))
	}
}

// Only every delayFilterDownsampleRate-th correction may pass through, the
// rest must read as zero.
func TestDownsampledFilterRate(t *testing.T) {
	d := newDownsampledDelayFilter(delayFilterSettlingPeriods)

	nonzero := 0
	for i := 1; i <= 8*delayFilterDownsampleRate; i++ {
		out := d.process(100000)

		if i%delayFilterDownsampleRate == 0 {
			assert.NotZero(t, out, "tick %d", i)
			nonzero++
		} else {
			assert.Zero(t, out, "tick %d", i)
		}
	}

	assert.Equal(t, 8, nonzero)
}

// The downsampler must not change the underlying filter state: the value
// passed through equals what an undecimated filter produces on that tick.
func TestDownsampledFilterTracksFilter(t *testing.T) {
	d := newDownsampledDelayFilter(delayFilterSettlingPeriods)
	ref := newDelayErrorFilter(delayFilterSettlingPeriods)

	for i := 1; i <= 100; i++ {
		want := ref.tick(54321)
		got := d.process(54321)

		if i%delayFilterDownsampleRate == 0 {
			assert.Equal(t, want, got, "tick %d", i)
		}
	}
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}

	return x
}
