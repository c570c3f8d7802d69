package main

import (
	"math"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elk-audio/raspa"
)

// toneGen writes a sine wave to every output channel. The phase increment
// is fixed after Open, before the processing task starts, so process never
// touches shared state.
type toneGen struct {
	channels int
	phase    float64
	inc      float64
	ampl     float32
}

func (g *toneGen) process(_, output []float32, _ any) {
	frames := len(output) / g.channels

	for n := 0; n < frames; n++ {
		s := g.ampl * float32(math.Sin(g.phase))
		g.phase += g.inc
		if g.phase >= 2*math.Pi {
			g.phase -= 2 * math.Pi
		}

		for k := 0; k < g.channels; k++ {
			output[k*frames+n] = s
		}
	}
}

func newToneCmd() *cobra.Command {
	var (
		freq     float64
		ampl     float64
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "tone",
		Short: "Play a sine tone on all output channels",
		RunE: func(_ *cobra.Command, _ []string) error {
			if freq == 0 {
				freq = viper.GetFloat64("tone_frequency")
			}

			gen := &toneGen{ampl: float32(ampl)}
			if err := openSession(gen.process); err != nil {
				return err
			}

			gen.channels = raspa.NumOutputChannels()
			gen.inc = 2 * math.Pi * freq / float64(raspa.SamplingRate())

			return runSession(duration)
		},
	}

	viper.SetDefault("tone_frequency", 440.0)

	cmd.Flags().Float64VarP(&freq, "frequency", "f", 0, "tone frequency in Hz")
	cmd.Flags().Float64VarP(&ampl, "amplitude", "a", 0.5, "tone amplitude, 0 to 1")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "how long to play, 0 for until interrupted")

	return cmd
}
