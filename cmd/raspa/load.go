package main

import (
	"math"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elk-audio/raspa"
)

// loadGen burns a configurable fraction of each audio period in fake DSP
// work while passing the input through, to exercise scheduling headroom.
type loadGen struct {
	inChans  int
	outChans int
	budget   time.Duration
	sink     float64
}

func (l *loadGen) process(input, output []float32, _ any) {
	frames := len(output) / l.outChans

	common := l.inChans
	if l.outChans < common {
		common = l.outChans
	}
	copy(output[:common*frames], input[:common*frames])

	deadline := time.Now().Add(l.budget)
	x := l.sink
	for time.Now().Before(deadline) {
		for i := 0; i < 64; i++ {
			x = math.Sin(x + 1e-3)
		}
	}
	l.sink = x
}

func newLoadCmd() *cobra.Command {
	var (
		percent  int
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run a loopback with synthetic DSP load",
		RunE: func(_ *cobra.Command, _ []string) error {
			if percent < 0 || percent > 95 {
				percent = 50
			}

			gen := &loadGen{sink: 0.5}
			if err := openSession(gen.process); err != nil {
				return err
			}

			gen.inChans = raspa.NumInputChannels()
			gen.outChans = raspa.NumOutputChannels()

			periodUs := 1e6 * float64(viper.GetInt("buffer_size")) / float64(raspa.SamplingRate())
			gen.budget = time.Duration(periodUs*float64(percent)/100) * time.Microsecond

			return runSession(duration)
		},
	}

	cmd.Flags().IntVarP(&percent, "percent", "p", 50, "target load as percent of the period, 0 to 95")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "how long to run, 0 for until interrupted")

	return cmd
}
