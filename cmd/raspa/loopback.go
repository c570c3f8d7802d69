package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/elk-audio/raspa"
)

// looper copies each input channel to the matching output channel and
// silences outputs with no matching input.
type looper struct {
	inChans  int
	outChans int
}

func (l *looper) process(input, output []float32, _ any) {
	frames := len(output) / l.outChans

	common := l.inChans
	if l.outChans < common {
		common = l.outChans
	}

	copy(output[:common*frames], input[:common*frames])

	for i := common * frames; i < len(output); i++ {
		output[i] = 0
	}
}

func newLoopbackCmd() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Pass audio inputs straight to the outputs",
		RunE: func(_ *cobra.Command, _ []string) error {
			loop := &looper{}
			if err := openSession(loop.process); err != nil {
				return err
			}

			loop.inChans = raspa.NumInputChannels()
			loop.outChans = raspa.NumOutputChannels()

			return runSession(duration)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "how long to run, 0 for until interrupted")

	return cmd
}
