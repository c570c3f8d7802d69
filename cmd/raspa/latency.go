package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/elk-audio/raspa"
)

// Measurement states for the latency meter.
const (
	latencyStateSend = iota
	latencyStateCount
	latencyStateCooldown
)

// latencyMeter emits an impulse on output channel 0 and counts the frames
// until it reappears on input channel 0. Requires a physical or driver
// level loop between the two.
type latencyMeter struct {
	inChans   int
	outChans  int
	threshold float32

	state    int
	elapsed  int64
	cooldown int
	results  chan int64
}

func (m *latencyMeter) process(input, output []float32, _ any) {
	for i := range output {
		output[i] = 0
	}

	frames := len(output) / m.outChans

	switch m.state {
	case latencyStateSend:
		output[0] = 1.0
		m.elapsed = 0
		m.state = latencyStateCount

	case latencyStateCount:
		for n := 0; n < frames; n++ {
			if input[n] > m.threshold {
				select {
				case m.results <- m.elapsed + int64(n):
				default:
				}

				m.state = latencyStateCooldown
				m.cooldown = 8

				break
			}
		}
		m.elapsed += int64(frames)

	case latencyStateCooldown:
		m.cooldown--
		if m.cooldown <= 0 {
			m.state = latencyStateSend
		}
	}
}

func newLatencyCmd() *cobra.Command {
	var (
		rounds    int
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "latency",
		Short: "Measure round-trip latency with an impulse",
		RunE: func(_ *cobra.Command, _ []string) error {
			meter := &latencyMeter{
				threshold: float32(threshold),
				results:   make(chan int64, rounds),
			}

			if err := openSession(meter.process); err != nil {
				return err
			}

			meter.inChans = raspa.NumInputChannels()
			meter.outChans = raspa.NumOutputChannels()
			rate := raspa.SamplingRate()

			if err := raspa.StartRealtime(); err != nil {
				raspa.Close()
				return reportError("start", err)
			}

			slog.Info("measuring", "rounds", rounds, "reported_latency_us", raspa.OutputLatency())

			var total int64
			for i := 0; i < rounds; i++ {
				select {
				case frames := <-meter.results:
					total += frames
					fmt.Printf("round %d: %d frames (%.2f ms)\n",
						i+1, frames, 1000*float64(frames)/float64(rate))
				case <-time.After(5 * time.Second):
					raspa.Close()
					return fmt.Errorf("no impulse received, is the loopback connected?")
				}
			}

			avg := float64(total) / float64(rounds)
			fmt.Printf("average: %.1f frames (%.2f ms)\n", avg, 1000*avg/float64(rate))

			if err := raspa.Close(); err != nil {
				return reportError("close", err)
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&rounds, "rounds", "n", 10, "number of impulse rounds to average")
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0.25, "detection threshold, 0 to 1")

	return cmd
}
