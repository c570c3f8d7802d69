package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/elk-audio/raspa"
)

// recorder captures the input channels into a preallocated interleaved
// sample buffer. The callback only copies and scales; the WAV file is
// written after the stream has been closed.
type recorder struct {
	channels int
	samples  []int
	written  atomic.Int64
	full     chan struct{}
	done     atomic.Bool
}

func (r *recorder) process(input, output []float32, _ any) {
	for i := range output {
		output[i] = 0
	}

	if r.done.Load() {
		return
	}

	frames := len(input) / r.channels
	pos := int(r.written.Load())

	for n := 0; n < frames; n++ {
		if pos+r.channels > len(r.samples) {
			r.done.Store(true)
			select {
			case r.full <- struct{}{}:
			default:
			}

			break
		}

		for k := 0; k < r.channels; k++ {
			s := input[k*frames+n]
			if s > 1 {
				s = 1
			} else if s < -1 {
				s = -1
			}
			r.samples[pos+k] = int(s * 8388607)
		}
		pos += r.channels
	}

	r.written.Store(int64(pos))
}

func (r *recorder) writeWav(path string, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, sampleRate, 24, r.channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: r.channels,
			SampleRate:  sampleRate,
		},
		Data:           r.samples[:r.written.Load()],
		SourceBitDepth: 24,
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("write wav data: %w", err)
	}

	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}

	return f.Close()
}

func newRecordCmd() *cobra.Command {
	var (
		output   string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the inputs to a 24-bit WAV file",
		RunE: func(_ *cobra.Command, _ []string) error {
			rec := &recorder{full: make(chan struct{}, 1)}
			if err := openSession(rec.process); err != nil {
				return err
			}

			rec.channels = raspa.NumInputChannels()
			rate := int(raspa.SamplingRate())
			rec.samples = make([]int, int(duration.Seconds()*float64(rate))*rec.channels)

			if err := raspa.StartRealtime(); err != nil {
				raspa.Close()
				return reportError("start", err)
			}

			slog.Info("recording", "file", output, "duration", duration,
				"channels", rec.channels, "sample_rate", rate)

			select {
			case <-rec.full:
			case <-time.After(duration + time.Second):
			}

			if err := raspa.Close(); err != nil {
				return reportError("close", err)
			}

			return rec.writeWav(output, rate)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "capture.wav", "output WAV file")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "recording length")

	return cmd
}
