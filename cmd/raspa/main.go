// Command raspa bundles the example tools for the raspa runtime: signal
// generation, loopback, latency and load measurement, recording and driver
// inspection.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elk-audio/raspa"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "raspa",
		Short:        "Tools for the raspa real-time audio runtime",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().IntP("buffer-size", "b", 64,
		"buffer size in frames, must match the driver configuration")
	cmd.PersistentFlags().Bool("run-log", false,
		"log per-period timestamps to "+raspa.DefaultRunLogPath)

	viper.SetDefault("buffer_size", 64)
	viper.SetDefault("run_log", false)
	viper.BindPFlag("buffer_size", cmd.PersistentFlags().Lookup("buffer-size"))
	viper.BindPFlag("run_log", cmd.PersistentFlags().Lookup("run-log"))
	viper.SetEnvPrefix("RASPA")
	viper.AutomaticEnv()

	cmd.AddCommand(
		newToneCmd(),
		newLoopbackCmd(),
		newLatencyCmd(),
		newLoadCmd(),
		newRecordCmd(),
		newInfoCmd(),
	)

	return cmd
}

func debugFlags() uint32 {
	if viper.GetBool("run_log") {
		return raspa.DebugEnableRunLogToFile
	}

	return 0
}

// runSession drives the full lifecycle around an already-opened engine:
// start, wait for the duration or an interrupt, close.
func runSession(duration time.Duration) error {
	if err := raspa.StartRealtime(); err != nil {
		raspa.Close()
		return reportError("start", err)
	}

	slog.Info("audio running",
		"sample_rate", raspa.SamplingRate(),
		"inputs", raspa.NumInputChannels(),
		"outputs", raspa.NumOutputChannels(),
		"latency_us", raspa.OutputLatency())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	if duration > 0 {
		select {
		case <-interrupt:
		case <-time.After(duration):
		}
	} else {
		<-interrupt
	}

	if err := raspa.Close(); err != nil {
		return reportError("close", err)
	}

	return nil
}

func openSession(callback raspa.ProcessCallback) error {
	if err := raspa.Init(); err != nil {
		return reportError("init", err)
	}

	if err := raspa.Open(viper.GetInt("buffer_size"), callback, nil, debugFlags()); err != nil {
		return reportError("open", err)
	}

	return nil
}

func reportError(stage string, err error) error {
	var rerr *raspa.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("%s: %s", stage, raspa.ErrorMsg(int(rerr.Code)))
	}

	return fmt.Errorf("%s: %w", stage, err)
}
