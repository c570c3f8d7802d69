package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elk-audio/raspa"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the driver configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			info, err := raspa.ReadDriverInfo()
			if err != nil {
				return fmt.Errorf("read driver parameters: %w", err)
			}

			fmt.Printf("driver version:  %d.%d\n", info.VersionMajor, info.VersionMinor)
			fmt.Printf("sample rate:     %d Hz\n", info.SampleRate)
			fmt.Printf("buffer size:     %d frames\n", info.BufferSize)
			fmt.Printf("input channels:  %d\n", info.NumInputChannels)
			fmt.Printf("output channels: %d\n", info.NumOutputChannels)
			fmt.Printf("codec format:    %d\n", info.CodecFormat)
			fmt.Printf("platform type:   %d\n", info.PlatformType)
			fmt.Printf("usb audio type:  %d\n", info.UsbAudioType)
			fmt.Printf("irq affinity:    %d\n", info.IrqAffinity)

			return nil
		},
	}
}
