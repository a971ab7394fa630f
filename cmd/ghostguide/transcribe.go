package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/process"
)

func newTranscribeCmd(d *deps) *cobra.Command {
	var rawSource string
	var raw bool

	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe one audio file with the configured backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := audio.ParseSource(rawSource)
			if err != nil {
				return err
			}

			launcher := process.NewLauncher()
			adapter, err := newTranscriber(d.cfg, launcher)
			if err != nil {
				return err
			}

			f, err := adapter.TranscribeFile(cmd.Context(), args[0], source)
			if err != nil {
				return err
			}
			if raw {
				fmt.Fprintln(cmd.OutOrStdout(), f.Raw)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), f.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&rawSource, "source", string(audio.Interviewer), "speaker recorded in the file")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the backend output before sanitizing")
	return cmd
}
