package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/guacplay/guacplay/internal/index"
	"github.com/guacplay/guacplay/pkg/types"
)

func NewInfoCmd() *cobra.Command {
	var jsonOut bool
	var follow bool

	cmd := &cobra.Command{
		Use:   "info [recording]",
		Short: "Index a recording and summarize it",
		Long:  "Index a session recording and print its frame, keyframe, and duration summary.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.ApplyLogging()

			src, closeSrc, err := openSource(args[0], follow, cfg)
			if err != nil {
				return err
			}
			defer closeSrc()

			table := index.NewTable()
			done := make(chan struct{})
			var ingestErr string
			ix := index.New(src, table, index.Events{
				OnLoad: func() { close(done) },
				OnError: func(message string) {
					ingestErr = message
					close(done)
				},
			}, nil)

			err = WithSpinner("Indexing "+args[0], func() error {
				ix.Start()
				<-done
				return nil
			})
			if err != nil {
				return err
			}

			info := types.RecordingInfo{
				Frames:     table.Len(),
				Keyframes:  table.Keyframes(),
				DurationMs: table.Duration(),
				Complete:   ingestErr == "",
			}
			if last, ok := table.Last(); ok {
				info.Bytes = last.End
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Println(StatusBox("Recording "+args[0], [][2]string{
				{"Frames", fmt.Sprintf("%d", info.Frames)},
				{"Keyframes", fmt.Sprintf("%d", info.Keyframes)},
				{"Duration", FormatDuration(info.DurationMs)},
				{"Parsed", FormatBytes(info.Bytes)},
			}))
			if ingestErr != "" {
				Error("ingest stopped early: " + ingestErr)
				return fmt.Errorf("recording is corrupt past byte %d", info.Bytes)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep indexing while the capture grows")
	return cmd
}
