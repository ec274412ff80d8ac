package commands

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/guacplay/guacplay/internal/display"
	"github.com/guacplay/guacplay/internal/player"
	"github.com/guacplay/guacplay/internal/protocol"
)

func NewPlayCmd() *cobra.Command {
	var from int64
	var follow bool

	cmd := &cobra.Command{
		Use:   "play [recording]",
		Short: "Replay a recording to stdout in real time",
		Long: "Replay a session recording, writing each instruction to stdout at " +
			"its recorded time. Pipe the output into a Guacamole display client " +
			"or tunnel of your choice.",
		Args: cobra.ExactArgs(1),
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

			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()
			var outMu sync.Mutex

			loaded := make(chan struct{})
			ended := make(chan struct{}, 1)
			failed := make(chan string, 1)

			writeOut := func(encoded string, flush bool) {
				outMu.Lock()
				out.WriteString(encoded)
				if flush {
					out.Flush()
				}
				outMu.Unlock()
			}
			client := display.NewTee(display.NewMemory(),
				func(opcode string, sinkArgs []string) {
					writeOut(protocol.Encode(opcode, sinkArgs...), opcode == protocol.OpcodeSync)
				},
				func(journal []string) {
					// A keyframe restore happened mid-stream; emit the
					// restored journal so the consumer catches up.
					for _, encoded := range journal {
						writeOut(encoded, false)
					}
					writeOut("", true)
				})

			rec, err := player.New(src, client, player.Options{
				Name: args[0],
				Events: player.Events{
					OnLoad: func() { close(loaded) },
					OnError: func(message string) {
						select {
						case failed <- message:
						default:
						}
					},
					OnPause: func() {
						select {
						case ended <- struct{}{}:
						default:
						}
					},
				},
			})
			if err != nil {
				return err
			}
			defer rec.Close()

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(interrupt)

			if from > 0 {
				seekDone := make(chan struct{})
				rec.Seek(from, func() { close(seekDone) })
				select {
				case <-seekDone:
				case <-interrupt:
					return nil
				}
			}

			rec.Play()

			for {
				select {
				case msg := <-failed:
					return fmt.Errorf("playback stopped: %s", msg)
				case <-interrupt:
					return nil
				case <-ended:
					// Paused at the end of the indexed stream. Done only
					// once ingest has finished and nothing further was
					// appended while this run drained.
					select {
					case <-loaded:
						if rec.Position() >= rec.Duration() {
							return nil
						}
					default:
					}
					// Ingest (or a followed capture) is still producing
					// frames; resume once more are available.
					time.Sleep(100 * time.Millisecond)
					rec.Play()
				}
			}
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "Start position in milliseconds")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep playing as the capture grows")
	return cmd
}
