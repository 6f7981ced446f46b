package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/RAPD/rapd-relay/results"
	"github.com/RAPD/rapd-relay/transport"
)

func debugWatchCmd() *cobra.Command {
	var (
		duration int
		raw      bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print envelopes arriving on the result channel",
		Long: `Subscribe to the result channel and print each envelope as the relay
would see it: decompressed, decoded and summarized. ECHO envelopes from the
pipeline's liveness probe are shown too.

Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if duration > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, time.Duration(duration)*time.Second)
				defer stop()
			}
			return watchChannel(ctx, raw)
		},
	}

	cmd.Flags().IntVar(&duration, "duration", 0, "Duration in seconds (0 = until Ctrl+C)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the decompressed payload instead of the summary")

	return cmd
}

func watchChannel(ctx context.Context, raw bool) error {
	sub, release, err := debugSubscriber(ctx, debugLogger())
	if err != nil {
		return err
	}
	defer release()
	defer func() { _ = sub.Close() }()

	var count atomic.Int64
	fmt.Printf("Watching result channel. Press Ctrl+C to stop...\n\n")

	sub.Run(ctx, func(_ context.Context, payload []byte) {
		n := count.Add(1)
		timestamp := time.Now().Format("15:04:05.000")

		data, err := transport.MaybeDecompress(payload)
		if err != nil {
			fmt.Printf("[%s] #%d undecompressable payload (%d bytes): %v\n\n", timestamp, n, len(payload), err)
			return
		}
		if raw {
			fmt.Printf("[%s] #%d\n%s\n\n", timestamp, n, data)
			return
		}

		env, err := results.Decode(data, time.Now())
		switch {
		case err != nil:
			fmt.Printf("[%s] #%d malformed envelope: %v\n\n", timestamp, n, err)
		case env.IsEcho():
			fmt.Printf("[%s] #%d ECHO %s\n\n", timestamp, n, env.DetailID)
		default:
			summary, _ := sonic.ConfigStd.MarshalIndent(env.Summarize(), "", "  ")
			fmt.Printf("[%s] #%d %s\n%s\n\n", timestamp, n, env.Plugin.ResultType(), summary)
		}
	})

	fmt.Printf("Total messages received: %d\n", count.Load())
	return nil
}
