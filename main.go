package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/RAPD/rapd-relay/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rapd-relay",
		Short: "Real-time result relay for the RAPD processing pipeline",
		Long: `Real-time result relay for RAPD.

The relay sits between the processing pipeline and the web UI:

- Consumes result envelopes from the Redis (or NATS) result channel
- Pushes result summaries to websocket clients watching the session
- Pushes detail records to clients subscribed to a result
- Serves session history and detail lookups from the result store`,
	}

	rootCmd.AddCommand(cmd.ServeCmd())
	rootCmd.AddCommand(cmd.DebugCmd())
	rootCmd.AddCommand(cmd.VersionCmd(VersionInfo, ShortVersion))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
