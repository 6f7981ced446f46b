package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/RAPD/rapd-relay/results"
	"github.com/RAPD/rapd-relay/transport"
)

func debugPublishCmd() *cobra.Command {
	var (
		file     string
		compress bool
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a result envelope onto the result channel",
		Long: `Publish a JSON result envelope as the processing pipeline would.

The envelope is decoded first; malformed envelopes are rejected unless
--force is given, so the relay's handling of bad input can be tested too.

Example:
  rapd-relay debug publish --file integrate.json --compress`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return publishEnvelope(ctx, file, compress, force)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to the envelope JSON (required)")
	cmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress the payload")
	cmd.Flags().BoolVar(&force, "force", false, "Publish even if the envelope does not decode")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func publishEnvelope(ctx context.Context, file string, compress, force bool) error {
	payload, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read envelope: %w", err)
	}

	env, err := results.Decode(payload, time.Now())
	switch {
	case err != nil && !force:
		return fmt.Errorf("envelope does not decode (use --force to publish anyway): %w", err)
	case err != nil:
		fmt.Printf("Publishing malformed envelope: %v\n", err)
	case env.IsEcho():
		fmt.Println("Publishing ECHO envelope")
	default:
		fmt.Printf("Publishing %s result %s for session %s\n", env.Plugin.ResultType(), env.ResultID, env.SessionID)
	}

	if compress {
		codec, err := transport.NewCodec(transport.CompressionLevelDefault, 0)
		if err != nil {
			return err
		}
		before := len(payload)
		payload = codec.Compress(payload)
		fmt.Printf("Compressed %d -> %d bytes\n", before, len(payload))
	}

	logger := debugLogger()
	pub, err := debugPublisher(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()

	if err := pub.Publish(ctx, payload); err != nil {
		return err
	}
	fmt.Println("Published.")
	return nil
}
