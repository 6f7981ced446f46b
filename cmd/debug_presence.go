package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	redistransport "github.com/RAPD/rapd-relay/transport/redis"
)

func debugPresenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presence",
		Short: "List live relay instances and client connections",
		Long: `List the presence keys relays write to Redis.

Instances refresh their key every refresh interval; a connection key holds
the session the client is watching (empty when none).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			_, redisCfg, err := debugSettings()
			if err != nil {
				return err
			}
			client, err := debugRedisClient(ctx, redisCfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			return listPresence(ctx, client)
		},
	}
}

func listPresence(ctx context.Context, client *redistransport.Client) error {
	kb := client.KB()

	fmt.Println("Relay instances:")
	if err := printPresenceKeys(ctx, client, kb.ServerKeyPattern(), "host"); err != nil {
		return err
	}

	fmt.Println("\nClient connections:")
	return printPresenceKeys(ctx, client, kb.ConnectionKeyPattern(), "session")
}

func printPresenceKeys(ctx context.Context, client *redistransport.Client, pattern, valueLabel string) error {
	var keys []string
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan %s: %w", pattern, err)
	}
	sort.Strings(keys)

	if len(keys) == 0 {
		fmt.Println("  (none)")
		return nil
	}

	prefix := strings.TrimSuffix(pattern, "*")
	for _, key := range keys {
		value, err := client.Get(ctx, key).Result()
		if err != nil {
			// Expired between SCAN and GET.
			continue
		}
		ttl, _ := client.TTL(ctx, key).Result()
		if value == "" {
			value = "-"
		}
		fmt.Printf("  %-28s %s=%-24s ttl=%s\n", strings.TrimPrefix(key, prefix), valueLabel, value, ttl)
	}
	fmt.Printf("  total: %d\n", len(keys))
	return nil
}
