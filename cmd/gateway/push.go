package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/realtime/internal/transport/rpc"
)

var (
	pushAddr    string
	pushPayload string
	pushTimeout time.Duration
)

var pushCmd = &cobra.Command{
	Use:   "push <room> <event>",
	Short: "Broadcast an event to a room through a running gateway",
	Example: `  gateway push user:S1 new_inquiry --payload '{"listingId":"L1"}'
  gateway push employees maintenance --addr tcp://gateway:8092`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload json.RawMessage
		if pushPayload != "" {
			if !json.Valid([]byte(pushPayload)) {
				return fmt.Errorf("--payload is not valid JSON")
			}
			payload = json.RawMessage(pushPayload)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), pushTimeout)
		defer cancel()

		resp, err := rpc.NewClient(pushAddr).PushEvent(ctx, args[0], args[1], payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pushed %s to %s (recipient online: %v)\n", args[1], args[0], resp.Online)
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushAddr, "addr", "localhost:8092", "gateway RPC address")
	pushCmd.Flags().StringVar(&pushPayload, "payload", "", "event payload as JSON")
	pushCmd.Flags().DurationVar(&pushTimeout, "timeout", 5*time.Second, "call timeout")
}
