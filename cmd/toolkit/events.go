package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspects and feeds the durable event queue",
	Long:  `Inspects and feeds the durable event queue of a running tonconnectd`,
	Args:  cobra.ExactArgs(1),
}

var eventsPushCmd = &cobra.Command{
	Use:   "push <method>",
	Short: "Pushes an event",
	Long:  `Pushes an event as if the bridge had delivered it (connect, sendTransaction, signData or disconnect)`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		raw := tonconnect.RawEvent{Method: args[0]}
		for flag, dst := range map[string]*string{"id": &raw.ID, "from": &raw.From, "wallet": &raw.WalletAddress} {
			if *dst, err = cmd.Flags().GetString(flag); err != nil {
				return fmt.Errorf("failed to parse %s", flag)
			}
		}
		params, err := cmd.Flags().GetString("params")
		if err != nil {
			return errors.New("failed to parse params")
		}
		if !json.Valid([]byte(params)) {
			return errors.New("params must be valid JSON")
		}
		raw.Params = json.RawMessage(params)

		var stored json.RawMessage
		if err := client.do(cmd.Context(), http.MethodPost, "/v1/events", raw, &stored); err != nil {
			return err
		}
		return printJSON(stored)
	},
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists stored events",
	Long:  `Lists stored events, optionally filtered by status and type`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		q := url.Values{}
		for _, flag := range []string{"status", "type"} {
			v, err := cmd.Flags().GetString(flag)
			if err != nil {
				return fmt.Errorf("failed to parse %s", flag)
			}
			if v != "" {
				q.Set(flag, v)
			}
		}
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return errors.New("failed to parse limit")
		}
		if limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}

		var events json.RawMessage
		if err := client.do(cmd.Context(), http.MethodGet, "/v1/events?"+q.Encode(), nil, &events); err != nil {
			return err
		}
		return printJSON(events)
	},
}

var eventsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Shows event queue statistics",
	Long:  `Shows event queue statistics`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var stats json.RawMessage
		if err := client.do(cmd.Context(), http.MethodGet, "/v1/events/stats", nil, &stats); err != nil {
			return err
		}
		return printJSON(stats)
	},
}
