package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Decides about dApp requests",
	Long:  `Lists, approves and rejects the dApp requests awaiting a decision`,
	Args:  cobra.ExactArgs(1),
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists pending requests",
	Long:  `Lists pending requests`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var items json.RawMessage
		if err := client.do(cmd.Context(), http.MethodGet, "/v1/requests", nil, &items); err != nil {
			return err
		}
		return printJSON(items)
	},
}

var requestsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approves a pending request",
	Long:  `Approves a pending request and prints the answer sent to the dApp`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		wallet, err := cmd.Flags().GetString("wallet")
		if err != nil {
			return errors.New("failed to parse wallet")
		}
		var result json.RawMessage
		path := fmt.Sprintf("/v1/requests/%s/approve", url.PathEscape(args[0]))
		if err := client.do(cmd.Context(), http.MethodPost, path, map[string]string{"wallet": wallet}, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

var requestsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Rejects a pending request",
	Long:  `Rejects a pending request`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		message, err := cmd.Flags().GetString("message")
		if err != nil {
			return errors.New("failed to parse message")
		}
		path := fmt.Sprintf("/v1/requests/%s/reject", url.PathEscape(args[0]))
		if err := client.do(cmd.Context(), http.MethodPost, path, map[string]string{"message": message}, nil); err != nil {
			return err
		}
		fmt.Printf("Request %s rejected\n", args[0])
		return nil
	},
}
