package main

import (
	"github.com/spf13/cobra"
)

var cliName = "toolkit"

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "toolkit is CLI for tonconnectd operators",
	Long:  `toolkit is CLI for tonconnectd operators executing mundane tasks`,
	Args:  cobra.ExactArgs(0),
}

func main() {
	rootCmd.Execute() //nolint
}

func init() {
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(requestsCmd)

	walletCreateCmd.Flags().String("filename", "seed.hex", "Filename to store hex representation of the wallet seed")
	walletCreateCmd.Flags().Bool("testnet", false, "create a testnet wallet")
	walletAddressCmd.Flags().Bool("testnet", false, "the seed belongs to a testnet wallet")
	walletCmd.AddCommand(walletCreateCmd)
	walletCmd.AddCommand(walletAddressCmd)

	for _, cmd := range []*cobra.Command{eventsCmd, requestsCmd} {
		cmd.PersistentFlags().String("api", "http://localhost:8080", "tonconnectd API base URL")
		cmd.PersistentFlags().String("token", "", "API key sent as a bearer token")
	}

	eventsPushCmd.Flags().String("id", "", "request id chosen by the dApp")
	eventsPushCmd.Flags().String("params", "[]", "JSON encoded request params")
	eventsPushCmd.Flags().String("from", "", "dApp client id")
	eventsPushCmd.Flags().String("wallet", "", "wallet address the event targets")
	eventsListCmd.Flags().String("status", "", "filter by status")
	eventsListCmd.Flags().String("type", "", "filter by event type")
	eventsListCmd.Flags().Int("limit", 0, "maximum number of events")
	eventsCmd.AddCommand(eventsPushCmd)
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsStatsCmd)

	requestsApproveCmd.Flags().String("wallet", "", "wallet a connect request is bound to")
	requestsRejectCmd.Flags().String("message", "", "reason sent to the dApp")
	requestsCmd.AddCommand(requestsListCmd)
	requestsCmd.AddCommand(requestsApproveCmd)
	requestsCmd.AddCommand(requestsRejectCmd)
}
