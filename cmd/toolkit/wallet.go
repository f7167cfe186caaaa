package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	walletimpl "github.com/textileio/go-tonconnect/pkg/wallet/impl"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Offers wallet utilites",
	Long:  `Offers wallet utilites`,
	Args:  cobra.ExactArgs(1),
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Creates a v4r2 TON wallet",
	Long:  `Creates a v4r2 TON wallet and stores its ed25519 seed`,
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, err := cmd.Flags().GetString("filename")
		if err != nil {
			return errors.New("failed to parse filename")
		}
		testnet, err := cmd.Flags().GetBool("testnet")
		if err != nil {
			return errors.New("failed to parse testnet")
		}
		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return fmt.Errorf("generate seed: %s", err)
		}
		w, err := walletimpl.NewLocalWallet(hex.EncodeToString(seed), network(testnet), nil)
		if err != nil {
			return fmt.Errorf("creating wallet: %s", err)
		}

		if err := os.WriteFile(filename, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
			return fmt.Errorf("writing to file %s: %s", filename, err)
		}

		fmt.Printf("Wallet address %s (%s) created\n", w.FriendlyAddress(), w.GetAddress())
		fmt.Printf("Seed saved in %s\n", filename)

		return nil
	},
}

var walletAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Returns address of a TON wallet",
	Long:  `Returns address of the v4r2 TON wallet of a hex encoded seed`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		testnet, err := cmd.Flags().GetBool("testnet")
		if err != nil {
			return errors.New("failed to parse testnet")
		}
		w, err := walletimpl.NewLocalWallet(strings.TrimSpace(args[0]), network(testnet), nil)
		if err != nil {
			return fmt.Errorf("decode seed: %s", err)
		}

		fmt.Printf("Wallet address %s (%s)\n", w.FriendlyAddress(), w.GetAddress())

		return nil
	},
}

func network(testnet bool) tonconnect.Chain {
	if testnet {
		return tonconnect.ChainTestnet
	}
	return tonconnect.ChainMainnet
}
