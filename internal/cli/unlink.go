package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var unlinkWallet string

var unlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Remove a wallet's Telegram binding",
	RunE: func(cmd *cobra.Command, args []string) error {
		if unlinkWallet == "" {
			return errors.New("--wallet is required")
		}
		return getApp().Unlink(cmd.Context(), unlinkWallet)
	},
}

func init() {
	unlinkCmd.Flags().StringVar(&unlinkWallet, "wallet", "", "Wallet address to unlink")
}
