package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Chigala/bitcoin-pay/pkg/types"
)

var issueTTLSeconds int64

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue and redeem magic-link tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <intent-id>",
	Short: "Mint a magic-link token for an intent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issued, err := gw.IssueToken(context.Background(), types.IssueTokenParams{
			IntentID:   args[0],
			TTLSeconds: issueTTLSeconds,
		})
		if err != nil {
			return err
		}
		return printJSON(issued)
	},
}

var tokenRedeemCmd = &cobra.Command{
	Use:   "redeem <token>",
	Short: "Redeem a magic-link token, returning its intent ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		redeemed, err := gw.RedeemToken(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(redeemed)
	},
}

func init() {
	tokenIssueCmd.Flags().Int64Var(&issueTTLSeconds, "ttl", 0, "token TTL in seconds (0 = config default)")
	tokenCmd.AddCommand(tokenIssueCmd, tokenRedeemCmd)
	rootCmd.AddCommand(tokenCmd)
}
