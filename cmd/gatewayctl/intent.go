package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Chigala/bitcoin-pay/pkg/types"
)

var (
	createAmountSats       int64
	createRequiredConfs    int
	createExpiresInMinutes int
	createMemo             string
	createCustomerID       string
	createEmail            string
)

var intentCmd = &cobra.Command{
	Use:   "intent",
	Short: "Inspect and create payment intents",
}

var intentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new payment intent",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := gw.CreateIntent(context.Background(), types.CreateIntentParams{
			AmountSats:       createAmountSats,
			RequiredConfs:    createRequiredConfs,
			ExpiresInMinutes: createExpiresInMinutes,
			Memo:             createMemo,
			CustomerID:       createCustomerID,
			Email:            createEmail,
		})
		if err != nil {
			return err
		}
		return printJSON(in)
	},
}

var intentGetCmd = &cobra.Command{
	Use:   "get <intent-id>",
	Short: "Fetch an intent by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := store.GetIntent(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(in)
	},
}

var intentAssignCmd = &cobra.Command{
	Use:   "assign <intent-id>",
	Short: "Assign (or fetch the already-assigned) deposit address for an intent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := gw.EnsureAssigned(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(view)
	},
}

var intentScanCmd = &cobra.Command{
	Use:   "scan <intent-id>",
	Short: "Force an immediate payment scan for an intent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := gw.ScanForPayments(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("scan complete")
		return nil
	},
}

var intentStatusCmd = &cobra.Command{
	Use:   "status <intent-id>",
	Short: "Fetch an intent's payment status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := gw.GetStatus(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

func init() {
	intentCreateCmd.Flags().Int64Var(&createAmountSats, "amount", 0, "expected payment amount, in sats")
	intentCreateCmd.Flags().IntVar(&createRequiredConfs, "confs", 0, "required confirmations (0 = config default)")
	intentCreateCmd.Flags().IntVar(&createExpiresInMinutes, "expires-in", 0, "expiry window in minutes (0 = config default)")
	intentCreateCmd.Flags().StringVar(&createMemo, "memo", "", "merchant-facing memo")
	intentCreateCmd.Flags().StringVar(&createCustomerID, "customer-id", "", "merchant's customer identifier")
	intentCreateCmd.Flags().StringVar(&createEmail, "email", "", "customer email, for receipt delivery")

	intentCmd.AddCommand(intentCreateCmd, intentGetCmd, intentAssignCmd, intentScanCmd, intentStatusCmd)
	rootCmd.AddCommand(intentCmd)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
