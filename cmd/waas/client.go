package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Te-De-CX/Waas/internal/canonical"
	"github.com/Te-De-CX/Waas/waas"
	"github.com/Te-De-CX/Waas/waas/models"
)

// newClient builds a processor client from the config file. The returned
// func releases the signing key session, if one was opened.
func newClient(opts ...waas.ClientOption) (*waas.Client, func(), error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	creds, closer, err := waas.LoadCredentials(cfg)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if closer != nil {
			closer.Close()
		}
	}
	client, err := waas.NewClient(logger, cfg, creds, opts...)
	if err != nil {
		release()
		return nil, nil, err
	}
	return client, release, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func signCmd() *cobra.Command {
	var timestamp int64

	cmd := &cobra.Command{
		Use:   "sign <endpoint> [file]",
		Short: "Print the signature the gateway would send for a payload",
		Long: `Reads a JSON object from file (or stdin) and prints the signature the
gateway computes for it on the given endpoint. Useful to reproduce a
signature offline; the secret is never printed.

Endpoints: create_wallet, query_balance, initialize_payment`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 2 {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			values := canonical.Values{}
			dec := json.NewDecoder(in)
			dec.UseNumber()
			if err := dec.Decode(&values); err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}

			var opts []waas.ClientOption
			if timestamp > 0 {
				opts = append(opts, waas.WithClock(func() time.Time { return time.UnixMilli(timestamp) }))
			}
			client, release, err := newClient(opts...)
			if err != nil {
				return err
			}
			defer release()

			env, err := client.Seal(args[0], values)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), env.Signature)
			return nil
		},
	}

	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "unix millis to sign with instead of now")

	return cmd
}

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Create wallets and query balances",
	}

	var create models.CreateWallet
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Allocate a static deposit wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, release, err := newClient()
			if err != nil {
				return err
			}
			defer release()

			wallet, err := client.CreateWallet(cmd.Context(), create)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), wallet)
		},
	}
	createCmd.Flags().StringVar(&create.Name, "name", "", "wallet holder name")
	createCmd.Flags().StringVar(&create.RefID, "ref-id", "", "merchant reference, defaults to ref_<millis>")
	createCmd.Flags().StringVar(&create.Email, "email", "", "holder email")
	createCmd.Flags().StringVar(&create.Phone, "phone", "", "holder phone")
	createCmd.Flags().StringVar(&create.AccountType, "account-type", "", "Merchant or User")
	createCmd.MarkFlagRequired("name")

	balanceCmd := &cobra.Command{
		Use:   "balance <deposit-code>",
		Short: "Query a wallet balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, release, err := newClient()
			if err != nil {
				return err
			}
			defer release()

			balance, err := client.QueryBalance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), balance)
		},
	}

	cmd.AddCommand(createCmd, balanceCmd)
	return cmd
}

func paymentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Hosted checkout payments",
	}

	var req models.InitializePayment
	var amount string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a payment and print its checkout URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, release, err := newClient()
			if err != nil {
				return err
			}
			defer release()

			req.Amount = json.Number(amount)
			payment, err := client.InitializePayment(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), payment)
		},
	}
	initCmd.Flags().StringVar(&amount, "amount", "", "decimal amount, e.g. 100.00")
	initCmd.Flags().StringVar(&req.Currency, "currency", "NGN", "ISO currency code")
	initCmd.Flags().StringVar(&req.Reference, "reference", "", "merchant reference, defaults to a random id")
	initCmd.Flags().StringVar(&req.CallbackURL, "callback-url", "", "where the processor posts the result")
	initCmd.Flags().StringVar(&req.CustomerEmail, "customer-email", "", "payer email")
	initCmd.Flags().StringVar(&req.CustomerName, "customer-name", "", "payer name")
	initCmd.MarkFlagRequired("amount")
	initCmd.MarkFlagRequired("callback-url")

	cmd.AddCommand(initCmd)
	return cmd
}
