package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/windrose-io/windrose/pkg/ledger"
	"github.com/windrose-io/windrose/pkg/signing"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and verify decision ledgers",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify TENANT",
	Short: "Verify a tenant's chain signatures and parent links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")

		ldg := ledger.New(store, signing.NewSigner(cfg, nil), nil)
		report, err := ldg.Verify(args[0], limit)
		if err != nil {
			return err
		}

		fmt.Printf("Tenant: %s\n", report.TenantID)
		fmt.Printf("  Checked: %d\n", report.Checked)
		if report.OK {
			fmt.Println("  ✓ Chain verified")
			return nil
		}
		fmt.Println("  ✗ Chain has failures:")
		for _, check := range report.Entries {
			if check.SigOK && check.ChainOK {
				continue
			}
			fmt.Printf("    %s: sig_ok=%t chain_ok=%t %s\n",
				check.EntryID, check.SigOK, check.ChainOK, check.Reason)
		}
		return fmt.Errorf("chain verification failed for tenant %s", args[0])
	},
}

var ledgerChainCmd = &cobra.Command{
	Use:   "chain TENANT",
	Short: "Show a tenant's chain, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")

		ldg := ledger.New(store, signing.NewSigner(cfg, nil), nil)
		entries, err := ldg.GetChain(args[0], limit)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No entries found")
			return nil
		}
		for _, entry := range entries {
			alg := entry.SignatureAlgorithm
			if alg == "" {
				alg = "unsigned"
			}
			fmt.Printf("%s  %s  %-12s  %s\n",
				entry.TS.Format(time.RFC3339), entry.EntryID, entry.ActionType, alg)
		}
		return nil
	},
}

var ledgerSummaryCmd = &cobra.Command{
	Use:   "summary TENANT",
	Short: "Show a compact integrity summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		ldg := ledger.New(store, signing.NewSigner(cfg, nil), nil)
		summary, err := ldg.Summary(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Tenant: %s\n", summary.TenantID)
		fmt.Printf("  Entries: %d\n", summary.Entries)
		fmt.Printf("  OK: %t\n", summary.OK)
		fmt.Printf("  Unverifiable: %d\n", summary.Unverifiable)
		for alg, count := range summary.ByAlgorithm {
			fmt.Printf("  %s: %d\n", alg, count)
		}
		if summary.FirstTS != nil && summary.LastTS != nil {
			fmt.Printf("  Span: %s .. %s\n",
				summary.FirstTS.Format(time.RFC3339), summary.LastTS.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerChainCmd)
	ledgerCmd.AddCommand(ledgerSummaryCmd)

	ledgerVerifyCmd.Flags().Int("limit", 0, "Verify only the newest N entries (0 = all)")
	ledgerChainCmd.Flags().Int("limit", 20, "Show the newest N entries (0 = all)")
}
