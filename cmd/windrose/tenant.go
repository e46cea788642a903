package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/windrose-io/windrose/pkg/scheduler"
	"github.com/windrose-io/windrose/pkg/types"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantBudgetCmd = &cobra.Command{
	Use:   "budget TENANT",
	Short: "Show a tenant's budget and fairness state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		sched := scheduler.NewScheduler(store, cfg, nil)
		budget, err := sched.GetTenantBudget(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Tenant: %s\n", budget.TenantID)
		fmt.Printf("  Tier: %s\n", budget.Tier)
		fmt.Printf("  Weight: %.1f\n", budget.Weight)
		fmt.Printf("  Virtual Finish: %.3f\n", budget.VirtualFinish)
		fmt.Println("  Remaining:")
		printVector(budget.Remaining)
		if budget.Limits != nil {
			fmt.Println("  Limits:")
			printVector(*budget.Limits)
		}
		return nil
	},
}

var tenantSetLimitsCmd = &cobra.Command{
	Use:   "set-limits TENANT",
	Short: "Move a tenant to a tier and optionally set explicit limits",
	Long: `Move a tenant to a tier. When any budget flag is given the
tenant's limits and remaining budget are reset to the given vector;
otherwise the current remaining balance is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		tier, _ := cmd.Flags().GetString("tier")
		solverSec, _ := cmd.Flags().GetFloat64("solver-sec")
		gpuSec, _ := cmd.Flags().GetFloat64("gpu-sec")
		llmTokens, _ := cmd.Flags().GetFloat64("llm-tokens")

		var limits *types.ResourceVector
		if cmd.Flags().Changed("solver-sec") || cmd.Flags().Changed("gpu-sec") || cmd.Flags().Changed("llm-tokens") {
			limits = &types.ResourceVector{SolverSec: solverSec, GPUSec: gpuSec, LLMTokens: llmTokens}
		}

		sched := scheduler.NewScheduler(store, cfg, nil)
		budget, err := sched.SetTenantLimits(args[0], types.Tier(tier), limits)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Tenant %s moved to tier %s\n", budget.TenantID, budget.Tier)
		fmt.Println("  Remaining:")
		printVector(budget.Remaining)
		return nil
	},
}

func printVector(v types.ResourceVector) {
	dim := func(val float64) string {
		if math.IsInf(val, 1) {
			return "unlimited"
		}
		return fmt.Sprintf("%.1f", val)
	}
	fmt.Printf("    Solver Seconds: %s\n", dim(v.SolverSec))
	fmt.Printf("    GPU Seconds: %s\n", dim(v.GPUSec))
	fmt.Printf("    LLM Tokens: %s\n", dim(v.LLMTokens))
}

func init() {
	tenantCmd.AddCommand(tenantBudgetCmd)
	tenantCmd.AddCommand(tenantSetLimitsCmd)

	tenantSetLimitsCmd.Flags().String("tier", "standard", "Target tier")
	tenantSetLimitsCmd.Flags().Float64("solver-sec", 0, "Solver seconds budget")
	tenantSetLimitsCmd.Flags().Float64("gpu-sec", 0, "GPU seconds budget")
	tenantSetLimitsCmd.Flags().Float64("llm-tokens", 0, "LLM token budget")
}
