package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/windrose-io/windrose/pkg/scheduler"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Enqueue a job for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		tenant, _ := cmd.Flags().GetString("tenant")
		tier, _ := cmd.Flags().GetString("tier")
		jobType, _ := cmd.Flags().GetString("type")
		payloadFile, _ := cmd.Flags().GetString("payload")
		solverSec, _ := cmd.Flags().GetFloat64("solver-sec")
		gpuSec, _ := cmd.Flags().GetFloat64("gpu-sec")
		llmTokens, _ := cmd.Flags().GetFloat64("llm-tokens")

		var payload json.RawMessage
		if payloadFile != "" {
			data, err := os.ReadFile(payloadFile)
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}
			if !json.Valid(data) {
				return fmt.Errorf("payload file %s is not valid JSON", payloadFile)
			}
			payload = data
		}

		var priority *int
		if cmd.Flags().Changed("priority") {
			p, _ := cmd.Flags().GetInt("priority")
			priority = &p
		}

		sched := scheduler.NewScheduler(store, cfg, nil)
		job, err := sched.Enqueue(tenant, types.Tier(tier), jobType, payload,
			types.ResourceVector{SolverSec: solverSec, GPUSec: gpuSec, LLMTokens: llmTokens}, priority)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Job %s enqueued\n", job.ID)
		fmt.Printf("  Tenant: %s (tier %s)\n", job.TenantID, job.Tier)
		fmt.Printf("  Priority: %d\n", job.Priority)
		fmt.Printf("  Virtual Finish: %.3f\n", job.VirtualFinish)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		tenant, _ := cmd.Flags().GetString("tenant")

		var jobs []*types.Job
		err = store.View(func(tx storage.ReadTx) error {
			var err error
			if tenant != "" {
				jobs, err = tx.ListJobsByTenant(tenant)
			} else {
				jobs, err = tx.ListJobs()
			}
			return err
		})
		if err != nil {
			return err
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}
		fmt.Printf("%-36s  %-12s  %-10s  %-10s  %s\n", "ID", "TENANT", "TYPE", "STATUS", "ATTEMPTS")
		for _, job := range jobs {
			fmt.Printf("%-36s  %-12s  %-10s  %-10s  %d\n",
				job.ID, job.TenantID, job.JobType, job.Status, job.Attempts)
		}
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobListCmd)

	jobSubmitCmd.Flags().String("tenant", "", "Tenant ID")
	jobSubmitCmd.Flags().String("tier", "standard", "Tier for first-observation tenants")
	jobSubmitCmd.Flags().String("type", "plan_run", "Job type")
	jobSubmitCmd.Flags().String("payload", "", "Path to a JSON payload file")
	jobSubmitCmd.Flags().Float64("solver-sec", 0, "Estimated solver seconds")
	jobSubmitCmd.Flags().Float64("gpu-sec", 0, "Estimated GPU seconds")
	jobSubmitCmd.Flags().Float64("llm-tokens", 0, "Estimated LLM tokens")
	jobSubmitCmd.Flags().Int("priority", 0, "Explicit priority (default derives from tenant weight)")
	jobSubmitCmd.MarkFlagRequired("tenant")

	jobListCmd.Flags().String("tenant", "", "Filter by tenant")
}
