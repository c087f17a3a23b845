package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"recoveryd/services/cli"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var apiBase string

	cmd := &cobra.Command{
		Use:           "recoveryctl",
		Short:         "Control recovery executions on a recoveryd server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&apiBase, "api", envOr("RECOVERYD_API", "http://127.0.0.1:8080"), "Base URL of the recoveryd API")

	cmd.AddCommand(newExecutionsCommand(&apiBase))
	cmd.AddCommand(newCapacityCommand(&apiBase))
	return cmd
}

func newExecutionsCommand(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "Execution lifecycle operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newExecutionsStartCommand(apiBase))
	cmd.AddCommand(newExecutionsStatusCommand(apiBase))
	cmd.AddCommand(newSignalCommand(apiBase, "pause", "Request a pause after the in-flight poll settles",
		func(c *cli.Client, ctx context.Context, id string) error { return c.Pause(ctx, id) }))
	cmd.AddCommand(newSignalCommand(apiBase, "resume", "Resume a paused execution",
		func(c *cli.Client, ctx context.Context, id string) error { return c.Resume(ctx, id) }))
	cmd.AddCommand(newSignalCommand(apiBase, "cancel", "Request cooperative cancellation",
		func(c *cli.Client, ctx context.Context, id string) error { return c.Cancel(ctx, id) }))
	cmd.AddCommand(newExecutionsReportCommand(apiBase))
	return cmd
}

func newExecutionsStartCommand(apiBase *string) *cobra.Command {
	var (
		planID string
		mode   string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an execution for a recovery plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.NewClient(*apiBase)
			if err != nil {
				return err
			}
			id, err := client.StartExecution(cmd.Context(), planID, mode)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&planID, "plan", "", "Recovery plan id")
	cmd.Flags().StringVar(&mode, "mode", "drill", "Execution mode (drill or recovery)")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newExecutionsStatusCommand(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show the full execution record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.NewClient(*apiBase)
			if err != nil {
				return err
			}
			record, err := client.Execution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, record)
		},
	}
}

func newSignalCommand(apiBase *string, use, short string, signal func(*cli.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <execution-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.NewClient(*apiBase)
			if err != nil {
				return err
			}
			if err := signal(client, cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newExecutionsReportCommand(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "report <execution-id>",
		Short: "Print a presigned download link for the execution report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.NewClient(*apiBase)
			if err != nil {
				return err
			}
			url, err := client.ReportURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

func newCapacityCommand(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "capacity <account-id>",
		Short: "Show the combined capacity view for a target account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cli.NewClient(*apiBase)
			if err != nil {
				return err
			}
			view, err := client.Capacity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		},
	}
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	indented, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(indented))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
