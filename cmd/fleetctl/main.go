package main

import (
	"fmt"
	"os"
	"time"

	"github.com/barak1panker/server-monitoring/internal/cli"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	outputJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "CLI for the fleet telemetry collector",
	Long: `fleetctl is a command-line interface for the fleet telemetry collector API.

It shows host status and fleet history, recent alerts, and the ingestion log.`,
	SilenceUsage: true,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check collector service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		data, err := client.Health()
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, data)
		}

		fmt.Printf("Status: %v\n", data["status"])
		fmt.Printf("Database: %v\n", data["database"])
		return nil
	},
}

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Show every known host with its status and the fleet history",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		view, err := client.Fleet()
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, view)
		}

		return cli.FormatFleetTable(os.Stdout, view)
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List the most recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client := cli.NewClient(serverURL)
		alerts, err := client.Alerts(limit)
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, alerts)
		}

		return cli.FormatAlertsTable(os.Stdout, alerts, time.Now())
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List the most recent ingestion log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client := cli.NewClient(serverURL)
		entries, err := client.Logs(limit)
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(os.Stdout, entries)
		}

		return cli.FormatLogsTable(os.Stdout, entries, time.Now())
	},
}

func init() {
	defaultServerURL := os.Getenv("COLLECTOR_URL")
	if defaultServerURL == "" {
		defaultServerURL = "http://localhost:8000"
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServerURL, "Collector server URL")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "Output in JSON format")

	alertsCmd.Flags().IntP("limit", "l", 50, "Number of alerts to retrieve (max: 500)")
	logsCmd.Flags().IntP("limit", "l", 50, "Number of log entries to retrieve (max: 500)")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(fleetCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(logsCmd)
}
