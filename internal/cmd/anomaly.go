package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	anomalyUser   string
	anomalyLimit  int
	anomalyOutput string
)

var anomalyCmd = &cobra.Command{
	Use:   "anomaly",
	Short: "Inspect the persisted anomaly trail",
}

type anomalyRow struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	IPAddress  string   `json:"ip_address"`
	RiskScore  float64  `json:"risk_score"`
	Flags      []string `json:"flags"`
	DetectedAt string   `json:"detected_at"`
}

var anomalyRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent high-risk events",
	Long: `List the most recent high-risk events recorded in the SQLite audit trail.

Requires AUDIT_SQLITE_PATH.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(anomalyOutput)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if a.trail == nil {
			return fmt.Errorf("AUDIT_SQLITE_PATH is not set; no anomaly trail to read")
		}

		events, err := a.trail.Recent(cmd.Context(), strings.TrimSpace(anomalyUser), anomalyLimit)
		if err != nil {
			return err
		}

		rows := make([]anomalyRow, 0, len(events))
		for _, e := range events {
			flags := make([]string, 0, len(e.Flags))
			for _, f := range e.Flags {
				flags = append(flags, string(f))
			}
			rows = append(rows, anomalyRow{
				ID:         e.ID,
				UserID:     e.UserID,
				IPAddress:  e.IPAddress,
				RiskScore:  e.RiskScore,
				Flags:      flags,
				DetectedAt: formatTime(e.DetectedAt),
			})
		}

		out := cmd.OutOrStdout()
		if format == formatJSON {
			return renderJSON(out, rows)
		}
		if len(rows) == 0 {
			_, err := fmt.Fprintln(out, "no anomalies recorded")
			return err
		}
		tableRows := make([]table.Row, 0, len(rows))
		for _, r := range rows {
			tableRows = append(tableRows, table.Row{r.DetectedAt, r.UserID, r.IPAddress, fmt.Sprintf("%.2f", r.RiskScore), strings.Join(r.Flags, ",")})
		}
		renderTable(out, table.Row{"Detected", "User", "IP", "Risk", "Flags"}, tableRows)
		return nil
	},
}

func init() {
	anomalyRecentCmd.Flags().StringVar(&anomalyUser, "user", "", "Only show events for this user")
	anomalyRecentCmd.Flags().IntVar(&anomalyLimit, "limit", 50, "Maximum number of events")
	anomalyRecentCmd.Flags().StringVar(&anomalyOutput, "output-format", formatTable, "Output format: table|json")

	anomalyCmd.AddCommand(anomalyRecentCmd)
	rootCmd.AddCommand(anomalyCmd)
}
