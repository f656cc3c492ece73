package cmd

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var badIPOutput string

var badIPCmd = &cobra.Command{
	Use:   "bad-ip",
	Short: "Manage the known bad address list used by anomaly scoring",
}

var badIPAddCmd = &cobra.Command{
	Use:   "add <ip>",
	Short: "Flag an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateBadIP(cmd, args[0], "added", (*app).addBadIP)
	},
}

var badIPRemoveCmd = &cobra.Command{
	Use:   "remove <ip>",
	Short: "Unflag an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateBadIP(cmd, args[0], "removed", (*app).removeBadIP)
	},
}

var badIPListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flagged addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(badIPOutput)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.requireStore(cmd.Context()); err != nil {
			return err
		}

		ips, err := a.detector.BadIPs(cmd.Context())
		if err != nil {
			return err
		}
		sort.Strings(ips)

		out := cmd.OutOrStdout()
		if format == formatJSON {
			return renderJSON(out, ips)
		}
		if len(ips) == 0 {
			_, err := fmt.Fprintln(out, "no flagged addresses")
			return err
		}
		rows := make([]table.Row, 0, len(ips))
		for _, ip := range ips {
			rows = append(rows, table.Row{ip})
		}
		renderTable(out, table.Row{"Address"}, rows)
		return nil
	},
}

func (a *app) addBadIP(cmd *cobra.Command, ip string) bool {
	return a.detector.AddBadIP(cmd.Context(), ip)
}

func (a *app) removeBadIP(cmd *cobra.Command, ip string) bool {
	return a.detector.RemoveBadIP(cmd.Context(), ip)
}

func mutateBadIP(cmd *cobra.Command, ip, verb string, apply func(*app, *cobra.Command, string) bool) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.requireStore(cmd.Context()); err != nil {
		return err
	}

	if !apply(a, cmd, ip) {
		return fmt.Errorf("could not update %s; check the address and the logs", ip)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, ip)
	return err
}

func init() {
	badIPListCmd.Flags().StringVar(&badIPOutput, "output-format", formatTable, "Output format: table|json")

	badIPCmd.AddCommand(badIPAddCmd)
	badIPCmd.AddCommand(badIPRemoveCmd)
	badIPCmd.AddCommand(badIPListCmd)
	rootCmd.AddCommand(badIPCmd)
}
