package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/barak1panker/server-monitoring/internal/models"
	"github.com/dustin/go-humanize"
)

func FormatJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func FormatFleetTable(out io.Writer, view *models.FleetView) error {
	if len(view.Servers) == 0 {
		fmt.Fprintln(out, "No hosts have reported yet")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HOSTNAME\tIP\tSTATUS\tCPU %\tMEMORY\tDISK\tNET IN\tNET OUT")

		for _, s := range view.Servers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%s\t%s\t%s\t%s\n",
				s.Name,
				orDash(s.IP),
				s.Status,
				s.CPU,
				formatUsage(s.RAMUsed, s.RAMTotal),
				formatUsage(s.DiskUsed, s.DiskTotal),
				formatBytes(s.NetIn),
				formatBytes(s.NetOut),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	h := view.History
	if n := len(h.Up); n > 0 {
		fmt.Fprintf(out, "\nHistory (%d samples): up %d, down %d, avg cpu %.1f%%, avg ram %.1f%%\n",
			n, h.Up[n-1], h.Down[n-1], h.CPU[n-1], h.RAM[n-1])
	}
	return nil
}

func FormatAlertsTable(out io.Writer, alerts []models.Alert, now time.Time) error {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "No alerts")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tHOSTNAME\tCATEGORY\tSEVERITY\tDETAIL")

	for _, a := range alerts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			humanize.RelTime(a.CreatedAt, now, "ago", "from now"),
			a.Hostname,
			a.Category,
			a.Severity,
			alertDetail(a),
		)
	}

	return w.Flush()
}

func FormatLogsTable(out io.Writer, entries []models.AuditEntry, now time.Time) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No log entries")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tDEVICE\tKIND\tPAYLOAD")

	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.ID,
			humanize.RelTime(e.CreatedAt, now, "ago", "from now"),
			e.DeviceName,
			e.Severity,
			e.LogPath,
		)
	}

	return w.Flush()
}

func alertDetail(a models.Alert) string {
	switch a.Category {
	case models.CategoryHash:
		parts := []string{}
		if a.FilePath != nil {
			parts = append(parts, *a.FilePath)
		}
		if a.SHA256 != nil {
			parts = append(parts, shortHash(*a.SHA256))
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	case models.CategoryResource:
		if a.CPU != nil && a.RAMRatio != nil {
			return fmt.Sprintf("cpu %.1f%% ram %.0f%%", *a.CPU, *a.RAMRatio*100)
		}
	}
	return a.Description
}

func shortHash(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(n))
}

func formatUsage(used, total int64) string {
	if total <= 0 {
		return "-"
	}
	return fmt.Sprintf("%s / %s", formatBytes(used), formatBytes(total))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
