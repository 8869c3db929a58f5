// Package reporting renders metrics snapshots for operators and scrapers.
// Two renderings of the same snapshot: a human-readable table and a
// Prometheus text exposition with one gauge sample per metric.
package reporting

import (
	"fmt"
	"strings"
	"time"

	"success-library/internal/domain"
)

// gauge is one metric in the exposition output.
type gauge struct {
	name  string
	help  string
	value string
}

// RenderPrometheus renders the snapshot in Prometheus exposition format.
// Metric names, HELP strings and number formatting are stable: external
// scrape configs and dashboards key on them.
func RenderPrometheus(snap *domain.MetricsSnapshot) string {
	gauges := []gauge{
		{"success_library_total", "Total number of success stories",
			fmt.Sprintf("%d", snap.Total)},
		{"success_library_blacklisted", "Number of blacklisted tokens",
			fmt.Sprintf("%d", snap.Blacklisted)},
		{"success_library_avg_roi", "Average ROI of successful trades (%)",
			fmt.Sprintf("%.2f", snap.AvgSuccessROI)},
		{"success_library_median_time_to_peak", "Median time to peak (seconds)",
			fmt.Sprintf("%.0f", snap.MedianTimeToPeak)},
		{"success_library_stories_24h", "Stories added in last 24 hours",
			fmt.Sprintf("%d", snap.Stories24h)},
		{"success_library_blacklist_hit_rate", "Blacklist check hit rate",
			fmt.Sprintf("%.4f", snap.BlacklistHitRate)},
	}

	var sb strings.Builder
	for i, g := range gauges {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(&sb, "%s %s\n", g.name, g.value)
	}
	return sb.String()
}

// RenderText renders the snapshot as a human-readable report.
func RenderText(snap *domain.MetricsSnapshot, generatedAt time.Time) string {
	var sb strings.Builder
	rule := strings.Repeat("=", 60)

	sb.WriteString(rule + "\n")
	sb.WriteString("SUCCESS LIBRARY METRICS REPORT\n")
	fmt.Fprintf(&sb, "Generated: %s\n", generatedAt.Format("2006-01-02 15:04:05"))
	sb.WriteString(rule + "\n")
	fmt.Fprintf(&sb, "Total Stories:           %d\n", snap.Total)
	fmt.Fprintf(&sb, "Blacklisted Tokens:      %d\n", snap.Blacklisted)
	fmt.Fprintf(&sb, "Successful Trades:       %d\n", snap.Total-snap.Blacklisted)
	fmt.Fprintf(&sb, "Average Success ROI:     %.2f%%\n", snap.AvgSuccessROI)
	fmt.Fprintf(&sb, "Median Time to Peak:     %.0fs\n", snap.MedianTimeToPeak)
	fmt.Fprintf(&sb, "Stories (Last 24h):      %d\n", snap.Stories24h)
	fmt.Fprintf(&sb, "Blacklist Hit Rate:      %.2f%%\n", snap.BlacklistHitRate*100)
	if snap.Partial {
		sb.WriteString("NOTE: partial snapshot, store-side fields unavailable\n")
	}
	sb.WriteString(rule + "\n")
	return sb.String()
}
