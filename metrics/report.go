package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ReportInfo describes the run a report belongs to.
type ReportInfo struct {
	RunID        string
	TargetURL    string
	Elapsed      time.Duration
	VirtualUsers int
	PeakTarget   int
}

// ProgressLine is the one-line status logged while a run is in flight.
func ProgressLine(snap Snapshot, active int) string {
	recv := snap.Trends[MetricMessageReceivedTime]
	return fmt.Sprintf("📊 [%v] vus: %d, sent: %d, received: %d, failed sessions: %d, error rate: %.2f%%, avg receive: %.2fms",
		snap.Elapsed.Round(time.Second),
		active,
		snap.Counters[MetricMessagesSent],
		snap.Counters[MetricMessagesReceived],
		snap.Counters[MetricSessionsFailed],
		snap.Rates[MetricMessageErrorRate].Rate*100,
		recv.Avg,
	)
}

// WriteReport prints the end-of-run summary.
func WriteReport(w io.Writer, info ReportInfo, snap Snapshot) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
	fmt.Fprintln(w, "🎯 Chat load test report")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	if info.RunID != "" {
		fmt.Fprintf(w, "🆔 Run: %s\n", info.RunID)
	}
	fmt.Fprintf(w, "🌐 Target: %s\n", info.TargetURL)
	fmt.Fprintf(w, "⏱️  Duration: %v\n", info.Elapsed.Round(time.Second))
	fmt.Fprintf(w, "👥 Virtual users: %d (peak target %d)\n", info.VirtualUsers, info.PeakTarget)

	fmt.Fprintln(w, "\n📊 Counters:")
	for _, name := range sortedKeys(snap.Counters) {
		fmt.Fprintf(w, "   • %-24s %d\n", name, snap.Counters[name])
	}

	if len(snap.Rates) > 0 {
		fmt.Fprintln(w, "\n📉 Rates:")
		for _, name := range sortedKeys(snap.Rates) {
			r := snap.Rates[name]
			fmt.Fprintf(w, "   • %-24s %.2f%% (%d / %d)\n", name, r.Rate*100, r.Hits, r.Total)
		}
	}

	if len(snap.Checks) > 0 {
		fmt.Fprintln(w, "\n✅ Checks:")
		for _, name := range sortedKeys(snap.Checks) {
			c := snap.Checks[name]
			mark := "✓"
			if c.Fails > 0 {
				mark = "✗"
			}
			fmt.Fprintf(w, "   %s %-24s %d passed, %d failed\n", mark, name, c.Passes, c.Fails)
		}
	}

	if len(snap.Trends) > 0 {
		fmt.Fprintln(w, "\n⚡ Timings (ms):")
		for _, name := range sortedKeys(snap.Trends) {
			t := snap.Trends[name]
			fmt.Fprintf(w, "   • %-24s avg=%.2f min=%.2f med=%.2f max=%.2f p(90)=%.2f p(95)=%.2f p(99)=%.2f n=%d\n",
				name, t.Avg, t.Min, t.Med, t.Max, t.P90, t.P95, t.P99, t.Count)
		}
	}

	if snap.Dropped > 0 {
		fmt.Fprintf(w, "\n⚠️  %d invalid metric records were dropped\n", snap.Dropped)
	}

	fmt.Fprintln(w, "\n🎯 Findings:")
	sent := snap.Counters[MetricMessagesSent]
	errRate := snap.Rates[MetricMessageErrorRate].Rate * 100
	found := false
	if failed := snap.Counters[MetricSessionsFailed]; failed > 0 {
		fmt.Fprintf(w, "   ⚠️  %d sessions failed to connect - check server capacity\n", failed)
		found = true
	}
	if errRate > 5 {
		fmt.Fprintf(w, "   ⚠️  Message error rate is high (%.2f%%)\n", errRate)
		found = true
	}
	if sent > 0 && snap.Counters[MetricMessagesReceived] == 0 {
		fmt.Fprintln(w, "   ⚠️  Messages were sent but none came back")
		found = true
	}
	if !found {
		fmt.Fprintln(w, "   ✅ No connection failures or message errors")
	}

	fmt.Fprintln(w, strings.Repeat("=", 60))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
