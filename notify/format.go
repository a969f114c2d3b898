package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/rentwatch/rentwatch/session"
)

// humanizeDuration renders a duration in the largest useful units, e.g.
// "2d 3h" or "41m".
func humanizeDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// sessionLines renders a session's rates and earnings for a message body.
// Dollar figures are rounded here, at the report edge only.
func sessionLines(s *session.Session, asOf time.Time) []string {
	lines := []string{
		fmt.Sprintf("Session %s (%s, %d GPU)", s.ID, s.Status, len(s.GPUs)),
	}
	if rate := s.CurrentGPURate(); rate > 0 {
		lines = append(lines, fmt.Sprintf("GPU rate: $%.4f/gpu/hr", rate))
	}
	if s.StorageGB > 0 {
		lines = append(lines, fmt.Sprintf("Storage: %.1f GB at $%.4f/GB/mo", s.StorageGB, s.CurrentStorageRate()))
	}

	e := s.EarningsAt(asOf)
	lines = append(lines,
		fmt.Sprintf("Duration: %s", humanizeDuration(e.Duration)),
		fmt.Sprintf("Earned: $%.2f (gpu $%.2f, storage $%.2f)", e.Total, e.GPU, e.Storage),
	)
	return lines
}

func machineLines(m *MachineSummary) []string {
	name := m.GPUName
	if name == "" {
		name = "GPU"
	}
	return []string{
		fmt.Sprintf("Machine %d: %dx %s [%s]", m.MachineID, m.NumGPUs, name, m.Occupancy),
		fmt.Sprintf("Sessions: %d running, %d stored", m.RunningSessions, m.StoredSessions),
		fmt.Sprintf("Est. $%.2f/hr, earned $%.2f", m.HourlyEstimate, m.EarnedTotal),
	}
}

// plainBody renders an event as plain text for generic sinks.
func plainBody(ev Event) string {
	parts := []string{ev.Body}
	if ev.Session != nil {
		parts = append(parts, strings.Join(sessionLines(ev.Session, ev.Time), "\n"))
	}
	if ev.Machine != nil {
		parts = append(parts, strings.Join(machineLines(ev.Machine), "\n"))
	}

	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

// discordBody renders an event as Discord markdown. Timestamps use the
// <t:unix:style> marker so every reader sees their local time.
func discordBody(ev Event, mention string) string {
	var b strings.Builder
	if mention != "" {
		b.WriteString(mention)
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "**%s**\n", ev.Title)
	fmt.Fprintf(&b, "<t:%d:f>\n", ev.Time.Unix())

	if ev.Body != "" {
		b.WriteString(ev.Body)
		b.WriteString("\n")
	}
	if ev.Session != nil {
		b.WriteString("\n")
		for _, line := range sessionLines(ev.Session, ev.Time) {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if ev.Machine != nil {
		b.WriteString("\n")
		for _, line := range machineLines(ev.Machine) {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
