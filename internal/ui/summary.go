package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Siddharth-777/ECHO/internal/peer"
)

// FormatDuration formats duration to human readable string
func FormatDuration(d time.Duration) string {
	seconds := int(d.Seconds()) % 60
	minutes := int(d.Minutes()) % 60
	hours := int(d.Hours())

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// SummaryView renders the per-peer link summary shown after leaving a room.
func SummaryView(room string, links []peer.LinkInfo) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s Session summary: %s", IconRoom, room))
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"#", "Peer", "Role", "Final state", "Duration"})

	for i, l := range links {
		t.AppendRow(table.Row{i + 1, l.Name, l.Role.String(), l.State.String(), FormatDuration(l.Duration())})
	}
	if len(links) == 0 {
		t.AppendRow(table.Row{"", "no peers", "", "", ""})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d link(s)", len(links)), "", "", ""})

	return t.Render()
}

// RenderSummary writes the summary table to w.
func RenderSummary(w io.Writer, room string, links []peer.LinkInfo) {
	fmt.Fprintln(w, SummaryView(room, links))
}
