package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/radek00/PeerDrop/internal/history"
	"github.com/radek00/PeerDrop/internal/signaling"
	"github.com/radek00/PeerDrop/internal/utils"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

// TransferSummary is shown once a transfer ends.
type TransferSummary struct {
	Status   webrtc.TransferStatus
	File     string
	Size     int64
	Bytes    int64
	Duration time.Duration
	Path     string
}

func TransferSummaryView(s TransferSummary) string {
	speed := "-"
	if secs := s.Duration.Seconds(); secs > 0 && s.Bytes > 0 {
		speed = utils.FormatSpeed(float64(s.Bytes) / secs)
	}

	rows := [][]string{
		{"Status", StatusIcon(s.Status) + " " + statusText(s.Status)},
		{"File", utils.TruncateString(s.File, 50)},
		{"Transferred", fmt.Sprintf("%s / %s", utils.FormatSize(s.Bytes), utils.FormatSize(s.Size))},
		{"Duration", utils.FormatTimeDuration(s.Duration)},
		{"Avg Speed", speed},
	}
	if s.Path != "" {
		rows = append(rows, []string{"Saved to", s.Path})
	}

	tbl := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Metric", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func RenderTransferSummary(w io.Writer, s TransferSummary) {
	fmt.Fprintln(w, TransferSummaryView(s))
}

func newPrettyTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.Style().Format.Header = text.FormatDefault
	return t
}

// RenderPeers prints the peers visible on the relay. self is highlighted
// and listed first.
func RenderPeers(w io.Writer, self signaling.PeerInfo, peers []signaling.PeerInfo) {
	t := newPrettyTable(w)
	t.SetTitle("Peers on the relay")
	t.AppendHeader(table.Row{"#", "Name", "ID", "Client"})

	t.AppendRow(table.Row{"*", text.FgGreen.Sprint(self.Name + " (you)"), self.ID, self.ClientType})
	for i, p := range peers {
		t.AppendRow(table.Row{i + 1, p.Name, p.ID, p.ClientType})
	}
	if len(peers) == 0 {
		t.AppendFooter(table.Row{"", "no other peers yet", "", ""})
	}
	t.Render()
}

// RenderHistory prints recorded transfers, newest first.
func RenderHistory(w io.Writer, records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, MutedStyle.Render("No transfers recorded yet"))
		return
	}

	t := newPrettyTable(w)
	t.SetTitle("Transfer history")
	t.AppendHeader(table.Row{"When", "Dir", "File", "Peer", "Size", "Status", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "File", WidthMax: 40},
		{Name: "Detail", WidthMax: 40},
	})

	for _, r := range records {
		dir := IconSend
		if r.Direction == history.DirectionReceive {
			dir = IconReceive
		}
		detail := r.Error
		if detail == "" {
			detail = r.Path
		}
		t.AppendRow(table.Row{
			r.FinishedAt.Local().Format("2006-01-02 15:04"),
			dir,
			r.FileName,
			r.PeerName,
			fmt.Sprintf("%s/%s", utils.FormatSize(r.Bytes), utils.FormatSize(r.Size)),
			statusColor(r.Status).Sprint(statusText(r.Status)),
			detail,
		})
	}
	t.Render()
}

func statusColor(s webrtc.TransferStatus) text.Colors {
	switch s {
	case webrtc.StatusCompleted:
		return text.Colors{text.FgGreen}
	case webrtc.StatusError:
		return text.Colors{text.FgRed}
	case webrtc.StatusRejected, webrtc.StatusCancelled:
		return text.Colors{text.FgYellow}
	}
	return text.Colors{text.FgHiBlack}
}
