package monitor

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderStatus writes the stored/pending report for the batch file.
func RenderStatus(w io.Writer, stored []Stored, pending []Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("%d configured: %d stored, %d pending", len(stored)+len(pending), len(stored), len(pending)))
	t.AppendHeader(table.Row{"URL", "Author", "Scraped At", "Translated", "Images", "Video", "State"})

	for _, s := range stored {
		t.AppendRow(table.Row{
			s.URL,
			"@" + s.Target.Handle(),
			formatScrapedAt(s.Status.ScrapedAt),
			yesNo(s.Status.HasTranslation),
			s.Status.ImageCount,
			yesNo(s.Status.HasVideo),
			"stored",
		})
	}
	for _, p := range pending {
		t.AppendRow(table.Row{p.URL, "@" + p.Target.Handle(), "", "", "", "", "pending"})
	}
	t.Render()
}

// RenderSummary writes a one-table digest of a cycle or repair run.
func RenderSummary(w io.Writer, sum Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Targets", "Found", "Not Found", "Failed", "Stored", "Elapsed"})
	t.AppendRow(table.Row{sum.Targets, sum.Found, sum.NotFound, sum.Failed, sum.Stored, sum.Elapsed().Round(100 * time.Millisecond)})
	t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
