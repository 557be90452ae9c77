package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/maauso/subclean-api/internal/region"
	"github.com/maauso/subclean-api/internal/server"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func renderRegions(w io.Writer, video string, a *region.Analysis) error {
	fmt.Fprintf(w, "%s: %d region(s), %d frames at %.2f fps\n", video, len(a.Regions), a.TotalFrames, a.FPS)
	if len(a.Regions) == 0 {
		_, err := fmt.Fprintln(w, "No subtitles detected")
		return err
	}

	rows := make([][]string, 0, len(a.Regions))
	for i, r := range a.Regions {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(r.StartFrame),
			strconv.Itoa(r.EndFrame),
			fmt.Sprintf("%d,%d", r.X, r.Y),
			fmt.Sprintf("%dx%d", r.Width, r.Height),
			fmt.Sprintf("%.2f", r.Confidence),
			r.Text,
		})
	}
	headers := []string{"#", "Start", "End", "Position", "Size", "Confidence", "Text"}
	aligns := []columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft}
	_, err := fmt.Fprintln(w, renderTable(headers, rows, aligns))
	return err
}

func renderTasks(w io.Writer, list server.TaskListResponse) error {
	if len(list.Tasks) == 0 {
		_, err := fmt.Fprintln(w, "No tasks")
		return err
	}
	rows := make([][]string, 0, len(list.Tasks))
	for _, t := range list.Tasks {
		rows = append(rows, []string{
			t.ID,
			t.Status,
			fmt.Sprintf("%.0f%%", t.Progress),
			t.Algorithm,
			t.OriginalFilename,
			t.CreatedAt.Local().Format(time.DateTime),
		})
	}
	headers := []string{"ID", "Status", "Progress", "Algorithm", "File", "Created"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight}
	fmt.Fprintln(w, renderTable(headers, rows, aligns))
	_, err := fmt.Fprintf(w, "Page %d, %d of %d task(s)\n", list.Page, len(list.Tasks), list.Total)
	return err
}

func renderTask(w io.Writer, t server.TaskResponse) error {
	rows := [][]string{
		{"ID", t.ID},
		{"Status", t.Status},
		{"Progress", fmt.Sprintf("%.1f%%", t.Progress)},
		{"Algorithm", t.Algorithm},
		{"File", t.OriginalFilename},
		{"Size", strconv.FormatInt(t.FileSize, 10)},
		{"Regions", strconv.Itoa(len(t.SubtitleRegions))},
		{"Timed regions", strconv.Itoa(t.TimedRegions)},
		{"Created", t.CreatedAt.Local().Format(time.DateTime)},
	}
	if t.StartedAt != nil {
		rows = append(rows, []string{"Started", t.StartedAt.Local().Format(time.DateTime)})
	}
	if t.CompletedAt != nil {
		rows = append(rows, []string{"Completed", t.CompletedAt.Local().Format(time.DateTime)})
	}
	if t.OutputURL != "" {
		rows = append(rows, []string{"Output URL", t.OutputURL})
	}
	if t.ErrorMessage != "" {
		rows = append(rows, []string{"Error", t.ErrorMessage})
	}
	_, err := fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, rows, nil))
	return err
}

func renderStats(w io.Writer, st server.StatsResponse) error {
	rows := make([][]string, 0, len(st.ByStatus)+len(st.ByAlgorithm))
	for _, s := range []string{"PENDING", "DETECTING", "PROCESSING", "COMPLETED", "FAILED"} {
		rows = append(rows, []string{"status", s, strconv.Itoa(st.ByStatus[s])})
	}
	for _, a := range []string{"sttn", "lama", "propainter"} {
		rows = append(rows, []string{"algorithm", a, strconv.Itoa(st.ByAlgorithm[a])})
	}
	fmt.Fprintln(w, renderTable([]string{"Group", "Name", "Count"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	_, err := fmt.Fprintf(w, "Total: %d\n", st.Total)
	return err
}
