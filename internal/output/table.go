package output

import (
	"github.com/jedib0t/go-pretty/v6/table"
)

// TableFormatter renders views as an ASCII table.
type TableFormatter struct{}

// Format renders view as a rounded table with the summary in the footer.
func (f *TableFormatter) Format(view View) (string, error) {
	if len(view.Rows) == 0 {
		return view.emptyText(), nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	if view.Title != "" {
		t.SetTitle(view.Title)
	}
	t.AppendHeader(toRow(view.Header))

	for _, row := range view.Rows {
		t.AppendRow(toRow(row))
	}

	if view.Summary != "" {
		footer := make(table.Row, len(view.Header))
		for i := range footer {
			footer[i] = ""
		}
		footer[len(footer)-1] = view.Summary
		t.AppendFooter(footer)
	}

	return t.Render(), nil
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, cell := range cells {
		row[i] = cell
	}
	return row
}
