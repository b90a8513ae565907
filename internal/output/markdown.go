package output

import (
	"fmt"
	"strings"
)

// MarkdownFormatter renders views as markdown tables.
type MarkdownFormatter struct{}

// Format renders view as a Markdown table with an optional heading.
func (f *MarkdownFormatter) Format(view View) (string, error) {
	var sb strings.Builder
	if view.Title != "" {
		sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdownCell(view.Title)))
	}
	if len(view.Rows) == 0 {
		sb.WriteString(view.emptyText())
		sb.WriteString("\n")
		return sb.String(), nil
	}

	sb.WriteString("|")
	for _, h := range view.Header {
		sb.WriteString(" " + escapeMarkdownCell(h) + " |")
	}
	sb.WriteString("\n|")
	for range view.Header {
		sb.WriteString("---|")
	}
	sb.WriteString("\n")

	for _, row := range view.Rows {
		sb.WriteString("|")
		for _, cell := range row {
			sb.WriteString(" " + escapeMarkdownCell(cell) + " |")
		}
		sb.WriteString("\n")
	}

	if view.Summary != "" {
		sb.WriteString("\n")
		sb.WriteString(escapeMarkdownCell(view.Summary))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\r\n", " ")
	return strings.ReplaceAll(value, "\n", " ")
}
