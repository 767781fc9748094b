package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders the cohort table as Markdown string, one section
// per cohort family.
func RenderMarkdown(t *Table) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Cohorts at height %d\n\n", t.Height))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", t.GeneratedAt.Format(time.RFC3339)))
	if t.Timestamp != 0 {
		sb.WriteString(fmt.Sprintf("Block time: %s\n\n", time.Unix(t.Timestamp, 0).UTC().Format(time.RFC3339)))
	}

	family := ""
	for _, r := range t.Rows {
		if r.Family != family {
			if family != "" {
				sb.WriteString("\n")
			}
			family = r.Family
			sb.WriteString(fmt.Sprintf("## %s\n\n", family))
			writeHeader(&sb, "Cohort", t.Metrics)
		}
		sb.WriteString("| " + r.Cohort + " |")
		for _, m := range t.Metrics {
			v := r.Values[m]
			if v == "" {
				v = "-"
			}
			sb.WriteString(" " + v + " |")
		}
		sb.WriteString("\n")
	}
	if len(t.Rows) == 0 {
		sb.WriteString("No cohorts stored at this height.\n")
	}

	return sb.String()
}

// RenderSeriesMarkdown renders a cohort history as Markdown string.
func RenderSeriesMarkdown(st *SeriesTable) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s\n\n", st.Cohort))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", st.GeneratedAt.Format(time.RFC3339)))
	writeHeader(&sb, "Height", st.Metrics)
	for i, row := range st.Rows {
		sb.WriteString(fmt.Sprintf("| %d |", st.From+uint64(i)))
		for _, v := range row {
			if v == "" {
				v = "-"
			}
			sb.WriteString(" " + v + " |")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeHeader(sb *strings.Builder, first string, metrics []string) {
	sb.WriteString("| " + first + " |")
	for _, m := range metrics {
		sb.WriteString(" " + m + " |")
	}
	sb.WriteString("\n|" + strings.Repeat("---|", len(metrics)+1) + "\n")
}
