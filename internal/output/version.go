package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/xwander/tablewright/internal/appid"
)

// FormatVersion renders the version report. Table output without extended
// is the single "name version" line.
func FormatVersion(format Format, report appid.Report, extended bool) (string, error) {
	switch format {
	case FormatJSON:
		return (&JSONFormatter{Indent: true}).encode(report)
	case FormatYAML:
		return (&YAMLFormatter{}).encode(report)
	}

	if !extended {
		return fmt.Sprintf("%s %s", report.Name, report.Build.Version), nil
	}

	rows := [][2]string{
		{"Version", report.Build.Version},
		{"Commit", report.Build.Commit},
		{"Built", report.Build.Date},
		{"Go", report.Dependencies.Go},
		{"Gofulmen", report.Dependencies.Gofulmen},
		{"Crucible", report.Dependencies.Crucible},
		{"Platform", report.Runtime.Platform},
	}

	if format == FormatMarkdown {
		var sb strings.Builder
		fmt.Fprintf(&sb, "## %s\n\n| Key | Value |\n| --- | --- |\n", report.Name)
		for _, row := range rows {
			fmt.Fprintf(&sb, "| %s | %s |\n", row[0], escapeMarkdownCell(row[1]))
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}

	t := newTable()
	t.SetTitle(report.Name)
	for _, row := range rows {
		t.AppendRow(table.Row{row[0], row[1]})
	}
	return t.Render(), nil
}
