package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// textColumnMaxWidth keeps input references and error messages from
// stretching a listing past a typical terminal.
const textColumnMaxWidth = 60

// renderTable draws one queue listing. Columns whose populated cells are all
// counts (plain integers or attempt ratios like "2/3") are right-aligned;
// everything else stays left-aligned and wraps at textColumnMaxWidth.
func renderTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, name := range headers {
		header[i] = name
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		cells := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				cells[i] = row[i]
			} else {
				cells[i] = ""
			}
		}
		tw.AppendRow(cells)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		config := table.ColumnConfig{
			Number:      i + 1,
			AlignHeader: text.AlignLeft,
		}
		if countColumn(rows, i) {
			config.Align = text.AlignRight
		} else {
			config.Align = text.AlignLeft
			config.WidthMax = textColumnMaxWidth
		}
		configs = append(configs, config)
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// countColumn reports whether every populated cell in column i is a count or
// an attempt ratio.
func countColumn(rows [][]string, i int) bool {
	populated := false
	for _, row := range rows {
		if i >= len(row) || row[i] == "" {
			continue
		}
		populated = true
		for _, part := range strings.SplitN(row[i], "/", 2) {
			if !digitsOnly(part) {
				return false
			}
		}
	}
	return populated
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
