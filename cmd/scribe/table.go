package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// printTable renders rows under headers with a rounded border. Columns whose
// zero-based index appears in numeric are right aligned; every cell wraps
// softly at 60 characters.
func printTable(out io.Writer, headers []string, rows [][]string, numeric ...int) {
	if len(headers) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(toRow(headers, len(headers)))
	for _, row := range rows {
		tw.AppendRow(toRow(row, len(headers)))
	}

	cols := make([]table.ColumnConfig, len(headers))
	for i := range cols {
		cols[i] = table.ColumnConfig{
			Number:           i + 1,
			Align:            text.AlignLeft,
			AlignHeader:      text.AlignLeft,
			WidthMax:         60,
			WidthMaxEnforcer: text.WrapSoft,
		}
		if slices.Contains(numeric, i) {
			cols[i].Align = text.AlignRight
		}
	}
	tw.SetColumnConfigs(cols)
	fmt.Fprintln(out, tw.Render())
}

// toRow pads or truncates cells to width.
func toRow(cells []string, width int) table.Row {
	row := make(table.Row, width)
	for i := range row {
		row[i] = ""
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	return row
}
