package report

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Alignment of a table column
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// RenderTable renders rows under headers with rounded borders for the console
func RenderTable(headers []string, rows [][]string, aligns []Alignment) string {
	return renderTable(headers, rows, aligns, table.StyleRounded)
}

// RenderPlainTable renders an ASCII-only table, suitable for report files
func RenderPlainTable(headers []string, rows [][]string, aligns []Alignment) string {
	return renderTable(headers, rows, aligns, table.StyleDefault)
}

func renderTable(headers []string, rows [][]string, aligns []Alignment, style table.Style) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(style)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == AlignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}
