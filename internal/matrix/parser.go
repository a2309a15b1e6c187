package matrix

import (
	"strings"
)

// Grid is the transient parser output. Column i of every row belongs to Widths[i].
type Grid struct {
	HeaderLine int
	Widths     []string
	Rows       []GridRow
}

// GridRow is one data line: its height token and the raw price cells in column order.
type GridRow struct {
	Line   int
	Height string
	Cells  []string
}

// Cell is a single (width, height, raw value) triple taken from the grid.
type Cell struct {
	Line   int
	Column int
	Width  string
	Height string
	Value  string
}

// Cells flattens the grid row by row, columns in header order.
func (g Grid) Cells() []Cell {
	out := make([]Cell, 0, len(g.Widths)*len(g.Rows))
	for _, row := range g.Rows {
		for i, value := range row.Cells {
			if i >= len(g.Widths) {
				break
			}
			out = append(out, Cell{
				Line:   row.Line,
				Column: i,
				Width:  g.Widths[i],
				Height: row.Height,
				Value:  value,
			})
		}
	}
	return out
}

// Parse splits raw CSV text into a Grid. The first line is the header: its first field is a
// corner label and the remaining fields are column widths. Every other line starts with the
// row height followed by one price cell per width.
//
// Whitespace-only lines are ignored. A data line whose cell count differs from the number of
// widths fails with ErrMalformedMatrix.
func Parse(raw string) (Grid, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimPrefix(text, "\ufeff")
	if strings.TrimSpace(text) == "" {
		return Grid{}, malformed(0, "no header line")
	}
	lines := strings.Split(text, "\n")
	rows := make([]sourceRow, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, sourceRow{line: i + 1, fields: strings.Split(line, ",")})
	}
	return parseRows(rows, false)
}

type sourceRow struct {
	line   int
	fields []string
}

// parseRows builds the grid from pre-split rows. padShort treats missing trailing cells as
// blank, which spreadsheet readers produce when the last cells of a row are empty.
func parseRows(rows []sourceRow, padShort bool) (Grid, error) {
	if len(rows) == 0 {
		return Grid{}, malformed(0, "no header line")
	}
	header := rows[0]
	if len(header.fields) < 2 {
		return Grid{}, malformed(header.line, "header has no width columns")
	}
	widths := make([]string, 0, len(header.fields)-1)
	for _, token := range header.fields[1:] {
		widths = append(widths, strings.TrimSpace(token))
	}
	if padShort {
		widths = trimTrailingEmpty(widths)
		if len(widths) == 0 {
			return Grid{}, malformed(header.line, "header has no width columns")
		}
	}

	grid := Grid{HeaderLine: header.line, Widths: widths, Rows: make([]GridRow, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		if len(row.fields) == 0 {
			continue
		}
		cells := row.fields[1:]
		if padShort && len(cells) < len(widths) {
			padded := make([]string, len(widths))
			copy(padded, cells)
			cells = padded
		}
		if len(cells) != len(widths) {
			return Grid{}, malformed(row.line, "expected %d cells, found %d", len(widths), len(cells))
		}
		grid.Rows = append(grid.Rows, GridRow{
			Line:   row.line,
			Height: strings.TrimSpace(row.fields[0]),
			Cells:  append([]string(nil), cells...),
		})
	}
	return grid, nil
}

func trimTrailingEmpty(values []string) []string {
	end := len(values)
	for end > 0 && values[end-1] == "" {
		end--
	}
	return values[:end]
}
