package matrix

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Content types recognised for matrix sources.
const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ParseWorkbook reads the first sheet of an .xlsx workbook using the same layout as Parse.
// Trailing empty cells, which the reader omits, count as blank prices.
func ParseWorkbook(r io.Reader) (Grid, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return Grid{}, malformed(0, "open workbook: %v", err)
	}
	defer func() { _ = book.Close() }()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return Grid{}, malformed(0, "workbook has no sheets")
	}
	values, err := book.GetRows(sheets[0])
	if err != nil {
		return Grid{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	rows := make([]sourceRow, 0, len(values))
	for i, fields := range values {
		if isBlankRow(fields) {
			continue
		}
		rows = append(rows, sourceRow{line: i + 1, fields: fields})
	}
	return parseRows(rows, true)
}

// ParseSource picks the parser from the content type or filename extension.
func ParseSource(contentType, filename string, contents []byte) (Grid, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	name := strings.ToLower(strings.TrimSpace(filename))
	if ct == ContentTypeXLSX || strings.HasSuffix(name, ".xlsx") {
		return ParseWorkbook(bytes.NewReader(contents))
	}
	return Parse(string(contents))
}

func isBlankRow(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
