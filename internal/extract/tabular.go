package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/xuri/excelize/v2"
)

func extractCSV(_ context.Context, r io.Reader, enc Encoding) (string, error) {
	text, err := readText(r, enc)
	if err != nil {
		return "", err
	}

	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows, err := cr.ReadAll()
	if err != nil {
		return "", domain.NewExtractionIOError("failed to parse csv", err)
	}
	return renderTable(rows), nil
}

// extractWorkbook renders every sheet of an OOXML workbook in workbook order.
func extractWorkbook(ctx context.Context, r io.Reader, _ Encoding) (string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", domain.NewExtractionIOError("failed to open workbook", err)
	}
	defer f.Close()

	var sections []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", domain.NewExtractionIOError("extraction cancelled", err)
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", domain.NewExtractionIOError(fmt.Sprintf("failed to read sheet %q", sheet), err)
		}

		sections = append(sections, renderSheet(sheet, rows))
	}
	return strings.Join(sections, "\n\n"), nil
}

func renderSheet(name string, rows [][]string) string {
	table := renderTable(rows)
	if table == "" {
		return name
	}
	return name + "\n" + table
}

// renderTable treats the first row as headers and renders each following row
// as "header: value" lines. Rows are separated by a blank line and rows with
// no values are skipped. A table of a single row has no headers to pair with,
// so its cells render under positional column names.
func renderTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	headers, body := rows[0], rows[1:]
	if len(rows) == 1 {
		headers, body = nil, rows
	}

	var blocks []string
	for _, row := range body {
		var lines []string
		for i, value := range row {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			lines = append(lines, columnName(headers, i)+": "+value)
		}
		if len(lines) > 0 {
			blocks = append(blocks, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(blocks, "\n\n")
}

func columnName(headers []string, i int) string {
	if i < len(headers) {
		if h := strings.TrimSpace(headers[i]); h != "" {
			return h
		}
	}
	return fmt.Sprintf("column %d", i+1)
}
