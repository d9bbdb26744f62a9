package ui

import (
	"fmt"
	"io"
	"strings"
)

// WriteTable prints rows under headers in padded columns
func WriteTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeTableRow(w, headers, widths)
	seps := make([]string, len(widths))
	for i, width := range widths {
		seps[i] = strings.Repeat("-", width)
	}
	writeTableRow(w, seps, widths)
	for _, row := range rows {
		writeTableRow(w, row, widths)
	}
}

func writeTableRow(w io.Writer, row []string, widths []int) {
	cells := make([]string, 0, len(widths))
	for i := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		cells = append(cells, fmt.Sprintf("%-*s", widths[i], cell))
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
}
