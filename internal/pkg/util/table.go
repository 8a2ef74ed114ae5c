package util

import (
	"fmt"
	"io"
	"strings"

	"github.com/RichardKnop/minidb/internal/minidb"
)

const (
	truncatedStringEnd = " ..."
	intColumnWidth     = 20
	textColumnWidth    = 40
	rowIDHeader        = "rowid"
)

// TablePrinter renders rows as a fixed width ASCII table, text values are cut at the column width.
type TablePrinter struct {
	w          io.Writer
	headers    []string
	widths     []int
	tableWidth int
}

// NewTablePrinter lays out a leading row id column followed by the table's columns.
func NewTablePrinter(w io.Writer, columns []minidb.Column) *TablePrinter {
	p := &TablePrinter{
		w:       w,
		headers: []string{rowIDHeader},
		widths:  []int{intColumnWidth},
	}
	for _, aColumn := range columns {
		p.headers = append(p.headers, aColumn.Name)
		if aColumn.Type == minidb.ColumnTypeText {
			p.widths = append(p.widths, textColumnWidth)
		} else {
			p.widths = append(p.widths, intColumnWidth)
		}
	}

	// "| " and " |" borders plus " | " between cells
	p.tableWidth = 4 + (len(p.widths)-1)*3
	for _, width := range p.widths {
		p.tableWidth += width
	}

	return p
}

func (p *TablePrinter) Header() {
	p.border()
	p.cells(p.headers)
	p.border()
}

func (p *TablePrinter) Row(aRow minidb.Row) {
	cells := make([]string, 0, len(aRow.Values)+1)
	cells = append(cells, fmt.Sprint(aRow.ID))
	for _, aValue := range aRow.Values {
		cells = append(cells, aValue.String())
	}
	p.cells(cells)
}

func (p *TablePrinter) End() {
	p.border()
}

func (p *TablePrinter) border() {
	fmt.Fprintf(p.w, "+%s+\n", strings.Repeat("-", p.tableWidth-2))
}

func (p *TablePrinter) cells(cells []string) {
	for i, cell := range cells {
		fmt.Fprintf(p.w, "| %-*s ", p.widths[i], truncate(cell, p.widths[i]))
	}
	fmt.Fprintf(p.w, "|\n")
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-len(truncatedStringEnd)]) + truncatedStringEnd
}
