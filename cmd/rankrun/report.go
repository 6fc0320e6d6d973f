// This file formats results and maps errors to exit statuses.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"

	"github.com/lanl/rankcomm/comm"
)

// Exit statuses.
const (
	exitOK            = 0
	exitFailure       = 1
	exitUsage         = 2
	exitConfiguration = 3
	exitChannelClosed = 4
)

// exitCode maps an error returned by a subcommand to the process status.
func exitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue):
		return exitUsage
	}
	if _, ok := comm.IsConfigurationError(err); ok {
		return exitConfiguration
	}
	if comm.IsChannelClosed(err) {
		return exitChannelClosed
	}
	return exitFailure
}

// A table lines up rows of cells in columns.  The first column is
// left-justified and the rest are right-justified.
type table struct {
	header []string
	rows   [][]string
}

func newTable(header ...string) *table {
	return &table{header: header}
}

// add appends a row.  Each value is formatted with %v.
func (t *table) add(cells ...interface{}) {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = fmt.Sprint(c)
	}
	t.rows = append(t.rows, row)
}

// write outputs the table with a rule under the header.
func (t *table) write(w io.Writer) error {
	width := make([]int, len(t.header))
	for _, row := range append([][]string{t.header}, t.rows...) {
		for i, cell := range row {
			if i < len(width) {
				width[i] = max(width[i], runewidth.StringWidth(cell))
			}
		}
	}
	line := func(row []string) string {
		cells := make([]string, len(width))
		for i := range width {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			if i == 0 {
				cells[i] = runewidth.FillRight(cell, width[i])
			} else {
				cells[i] = runewidth.FillLeft(cell, width[i])
			}
		}
		return strings.TrimRight(strings.Join(cells, "  "), " ")
	}

	rule := make([]string, len(width))
	for i, n := range width {
		rule[i] = strings.Repeat("-", n)
	}
	var sb strings.Builder
	sb.WriteString(line(t.header) + "\n")
	sb.WriteString(strings.Join(rule, "  ") + "\n")
	for _, row := range t.rows {
		sb.WriteString(line(row) + "\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
