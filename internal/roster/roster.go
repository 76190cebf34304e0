// Package roster reads student lists from spreadsheet (.xlsx) or CSV uploads.
package roster

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/stemsi/exam-engine/internal/model"
)

var (
	ErrUnsupportedFormat = errors.New("roster: unsupported file format, expected .xlsx or .csv")
	ErrEmptyRoster       = errors.New("roster: file has no data rows")
	ErrMissingColumn     = errors.New("roster: no identifier column (email, student_id, id)")
)

// identifierColumns are tried in order; the first present header wins.
var identifierColumns = []string{"email", "student_id", "id", "identifier", "student"}

// Table is a header-indexed sheet.
type Table struct {
	columns map[string]int
	rows    [][]string
}

// Read parses r according to the extension of name.
func Read(name string, r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var rows [][]string
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		rows, err = xlsxRows(data)
	case ".csv":
		rows, err = csvRows(data)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, ErrEmptyRoster
	}

	columns := make(map[string]int, len(rows[0]))
	for i, col := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(col))
		if _, dup := columns[key]; !dup && key != "" {
			columns[key] = i
		}
	}
	return &Table{columns: columns, rows: rows[1:]}, nil
}

func xlsxRows(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyRoster
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func csvRows(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rows, nil
}

func (t *Table) value(row []string, col string) string {
	if idx, ok := t.columns[col]; ok && idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}

// Identifiers returns the non-blank identifiers of the first recognised
// identifier column, in file order.
func (t *Table) Identifiers() ([]string, error) {
	col := ""
	for _, c := range identifierColumns {
		if _, ok := t.columns[c]; ok {
			col = c
			break
		}
	}
	if col == "" {
		return nil, ErrMissingColumn
	}

	out := make([]string, 0, len(t.rows))
	for _, row := range t.rows {
		if v := t.value(row, col); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyRoster
	}
	return out, nil
}

// Students returns directory entries from id, name and email columns. Rows
// without an id are skipped.
func (t *Table) Students() ([]model.Student, error) {
	idCol := "student_id"
	if _, ok := t.columns[idCol]; !ok {
		idCol = "id"
	}
	if _, ok := t.columns[idCol]; !ok {
		return nil, ErrMissingColumn
	}

	out := make([]model.Student, 0, len(t.rows))
	for _, row := range t.rows {
		id := t.value(row, idCol)
		if id == "" {
			continue
		}
		out = append(out, model.Student{
			ID:    id,
			Name:  t.value(row, "name"),
			Email: strings.ToLower(t.value(row, "email")),
		})
	}
	if len(out) == 0 {
		return nil, ErrEmptyRoster
	}
	return out, nil
}
