// Package tabular reads and writes import batches as CSV with the fixed
// column set the bulk engine consumes.
package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nexgensis/go-forms/pkg/bulk"
)

// Header is the required first line of every file, in column order.
var Header = []string{
	"form_type_code",
	"section_name",
	"section_order",
	"field_label",
	"field_name",
	"field_type_name",
	"data_type_name",
	"required",
	"field_order",
	"parent_field_name",
	"validation_rules",
}

// Read decodes rows from CSV. The header line is mandatory and must match
// Header exactly; cell-level content problems are left to the bulk engine.
func Read(r io.Reader) ([]bulk.Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("tabular: read header: %w", err)
	}
	if len(header) != len(Header) {
		return nil, fmt.Errorf("tabular: expected %d columns, got %d", len(Header), len(header))
	}
	for i, want := range Header {
		if strings.TrimSpace(header[i]) != want {
			return nil, fmt.Errorf("tabular: column %d must be %q, got %q", i+1, want, header[i])
		}
	}

	var rows []bulk.Row
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tabular: line %d: %w", line, err)
		}
		row, err := decodeRecord(record)
		if err != nil {
			return nil, fmt.Errorf("tabular: line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeRecord(record []string) (bulk.Row, error) {
	sectionOrder, err := strconv.Atoi(strings.TrimSpace(record[2]))
	if err != nil {
		return bulk.Row{}, fmt.Errorf("bad section_order %q", record[2])
	}
	required, err := parseBool(record[7])
	if err != nil {
		return bulk.Row{}, err
	}
	fieldOrder, err := strconv.Atoi(strings.TrimSpace(record[8]))
	if err != nil {
		return bulk.Row{}, fmt.Errorf("bad field_order %q", record[8])
	}
	return bulk.Row{
		FormTypeCode:    record[0],
		SectionName:     record[1],
		SectionOrder:    sectionOrder,
		FieldLabel:      record[3],
		FieldName:       record[4],
		FieldTypeName:   record[5],
		DataTypeName:    record[6],
		Required:        required,
		FieldOrder:      fieldOrder,
		ParentFieldName: record[9],
		ValidationRules: record[10],
	}, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("bad required %q", s)
}

// Write encodes rows as CSV, header first.
func Write(w io.Writer, rows []bulk.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("tabular: write header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.FormTypeCode,
			row.SectionName,
			strconv.Itoa(row.SectionOrder),
			row.FieldLabel,
			row.FieldName,
			row.FieldTypeName,
			row.DataTypeName,
			strconv.FormatBool(row.Required),
			strconv.Itoa(row.FieldOrder),
			row.ParentFieldName,
			row.ValidationRules,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("tabular: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
