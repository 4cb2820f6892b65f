// Package dataextract prepares occurrence tables for training: it splits a
// combined table into presence and absence files, summarizes environment
// layers and generates synthetic data sets.
package dataextract

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type SplitOptions struct {
	ClassColumnName  string
	IDColumnName     string
	XColumnName      string
	YColumnName      string
	LayerColumnNames []string
}

type SplitSummary struct {
	Presences int      `json:"presences"`
	Absences  int      `json:"absences"`
	Layers    []string `json:"layers"`
}

// SplitOccurrencesCSV reads a table with a class column and writes presence
// rows to presenceOut and absence rows to absenceOut. Both outputs use the
// id,x,y,abundance,<layers> layout understood by the sampler. When no layer
// columns are named every unrecognized column is a layer.
func SplitOccurrencesCSV(in io.Reader, presenceOut, absenceOut io.Writer, opts SplitOptions) (SplitSummary, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return SplitSummary{}, fmt.Errorf("occurrence table is empty")
	}
	if err != nil {
		return SplitSummary{}, fmt.Errorf("read occurrence table header: %w", err)
	}

	cols, err := resolveColumns(header, opts)
	if err != nil {
		return SplitSummary{}, err
	}
	summary := SplitSummary{Layers: make([]string, len(cols.layers))}
	for i, idx := range cols.layers {
		summary.Layers[i] = strings.TrimSpace(header[idx])
	}

	outHeader := append([]string{"id", "x", "y", "abundance"}, summary.Layers...)
	presences := csv.NewWriter(presenceOut)
	absences := csv.NewWriter(absenceOut)
	for _, w := range []*csv.Writer{presences, absences} {
		if err := w.Write(outHeader); err != nil {
			return SplitSummary{}, fmt.Errorf("write occurrence header: %w", err)
		}
	}

	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return SplitSummary{}, fmt.Errorf("read occurrence table row %d: %w", row, err)
		}
		row++
		if blankRecord(record) {
			continue
		}

		abundance, err := parseClassField(record, cols.class, row)
		if err != nil {
			return SplitSummary{}, err
		}
		out := make([]string, 0, len(outHeader))
		out = append(out,
			optionalField(record, cols.id, strconv.Itoa(row-1)),
			optionalField(record, cols.x, "0"),
			optionalField(record, cols.y, "0"),
			strconv.FormatFloat(abundance, 'f', -1, 64),
		)
		for _, idx := range cols.layers {
			value, err := parseFloatField(record, idx, row, header[idx])
			if err != nil {
				return SplitSummary{}, err
			}
			out = append(out, strconv.FormatFloat(value, 'f', -1, 64))
		}

		target := absences
		if abundance > 0 {
			target = presences
			summary.Presences++
		} else {
			summary.Absences++
		}
		if err := target.Write(out); err != nil {
			return SplitSummary{}, fmt.Errorf("write occurrence row %d: %w", row, err)
		}
	}

	for _, w := range []*csv.Writer{presences, absences} {
		w.Flush()
		if err := w.Error(); err != nil {
			return SplitSummary{}, fmt.Errorf("flush occurrence csv: %w", err)
		}
	}
	return summary, nil
}

type columns struct {
	class, id, x, y int
	layers          []int
}

func resolveColumns(header []string, opts SplitOptions) (columns, error) {
	cols := columns{id: -1, x: -1, y: -1}
	var err error
	if cols.class, err = columnIndexByName(header, withDefault(opts.ClassColumnName, "class")); err != nil {
		return columns{}, err
	}
	cols.id = optionalColumn(header, withDefault(opts.IDColumnName, "id"))
	cols.x = optionalColumn(header, withDefault(opts.XColumnName, "x"))
	cols.y = optionalColumn(header, withDefault(opts.YColumnName, "y"))

	if len(opts.LayerColumnNames) > 0 {
		for _, name := range opts.LayerColumnNames {
			idx, err := columnIndexByName(header, name)
			if err != nil {
				return columns{}, err
			}
			cols.layers = append(cols.layers, idx)
		}
		return cols, nil
	}
	for idx := range header {
		if idx == cols.class || idx == cols.id || idx == cols.x || idx == cols.y {
			continue
		}
		cols.layers = append(cols.layers, idx)
	}
	if len(cols.layers) == 0 {
		return columns{}, fmt.Errorf("occurrence table has no layer columns")
	}
	return cols, nil
}

// parseClassField accepts boolean words or a number. Positive numbers are
// kept as abundance.
func parseClassField(record []string, idx, row int) (float64, error) {
	if idx < 0 || idx >= len(record) {
		return 0, fmt.Errorf("occurrence row %d missing class column index %d", row, idx)
	}
	raw := strings.ToLower(strings.TrimSpace(record[idx]))
	switch raw {
	case "0", "false", "f", "absent", "absence", "n", "no":
		return 0, nil
	case "1", "true", "t", "present", "presence", "y", "yes":
		return 1, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse occurrence class row %d: %w", row, err)
	}
	if value > 0 {
		return value, nil
	}
	return 0, nil
}

func parseFloatField(record []string, idx, row int, field string) (float64, error) {
	if idx < 0 || idx >= len(record) {
		return 0, fmt.Errorf("occurrence row %d missing %s column index %d", row, field, idx)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
	if err != nil {
		return 0, fmt.Errorf("parse occurrence %s row %d: %w", field, row, err)
	}
	return value, nil
}

func optionalField(record []string, idx int, fallback string) string {
	if idx < 0 || idx >= len(record) || strings.TrimSpace(record[idx]) == "" {
		return fallback
	}
	return strings.TrimSpace(record[idx])
}

func optionalColumn(header []string, name string) int {
	idx, err := columnIndexByName(header, name)
	if err != nil {
		return -1
	}
	return idx
}

func columnIndexByName(header []string, name string) (int, error) {
	want := strings.TrimSpace(strings.ToLower(name))
	for i, field := range header {
		if strings.ToLower(strings.TrimSpace(field)) == want {
			return i, nil
		}
	}
	return -1, fmt.Errorf("csv column not found: %s", name)
}

func withDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
