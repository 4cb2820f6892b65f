package sampler

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"nichegarp/internal/model"
)

// ReadOccurrencesCSV parses occurrences from CSV with a header row. Columns
// named id, x, y and abundance are recognized case-insensitively; every
// other column is an environment layer in header order. When there is no
// abundance column each row gets defaultAbundance.
func ReadOccurrencesCSV(in io.Reader, defaultAbundance float64) ([]model.Occurrence, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read occurrence csv header: %w", err)
	}

	cols := columnLayout(header)
	out := make([]model.Occurrence, 0, 256)
	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read occurrence csv row %d: %w", rowIndex, err)
		}
		if blankRecord(record) {
			continue
		}
		occ, err := cols.occurrence(record, rowIndex, defaultAbundance)
		if err != nil {
			return nil, err
		}
		out = append(out, occ)
		rowIndex++
	}
	return out, nil
}

// LoadOccurrencesCSV reads an occurrence file from disk.
func LoadOccurrencesCSV(path string, defaultAbundance float64) ([]model.Occurrence, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("occurrence file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	occs, err := ReadOccurrencesCSV(f, defaultAbundance)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return occs, nil
}

// LoadMemory builds a sampler from presence, absence and background files.
// Empty paths are skipped.
func LoadMemory(presencePath, absencePath, backgroundPath string) (*Memory, error) {
	presences, err := LoadOccurrencesCSV(presencePath, 1)
	if err != nil {
		return nil, fmt.Errorf("load presences: %w", err)
	}
	var absences, background []model.Occurrence
	if strings.TrimSpace(absencePath) != "" {
		if absences, err = LoadOccurrencesCSV(absencePath, 0); err != nil {
			return nil, fmt.Errorf("load absences: %w", err)
		}
	}
	if strings.TrimSpace(backgroundPath) != "" {
		if background, err = LoadOccurrencesCSV(backgroundPath, 0); err != nil {
			return nil, fmt.Errorf("load background: %w", err)
		}
	}
	return NewMemory(presences, absences, background)
}

type layout struct {
	id, x, y, abundance int
	layers              []int
}

func columnLayout(header []string) layout {
	cols := layout{id: -1, x: -1, y: -1, abundance: -1}
	for i, raw := range header {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "id":
			cols.id = i
		case "x", "lon", "longitude":
			cols.x = i
		case "y", "lat", "latitude":
			cols.y = i
		case "abundance":
			cols.abundance = i
		default:
			cols.layers = append(cols.layers, i)
		}
	}
	return cols
}

func (l layout) occurrence(record []string, index int, defaultAbundance float64) (model.Occurrence, error) {
	occ := model.Occurrence{
		ID:        strconv.Itoa(index),
		Abundance: defaultAbundance,
		Env:       model.NewSample(len(l.layers)),
	}
	field := func(col int) (float64, error) {
		if col >= len(record) {
			return 0, fmt.Errorf("parse occurrence row %d: missing column %d", index, col)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
		if err != nil {
			return 0, fmt.Errorf("parse occurrence row %d column %d: %w", index, col, err)
		}
		return v, nil
	}

	var err error
	if l.id >= 0 && l.id < len(record) {
		occ.ID = strings.TrimSpace(record[l.id])
	}
	if l.x >= 0 {
		if occ.X, err = field(l.x); err != nil {
			return model.Occurrence{}, err
		}
	}
	if l.y >= 0 {
		if occ.Y, err = field(l.y); err != nil {
			return model.Occurrence{}, err
		}
	}
	if l.abundance >= 0 {
		if occ.Abundance, err = field(l.abundance); err != nil {
			return model.Occurrence{}, err
		}
	}
	for i, col := range l.layers {
		if occ.Env[i], err = field(col); err != nil {
			return model.Occurrence{}, err
		}
	}
	return occ, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
