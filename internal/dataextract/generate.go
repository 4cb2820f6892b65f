package dataextract

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"nichegarp/internal/model"
)

const (
	PresenceFile   = "presence.csv"
	AbsenceFile    = "absence.csv"
	BackgroundFile = "background.csv"
)

// SyntheticOptions describe a species whose niche is the upper part of
// every layer's [0, 100] range.
type SyntheticOptions struct {
	Seed       int64
	Layers     int
	Presences  int
	Absences   int
	Background int
}

func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{Seed: 1, Layers: 2, Presences: 100, Absences: 100, Background: 200}
}

type SyntheticData struct {
	Presences  []model.Occurrence
	Absences   []model.Occurrence
	Background []model.Occurrence
}

// GenerateSynthetic draws presences inside [60, 90] on every layer,
// absences inside [0, 50] and background points over the full range.
func GenerateSynthetic(opts SyntheticOptions) (SyntheticData, error) {
	if opts.Layers <= 0 {
		return SyntheticData{}, fmt.Errorf("layers must be > 0")
	}
	if opts.Presences <= 0 {
		return SyntheticData{}, fmt.Errorf("presences must be > 0")
	}
	if opts.Absences < 0 || opts.Background < 0 {
		return SyntheticData{}, fmt.Errorf("absences and background must be >= 0")
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	return SyntheticData{
		Presences:  randomOccurrences(rng, "p", opts.Presences, opts.Layers, 1, 60, 90),
		Absences:   randomOccurrences(rng, "a", opts.Absences, opts.Layers, 0, 0, 50),
		Background: randomOccurrences(rng, "b", opts.Background, opts.Layers, 0, 0, 100),
	}, nil
}

// WriteSyntheticFiles generates a data set and writes presence.csv,
// absence.csv and background.csv into dir. Empty groups are skipped.
func WriteSyntheticFiles(dir string, opts SyntheticOptions) ([]string, error) {
	data, err := GenerateSynthetic(opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	written := make([]string, 0, 3)
	for _, group := range []struct {
		name string
		occs []model.Occurrence
	}{
		{PresenceFile, data.Presences},
		{AbsenceFile, data.Absences},
		{BackgroundFile, data.Background},
	} {
		if len(group.occs) == 0 {
			continue
		}
		path := filepath.Join(dir, group.name)
		if err := writeOccurrencesFile(path, group.occs, opts.Layers); err != nil {
			return nil, err
		}
		written = append(written, path)
	}
	return written, nil
}

func randomOccurrences(rng *rand.Rand, prefix string, n, layers int, abundance, min, max float64) []model.Occurrence {
	out := make([]model.Occurrence, n)
	for i := range out {
		env := model.NewSample(layers)
		for j := range env {
			env[j] = min + rng.Float64()*(max-min)
		}
		out[i] = model.Occurrence{
			ID:        prefix + strconv.Itoa(i+1),
			X:         rng.Float64()*360 - 180,
			Y:         rng.Float64()*180 - 90,
			Abundance: abundance,
			Env:       env,
		}
	}
	return out
}

func writeOccurrencesFile(path string, occs []model.Occurrence, layers int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"id", "x", "y", "abundance"}
	for i := 0; i < layers; i++ {
		header = append(header, "layer"+strconv.Itoa(i))
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, occ := range occs {
		record := []string{
			occ.ID,
			strconv.FormatFloat(occ.X, 'f', 6, 64),
			strconv.FormatFloat(occ.Y, 'f', 6, 64),
			strconv.FormatFloat(occ.Abundance, 'f', -1, 64),
		}
		for _, v := range occ.Env {
			record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
