package envstats

import (
	"fmt"
	"math/rand"

	"nichegarp/internal/model"
)

// Bins is the number of histogram bins per layer.
const Bins = 256

// Histogram counts cached occurrences per class, layer and value bin. It is
// built once per run and read only afterwards.
type Histogram struct {
	layers int
	depend [2]int
	matrix [2][][Bins]int
}

// NewHistogram bins every occurrence of the cache. All occurrences must share
// the layer count of the first one.
func NewHistogram(cache []model.Occurrence) (*Histogram, error) {
	if len(cache) == 0 {
		return nil, fmt.Errorf("histogram requires at least one occurrence")
	}
	layers := len(cache[0].Env)
	h := &Histogram{layers: layers}
	for class := range h.matrix {
		h.matrix[class] = make([][Bins]int, layers)
	}
	for i, occ := range cache {
		if len(occ.Env) != layers {
			return nil, fmt.Errorf("occurrence %d has %d layers, want %d", i, len(occ.Env), layers)
		}
		class := int(occ.Class())
		h.depend[class]++
		for layer, v := range occ.Env {
			h.matrix[class][layer][binOf(v)]++
		}
	}
	return h, nil
}

func binOf(v float64) int {
	bin := int((v+1.0)/2.0*253.0) + 1
	if bin < 0 {
		return 0
	}
	if bin > Bins-1 {
		return Bins - 1
	}
	return bin
}

func (h *Histogram) Layers() int {
	return h.layers
}

// Count returns the number of cached occurrences of the class.
func (h *Histogram) Count(prediction float64) int {
	return h.depend[classIndex(prediction)]
}

// BinCount returns the count of one class, layer and bin.
func (h *Histogram) BinCount(prediction float64, layer, bin int) int {
	return h.matrix[classIndex(prediction)][layer][bin]
}

// BioclimRange returns an envelope for the layer that excludes a random
// fraction, up to ten percent, of the class samples at each tail.
func (h *Histogram) BioclimRange(rng *rand.Rand, prediction float64, layer int) (float64, float64) {
	class := classIndex(prediction)
	level := rng.Float64() * 0.1
	excluded := int(float64(h.depend[class]) * level)
	bins := &h.matrix[class][layer]

	lower, upper := 0, Bins-1
	sum := 0
	for n := 0; n < Bins; n++ {
		sum += bins[n]
		if sum > excluded {
			lower = n
			break
		}
	}
	sum = 0
	for n := Bins - 1; n >= 0; n-- {
		sum += bins[n]
		if sum > excluded {
			upper = n
			break
		}
	}
	return float64(lower)/255.0*2 - 1.0, float64(upper)/255.0*2 - 1.0
}

func classIndex(prediction float64) int {
	if prediction == 1.0 {
		return 1
	}
	return 0
}
