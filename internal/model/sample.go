package model

import "math"

// Sample is an environment vector with one value per layer.
type Sample []float64

// NewSample returns a zero-valued sample of the given dimension.
func NewSample(dim int) Sample { return make(Sample, dim) }

// Filled returns a sample of the given dimension with every value set to v.
func Filled(dim int, v float64) Sample {
	s := make(Sample, dim)
	for i := range s {
		s[i] = v
	}
	return s
}

func (s Sample) Clone() Sample {
	if s == nil {
		return nil
	}
	return append(Sample(nil), s...)
}

// Equal reports whether both samples have the same length and every value
// differs by at most eps.
func (s Sample) Equal(o Sample, eps float64) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if math.Abs(s[i]-o[i]) > eps {
			return false
		}
	}
	return true
}
