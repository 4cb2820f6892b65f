package rules

import (
	"errors"
	"fmt"

	"nichegarp/internal/model"
)

var (
	// ErrUnknownRuleType is returned when a serialized rule carries a type
	// tag that maps to no rule kind.
	ErrUnknownRuleType = errors.New("unknown rule type")
	// ErrEvaluationMismatch reports inconsistent counters during evaluation.
	ErrEvaluationMismatch = errors.New("rule evaluation counters disagree")
)

// Kind discriminates the rule variants. Its byte value is the serialized
// type tag.
type Kind byte

const (
	Range        Kind = 'd'
	NegatedRange Kind = '!'
	Logit        Kind = 'r'
)

func (k Kind) String() string {
	switch k {
	case Range:
		return "range"
	case NegatedRange:
		return "negated_range"
	case Logit:
		return "logit"
	default:
		return fmt.Sprintf("kind(%q)", byte(k))
	}
}

// Tag returns the one-character serialized form of the kind.
func (k Kind) Tag() string {
	return string([]byte{byte(k)})
}

// ParseKind maps a serialized type tag to a rule kind.
func ParseKind(tag string) (Kind, error) {
	if len(tag) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRuleType, tag)
	}
	switch k := Kind(tag[0]); k {
	case Range, NegatedRange, Logit:
		return k, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRuleType, tag)
	}
}

// Kinds lists every rule kind in colonization order.
var Kinds = []Kind{Range, NegatedRange, Logit}

// Origin records how a rule came to be.
type Origin int

const (
	OriginColonization Origin = iota
	OriginMutation
	OriginJoin
	OriginCrossover
)

func (o Origin) String() string {
	switch o {
	case OriginColonization:
		return "colonization"
	case OriginMutation:
		return "mutation"
	case OriginJoin:
		return "join"
	case OriginCrossover:
		return "crossover"
	default:
		return "unknown"
	}
}

// PerfIndex selects one entry of a rule's performance array.
type PerfIndex int

const (
	PerfUtility PerfIndex = iota
	PerfPriorStrength
	PerfPriorProb
	PerfPriorDist
	PerfPostStrength
	PerfPostProb
	PerfPostDist
	PerfCoverage
	PerfSignificance
	PerfError
)

// NumPerformance is the length of the performance array.
const NumPerformance = 10

// Rule is one GARP chromosome. Genes live in [-1, +1]; a (-1, +1) gene pair
// disables the layer.
type Rule struct {
	kind            Kind
	prediction      float64
	chrom1          model.Sample
	chrom2          model.Sample
	performance     [NumPerformance]float64
	needsEvaluation bool
	origin          Origin
}

// New returns a rule whose genes are all wildcards.
func New(kind Kind, prediction float64, layers int) *Rule {
	return &Rule{
		kind:            kind,
		prediction:      prediction,
		chrom1:          model.Filled(layers, -1),
		chrom2:          model.Filled(layers, +1),
		needsEvaluation: true,
		origin:          OriginColonization,
	}
}

// Restore rebuilds an evaluated rule from its serialized parts.
func Restore(kind Kind, prediction float64, chrom1, chrom2, performance []float64) (*Rule, error) {
	switch kind {
	case Range, NegatedRange, Logit:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleType, byte(kind))
	}
	if len(chrom1) != len(chrom2) {
		return nil, fmt.Errorf("chromosome length mismatch: %d != %d", len(chrom1), len(chrom2))
	}
	if len(performance) > NumPerformance {
		return nil, fmt.Errorf("performance has %d values, want at most %d", len(performance), NumPerformance)
	}
	r := &Rule{
		kind:       kind,
		prediction: prediction,
		chrom1:     model.Sample(chrom1).Clone(),
		chrom2:     model.Sample(chrom2).Clone(),
		origin:     OriginColonization,
	}
	copy(r.performance[:], performance)
	return r, nil
}

// FromRecord restores a rule from its persisted form.
func FromRecord(rec model.RuleRecord) (*Rule, error) {
	kind, err := ParseKind(rec.Type)
	if err != nil {
		return nil, err
	}
	return Restore(kind, rec.Prediction, rec.Chromosome1, rec.Chromosome2, rec.Performance)
}

// Record returns the persisted form of the rule.
func (r *Rule) Record() model.RuleRecord {
	return model.RuleRecord{
		Type:        r.kind.Tag(),
		Prediction:  r.prediction,
		Chromosome1: r.chrom1.Clone(),
		Chromosome2: r.chrom2.Clone(),
		Performance: append([]float64(nil), r.performance[:]...),
	}
}

func (r *Rule) Clone() *Rule {
	out := *r
	out.chrom1 = r.chrom1.Clone()
	out.chrom2 = r.chrom2.Clone()
	return &out
}

func (r *Rule) Kind() Kind { return r.kind }
func (r *Rule) Prediction() float64 { return r.prediction }
func (r *Rule) Layers() int { return len(r.chrom1) }
func (r *Rule) Origin() Origin { return r.origin }
func (r *Rule) NeedsEvaluation() bool { return r.needsEvaluation }

// Chrom1 returns a copy of the lower gene vector.
func (r *Rule) Chrom1() model.Sample { return r.chrom1.Clone() }

// Chrom2 returns a copy of the upper gene vector.
func (r *Rule) Chrom2() model.Sample { return r.chrom2.Clone() }

func (r *Rule) Performance(idx PerfIndex) float64 {
	return r.performance[idx]
}

func (r *Rule) Performances() [NumPerformance]float64 {
	return r.performance
}

// ForceEvaluation marks the cached performance as stale.
func (r *Rule) ForceEvaluation() {
	r.needsEvaluation = true
}

// SetGene overwrites one layer's gene pair, clamping it into [-1, +1].
func (r *Rule) SetGene(layer int, lo, hi float64) {
	lo, hi = adjustRange(lo, hi)
	r.chrom1[layer] = lo
	r.chrom2[layer] = hi
	r.needsEvaluation = true
}

// Applies reports whether the rule's precondition holds for the sample.
func (r *Rule) Applies(sample model.Sample) bool {
	switch r.kind {
	case Range:
		return r.rangeApplies(sample)
	case NegatedRange:
		return !r.rangeApplies(sample)
	case Logit:
		return r.logitStrength(sample) == 1
	default:
		return false
	}
}

// Strength is the 0/1 firing indicator used while scoring.
func (r *Rule) Strength(sample model.Sample) int {
	switch r.kind {
	case Range:
		return r.rangeStrength(sample)
	case NegatedRange:
		return 1 - r.rangeStrength(sample)
	case Logit:
		return r.logitStrength(sample)
	default:
		return 0
	}
}

func adjustRange(v1, v2 float64) (float64, float64) {
	v1 = clamp(v1)
	v2 = clamp(v2)
	if v1 > v2 {
		v1, v2 = v2, v1
	}
	return v1, v2
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
