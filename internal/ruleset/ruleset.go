package ruleset

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"nichegarp/internal/model"
	"nichegarp/internal/rules"
)

// ErrFull is returned by callers that treat a failed Add as fatal.
var ErrFull = errors.New("target rule set is full")

// EvictFunc observes every rule a set drops. It is called exactly once per
// dropped rule, after the rule has left the set.
type EvictFunc func(*rules.Rule)

// RuleSet is a capacity-bounded collection of rules, ordered by a caller
// chosen performance index whenever rules enter through Insert. The set
// owns the rules it holds; callers hand over clones.
type RuleSet struct {
	rules    []*rules.Rule
	capacity int
	onEvict  EvictFunc
}

func New(capacity int) *RuleSet {
	if capacity < 0 {
		capacity = 0
	}
	return &RuleSet{
		rules:    make([]*rules.Rule, 0, capacity),
		capacity: capacity,
	}
}

// OnEvict installs the hook invoked for every dropped rule.
func (s *RuleSet) OnEvict(fn EvictFunc) {
	s.onEvict = fn
}

func (s *RuleSet) Len() int {
	return len(s.rules)
}

func (s *RuleSet) Cap() int {
	return s.capacity
}

// Get returns the rule at i or nil when i is out of range.
func (s *RuleSet) Get(i int) *rules.Rule {
	if i < 0 || i >= len(s.rules) {
		return nil
	}
	return s.rules[i]
}

// Rules returns a snapshot of the current order. The rules themselves stay
// owned by the set.
func (s *RuleSet) Rules() []*rules.Rule {
	return append([]*rules.Rule(nil), s.rules...)
}

// Insert places rule before the first member that scores lower on idx and
// returns the insertion index. Insert does not enforce the capacity.
func (s *RuleSet) Insert(idx rules.PerfIndex, rule *rules.Rule) int {
	perf := rule.Performance(idx)
	pos := len(s.rules)
	for i, existing := range s.rules {
		if perf > existing.Performance(idx) {
			pos = i
			break
		}
	}
	s.rules = append(s.rules, nil)
	copy(s.rules[pos+1:], s.rules[pos:])
	s.rules[pos] = rule
	return pos
}

// Add appends rule without sorting. It returns the new count, or 0 when the
// set is already at capacity.
func (s *RuleSet) Add(rule *rules.Rule) int {
	if len(s.rules) >= s.capacity {
		return 0
	}
	s.rules = append(s.rules, rule)
	return len(s.rules)
}

func (s *RuleSet) Remove(i int) bool {
	if i < 0 || i >= len(s.rules) {
		return false
	}
	dropped := s.rules[i]
	copy(s.rules[i:], s.rules[i+1:])
	s.rules[len(s.rules)-1] = nil
	s.rules = s.rules[:len(s.rules)-1]
	s.evict(dropped)
	return true
}

// Replace swaps the rule at i for rule and evicts the previous holder.
func (s *RuleSet) Replace(i int, rule *rules.Rule) bool {
	if i < 0 || i >= len(s.rules) || rule == nil {
		return false
	}
	dropped := s.rules[i]
	s.rules[i] = rule
	if dropped != rule {
		s.evict(dropped)
	}
	return true
}

func (s *RuleSet) Clear() {
	s.Trim(0)
}

// Trim drops every rule beyond the first n.
func (s *RuleSet) Trim(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(s.rules) {
		return
	}
	dropped := s.rules[n:]
	s.rules = s.rules[:n]
	for i, rule := range dropped {
		dropped[i] = nil
		s.evict(rule)
	}
}

// Filter drops every rule scoring below threshold on idx, preserving the
// order of the survivors.
func (s *RuleSet) Filter(idx rules.PerfIndex, threshold float64) {
	kept := s.rules[:0]
	var dropped []*rules.Rule
	for _, rule := range s.rules {
		if rule.Performance(idx) < threshold {
			dropped = append(dropped, rule)
			continue
		}
		kept = append(kept, rule)
	}
	for i := len(kept); i < len(s.rules); i++ {
		s.rules[i] = nil
	}
	s.rules = kept
	for _, rule := range dropped {
		s.evict(rule)
	}
}

// FindSimilar returns the index of the first member similar to rule, or -1.
func (s *RuleSet) FindSimilar(rule *rules.Rule) int {
	for i, existing := range s.rules {
		if existing.Similar(rule) {
			return i
		}
	}
	return -1
}

// PerformanceSummary returns the best, worst and mean score on idx. An
// empty set yields zeros.
func (s *RuleSet) PerformanceSummary(idx rules.PerfIndex) (best, worst, avg float64) {
	if len(s.rules) == 0 {
		return 0, 0, 0
	}
	perf := s.performances(idx)
	return floats.Max(perf), floats.Min(perf), stat.Mean(perf, nil)
}

// Value returns the prediction of the first rule that applies to sample,
// or 0 when none does.
func (s *RuleSet) Value(sample model.Sample) float64 {
	for _, rule := range s.rules {
		if rule.Applies(sample) {
			return rule.Prediction()
		}
	}
	return 0
}

// KindStats summarizes the members of each rule kind on idx.
func (s *RuleSet) KindStats(idx rules.PerfIndex) []model.KindStats {
	out := make([]model.KindStats, 0, len(rules.Kinds))
	for _, kind := range rules.Kinds {
		ks := model.KindStats{Kind: kind.Tag()}
		var perf []float64
		for _, rule := range s.rules {
			if rule.Kind() != kind {
				continue
			}
			ks.Count++
			perf = append(perf, rule.Performance(idx))
			if rule.Prediction() > 0 {
				ks.Presences++
			}
		}
		if len(perf) > 0 {
			ks.Max = floats.Max(perf)
			ks.Mean = stat.Mean(perf, nil)
		}
		out = append(out, ks)
	}
	return out
}

// Records returns the persisted form of every rule in order.
func (s *RuleSet) Records() []model.RuleRecord {
	out := make([]model.RuleRecord, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule.Record())
	}
	return out
}

func (s *RuleSet) performances(idx rules.PerfIndex) []float64 {
	perf := make([]float64, len(s.rules))
	for i, rule := range s.rules {
		perf[i] = rule.Performance(idx)
	}
	return perf
}

func (s *RuleSet) evict(rule *rules.Rule) {
	if s.onEvict != nil && rule != nil {
		s.onEvict(rule)
	}
}
