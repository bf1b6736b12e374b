package bypass

import "sort"

// kindRank orders match kinds from most to least specific.
func kindRank(k Kind) int {
	switch k {
	case MatchExact:
		return 0
	case MatchPattern:
		return 1
	case MatchPrefix:
		return 2
	default:
		return 3
	}
}

// SortBySpecificity sorts rules so that, among overlapping rules, the
// one that should win is evaluated first: exact before pattern before
// prefix, longer raw pattern before shorter within the same kind. The
// sort is stable, so equal-specificity rules keep their input order.
func SortBySpecificity(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		ri, rj := kindRank(rules[i].kind), kindRank(rules[j].kind)
		if ri != rj {
			return ri < rj
		}
		return len(rules[i].pattern) > len(rules[j].pattern)
	})
}

// RuleSet is a specificity-sorted collection of bypass rules,
// configured once at startup.
type RuleSet struct {
	rules []*Rule
}

// NewRuleSet builds a rule set, copying and sorting the given rules.
func NewRuleSet(rules []*Rule) *RuleSet {
	sorted := make([]*Rule, len(rules))
	copy(sorted, rules)
	SortBySpecificity(sorted)
	return &RuleSet{rules: sorted}
}

// Match returns the most specific rule matching the path, or nil when
// no rule matches.
func (s *RuleSet) Match(path string) *Rule {
	for _, rule := range s.rules {
		if rule.Matches(path) {
			return rule
		}
	}
	return nil
}

// Rules returns the rules in evaluation order.
func (s *RuleSet) Rules() []*Rule {
	return s.rules
}

// Len returns the number of rules in the set.
func (s *RuleSet) Len() int {
	return len(s.rules)
}
