package models

// MatchRule is a single condition on one field of the incoming request
type MatchRule struct {
	Field    string `json:"field" yaml:"field"`       // Dot path for body rules, name otherwise
	Operator string `json:"operator" yaml:"operator"` // equals, contains, startsWith, endsWith, regex
	Value    string `json:"value" yaml:"value"`
}

// MatchRules is the set of conditions attached to a response variant
type MatchRules struct {
	CombineWith     string      `json:"combineWith" yaml:"combineWith"`
	BodyRules       []MatchRule `json:"bodyRules" yaml:"bodyRules"`
	HeaderRules     []MatchRule `json:"headerRules" yaml:"headerRules"`
	QueryParamRules []MatchRule `json:"queryParamRules" yaml:"queryParamRules"`
	PathParamRules  []MatchRule `json:"pathParamRules" yaml:"pathParamRules"`
}

// Supported match rule operators
const (
	OpEquals     = "equals"
	OpContains   = "contains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
	OpRegex      = "regex"
)

// Supported combinators
const (
	CombineAnd = "AND"
	CombineOr  = "OR"
)

// ValidOperators returns all valid match rule operators
func ValidOperators() []string {
	return []string{OpEquals, OpContains, OpStartsWith, OpEndsWith, OpRegex}
}

// Count returns the total number of rules across all categories
func (m *MatchRules) Count() int {
	if m == nil {
		return 0
	}
	return len(m.BodyRules) + len(m.HeaderRules) + len(m.QueryParamRules) + len(m.PathParamRules)
}

// NormalizeMatchRules returns nil for an empty rule set. Otherwise it returns
// a copy with non-nil rule lists and a valid combinator (AND by default).
func NormalizeMatchRules(m *MatchRules) *MatchRules {
	if m.Count() == 0 {
		return nil
	}

	out := &MatchRules{
		CombineWith:     m.CombineWith,
		BodyRules:       append([]MatchRule{}, m.BodyRules...),
		HeaderRules:     append([]MatchRule{}, m.HeaderRules...),
		QueryParamRules: append([]MatchRule{}, m.QueryParamRules...),
		PathParamRules:  append([]MatchRule{}, m.PathParamRules...),
	}
	if out.CombineWith != CombineOr {
		out.CombineWith = CombineAnd
	}
	return out
}
