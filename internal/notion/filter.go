package notion

import "strings"

// Operator is a property filter condition.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
)

// Filter is a database filter expression tree: either a property condition
// or an "and"/"or" compound of sub-filters.
type Filter struct {
	Property string
	Type     PropertyType
	Operator Operator
	Value    string

	And []Filter
	Or  []Filter
}

// Equals builds an exact-match condition on a property.
func Equals(spec FieldSpec, value string) Filter {
	return Filter{Property: spec.Property, Type: spec.Type, Operator: OpEquals, Value: value}
}

// Contains builds a substring condition on a property.
func Contains(spec FieldSpec, value string) Filter {
	return Filter{Property: spec.Property, Type: spec.Type, Operator: OpContains, Value: value}
}

// And combines filters with logical AND. A single filter is returned as is.
func And(filters ...Filter) Filter {
	if len(filters) == 1 {
		return filters[0]
	}
	return Filter{And: filters}
}

// Or combines filters with logical OR. A single filter is returned as is.
func Or(filters ...Filter) Filter {
	if len(filters) == 1 {
		return filters[0]
	}
	return Filter{Or: filters}
}

// IsCompound reports whether the filter combines sub-filters.
func (f Filter) IsCompound() bool {
	return len(f.And) > 0 || len(f.Or) > 0
}

// Matches evaluates the filter against property name to plain text values.
// Equality is exact, contains is case-insensitive.
func (f Filter) Matches(values map[string]string) bool {
	if len(f.Or) > 0 {
		for _, sub := range f.Or {
			if sub.Matches(values) {
				return true
			}
		}
		return false
	}
	if len(f.And) > 0 {
		for _, sub := range f.And {
			if !sub.Matches(values) {
				return false
			}
		}
		return true
	}
	v := values[f.Property]
	switch f.Operator {
	case OpEquals:
		return v == f.Value
	case OpContains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(f.Value))
	default:
		return false
	}
}
