package bus

import "regexp"

// Filter is a predicate over events. Primitive filters match a single
// dimension of an event; composite filters combine them with AND/OR.
type Filter interface {
	Match(ev Event) bool
}

// FilterFunc adapts a plain function to the Filter interface.
type FilterFunc func(ev Event) bool

func (f FilterFunc) Match(ev Event) bool { return f(ev) }

// NameFilter matches events with an exact Name.
type NameFilter struct{ Name string }

func (f NameFilter) Match(ev Event) bool { return ev.Name == f.Name }

// NamePatternFilter matches events whose Name satisfies a regular expression.
type NamePatternFilter struct{ Pattern *regexp.Regexp }

// NewNamePatternFilter compiles pattern and returns a NamePatternFilter, or
// an error if the pattern is invalid.
func NewNamePatternFilter(pattern string) (NamePatternFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return NamePatternFilter{}, err
	}
	return NamePatternFilter{Pattern: re}, nil
}

func (f NamePatternFilter) Match(ev Event) bool { return f.Pattern.MatchString(ev.Name) }

// KindFilter matches events of one of the given kinds.
type KindFilter struct{ Kinds []Kind }

func (f KindFilter) Match(ev Event) bool {
	for _, k := range f.Kinds {
		if ev.Kind == k {
			return true
		}
	}
	return false
}

// SourceFilter matches events published by one of the given source ids.
type SourceFilter struct{ Sources []string }

func (f SourceFilter) Match(ev Event) bool {
	for _, s := range f.Sources {
		if ev.Source == s {
			return true
		}
	}
	return false
}

// TargetFilter matches events addressed to one of the given target ids.
type TargetFilter struct{ Targets []string }

func (f TargetFilter) Match(ev Event) bool {
	for _, t := range f.Targets {
		if ev.Target == t {
			return true
		}
	}
	return false
}

// PriorityAtLeastFilter matches events whose priority is at or above a threshold.
type PriorityAtLeastFilter struct{ Threshold Priority }

func (f PriorityAtLeastFilter) Match(ev Event) bool { return ev.Priority >= f.Threshold }

// AndFilter matches when every child filter matches.
type AndFilter struct{ Filters []Filter }

func (f AndFilter) Match(ev Event) bool {
	for _, child := range f.Filters {
		if !child.Match(ev) {
			return false
		}
	}
	return true
}

// OrFilter matches when any child filter matches. An empty OrFilter matches
// nothing.
type OrFilter struct{ Filters []Filter }

func (f OrFilter) Match(ev Event) bool {
	for _, child := range f.Filters {
		if child.Match(ev) {
			return true
		}
	}
	return false
}

// And composes filters with AND semantics.
func And(filters ...Filter) Filter { return AndFilter{Filters: filters} }

// Or composes filters with OR semantics.
func Or(filters ...Filter) Filter { return OrFilter{Filters: filters} }

// MatchAll is a Filter that accepts every event; useful for firehose subscriptions.
var MatchAll Filter = FilterFunc(func(Event) bool { return true })
