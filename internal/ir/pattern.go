package ir

import "strconv"

// Wildcard is the boundary token that user-facing surfaces (CLI flags,
// settings files) translate to Any. Nothing below the boundary inspects it.
const Wildcard = "%"

// Pattern is a filter on one field: either an exact value or Any.
//
// The zero value is Exact of the zero T; use Any[T]() for match-all.
type Pattern[T comparable] struct {
	value T
	any   bool
}

// Exact matches only v.
func Exact[T comparable](v T) Pattern[T] {
	return Pattern[T]{value: v}
}

// Any matches every value.
func Any[T comparable]() Pattern[T] {
	return Pattern[T]{any: true}
}

// IsAny reports whether the pattern matches every value.
func (p Pattern[T]) IsAny() bool { return p.any }

// Value returns the exact value. It is meaningless when IsAny is true.
func (p Pattern[T]) Value() T { return p.value }

// Matches reports whether v satisfies the pattern.
func (p Pattern[T]) Matches(v T) bool {
	return p.any || p.value == v
}

// ParseStringPattern maps the wildcard token to Any and everything else to Exact.
func ParseStringPattern(s string) Pattern[string] {
	if s == Wildcard {
		return Any[string]()
	}
	return Exact(s)
}

// ParseBoolPattern maps the wildcard token to Any and parses the rest with
// strconv.ParseBool ("1", "true", "0", "false", ...).
func ParseBoolPattern(s string) (Pattern[bool], error) {
	if s == Wildcard {
		return Any[bool](), nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return Pattern[bool]{}, err
	}
	return Exact(b), nil
}

// Filter selects computed records for training-set extraction.
type Filter struct {
	Method Pattern[string]
	Basis  Pattern[string]
	CP     Pattern[bool]
	Tag    Pattern[string]
}

// MatchAll returns a filter whose every field is Any.
func MatchAll() Filter {
	return Filter{
		Method: Any[string](),
		Basis:  Any[string](),
		CP:     Any[bool](),
		Tag:    Any[string](),
	}
}

// ForModel returns a filter pinned to one model with any tag.
func ForModel(m Model) Filter {
	return Filter{
		Method: Exact(m.Method),
		Basis:  Exact(m.Basis),
		CP:     Exact(m.CP),
		Tag:    Any[string](),
	}
}
