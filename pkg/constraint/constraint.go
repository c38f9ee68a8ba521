// Package constraint implements the multi-valued requirement sets attached to
// diagnostic modules and user options. A Constraint maps a requirement name
// (such as "distro" or "class") to an ordered, deduplicated list of string
// values, and supports a recursive merge over the loosely-typed shapes that
// come out of YAML metadata documents.
package constraint

import (
	"fmt"
	"sort"
	"strings"
)

// Constraint maps a constraint name to an ordered, deduplicated list of
// string values. Every value is list-shaped; scalars are wrapped during
// normalization and space-delimited strings are split into multiple values.
type Constraint map[string][]string

// TypeError reports a value that could not be treated as a constraint
// mapping. It is raised only at the map-shape boundary of Update; all other
// malformed inputs degrade to empty or false results.
type TypeError struct {
	// Value is the offending input.
	Value any
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("%#v is not a constraint mapping", e.Value)
}

// New creates a Constraint from a parsed metadata mapping. A nil argument
// yields an empty Constraint.
func New(arg map[string]any) (Constraint, error) {
	c := Constraint{}
	if arg != nil {
		if err := c.Update(arg); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ToStringList normalizes an arbitrary decoded value to a list of strings:
// nil and the empty string become an empty list, a space-delimited string is
// split into multiple values, other strings and scalars are wrapped, and
// slices are stringified element by element.
func ToStringList(value any) []string {
	switch v := value.(type) {
	case nil:
		return []string{}
	case string:
		if v == "" {
			return []string{}
		}
		if strings.Contains(v, " ") {
			return strings.Fields(v)
		}
		return []string{v}
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringify(item))
		}
		return out
	default:
		return []string{stringify(value)}
	}
}

// stringify renders a scalar the way the process environment will see it.
func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// Set normalizes value through ToStringList and replaces the key's list.
func (c Constraint) Set(key string, value any) {
	c[key] = dedupe(ToStringList(value))
}

// Get returns the value list for key, or nil when absent.
func (c Constraint) Get(key string) []string {
	return c[key]
}

// First returns the first value for key, or the empty string when the key is
// absent or empty. Single-valued axes such as "sudo" are read this way.
func (c Constraint) First(key string) string {
	if vals := c[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Keys returns the sorted list of constraint names.
func (c Constraint) Keys() []string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Update folds the other mapping into the Constraint. Values recurse until
// list-shaped: nil becomes an empty list, nested mappings are merged
// key-by-key, space-delimited strings are split, and scalars are wrapped.
// When a key already exists only values not already present are appended, so
// the merge is an idempotent, order-preserving union. A TypeError is returned
// only when other is non-nil and not map-shaped.
func (c Constraint) Update(other any) error {
	if other == nil {
		return nil
	}
	mapping, ok := asMapping(other)
	if !ok {
		return &TypeError{Value: other}
	}
	keys := make([]string, 0, len(mapping))
	for key := range mapping {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := mapping[key]
		// A nested mapping is merged at the top level; the enclosing
		// key carries no value of its own.
		if nested, ok := asMapping(value); ok && value != nil {
			if err := c.Update(nested); err != nil {
				return err
			}
			continue
		}
		c.mergeKey(key, ToStringList(value))
	}
	return nil
}

// mergeKey merges a normalized value list into the key's existing list,
// preserving first-seen order and skipping duplicates.
func (c Constraint) mergeKey(key string, values []string) {
	existing, ok := c[key]
	if !ok {
		c[key] = dedupe(values)
		return
	}
	for _, item := range values {
		if !containsString(existing, item) {
			existing = append(existing, item)
		}
	}
	c[key] = existing
}

// WithKeys returns a new Constraint containing only the listed keys.
func (c Constraint) WithKeys(keys []string) Constraint {
	out := Constraint{}
	for key, values := range c {
		if containsString(keys, key) {
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}

// WithoutKeys returns a new Constraint excluding the listed keys.
func (c Constraint) WithoutKeys(keys []string) Constraint {
	out := Constraint{}
	for key, values := range c {
		if !containsString(keys, key) {
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}

// Contains reports whether the Constraint satisfies the query. A string
// query is a plain key lookup. A list query is satisfied only when every
// element is (a single false poisons the result). A mapping query {k: v}
// checks v's membership in key k's values; when v is itself list-shaped each
// element is checked as an independent single-value query and the results are
// folded with the same false-poisons reducer. The reducer reuse is
// long-standing behavior that callers depend on; do not "fix" it.
func (c Constraint) Contains(query any) bool {
	switch q := query.(type) {
	case []string:
		results := make([]bool, 0, len(q))
		for _, item := range q {
			results = append(results, c.Contains(item))
		}
		return rebool(results)
	case []any:
		results := make([]bool, 0, len(q))
		for _, item := range q {
			results = append(results, c.Contains(item))
		}
		return rebool(results)
	case map[string]any:
		return c.containsMapping(q)
	case map[string]string:
		mapping := make(map[string]any, len(q))
		for key, value := range q {
			mapping[key] = value
		}
		return c.containsMapping(mapping)
	default:
		_, ok := c[stringify(query)]
		return ok
	}
}

// containsMapping evaluates a mapping query key by key. Queries are
// single-key in practice; with multiple keys the last evaluated key wins,
// matching the historical contract.
func (c Constraint) containsMapping(query map[string]any) bool {
	rv := false
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := query[key]
		if elems, ok := asList(value); ok {
			results := make([]bool, 0, len(elems))
			for _, elem := range elems {
				results = append(results, c.Contains(map[string]any{key: elem}))
			}
			rv = rebool(results)
		} else if existing, ok := c[key]; ok {
			rv = containsString(existing, stringify(value))
		} else {
			rv = false
		}
	}
	return rv
}

// rebool folds a result list: any false poisons the whole result, otherwise
// the fold is true for any non-empty list.
func rebool(results []bool) bool {
	for _, r := range results {
		if !r {
			return false
		}
	}
	return len(results) > 0
}

// asMapping reports whether value is map-shaped and normalizes it.
func asMapping(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case Constraint:
		out := make(map[string]any, len(v))
		for key, values := range v {
			out[key] = values
		}
		return out, true
	case map[string]any:
		return v, true
	case map[string][]string:
		out := make(map[string]any, len(v))
		for key, values := range v {
			out[key] = values
		}
		return out, true
	case map[string]string:
		out := make(map[string]any, len(v))
		for key, values := range v {
			out[key] = values
		}
		return out, true
	default:
		return nil, false
	}
}

// asList reports whether value is list-shaped without wrapping scalars.
func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, item)
		}
		return out, true
	default:
		return nil, false
	}
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, item := range values {
		if !containsString(out, item) {
			out = append(out, item)
		}
	}
	return out
}

func containsString(list []string, item string) bool {
	for _, existing := range list {
		if existing == item {
			return true
		}
	}
	return false
}
