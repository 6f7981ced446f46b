package results

import (
	"fmt"
	"strings"

	"github.com/RAPD/rapd-relay/store"
)

// ClassAll selects every result of a session regardless of domain.
const ClassAll = "all"

// ClassTable maps domain -> class -> result types ("<domain>:<kind>").
type ClassTable map[string]map[string][]string

// DefaultClassTable returns the built-in taxonomy.
func DefaultClassTable() ClassTable {
	return ClassTable{
		"mx": {
			"data":  {"mx:index", "mx:integrate"},
			"snap":  {"mx:index+strategy"},
			"sweep": {"mx:integrate"},
			"merge": {},
			"mr":    {},
			"sad":   {},
			"mad":   {},
		},
	}
}

// Merge overlays extra onto t. Classes in extra replace classes of the same
// name. Domains, classes and result types are lowercased to match the
// result_type values envelopes are stored under.
func (t ClassTable) Merge(extra ClassTable) ClassTable {
	out := make(ClassTable, len(t)+len(extra))
	overlay := func(table ClassTable) {
		for domain, classes := range table {
			domain = strings.ToLower(domain)
			if out[domain] == nil {
				out[domain] = make(map[string][]string, len(classes))
			}
			for class, types := range classes {
				out[domain][strings.ToLower(class)] = lowerAll(types)
			}
		}
	}
	overlay(t)
	overlay(extra)
	return out
}

func lowerAll(types []string) []string {
	out := make([]string, len(types))
	for i, typ := range types {
		out[i] = strings.ToLower(strings.TrimSpace(typ))
	}
	return out
}

// Query builds the gateway query for a "<domain>:<class>" filter.
// A class present in the table with no types yields a query matching nothing.
func (t ClassTable) Query(sessionID, filter string) (store.ResultQuery, error) {
	domain, class, ok := strings.Cut(strings.ToLower(strings.TrimSpace(filter)), ":")
	if !ok {
		// A bare class is accepted for "all".
		domain, class = "", domain
	}

	q := store.ResultQuery{SessionID: sessionID}
	if class == ClassAll {
		q.Unfiltered = true
		return q, nil
	}

	types, ok := t[domain][class]
	if !ok {
		return q, fmt.Errorf("%w: %q", ErrUnknownClass, filter)
	}
	q.ResultTypes = append([]string{}, types...)
	return q, nil
}
