package backend

import "github.com/Aman-CERP/amanmcp/internal/search"

// All returns every adapter in spec-defined order: exact, fuzzy, vector,
// splade, binary. Callers filter this list with Select rather than
// constructing adapters themselves, so a handle missing a collaborator
// (nil Vector, nil Splade, ...) never needs special-casing outside the
// adapters themselves.
func All() []Adapter {
	return []Adapter{
		ExactAdapter{},
		FuzzyAdapter{},
		VectorAdapter{},
		SpladeAdapter{},
		BinaryAdapter{},
	}
}

// Select narrows All() to the sources active for one search call. Given
// an empty or nil enabled map, every adapter is eligible; the handle's own
// nil-collaborator checks then decide which actually produce results.
//
// When opts.PureVector is set and search.SourceVector is itself enabled,
// only the vector adapter runs. If PureVector is set without the vector
// source enabled, the flag is a caller error: Select falls back to the
// normal multi-backend set rather than silently returning nothing, per
// spec §4.7's early-guard rule for this combination.
func Select(opts search.SearchOptions) []Adapter {
	if opts.PureVector && (opts.EnabledSources == nil || opts.EnabledSources[search.SourceVector]) {
		return []Adapter{VectorAdapter{}}
	}

	all := All()
	if len(opts.EnabledSources) == 0 {
		return all
	}

	out := make([]Adapter, 0, len(all))
	for _, a := range all {
		if opts.EnabledSources[a.Source()] {
			out = append(out, a)
		}
	}
	return out
}
