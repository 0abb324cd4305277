package chain

import (
	"context"
	"fmt"
	"sort"

	"github.com/Aman-CERP/amanmcp/internal/search"
)

// searchSymbolsParallel runs a per-directory symbol lookup across dirIDs
// and merges the results. This package has no global project-wide symbol
// index to fast-path through (the teacher carries no such collaborator
// and none of the wired stores provide one), so every chain symbol search
// goes through this per-directory fallback; see DESIGN.md.
func (e *Engine) searchSymbolsParallel(ctx context.Context, dirIDs []string, name string, limit int) []*search.Symbol {
	type outcome struct {
		symbols []*search.Symbol
	}
	out := make(chan outcome, len(dirIDs))
	sem := make(chan struct{}, e.workerCount())

	for _, dirID := range dirIDs {
		dirID := dirID
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			out <- outcome{symbols: e.searchSymbolsSingle(ctx, dirID, name, limit)}
		}()
	}

	var all []*search.Symbol
	for range dirIDs {
		o := <-out
		all = append(all, o.symbols...)
	}

	return dedupSymbols(all)
}

func (e *Engine) searchSymbolsSingle(ctx context.Context, dirID, name string, limit int) []*search.Symbol {
	h := e.Tree.Handle(ctx, dirID)
	if h == nil || h.Metadata == nil {
		return nil
	}
	matches, err := h.Metadata.SearchSymbols(ctx, name, limit)
	if err != nil {
		return nil
	}
	out := make([]*search.Symbol, 0, len(matches))
	for _, m := range matches {
		out = append(out, &search.Symbol{
			Name:      m.Name,
			Kind:      string(m.Type),
			StartLine: m.StartLine,
			EndLine:   m.EndLine,
		})
	}
	return out
}

func (e *Engine) workerCount() int {
	if e.MaxWorkers <= 0 {
		return DefaultMaxWorkers
	}
	return e.MaxWorkers
}

// dedupSymbols removes symbols sharing (name, kind, range) and sorts the
// remainder by name.
func dedupSymbols(symbols []*search.Symbol) []*search.Symbol {
	seen := make(map[string]bool, len(symbols))
	out := make([]*search.Symbol, 0, len(symbols))
	for _, s := range symbols {
		key := fmt.Sprintf("%s|%s|%d|%d", s.Name, s.Kind, s.StartLine, s.EndLine)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
