// Package aggregator unions per-hand mappings into per-table mappings
// (spec §4.6).
package aggregator

import (
	"sort"
	"strings"

	"github.com/clickmediapropy/ggrevealer/internal/domain"
	"github.com/clickmediapropy/ggrevealer/internal/logger"
	"github.com/clickmediapropy/ggrevealer/internal/mapping"
	"github.com/clickmediapropy/ggrevealer/internal/metrics"
)

// Aggregator unions per-hand mappings by table.
type Aggregator struct {
	log *logger.Logger
	met *metrics.Metrics
}

// New returns an Aggregator.
func New(log *logger.Logger, met *metrics.Metrics) *Aggregator {
	return &Aggregator{log: log, met: met}
}

// group accumulates every distinct real name seen for each identifier across
// the hands belonging to one table, so the accepted/conflict split at the end
// doesn't depend on the order hands were folded in.
type group struct {
	tableID string
	seen    map[string]map[string]bool // identifier -> set of distinct real names
}

// Aggregate unions results (one per matched hand) into a TableMapping per
// table. hands supplies the table identifier for each result's hand. The
// returned map is keyed by every literal table identifier seen on any hand,
// so a caller can look up a hand's own (unnormalized) TableID directly even
// when two differently-spelled identifiers were judged the same table (spec
// §4.6 table-name matching).
func (a *Aggregator) Aggregate(hands []*domain.Hand, results []mapping.Result) map[string]*domain.TableMapping {
	handTable := make(map[string]string, len(hands))
	for _, h := range hands {
		handTable[h.ID] = h.TableID
	}

	var groups []*group
	byLiteralID := make(map[string]*group)

	groupFor := func(tableID string) *group {
		if g, ok := byLiteralID[tableID]; ok {
			return g
		}
		for _, g := range groups {
			if tablesMatch(g.tableID, tableID) {
				byLiteralID[tableID] = g
				return g
			}
		}
		g := &group{tableID: tableID, seen: make(map[string]map[string]bool)}
		groups = append(groups, g)
		byLiteralID[tableID] = g
		return g
	}

	for _, res := range results {
		tableID, ok := handTable[res.HandID]
		if !ok {
			continue
		}
		g := groupFor(tableID)
		for id, name := range res.Mapping {
			if g.seen[id] == nil {
				g.seen[id] = make(map[string]bool)
			}
			g.seen[id][name] = true
		}
	}
	for _, h := range hands {
		groupFor(h.TableID)
	}

	out := make(map[string]*domain.TableMapping, len(byLiteralID))
	finalized := make(map[*group]*domain.TableMapping, len(groups))
	for literalID, g := range byLiteralID {
		tm, ok := finalized[g]
		if !ok {
			tm = finalize(g)
			finalized[g] = tm
		}
		out[literalID] = tm
	}
	if a.met != nil {
		for _, tm := range finalized {
			a.met.TableConflictsRecorded.Add(int64(len(tm.Conflicts)))
		}
	}
	return out
}

func finalize(g *group) *domain.TableMapping {
	tm := domain.NewTableMapping(g.tableID)
	for id, names := range g.seen {
		if len(names) == 1 {
			for name := range names {
				tm.Accepted[id] = name
			}
			continue
		}
		var distinct []string
		for name := range names {
			distinct = append(distinct, name)
		}
		sort.Strings(distinct)
		tm.Conflicts[id] = distinct
	}
	return tm
}

// tablesMatch implements the §4.6 table-name matching rule: two table
// identifiers refer to the same table iff they're string-equal, or both
// carry a numeric instance suffix that strips to the same non-numeric
// prefix. Synthetic unknown_table_<N> identifiers never collide across
// different N, even though they share a prefix.
func tablesMatch(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == b {
		return true
	}
	if strings.HasPrefix(a, "unknown_table_") || strings.HasPrefix(b, "unknown_table_") {
		return false
	}

	aBase, aHasSuffix := stripNumericSuffix(a)
	bBase, bHasSuffix := stripNumericSuffix(b)
	return aHasSuffix && bHasSuffix && aBase == bBase
}

// stripNumericSuffix removes a trailing run of digits, and any whitespace
// immediately before it, from s. ok is false if s has no such suffix.
func stripNumericSuffix(s string) (base string, ok bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, false
	}
	base = strings.TrimRight(s[:i], " \t")
	if base == "" {
		return s, false
	}
	return base, true
}
