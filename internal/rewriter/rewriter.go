// Package rewriter substitutes anonymized identifiers for real names in a
// hand's raw text (spec §4.7).
package rewriter

import (
	"regexp"
	"sort"
	"strings"

	"github.com/clickmediapropy/ggrevealer/internal/logger"
	"github.com/clickmediapropy/ggrevealer/internal/metrics"
)

// Rewriter substitutes mapped identifiers into raw hand text.
type Rewriter struct {
	log *logger.Logger
	met *metrics.Metrics
}

// New returns a Rewriter.
func New(log *logger.Logger, met *metrics.Metrics) *Rewriter {
	return &Rewriter{log: log, met: met}
}

// contexts is fixed, most-specific first, so a general pattern never
// consumes a substring that belongs to a more specific one (spec §4.7). Each
// template wraps the identifier alternation with %s; the identifier itself
// is always captured as the named group "id".
var contexts = []string{
	`(?m)^(Seat \d+: )%s( \(\d+ in chips\))`, // 1. seat declaration
	`%s(: posts small blind|: posts big blind|: posts the ante)`, // 2. blind posting
	`(?m)^(Dealt to )%s`,                     // 3. dealt-to line
	`%s(: folds|: calls|: raises|: bets|: checks)`, // 4. action verbs
	`%s(: shows|: mucks)`,                    // 5. showdown verbs
	`%s( collected)`,                         // 6. collection line
	`(?m)^(Uncalled bet returned to )%s`,     // 7. uncalled-bet return
	`(?m)^(Seat \d+: )%s(\s|\(|$)`,           // 8. summary seat-roll
}

// Rewrite substitutes every identifier in mapping that appears in one of the
// fixed §4.7 contexts within rawText, in the documented order. Identifiers
// with no corresponding mapping entry are left untouched. Rewrite is
// idempotent: applying it again with the same mapping to its own output is a
// no-op, since real names never collide with the mapping's keys (opaque hex
// strings or the hero placeholder), so a second pass finds nothing left to
// substitute.
func (r *Rewriter) Rewrite(rawText string, mapping map[string]string) string {
	if len(mapping) == 0 {
		return rawText
	}

	ids := make([]string, 0, len(mapping))
	for id := range mapping {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	alts := make([]string, len(ids))
	for i, id := range ids {
		alts[i] = regexp.QuoteMeta(id)
	}
	idGroup := `(?P<id>\b(?:` + strings.Join(alts, "|") + `)\b)`

	text := rawText
	for _, tmpl := range contexts {
		re := regexp.MustCompile(strings.Replace(tmpl, "%s", idGroup, 1))
		idIdx := re.SubexpIndex("id")
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			loc := re.FindStringSubmatchIndex(m)
			id := m[loc[2*idIdx]:loc[2*idIdx+1]]
			name, ok := mapping[id]
			if !ok {
				return m
			}
			return m[:loc[2*idIdx]] + name + m[loc[2*idIdx+1]:]
		})
	}

	return text
}
