// Package mapping builds the per-hand anonymized-identifier-to-real-name
// dictionary from a matched hand and its OCR-B payload (spec §4.5).
package mapping

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/clickmediapropy/ggrevealer/internal/domain"
	"github.com/clickmediapropy/ggrevealer/internal/logger"
	"github.com/clickmediapropy/ggrevealer/internal/metrics"
)

// Result is the outcome of building one hand's mapping.
type Result struct {
	HandID   string
	Mapping  map[string]string // anonymized identifier -> real name
	Conflict bool              // true if a duplicate real name voided the mapping
	Detail   string            // human-readable conflict reason, set only if Conflict
}

// Builder constructs per-hand mappings (spec §4.5).
type Builder struct {
	log            *logger.Logger
	met            *metrics.Metrics
	fuzzyThreshold float64
}

// New returns a Builder. fuzzyThreshold is the minimum Jaro-Winkler
// similarity (in [0,1]) for a truncated name to be completed against a
// previously resolved name.
func New(log *logger.Logger, met *metrics.Metrics, fuzzyThreshold float64) *Builder {
	return &Builder{log: log, met: met, fuzzyThreshold: fuzzyThreshold}
}

// Build binds hand's seats to real names using payload, completing
// truncated names by fuzzy match against knownNames (the union of
// previously resolved names for the hand's table). The hero seat takes the
// payload's hero record only when role alignment left it unbound.
func (b *Builder) Build(hand *domain.Hand, payload domain.OCRBPayload, knownNames []string) Result {
	mapping := make(map[string]string, len(hand.Seats))

	roleBound := b.bindByRole(hand, payload)
	for id, name := range roleBound {
		mapping[id] = name
	}

	if heroSeat, ok := hand.HeroSeat(); ok && payload.Hero.Name != "" {
		if _, bound := mapping[heroSeat.Identifier]; !bound {
			mapping[heroSeat.Identifier] = payload.Hero.Name
		}
	}

	if len(mapping) < len(hand.Seats) {
		b.bindPositional(hand, payload, mapping)
	}

	for id, name := range mapping {
		mapping[id] = completeTruncated(name, knownNames, b.fuzzyThreshold)
	}

	if conflict, detail := findDuplicateName(mapping); conflict {
		if b.met != nil {
			b.met.MappingsVoidedByConflict.Add(1)
		}
		if b.log != nil {
			b.log.Warnf("mapping_conflict", "%s: %s", hand.ID, detail)
		}
		return Result{HandID: hand.ID, Mapping: map[string]string{}, Conflict: true, Detail: detail}
	}

	if b.met != nil {
		b.met.MappingsBuilt.Add(1)
	}
	return Result{HandID: hand.ID, Mapping: mapping}
}

// bindByRole aligns the hand's button/small_blind/big_blind seats to the
// payload's D/SB/BB-tagged players (spec §4.5 primary path). When the
// payload tags only D, SB and BB are derived by clockwise rotation through
// the payload's player order; with two players the D entry is also SB and
// the other entry is BB. Heads-up hands bind the small_blind seat (or, when
// there is none, the button seat) to the D- or SB-tagged player and the
// big_blind seat to the BB-tagged player.
func (b *Builder) bindByRole(hand *domain.Hand, payload domain.OCRBPayload) map[string]string {
	bound := make(map[string]string)
	if len(payload.Players) == 0 {
		return bound
	}

	dIdx, sbIdx, bbIdx := -1, -1, -1
	for i, p := range payload.Players {
		switch p.Role {
		case domain.OCRRoleDealer:
			dIdx = i
		case domain.OCRRoleSmallBlind:
			sbIdx = i
		case domain.OCRRoleBigBlind:
			bbIdx = i
		}
	}

	if dIdx >= 0 && sbIdx < 0 && bbIdx < 0 {
		n := len(payload.Players)
		sbIdx = (dIdx + 1) % n
		bbIdx = (dIdx + 2) % n
		if n == 2 {
			sbIdx, bbIdx = dIdx, (dIdx+1)%n
		}
	}

	if heads := len(hand.Seats) == 2; heads {
		buttonSeat, hasButton := hand.SeatByRole(domain.RoleSmallBlind) // heads-up: button carries small_blind (spec §4.1)
		if !hasButton {
			buttonSeat, hasButton = hand.SeatByRole(domain.RoleButton)
		}
		bbSeat, hasBB := hand.SeatByRole(domain.RoleBigBlind)
		switch {
		case hasButton && dIdx >= 0:
			bound[buttonSeat.Identifier] = payload.Players[dIdx].Name
		case hasButton && sbIdx >= 0:
			bound[buttonSeat.Identifier] = payload.Players[sbIdx].Name
		}
		if hasBB && bbIdx >= 0 {
			bound[bbSeat.Identifier] = payload.Players[bbIdx].Name
		}
		return bound
	}

	if seat, ok := hand.SeatByRole(domain.RoleButton); ok && dIdx >= 0 {
		bound[seat.Identifier] = payload.Players[dIdx].Name
	}
	if seat, ok := hand.SeatByRole(domain.RoleSmallBlind); ok && sbIdx >= 0 {
		bound[seat.Identifier] = payload.Players[sbIdx].Name
	}
	if seat, ok := hand.SeatByRole(domain.RoleBigBlind); ok && bbIdx >= 0 {
		bound[seat.Identifier] = payload.Players[bbIdx].Name
	}
	return bound
}

// bindPositional fills any seat left unresolved by bindByRole, aligning the
// payload's player order to the hand's seat order starting from the hero
// seat and proceeding clockwise (spec §4.5 fallback path).
func (b *Builder) bindPositional(hand *domain.Hand, payload domain.OCRBPayload, mapping map[string]string) {
	if len(payload.Players) == 0 {
		return
	}
	heroSeat, ok := hand.HeroSeat()
	if !ok {
		return
	}

	ordered := clockwiseFrom(hand.Seats, heroSeat.Number)
	for i, seat := range ordered {
		if _, already := mapping[seat.Identifier]; already {
			continue
		}
		if i >= len(payload.Players) {
			break
		}
		mapping[seat.Identifier] = payload.Players[i].Name
	}
}

// clockwiseFrom returns seats reordered starting at startNumber's seat and
// proceeding in increasing seat-number order, wrapping around.
func clockwiseFrom(seats []domain.Seat, startNumber int) []domain.Seat {
	ordered := append([]domain.Seat(nil), seats...)
	sortSeatsByNumber(ordered)

	startIdx := 0
	for i, s := range ordered {
		if s.Number == startNumber {
			startIdx = i
			break
		}
	}
	return append(ordered[startIdx:], ordered[:startIdx]...)
}

func sortSeatsByNumber(seats []domain.Seat) {
	for i := 1; i < len(seats); i++ {
		for j := i; j > 0 && seats[j].Number < seats[j-1].Number; j-- {
			seats[j], seats[j-1] = seats[j-1], seats[j]
		}
	}
}

// findDuplicateName reports whether two distinct anonymized identifiers
// bind to the same real name (spec §4.5 validation).
func findDuplicateName(mapping map[string]string) (bool, string) {
	seenBy := make(map[string]string, len(mapping))
	for id, name := range mapping {
		if prior, ok := seenBy[name]; ok {
			return true, "real name " + name + " bound to both " + prior + " and " + id
		}
		seenBy[name] = id
	}
	return false, ""
}

// completeTruncated replaces name with its closest match in knownNames if
// name looks truncated (trailing ellipsis) and a candidate scores at least
// threshold on Jaro-Winkler similarity (spec §4.5 character handling).
func completeTruncated(name string, knownNames []string, threshold float64) string {
	if !looksTruncated(name) {
		return name
	}

	best := name
	bestScore := 0.0
	for _, candidate := range knownNames {
		score := matchr.JaroWinkler(name, candidate)
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	if bestScore >= threshold {
		return best
	}
	return name
}

func looksTruncated(name string) bool {
	return strings.HasSuffix(name, "...") || strings.HasSuffix(name, "…")
}
