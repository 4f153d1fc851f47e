// Package matcher binds screenshots to parsed hands (spec §4.3).
//
// A screenshot binds to a hand either directly, when OCR-A recovered the
// hand's own identifier, or by fallback scoring against OCR-B-derived
// signals when it didn't. The matcher may be invoked more than once for the
// same job: once right after OCR-A (primary binding only, OCR-B signals
// unavailable), and again after OCR-B has run on the screenshots that
// stayed unmatched (fallback scoring now has signals to work with). Every
// call is a pure function of its arguments — nothing here is retained
// across calls.
package matcher

import (
	"sort"
	"time"

	"github.com/clickmediapropy/ggrevealer/internal/domain"
	"github.com/clickmediapropy/ggrevealer/internal/logger"
	"github.com/clickmediapropy/ggrevealer/internal/metrics"
)

// Config governs fallback scoring and validation gates (spec §4.3).
type Config struct {
	FallbackThreshold int // minimum score to propose a fallback match, e.g. 70
	TimeWindow        time.Duration

	HeroStackTolerance     float64 // e.g. 0.25
	OtherStacksTolerance   float64 // e.g. 0.30
	OtherStacksMinFraction float64 // e.g. 0.5
}

// Weights for the fallback scoring signals (spec §4.3). The file-timestamp
// signal is a precondition for candidacy (§4.3 step 2), not an additive
// term — a screenshot never reaches scoring against a hand outside the
// time window, so its weight never appears in the sum.
const (
	weightHeroHoleCards = 40
	weightBoardCards    = 30
	weightHeroRole      = 15
	weightNameOverlap   = 10
	weightHeroStack     = 5
)

// minNameOverlapForWeight is how many of a screenshot's names must match
// real names already known for the hand's table before the name-overlap
// signal fires at all (spec §4.3
// scenario: "player names overlapping by two").
const minNameOverlapForWeight = 2

// Matcher binds screenshots to hands.
type Matcher struct {
	log *logger.Logger
	met *metrics.Metrics
	cfg Config
}

// New returns a Matcher using cfg for scoring and gating.
func New(log *logger.Logger, met *metrics.Metrics, cfg Config) *Matcher {
	return &Matcher{log: log, met: met, cfg: cfg}
}

// candidate is one screenshot's current best proposal.
type candidate struct {
	screenshot *domain.Screenshot
	hand       *domain.Hand
	confidence int
}

// Match binds every screenshot in screenshots to at most one hand in hands,
// returning the accepted matches and the screenshots left unmatched.
// tableMappings carries whatever real names have already been accepted for
// each table (keyed by TableID) from earlier-processed hands of the same
// job; it feeds the fallback scoring's name-overlap signal and may be nil.
//
// Screenshots are processed in stable filename order (spec §4.3). Primary
// bindings (via OCR-A) are resolved first; a primary binding that collides
// with an already-claimed hand (two screenshots' OCR-A results point at the
// same hand) falls through to fallback scoring for the later screenshot,
// per the documented tie-break. Fallback proposals are then resolved
// against one another: a screenshot that loses a fallback tie is
// recomputed against the remaining unclaimed hands rather than discarded
// outright, since the spec only specifies the tie-break for the contested
// hand, not that the loser must end up unmatched.
func (m *Matcher) Match(hands []*domain.Hand, screenshots []*domain.Screenshot, tableMappings map[string]*domain.TableMapping) (matches []domain.Match, unmatched []*domain.Screenshot) {
	index := make(map[string]*domain.Hand, len(hands))
	for _, h := range hands {
		index[h.ID] = h
	}

	ordered := append([]*domain.Screenshot(nil), screenshots...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Filename < ordered[j].Filename })

	claimed := make(map[string]bool, len(hands))
	var pending []*domain.Screenshot

	for _, s := range ordered {
		if s.OCRA == nil || !s.OCRA.Found {
			pending = append(pending, s)
			continue
		}
		hand, ok := index[s.OCRA.HandID]
		if !ok || claimed[hand.ID] {
			pending = append(pending, s)
			continue
		}
		claimed[hand.ID] = true
		matches = append(matches, m.accept(hand, s, 100))
	}

	proposals := make(map[string]*candidate, len(pending)) // screenshot filename -> proposal
	for _, s := range pending {
		proposals[s.Filename] = m.bestFallback(s, hands, claimed, tableMappings)
	}

	for {
		byHand := make(map[string][]*candidate)
		for _, c := range proposals {
			if c != nil {
				byHand[c.hand.ID] = append(byHand[c.hand.ID], c)
			}
		}

		changed := false
		for handID, group := range byHand {
			if len(group) < 2 {
				continue
			}
			changed = true
			sort.SliceStable(group, func(i, j int) bool {
				if group[i].confidence != group[j].confidence {
					return group[i].confidence > group[j].confidence
				}
				return group[i].screenshot.Filename < group[j].screenshot.Filename
			})
			claimed[handID] = true
			for _, loser := range group[1:] {
				proposals[loser.screenshot.Filename] = m.bestFallback(loser.screenshot, hands, claimed, tableMappings)
			}
		}
		if !changed {
			break
		}
	}

	for _, s := range pending {
		c := proposals[s.Filename]
		if c == nil {
			unmatched = append(unmatched, s)
			continue
		}
		claimed[c.hand.ID] = true
		matches = append(matches, m.accept(c.hand, c.screenshot, c.confidence))
	}

	return matches, unmatched
}

func (m *Matcher) accept(hand *domain.Hand, s *domain.Screenshot, confidence int) domain.Match {
	if m.met != nil {
		m.met.MatchesAccepted.Add(1)
	}
	return domain.Match{HandID: hand.ID, ScreenshotFile: s.Filename, Confidence: confidence}
}

// bestFallback finds the highest-scoring unclaimed hand within the time
// window for s, returning nil if no hand scores at least the configured
// threshold or survives the validation gates (spec §4.3 steps 2-3).
func (m *Matcher) bestFallback(s *domain.Screenshot, hands []*domain.Hand, claimed map[string]bool, tableMappings map[string]*domain.TableMapping) *candidate {
	var best *domain.Hand
	bestScore := -1

	for _, h := range hands {
		if claimed[h.ID] {
			continue
		}
		if !WithinWindow(h.Timestamp, s.Timestamp, m.cfg.TimeWindow) {
			continue
		}
		score := m.score(h, s, tableMappings)
		if score > bestScore || (score == bestScore && best != nil && h.ID < best.ID) {
			bestScore = score
			best = h
		}
	}

	if best == nil || bestScore < m.cfg.FallbackThreshold {
		return nil
	}
	if m.met != nil {
		m.met.MatchesProposed.Add(1)
	}
	if !m.passesGates(best, s) {
		if m.met != nil {
			m.met.MatchesRejectedByGate.Add(1)
		}
		return nil
	}
	return &candidate{screenshot: s, hand: best, confidence: bestScore}
}

// WithinWindow reports whether screenshotTime falls within window of
// handTime. A non-positive window always passes (spec §4.3: time windowing
// is only a gate when a window is configured). Exported so callers deciding
// which screenshots are worth an OCR-B call can apply the same window the
// matcher itself uses for candidacy (spec §4.4's cost-saving gate).
func WithinWindow(handTime, screenshotTime time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	d := handTime.Sub(screenshotTime)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// score computes the weighted fallback score for hand h against screenshot
// s's OCR-B payload (spec §4.3). A signal that contributes is one whose
// data is present on both sides; an absent signal neither adds nor
// subtracts — it simply doesn't fire.
func (m *Matcher) score(h *domain.Hand, s *domain.Screenshot, tableMappings map[string]*domain.TableMapping) int {
	var score int

	if len(h.HeroHoleCards) > 0 && s.OCRB != nil && len(s.OCRB.Hero.HoleCards) > 0 {
		if cardsEqual(h.HeroHoleCards, s.OCRB.Hero.HoleCards) {
			score += weightHeroHoleCards
		}
	}

	if len(h.BoardCards) > 0 && s.OCRB != nil && len(s.OCRB.BoardCards) > 0 {
		if cardsEqual(h.BoardCards, s.OCRB.BoardCards) {
			score += weightBoardCards
		}
	}

	if s.OCRB != nil && s.OCRB.Hero.Role != "" {
		if heroSeat, ok := h.HeroSeat(); ok && roleMatches(heroSeat.Role, s.OCRB.Hero.Role) {
			score += weightHeroRole
		}
	}

	if s.OCRB != nil && nameOverlapCount(h.TableID, s.OCRB, tableMappings) >= minNameOverlapForWeight {
		score += weightNameOverlap
	}

	if s.OCRB != nil && s.OCRB.Hero.Stack > 0 {
		if heroSeat, ok := h.HeroSeat(); ok && withinTolerance(float64(heroSeat.StartingStack), float64(s.OCRB.Hero.Stack), m.cfg.HeroStackTolerance) {
			score += weightHeroStack
		}
	}

	return score
}

// nameOverlapCount counts how many of this screenshot's OCR-B display
// names already appear among the real names this job has accepted for
// tableID from earlier-processed screenshots of the same table.
func nameOverlapCount(tableID string, payload *domain.OCRBPayload, tableMappings map[string]*domain.TableMapping) int {
	tm, ok := tableMappings[tableID]
	if !ok || tm == nil || len(tm.Accepted) == 0 {
		return 0
	}
	known := make(map[string]bool, len(tm.Accepted))
	for _, name := range tm.Accepted {
		known[name] = true
	}

	seen := make(map[string]bool)
	count := 0
	for _, p := range payload.Players {
		if known[p.Name] && !seen[p.Name] {
			seen[p.Name] = true
			count++
		}
	}
	return count
}

func roleMatches(r domain.Role, ocr domain.OCRRole) bool {
	switch ocr {
	case domain.OCRRoleDealer:
		return r == domain.RoleButton
	case domain.OCRRoleSmallBlind:
		return r == domain.RoleSmallBlind
	case domain.OCRRoleBigBlind:
		return r == domain.RoleBigBlind
	}
	return false
}

func cardsEqual(a, b []domain.Card) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, c := range a {
		seen[c.String()]++
	}
	for _, c := range b {
		seen[c.String()]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func withinTolerance(want, got, tolerance float64) bool {
	if want == 0 {
		return got == 0
	}
	diff := (got - want) / want
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// passesGates applies the §4.3 validation gates. When s carries no OCR-B
// payload yet, only gate (a)'s trivial form applies — OCR-A never surfaces
// a player count in this implementation, so there's nothing to check and
// the gate trivially passes.
func (m *Matcher) passesGates(h *domain.Hand, s *domain.Screenshot) bool {
	if s.OCRB == nil {
		return true
	}
	payload := s.OCRB

	if len(payload.Players) != len(h.Seats) {
		return false
	}

	heroSeat, ok := h.HeroSeat()
	if ok && payload.Hero.Stack > 0 {
		if !withinTolerance(float64(heroSeat.StartingStack), float64(payload.Hero.Stack), m.cfg.HeroStackTolerance) {
			return false
		}
	}

	handStacks := otherStacks(h.Seats)
	ocrStacks := otherStacksOCR(payload)
	matched := matchStacks(handStacks, ocrStacks, m.cfg.OtherStacksTolerance)

	total := len(handStacks)
	if total == 0 {
		return true
	}
	return float64(matched)/float64(total) >= m.cfg.OtherStacksMinFraction
}

func otherStacks(seats []domain.Seat) []int {
	var stacks []int
	for _, s := range seats {
		if !s.IsHero() {
			stacks = append(stacks, s.StartingStack)
		}
	}
	return stacks
}

func otherStacksOCR(payload *domain.OCRBPayload) []int {
	var stacks []int
	for _, p := range payload.Players {
		if p.Name == payload.Hero.Name {
			continue
		}
		stacks = append(stacks, p.Stack)
	}
	return stacks
}

// matchStacks greedily pairs each hand-side stack with the closest
// not-yet-used screenshot-side stack, counting a pair matched if it's
// within tolerance. There is no real identity to pair by at this stage
// (that's the mapping builder's job downstream), so closeness is the best
// available proxy.
func matchStacks(handStacks, ocrStacks []int, tolerance float64) int {
	used := make([]bool, len(ocrStacks))
	matched := 0
	for _, hs := range handStacks {
		best := -1
		bestDiff := -1.0
		for i, os := range ocrStacks {
			if used[i] {
				continue
			}
			diff := absFloat(float64(os) - float64(hs))
			if best == -1 || diff < bestDiff {
				best = i
				bestDiff = diff
			}
		}
		if best == -1 {
			continue
		}
		used[best] = true
		if withinTolerance(float64(hs), float64(ocrStacks[best]), tolerance) {
			matched++
		}
	}
	return matched
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
