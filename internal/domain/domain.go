// Package domain holds the record types shared by every pipeline stage:
// Hand, Seat, Screenshot, Match, TableMapping, and Job (spec §3).
//
// These are tagged records with named fields, not positional tuples — the
// matcher's scoring and the mapping builder's role alignment are defined
// over field names (HoleCards, Role, Name, ...), never over struct
// position, so stages stay readable as the schema grows.
package domain

import (
	"time"

	"github.com/clickmediapropy/ggrevealer/internal/pipeline/errkind"
)

// Role is a seat's positional role for one hand.
type Role string

const (
	RoleNone      Role = ""
	RoleButton    Role = "button"
	RoleSmallBlind Role = "small_blind"
	RoleBigBlind  Role = "big_blind"
)

// Card is a single playing card, rank + suit (e.g. "Ah", "Td").
type Card struct {
	Rank string
	Suit string
}

func (c Card) String() string { return c.Rank + c.Suit }

// ActionType enumerates the verbs recognized in an action line.
type ActionType string

const (
	ActionPostSmallBlind ActionType = "posts_small_blind"
	ActionPostBigBlind   ActionType = "posts_big_blind"
	ActionPostAnte       ActionType = "posts_ante"
	ActionFold           ActionType = "folds"
	ActionCall           ActionType = "calls"
	ActionRaise          ActionType = "raises"
	ActionBet            ActionType = "bets"
	ActionCheck          ActionType = "checks"
	ActionShow           ActionType = "shows"
	ActionMuck           ActionType = "mucks"
	ActionCollect        ActionType = "collected"
)

// Action is a single parsed action line.
type Action struct {
	SeatID int
	Type   ActionType
	Amount int
}

// Seat is one occupied position in a hand (spec §3 Seat).
type Seat struct {
	Number         int    // 1-based, unique within a hand
	Identifier     string // anonymized identifier, or the hero placeholder
	StartingStack  int
	Role           Role
}

// IsHero reports whether this seat carries the reserved hero placeholder
// rather than an opaque hex identifier.
func (s Seat) IsHero() bool {
	return s.Identifier == HeroPlaceholder
}

// HeroPlaceholder is the reserved identifier marking the uploading user's
// own seat in the hand history, in place of an anonymized hex token.
const HeroPlaceholder = "Hero"

// Hand is one parsed hand-history record (spec §3 Hand).
type Hand struct {
	ID              string // normalized: leading non-numeric prefix stripped
	RawID           string // as it appeared in the source text, unnormalized
	TableID         string
	Timestamp       time.Time
	Seats           []Seat
	BoardCards      []Card
	HeroHoleCards   []Card // from the hand's own "Dealt to Hero [..]" line, if present
	Actions         []Action
	RawText         string // exact source substring later rewritten
	SourceFile      string
}

// SeatByRole returns the seat carrying the given role, or (Seat{}, false).
func (h *Hand) SeatByRole(r Role) (Seat, bool) {
	for _, s := range h.Seats {
		if s.Role == r {
			return s, true
		}
	}
	return Seat{}, false
}

// SeatByIdentifier returns the seat with the given anonymized identifier.
func (h *Hand) SeatByIdentifier(id string) (Seat, bool) {
	for _, s := range h.Seats {
		if s.Identifier == id {
			return s, true
		}
	}
	return Seat{}, false
}

// HeroSeat returns the hero's own seat, if the hand includes one.
func (h *Hand) HeroSeat() (Seat, bool) {
	for _, s := range h.Seats {
		if s.IsHero() {
			return s, true
		}
	}
	return Seat{}, false
}

// OCRRole is a display-name's role indicator as extracted by OCR-B.
type OCRRole string

const (
	OCRRoleDealer     OCRRole = "D"
	OCRRoleSmallBlind OCRRole = "SB"
	OCRRoleBigBlind   OCRRole = "BB"
)

// OCRPlayer is one display-name record from an OCR-B payload.
type OCRPlayer struct {
	Name      string
	Stack     int
	Role      OCRRole // empty if no indicator was visible
	HoleCards []Card  // populated only for the hero record; other players' cards are never visible on screen
}

// OCRAResult is the outcome of one OCR-A call (spec §4.2, §6).
type OCRAResult struct {
	Found  bool
	HandID string // normalized hand identifier, only meaningful if Found
}

// OCRBPayload is the outcome of one successful, schema-valid OCR-B call
// (spec §4.4, §6). BoardCards carries whatever community cards are visible
// on screen (possibly empty, e.g. preflop) — used by the matcher's
// board-card-equality fallback signal (spec §4.3).
type OCRBPayload struct {
	Players    []OCRPlayer
	Hero       OCRPlayer
	BoardCards []Card
}

// Screenshot is a single uploaded client screenshot (spec §3 Screenshot).
// It is progressively populated by the pipeline stages: OCRA by ocr_a, OCRB
// by ocr_b, Match by matching and again by ocr_b's second matcher pass, and
// Mapping by ocr_b and mapping.
type Screenshot struct {
	Filename  string
	Content   []byte
	Timestamp time.Time

	OCRA    *OCRAResult  // nil until the OCR-A driver has run
	OCRB    *OCRBPayload // nil until the OCR-B driver has run successfully
	Match   *Match       // nil until the matcher binds this screenshot
	Mapping map[string]string
}

// Match binds one screenshot to one hand (spec §3 Match).
type Match struct {
	HandID         string
	ScreenshotFile string
	Confidence     int // [0,100]
}

// TableMapping is the accepted union of per-hand mappings for one table,
// plus any identifiers that conflicted across contributing screenshots
// (spec §3 TableMapping).
type TableMapping struct {
	TableID   string
	Accepted  map[string]string // anonymized identifier -> real name
	Conflicts map[string][]string // identifier -> the distinct names claimed for it
}

// NewTableMapping returns an empty TableMapping for tableID.
func NewTableMapping(tableID string) *TableMapping {
	return &TableMapping{
		TableID:   tableID,
		Accepted:  make(map[string]string),
		Conflicts: make(map[string][]string),
	}
}

// JobStatus is the lifecycle state of a Job (spec §3 Job).
type JobStatus string

const (
	StatusInitialized JobStatus = "initialized"
	StatusParsing     JobStatus = "parsing"
	StatusOCRA        JobStatus = "ocr_a"
	StatusMatching    JobStatus = "matching"
	StatusOCRB        JobStatus = "ocr_b"
	StatusMapping     JobStatus = "mapping"
	StatusAggregating JobStatus = "aggregating"
	StatusRewriting   JobStatus = "rewriting"
	StatusClassifying JobStatus = "classifying"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// Tier selects the OCR concurrency/rate-limiting profile (spec §4.2/§6).
type Tier string

const (
	TierRestricted   Tier = "restricted"
	TierUnrestricted Tier = "unrestricted"
)

// HandHistoryFile is one uploaded hand-history text file and its parsed hands.
type HandHistoryFile struct {
	Filename string
	RawText  string
	Hands    []*Hand

	// Classification is the file's final clean/residual verdict, set once
	// the classifying stage has run; empty until then.
	Classification string
}

// Job is the root aggregate of a single pipeline run (spec §3 Job).
type Job struct {
	ID     string
	Tier   Tier
	Status JobStatus

	Files       []*HandHistoryFile
	Screenshots []*Screenshot

	TableMappings map[string]*TableMapping

	CreatedAt time.Time

	// Errors accumulates every non-fatal failure recorded against this job
	// (spec §7): skipped hands, OCR permanent failures, gate rejections,
	// mapping/table conflicts. A fatal error instead aborts Run and is
	// returned directly, never appended here.
	Errors []*errkind.Error
}

func (j *Job) AllHands() []*Hand {
	var hands []*Hand
	for _, f := range j.Files {
		hands = append(hands, f.Hands...)
	}
	return hands
}
