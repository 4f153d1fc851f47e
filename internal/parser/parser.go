// Package parser turns hand-history text files into ordered sequences of
// domain.Hand records.
//
// The format recognized here is a header line, a seat block, and a streets
// block made of action lines — the shape described by the upstream tool's
// export (spec §4.1). A hand whose header line cannot be parsed is skipped
// with a warning rather than aborting the file; table identifiers that are
// absent from the header are synthesized as unknown_table_<N>.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/clickmediapropy/ggrevealer/internal/domain"
	"github.com/clickmediapropy/ggrevealer/internal/logger"
	"github.com/clickmediapropy/ggrevealer/internal/metrics"
	"github.com/clickmediapropy/ggrevealer/internal/pipeline/errkind"
)

var (
	reHeader = regexp.MustCompile(`^Hand #(\S+):\s*Table\s+'([^']*)'.*?(?:Seat #(\d+) is the button)?\s*-\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)

	reSeat = regexp.MustCompile(`^Seat (\d+): (\S+) \((\d+) in chips\)`)

	reSmallBlind = regexp.MustCompile(`^(\S+): posts small blind (\d+)`)
	reBigBlind   = regexp.MustCompile(`^(\S+): posts big blind (\d+)`)
	reAnte       = regexp.MustCompile(`^(\S+): posts the ante (\d+)`)

	reFold   = regexp.MustCompile(`^(\S+): folds`)
	reCall   = regexp.MustCompile(`^(\S+): calls (\d+)`)
	reRaise  = regexp.MustCompile(`^(\S+): raises(?: \S+)? to (\d+)`)
	reBet    = regexp.MustCompile(`^(\S+): bets (\d+)`)
	reCheck  = regexp.MustCompile(`^(\S+): checks`)
	reShow   = regexp.MustCompile(`^(\S+): shows`)
	reMuck   = regexp.MustCompile(`^(\S+): mucks`)
	reCollect = regexp.MustCompile(`^(\S+) collected (\d+)`)

	reStreetCards = regexp.MustCompile(`^\*\*\* (?:FLOP|TURN|RIVER) \*\*\*.*\[([^\]]+)\]`)
	reBoard       = regexp.MustCompile(`^Board \[([^\]]+)\]`)
	reDealtTo     = regexp.MustCompile(`^Dealt to (\S+) \[([^\]]+)\]`)

	reSummarySeatButton = regexp.MustCompile(`^Seat (\d+): (\S+).*\(button\)`)
)

const timeLayout = "2006-01-02 15:04:05"

// Parser incrementally parses hand-history files, one file at a time.
// A Parser is scoped to a single job: its unknownTableSeq counter assigns a
// fresh synthetic table number to each file that needs one, so two files in
// the same job that both lack a table identifier still get distinct
// unknown_table_<N> ids (spec §8 scenario: unknown_table_1/unknown_table_2
// never collide).
type Parser struct {
	log *logger.Logger
	met *metrics.Metrics

	unknownTableSeq int
}

// New returns a Parser that logs to log and records counters on met.
func New(log *logger.Logger, met *metrics.Metrics) *Parser {
	return &Parser{log: log, met: met}
}

// Parse splits rawText into hand blocks and parses each independently.
// Malformed hands are recorded as input_parse errors and skipped; they
// never prevent the rest of the file from parsing.
func (p *Parser) Parse(filename, rawText string) (*domain.HandHistoryFile, []*errkind.Error) {
	blocks := splitHands(rawText)

	file := &domain.HandHistoryFile{Filename: filename, RawText: rawText}
	var errs []*errkind.Error

	unknownTableID := "" // assigned lazily, stable for the whole file

	for _, block := range blocks {
		hand, err := p.parseHand(block, filename, &unknownTableID, &p.unknownTableSeq)
		if err != nil {
			errs = append(errs, err)
			if p.met != nil {
				p.met.HandsSkipped.Add(1)
			}
			if p.log != nil {
				p.log.Warnf("hand_skip", "%s: %s", filename, err.Error())
			}
			continue
		}
		file.Hands = append(file.Hands, hand)
		if p.met != nil {
			p.met.HandsParsed.Add(1)
		}
	}

	return file, errs
}

// splitHands breaks rawText into per-hand substrings, splitting before every
// line that opens a new hand header. Blocks holding only whitespace are
// dropped.
func splitHands(rawText string) []string {
	lines := strings.Split(rawText, "\n")
	var blocks []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			block := strings.Join(current, "\n")
			if strings.TrimSpace(block) != "" {
				blocks = append(blocks, block)
			}
			current = nil
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "Hand #") {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

// parseHand parses one hand block. *unknownTableID is populated the first
// time a hand in this file lacks a table identifier, and reused for every
// subsequent hand in the same file missing one (spec §3: N stable per file).
func (p *Parser) parseHand(block, filename string, unknownTableID *string, unknownTableSeq *int) (*domain.Hand, *errkind.Error) {
	lines := strings.Split(block, "\n")
	if len(lines) == 0 {
		return nil, errkind.New(errkind.InputParse, filename, "empty hand block", nil)
	}

	var headerLine string
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "Hand #") {
			headerLine = strings.TrimSpace(l)
			break
		}
	}
	if headerLine == "" {
		return nil, errkind.New(errkind.InputParse, filename, "no header line found", nil)
	}

	m := reHeader.FindStringSubmatch(headerLine)
	if m == nil {
		return nil, errkind.New(errkind.InputParse, filename, "unrecognized header: "+headerLine, nil)
	}

	rawID := m[1]
	tableID := strings.TrimSpace(m[2])
	buttonSeatFromHeader := m[3]
	tsText := m[4]

	ts, err := time.Parse(timeLayout, tsText)
	if err != nil {
		return nil, errkind.New(errkind.InputParse, filename, "unparseable timestamp: "+tsText, err)
	}

	if tableID == "" {
		if *unknownTableID == "" {
			*unknownTableSeq++
			*unknownTableID = "unknown_table_" + strconv.Itoa(*unknownTableSeq)
		}
		tableID = *unknownTableID
	}

	hand := &domain.Hand{
		ID:         normalizeHandID(rawID),
		RawID:      rawID,
		TableID:    tableID,
		Timestamp:  ts,
		RawText:    block,
		SourceFile: filename,
	}

	var buttonSeatNum int
	if buttonSeatFromHeader != "" {
		buttonSeatNum, _ = strconv.Atoi(buttonSeatFromHeader)
	}

	// First pass: collect every Seat line so hand.Seats is fully built before
	// any pointer into it is taken. Appending to hand.Seats after handing out
	// &hand.Seats[i] pointers would invalidate them on reallocation.
	var buttonFromSummary int
	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case reSeat.MatchString(line):
			sm := reSeat.FindStringSubmatch(line)
			num, _ := strconv.Atoi(sm[1])
			stack, _ := strconv.Atoi(sm[3])
			hand.Seats = append(hand.Seats, domain.Seat{Number: num, Identifier: sm[2], StartingStack: stack})

		case reSummarySeatButton.MatchString(line):
			sm := reSummarySeatButton.FindStringSubmatch(line)
			buttonFromSummary, _ = strconv.Atoi(sm[1])
		}
	}

	seatsByID := make(map[string]*domain.Seat, len(hand.Seats))
	for i := range hand.Seats {
		seatsByID[hand.Seats[i].Identifier] = &hand.Seats[i]
	}

	// Second pass: blinds, actions, and board cards, referencing the now-fixed
	// seat slice.
	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case reSeat.MatchString(line), reSummarySeatButton.MatchString(line):
			// handled in the first pass

		case reSmallBlind.MatchString(line):
			sm := reSmallBlind.FindStringSubmatch(line)
			amount, _ := strconv.Atoi(sm[2])
			if seat, ok := seatsByID[sm[1]]; ok {
				seat.Role = combineRole(seat.Role, domain.RoleSmallBlind)
			}
			hand.Actions = append(hand.Actions, domain.Action{SeatID: seatNumber(seatsByID, sm[1]), Type: domain.ActionPostSmallBlind, Amount: amount})

		case reBigBlind.MatchString(line):
			sm := reBigBlind.FindStringSubmatch(line)
			amount, _ := strconv.Atoi(sm[2])
			if seat, ok := seatsByID[sm[1]]; ok {
				seat.Role = combineRole(seat.Role, domain.RoleBigBlind)
			}
			hand.Actions = append(hand.Actions, domain.Action{SeatID: seatNumber(seatsByID, sm[1]), Type: domain.ActionPostBigBlind, Amount: amount})

		case reAnte.MatchString(line):
			sm := reAnte.FindStringSubmatch(line)
			amount, _ := strconv.Atoi(sm[2])
			hand.Actions = append(hand.Actions, domain.Action{SeatID: seatNumber(seatsByID, sm[1]), Type: domain.ActionPostAnte, Amount: amount})

		case reFold.MatchString(line):
			sm := reFold.FindStringSubmatch(line)
			hand.Actions = append(hand.Actions, domain.Action{SeatID: seatNumber(seatsByID, sm[1]), Type: domain.ActionFold})

		case reRaise.MatchString(line):
			sm := reRaise.FindStringSubmatch(line)
			amount, _ := strconv.Atoi(sm[2])
			hand.Actions = append(hand.Actions, domain.Action{SeatID: seatNumber(seatsByID, sm[1]), Type: domain.ActionRaise, Amount: amount})

		case reBet.MatchString(line):
			sm := reBet.FindStringSubmatch(line)
			amount, _ := strconv.Atoi(sm[2])
			hand.Actions = append(hand.Actions, domain.Action{SeatID: seatNumber(seatsByID, sm[1]), Type: domain.ActionBet, Amount: amount})

		case reCall.MatchString(line):
			sm := reCall.FindStringSubmatch(line)
			amount, _ := strconv.Atoi(sm[2])
			hand.Actions = append(hand.Actions, domain.Action{SeatID: seatNumber(seatsByID, sm[1]), Type: domain.ActionCall, Amount: amount})

		case reCheck.MatchString(line):
			sm := reCheck.FindStringSubmatch(line)
			hand.Actions = append(hand.Actions, domain.Action{SeatID: seatNumber(seatsByID, sm[1]), Type: domain.ActionCheck})

		case reShow.MatchString(line):
			sm := reShow.FindStringSubmatch(line)
			hand.Actions = append(hand.Actions, domain.Action{SeatID: seatNumber(seatsByID, sm[1]), Type: domain.ActionShow})

		case reMuck.MatchString(line):
			sm := reMuck.FindStringSubmatch(line)
			hand.Actions = append(hand.Actions, domain.Action{SeatID: seatNumber(seatsByID, sm[1]), Type: domain.ActionMuck})

		case reCollect.MatchString(line):
			sm := reCollect.FindStringSubmatch(line)
			amount, _ := strconv.Atoi(sm[2])
			hand.Actions = append(hand.Actions, domain.Action{SeatID: seatNumber(seatsByID, sm[1]), Type: domain.ActionCollect, Amount: amount})

		case reStreetCards.MatchString(line):
			sm := reStreetCards.FindStringSubmatch(line)
			hand.BoardCards = appendCards(hand.BoardCards, sm[1])

		case reBoard.MatchString(line):
			sm := reBoard.FindStringSubmatch(line)
			hand.BoardCards = appendCards(nil, sm[1])

		case reDealtTo.MatchString(line):
			sm := reDealtTo.FindStringSubmatch(line)
			if sm[1] == domain.HeroPlaceholder {
				hand.HeroHoleCards = appendCards(nil, sm[2])
			}
		}
	}

	if len(hand.Seats) == 0 {
		return nil, errkind.New(errkind.InputParse, filename, "no seats found for hand "+rawID, nil)
	}

	assignButtonRole(hand, buttonSeatNum, buttonFromSummary)

	return hand, nil
}

// seatNumber resolves an anonymized identifier to its seat number, or 0 if
// the identifier was never declared in a Seat line.
func seatNumber(seatsByID map[string]*domain.Seat, id string) int {
	if s, ok := seatsByID[id]; ok {
		return s.Number
	}
	return 0
}

// combineRole keeps the first role assigned to a seat. Blinds are assigned
// before the button, so in heads-up hands the seat that is both button and
// small blind stores small_blind, and assignButtonRole leaves it that way.
func combineRole(existing, next domain.Role) domain.Role {
	if existing == domain.RoleNone {
		return next
	}
	return existing
}

// assignButtonRole tags the button seat, from the header's explicit
// "Seat #N is the button" token if present, falling back to the summary's
// "(button)" tag. In heads-up hands the button seat is also the small-blind
// seat; Role holds a single value, so that seat keeps small_blind and is not
// tagged button.
func assignButtonRole(hand *domain.Hand, headerButtonSeat, summaryButtonSeat int) {
	buttonSeat := headerButtonSeat
	if buttonSeat == 0 {
		buttonSeat = summaryButtonSeat
	}
	if buttonSeat == 0 {
		return
	}
	for i := range hand.Seats {
		if hand.Seats[i].Number != buttonSeat {
			continue
		}
		if len(hand.Seats) == 2 && hand.Seats[i].Role == domain.RoleSmallBlind {
			// Heads-up: this seat keeps small_blind and is not tagged
			// button. The mapping builder's heads-up path treats the
			// small_blind seat as the button seat.
			continue
		}
		if hand.Seats[i].Role == domain.RoleNone {
			hand.Seats[i].Role = domain.RoleButton
		}
	}
}

// normalizeHandID strips any leading non-numeric prefix for comparisons
// (spec §3 Hand).
func normalizeHandID(id string) string {
	i := 0
	for i < len(id) && (id[i] < '0' || id[i] > '9') {
		i++
	}
	return id[i:]
}

// appendCards parses a space-separated card list like "Ah Kd 7c" and
// appends the results to existing.
func appendCards(existing []domain.Card, raw string) []domain.Card {
	for _, tok := range strings.Fields(raw) {
		if len(tok) < 2 {
			continue
		}
		existing = append(existing, domain.Card{Rank: tok[:len(tok)-1], Suit: tok[len(tok)-1:]})
	}
	return existing
}
