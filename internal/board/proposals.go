package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"corpsim/internal/economy"
	"corpsim/internal/store"
)

var (
	ErrValidation       = errors.New("invalid proposal")
	ErrNotBoardMember   = errors.New("not a board member")
	ErrProposalClosed   = errors.New("proposal is closed")
	ErrProposalNotFound = errors.New("proposal not found")
)

type ProposalType string

const (
	ProposalCEONomination  ProposalType = "ceo_nomination"
	ProposalSectorChange   ProposalType = "sector_change"
	ProposalHQChange       ProposalType = "hq_change"
	ProposalBoardSize      ProposalType = "board_size"
	ProposalCEOSalary      ProposalType = "ceo_salary"
	ProposalDividendChange ProposalType = "dividend_change"
	ProposalSpecialDiv     ProposalType = "special_dividend"
	ProposalStockSplit     ProposalType = "stock_split"
	ProposalFocusChange    ProposalType = "focus_change"
)

var AllProposalTypes = []ProposalType{
	ProposalCEONomination,
	ProposalSectorChange,
	ProposalHQChange,
	ProposalBoardSize,
	ProposalCEOSalary,
	ProposalDividendChange,
	ProposalSpecialDiv,
	ProposalStockSplit,
	ProposalFocusChange,
}

const (
	DefaultExpiry           = 12 * time.Hour
	MinBoardSize            = 3
	MaxBoardSize            = 7
	SpecialDividendCooldown = 96 * time.Hour
	MaxCEOSalary            = 10_000_000
)

var Focuses = []string{"balanced", "growth", "income", "expansion"}

var usStates = strings.Fields(`AL AK AZ AR CA CO CT DE FL GA HI ID IL IN IA KS KY LA ME MD
	MA MI MN MS MO MT NE NV NH NJ NM NY NC ND OH OK OR PA RI SC SD TN TX UT VT VA WA WV WI WY DC`)

// Payload is the union of every proposal type's data. Each type reads only
// its own field.
type Payload struct {
	NomineeID  string   `json:"nominee_id,omitempty"`
	Sector     string   `json:"sector,omitempty"`
	State      string   `json:"state,omitempty"`
	BoardSize  int      `json:"board_size,omitempty"`
	Salary     *float64 `json:"salary,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
	Amount     float64  `json:"amount,omitempty"`
	Focus      string   `json:"focus,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func ParseProposalType(v string) (ProposalType, error) {
	t := ProposalType(strings.ToLower(strings.TrimSpace(v)))
	if !slices.Contains(AllProposalTypes, t) {
		return "", invalid("unknown proposal type %q", v)
	}
	return t, nil
}

func decodePayload(data json.RawMessage) (Payload, error) {
	var p Payload
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, invalid("payload: %v", err)
	}
	return p, nil
}

// validate checks a payload against the corporation it targets and returns
// it normalized.
func validate(t ProposalType, p Payload, corp store.Corporation, holders []store.Shareholder, now time.Time) (Payload, error) {
	switch t {
	case ProposalCEONomination:
		p.NomineeID = strings.TrimSpace(p.NomineeID)
		if p.NomineeID == "" {
			return p, invalid("nominee_id is required")
		}
		if !slices.ContainsFunc(holders, func(h store.Shareholder) bool { return h.UserID == p.NomineeID && h.Shares > 0 }) {
			return p, invalid("nominee must be a shareholder")
		}
		if p.NomineeID == corp.ElectedCEOID {
			return p, invalid("nominee is already CEO")
		}
	case ProposalSectorChange:
		s, err := economy.ParseSector(p.Sector)
		if err != nil {
			return p, invalid("%v", err)
		}
		if s == corp.Sector {
			return p, invalid("corporation is already in %s", s)
		}
		p.Sector = string(s)
	case ProposalHQChange:
		p.State = strings.ToUpper(strings.TrimSpace(p.State))
		if !slices.Contains(usStates, p.State) {
			return p, invalid("unknown state %q", p.State)
		}
		if p.State == corp.HQState {
			return p, invalid("headquarters already in %s", p.State)
		}
	case ProposalBoardSize:
		if p.BoardSize < MinBoardSize || p.BoardSize > MaxBoardSize {
			return p, invalid("board size must be between %d and %d", MinBoardSize, MaxBoardSize)
		}
	case ProposalCEOSalary:
		if p.Salary == nil || *p.Salary < 0 || *p.Salary > MaxCEOSalary || math.IsNaN(*p.Salary) {
			return p, invalid("salary must be between 0 and %d", MaxCEOSalary)
		}
	case ProposalDividendChange:
		if p.Percentage == nil || *p.Percentage < 0 || *p.Percentage > 100 || math.IsNaN(*p.Percentage) {
			return p, invalid("percentage must be between 0 and 100")
		}
	case ProposalSpecialDiv:
		if p.Amount <= 0 || math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
			return p, invalid("amount must be > 0")
		}
		if p.Amount > corp.Capital {
			return p, invalid("amount exceeds capital")
		}
		if !corp.LastSpecialDividendAt.IsZero() && now.Sub(corp.LastSpecialDividendAt) < SpecialDividendCooldown {
			next := corp.LastSpecialDividendAt.Add(SpecialDividendCooldown)
			return p, invalid("special dividend allowed again at %s", next.UTC().Format(time.RFC3339))
		}
	case ProposalStockSplit:
		if corp.Shares <= 0 {
			return p, invalid("corporation has no shares to split")
		}
	case ProposalFocusChange:
		p.Focus = strings.ToLower(strings.TrimSpace(p.Focus))
		if !slices.Contains(Focuses, p.Focus) {
			return p, invalid("focus must be one of %s", strings.Join(Focuses, ", "))
		}
		if p.Focus == corp.Focus {
			return p, invalid("focus is already %s", p.Focus)
		}
	default:
		return p, invalid("unknown proposal type %q", t)
	}
	return p, nil
}

// Majority is the vote count that resolves a proposal early.
func Majority(boardSize int) int {
	return boardSize/2 + 1
}

// BoardMembers is the elected CEO followed by the largest shareholders, up to
// the board size. holders must be sorted by shares descending.
func BoardMembers(corp store.Corporation, holders []store.Shareholder) []string {
	size := corp.BoardSize
	if size <= 0 {
		size = MinBoardSize
	}
	members := make([]string, 0, size)
	if corp.ElectedCEOID != "" {
		members = append(members, corp.ElectedCEOID)
	}
	for _, h := range holders {
		if len(members) >= size {
			break
		}
		if h.Shares <= 0 || slices.Contains(members, h.UserID) {
			continue
		}
		members = append(members, h.UserID)
	}
	return members
}

type Tally struct {
	Ayes  int `json:"ayes"`
	Nays  int `json:"nays"`
	Voted int `json:"voted"`
}

// tally counts votes from current members only.
func tally(votes []store.Vote, members []string) Tally {
	var t Tally
	for _, v := range votes {
		if !slices.Contains(members, v.VoterID) {
			continue
		}
		t.Voted++
		switch v.Choice {
		case store.VoteAye:
			t.Ayes++
		case store.VoteNay:
			t.Nays++
		}
	}
	return t
}

// earlyOutcome applies the vote-time resolution order: aye majority, then
// nay majority, then everyone voted. ok is false while the vote stays open.
func earlyOutcome(t Tally, boardSize, memberCount int) (passed, ok bool) {
	majority := Majority(boardSize)
	switch {
	case t.Ayes >= majority:
		return true, true
	case t.Nays >= majority:
		return false, true
	case memberCount > 0 && t.Voted >= memberCount:
		return t.Ayes > t.Nays, true
	default:
		return false, false
	}
}
