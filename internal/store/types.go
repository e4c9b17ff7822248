package store

import (
	"encoding/json"
	"errors"
	"time"

	"corpsim/internal/economy"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrActionActive      = errors.New("corporate action already active")
	ErrNoActionPoints    = errors.New("no action points left")
	ErrTxConflict        = errors.New("transaction conflict, retry")
)

type Corporation struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Sector       economy.Sector `json:"sector"`
	HQState      string         `json:"hq_state"`
	Capital      float64        `json:"capital"`
	Shares       int64          `json:"shares"`
	PublicShares int64          `json:"public_shares"`
	SharePrice   float64        `json:"share_price"`
	// CEOSalary is paid over SalaryPeriodHours.
	CEOSalary             float64   `json:"ceo_salary"`
	DividendPercentage    float64   `json:"dividend_percentage"`
	ElectedCEOID          string    `json:"elected_ceo_id,omitempty"`
	Focus                 string    `json:"focus"`
	BoardSize             int       `json:"board_size"`
	LastSpecialDividendAt time.Time `json:"last_special_dividend_at,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// SalaryPeriodHours is the span a CEOSalary figure covers.
const SalaryPeriodHours = 96

// MarketEntry is a corporation's presence in one (state, sector) market.
type MarketEntry struct {
	ID            int64          `json:"id"`
	CorporationID int64          `json:"corporation_id"`
	State         string         `json:"state"`
	Sector        economy.Sector `json:"sector"`
}

type BusinessUnit struct {
	MarketEntryID int64            `json:"market_entry_id"`
	UnitType      economy.UnitType `json:"unit_type"`
	Count         int64            `json:"count"`
}

type Shareholder struct {
	CorporationID int64  `json:"corporation_id"`
	UserID        string `json:"user_id"`
	Shares        int64  `json:"shares"`
}

type ShareTransaction struct {
	ID            int64     `json:"id"`
	CorporationID int64     `json:"corporation_id"`
	UserID        string    `json:"user_id"`
	Side          string    `json:"side"`
	Shares        int64     `json:"shares"`
	Price         float64   `json:"price"`
	At            time.Time `json:"at"`
}

type CorporateAction struct {
	ID            int64     `json:"id"`
	CorporationID int64     `json:"corporation_id"`
	Type          string    `json:"type"`
	Cost          float64   `json:"cost"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type ProposalStatus string

const (
	ProposalActive ProposalStatus = "active"
	ProposalPassed ProposalStatus = "passed"
	ProposalFailed ProposalStatus = "failed"
)

type Proposal struct {
	ID            int64           `json:"id"`
	CorporationID int64           `json:"corporation_id"`
	ProposerID    string          `json:"proposer_id"`
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
	Status        ProposalStatus  `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

type VoteChoice string

const (
	VoteAye VoteChoice = "aye"
	VoteNay VoteChoice = "nay"
)

type Vote struct {
	ProposalID int64      `json:"proposal_id"`
	VoterID    string     `json:"voter_id"`
	Choice     VoteChoice `json:"vote"`
	CastAt     time.Time  `json:"cast_at"`
}

// Player is the per-user wallet that salaries and dividends are paid into.
type Player struct {
	UserID       string  `json:"user_id"`
	Cash         float64 `json:"cash"`
	ActionPoints int     `json:"action_points"`
}

// CorporateTransaction is one ledger line. Lines written by the same
// operation share a GroupID.
type CorporateTransaction struct {
	ID            int64     `json:"id"`
	GroupID       string    `json:"group_id"`
	CorporationID int64     `json:"corporation_id"`
	UserID        string    `json:"user_id,omitempty"`
	Kind          string    `json:"kind"`
	Amount        float64   `json:"amount"`
	Memo          string    `json:"memo,omitempty"`
	At            time.Time `json:"at"`
}

const (
	TxRevenue         = "revenue"
	TxOperatingCost   = "operating_cost"
	TxSalary          = "ceo_salary"
	TxDividend        = "dividend"
	TxSpecialDividend = "special_dividend"
	TxCorporateAction = "corporate_action"
)

// PricePoint is one commodity or product price observation.
type PricePoint struct {
	Kind       economy.Kind `json:"kind"`
	Name       string       `json:"name"`
	Price      float64      `json:"price"`
	Supply     float64      `json:"supply"`
	Demand     float64      `json:"demand"`
	RecordedAt time.Time    `json:"recorded_at"`
}

type SharePricePoint struct {
	CorporationID int64     `json:"corporation_id"`
	Price         float64   `json:"price"`
	Capital       float64   `json:"capital"`
	RecordedAt    time.Time `json:"recorded_at"`
}
