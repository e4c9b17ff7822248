package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"corpsim/internal/economy"
)

// Store is the persistence collaborator of the simulation. Reads are not
// locked; every read-modify-write goes through InTx.
type Store interface {
	Corporation(ctx context.Context, id int64) (Corporation, error)
	Corporations(ctx context.Context) ([]Corporation, error)
	Shareholders(ctx context.Context, corporationID int64) ([]Shareholder, error)
	Player(ctx context.Context, userID string) (Player, error)

	// CorporationUnits returns the unit counts of one corporation.
	CorporationUnits(ctx context.Context, corporationID int64) (economy.SectorUnits, error)
	// AllCorporationUnits is the bulk reader used by ticks.
	AllCorporationUnits(ctx context.Context) (map[int64]economy.SectorUnits, error)
	NationalUnitCounts(ctx context.Context) (economy.SectorUnits, error)

	ShareTransactionsSince(ctx context.Context, corporationID int64, since time.Time) ([]ShareTransaction, error)
	ActiveActions(ctx context.Context, corporationID int64, now time.Time) ([]CorporateAction, error)
	ActiveActionCounts(ctx context.Context, now time.Time) (map[int64]int, error)

	Proposal(ctx context.Context, id int64) (Proposal, error)
	ExpiredActiveProposals(ctx context.Context, now time.Time) ([]Proposal, error)
	Votes(ctx context.Context, proposalID int64) ([]Vote, error)

	Transactions(ctx context.Context, corporationID int64, limit int) ([]CorporateTransaction, error)
	PriceHistory(ctx context.Context, kind economy.Kind, name string, limit int) ([]PricePoint, error)
	SharePriceHistory(ctx context.Context, corporationID int64, limit int) ([]SharePricePoint, error)

	AppendPriceHistory(ctx context.Context, points []PricePoint) error
	AppendSharePriceHistory(ctx context.Context, points []SharePricePoint) error

	// ClaimTick records that the tick of the given kind ran for bucket. It
	// reports false when the bucket was already claimed.
	ClaimTick(ctx context.Context, kind string, bucket time.Time) (bool, error)
	// ReleaseTick drops a claim so the bucket can run again.
	ReleaseTick(ctx context.Context, kind string, bucket time.Time) error
	// AccrueActionPoints adds one point to every player below limit.
	AccrueActionPoints(ctx context.Context, limit int) (int64, error)
	DeleteExpiredActions(ctx context.Context, now time.Time) (int64, error)

	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is a serialized unit of work. Lock* reads hold the row until the
// transaction ends.
type Tx interface {
	LockCorporation(ctx context.Context, id int64) (Corporation, error)
	SaveCorporation(ctx context.Context, c Corporation) error

	LockShareholders(ctx context.Context, corporationID int64) ([]Shareholder, error)
	// SetShareholding writes a position; zero shares removes the row.
	SetShareholding(ctx context.Context, corporationID int64, userID string, shares int64) error

	CreditPlayer(ctx context.Context, userID string, amount float64) error
	SpendActionPoint(ctx context.Context, userID string) error
	RecordTransaction(ctx context.Context, t CorporateTransaction) error

	ActiveAction(ctx context.Context, corporationID int64, actionType string, now time.Time) (CorporateAction, bool, error)
	InsertAction(ctx context.Context, a CorporateAction) (int64, error)

	InsertProposal(ctx context.Context, p Proposal) (int64, error)
	LockProposal(ctx context.Context, id int64) (Proposal, error)
	SaveProposal(ctx context.Context, p Proposal) error

	UpsertVote(ctx context.Context, v Vote) error
	Votes(ctx context.Context, proposalID int64) ([]Vote, error)
	// PurgeVotes deletes votes on the corporation's active proposals cast by
	// anyone not in keep.
	PurgeVotes(ctx context.Context, corporationID int64, keep []string) (int64, error)
}

// Ledger writes a group of transaction lines that share one group id.
type Ledger struct {
	tx      Tx
	groupID string
	at      time.Time
}

func NewLedger(tx Tx, at time.Time) *Ledger {
	return &Ledger{tx: tx, groupID: uuid.NewString(), at: at}
}

func (l *Ledger) GroupID() string { return l.groupID }

func (l *Ledger) Record(ctx context.Context, corporationID int64, userID, kind string, amount float64, memo string) error {
	return l.tx.RecordTransaction(ctx, CorporateTransaction{
		GroupID:       l.groupID,
		CorporationID: corporationID,
		UserID:        userID,
		Kind:          kind,
		Amount:        amount,
		Memo:          memo,
		At:            l.at,
	})
}

// Bucket truncates t to the tick period, in UTC.
func Bucket(t time.Time, every time.Duration) time.Time {
	return t.UTC().Truncate(every)
}
