package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"corpsim/internal/economy"
	"corpsim/internal/store"
)

const (
	maxAttempts   = 8
	firstRetry    = 75 * time.Millisecond
	maxRetryDelay = 1200 * time.Millisecond
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

var _ store.Store = (*Store)(nil)

func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

// InTx runs fn in a serializable transaction, retrying serialization
// failures with a doubling backoff.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	retryDelay := firstRetry
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(&pgTx{tx: tx}); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return store.ErrTxConflict
		}
		s.log.Debug("serialization conflict, retrying", "attempt", attempt+1, "delay", retryDelay.String())
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < maxRetryDelay {
			retryDelay *= 2
		}
	}
	return store.ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, store.ErrNotFound)
	}
	return err
}

const corporationColumns = `
	id, name, sector, hq_state, capital, shares, public_shares, share_price,
	ceo_salary, dividend_percentage, COALESCE(elected_ceo_id, ''), focus, board_size,
	last_special_dividend_at, created_at`

func scanCorporation(row pgx.Row) (store.Corporation, error) {
	var c store.Corporation
	var lastSpecial *time.Time
	err := row.Scan(
		&c.ID, &c.Name, &c.Sector, &c.HQState, &c.Capital, &c.Shares, &c.PublicShares, &c.SharePrice,
		&c.CEOSalary, &c.DividendPercentage, &c.ElectedCEOID, &c.Focus, &c.BoardSize,
		&lastSpecial, &c.CreatedAt,
	)
	if lastSpecial != nil {
		c.LastSpecialDividendAt = *lastSpecial
	}
	return c, err
}

func getCorporation(ctx context.Context, q querier, id int64, lock bool) (store.Corporation, error) {
	sql := `SELECT ` + corporationColumns + ` FROM corpsim.corporations WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	c, err := scanCorporation(q.QueryRow(ctx, sql, id))
	if err != nil {
		return c, notFound(err, "corporation", id)
	}
	return c, nil
}

func (s *Store) Corporation(ctx context.Context, id int64) (store.Corporation, error) {
	return getCorporation(ctx, s.db, id, false)
}

func (s *Store) Corporations(ctx context.Context) ([]store.Corporation, error) {
	rows, err := s.db.Query(ctx, `SELECT `+corporationColumns+` FROM corpsim.corporations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Corporation
	for rows.Next() {
		c, err := scanCorporation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func shareholders(ctx context.Context, q querier, corporationID int64, lock bool) ([]store.Shareholder, error) {
	sql := `
		SELECT corporation_id, user_id, shares
		FROM corpsim.shareholders
		WHERE corporation_id = $1 AND shares > 0
		ORDER BY shares DESC, user_id`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, corporationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Shareholder
	for rows.Next() {
		var h store.Shareholder
		if err := rows.Scan(&h.CorporationID, &h.UserID, &h.Shares); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) Shareholders(ctx context.Context, corporationID int64) ([]store.Shareholder, error) {
	return shareholders(ctx, s.db, corporationID, false)
}

func (s *Store) Player(ctx context.Context, userID string) (store.Player, error) {
	var p store.Player
	err := s.db.QueryRow(ctx, `
		SELECT user_id, cash, action_points
		FROM corpsim.players
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.Cash, &p.ActionPoints)
	if err != nil {
		return p, notFound(err, "player", userID)
	}
	return p, nil
}

func (s *Store) CorporationUnits(ctx context.Context, corporationID int64) (economy.SectorUnits, error) {
	all, err := s.unitsWhere(ctx, `WHERE me.corporation_id = $1`, corporationID)
	if err != nil {
		return nil, err
	}
	if units, ok := all[corporationID]; ok {
		return units, nil
	}
	return economy.SectorUnits{}, nil
}

func (s *Store) AllCorporationUnits(ctx context.Context) (map[int64]economy.SectorUnits, error) {
	return s.unitsWhere(ctx, ``)
}

func (s *Store) unitsWhere(ctx context.Context, where string, args ...any) (map[int64]economy.SectorUnits, error) {
	rows, err := s.db.Query(ctx, `
		SELECT me.corporation_id, me.sector, bu.unit_type, SUM(bu.count)
		FROM corpsim.business_units bu
		JOIN corpsim.market_entries me ON me.id = bu.market_entry_id
		`+where+`
		GROUP BY me.corporation_id, me.sector, bu.unit_type
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]economy.SectorUnits{}
	for rows.Next() {
		var (
			corpID int64
			sector economy.Sector
			unit   economy.UnitType
			count  int64
		)
		if err := rows.Scan(&corpID, &sector, &unit, &count); err != nil {
			return nil, err
		}
		if out[corpID] == nil {
			out[corpID] = economy.SectorUnits{}
		}
		out[corpID].Add(sector, unit, count)
	}
	return out, rows.Err()
}

func (s *Store) NationalUnitCounts(ctx context.Context) (economy.SectorUnits, error) {
	rows, err := s.db.Query(ctx, `
		SELECT me.sector, bu.unit_type, SUM(bu.count)
		FROM corpsim.business_units bu
		JOIN corpsim.market_entries me ON me.id = bu.market_entry_id
		GROUP BY me.sector, bu.unit_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := economy.SectorUnits{}
	for rows.Next() {
		var (
			sector economy.Sector
			unit   economy.UnitType
			count  int64
		)
		if err := rows.Scan(&sector, &unit, &count); err != nil {
			return nil, err
		}
		out.Add(sector, unit, count)
	}
	return out, rows.Err()
}

func (s *Store) ShareTransactionsSince(ctx context.Context, corporationID int64, since time.Time) ([]store.ShareTransaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, corporation_id, user_id, side, shares, price, created_at
		FROM corpsim.share_transactions
		WHERE corporation_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`, corporationID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.ShareTransaction
	for rows.Next() {
		var t store.ShareTransaction
		if err := rows.Scan(&t.ID, &t.CorporationID, &t.UserID, &t.Side, &t.Shares, &t.Price, &t.At); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanActions(rows pgx.Rows) ([]store.CorporateAction, error) {
	defer rows.Close()
	var out []store.CorporateAction
	for rows.Next() {
		var a store.CorporateAction
		if err := rows.Scan(&a.ID, &a.CorporationID, &a.Type, &a.Cost, &a.CreatedAt, &a.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ActiveActions(ctx context.Context, corporationID int64, now time.Time) ([]store.CorporateAction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, corporation_id, type, cost, created_at, expires_at
		FROM corpsim.corporate_actions
		WHERE corporation_id = $1 AND expires_at > $2
		ORDER BY expires_at
	`, corporationID, now)
	if err != nil {
		return nil, err
	}
	return scanActions(rows)
}

func (s *Store) ActiveActionCounts(ctx context.Context, now time.Time) (map[int64]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT corporation_id, COUNT(*)
		FROM corpsim.corporate_actions
		WHERE expires_at > $1
		GROUP BY corporation_id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]int{}
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

const proposalColumns = `id, corporation_id, proposer_id, type, data, status, created_at, expires_at, resolved_at`

func scanProposal(row pgx.Row) (store.Proposal, error) {
	var p store.Proposal
	err := row.Scan(&p.ID, &p.CorporationID, &p.ProposerID, &p.Type, &p.Data, &p.Status, &p.CreatedAt, &p.ExpiresAt, &p.ResolvedAt)
	return p, err
}

func (s *Store) Proposal(ctx context.Context, id int64) (store.Proposal, error) {
	p, err := scanProposal(s.db.QueryRow(ctx, `SELECT `+proposalColumns+` FROM corpsim.board_proposals WHERE id = $1`, id))
	if err != nil {
		return p, notFound(err, "proposal", id)
	}
	return p, nil
}

func (s *Store) ExpiredActiveProposals(ctx context.Context, now time.Time) ([]store.Proposal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+proposalColumns+`
		FROM corpsim.board_proposals
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at, id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func votes(ctx context.Context, q querier, proposalID int64) ([]store.Vote, error) {
	rows, err := q.Query(ctx, `
		SELECT proposal_id, voter_id, vote, cast_at
		FROM corpsim.board_votes
		WHERE proposal_id = $1
		ORDER BY voter_id
	`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Vote
	for rows.Next() {
		var v store.Vote
		if err := rows.Scan(&v.ProposalID, &v.VoterID, &v.Choice, &v.CastAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) Votes(ctx context.Context, proposalID int64) ([]store.Vote, error) {
	return votes(ctx, s.db, proposalID)
}

func (s *Store) Transactions(ctx context.Context, corporationID int64, limit int) ([]store.CorporateTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, tx_group_id::text, corporation_id, COALESCE(user_id, ''), kind, amount, memo, created_at
		FROM corpsim.corporate_transactions
		WHERE corporation_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, corporationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.CorporateTransaction
	for rows.Next() {
		var t store.CorporateTransaction
		if err := rows.Scan(&t.ID, &t.GroupID, &t.CorporationID, &t.UserID, &t.Kind, &t.Amount, &t.Memo, &t.At); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) PriceHistory(ctx context.Context, kind economy.Kind, name string, limit int) ([]store.PricePoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT kind, name, price, supply, demand, recorded_at
		FROM corpsim.price_history
		WHERE kind = $1 AND name = $2
		ORDER BY recorded_at DESC
		LIMIT $3
	`, string(kind), name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.PricePoint
	for rows.Next() {
		var p store.PricePoint
		if err := rows.Scan(&p.Kind, &p.Name, &p.Price, &p.Supply, &p.Demand, &p.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SharePriceHistory(ctx context.Context, corporationID int64, limit int) ([]store.SharePricePoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT corporation_id, price, capital, recorded_at
		FROM corpsim.share_price_history
		WHERE corporation_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, corporationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.SharePricePoint
	for rows.Next() {
		var p store.SharePricePoint
		if err := rows.Scan(&p.CorporationID, &p.Price, &p.Capital, &p.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AppendPriceHistory(ctx context.Context, points []store.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(points))
	for _, p := range points {
		rows = append(rows, []any{string(p.Kind), p.Name, p.Price, p.Supply, p.Demand, p.RecordedAt})
	}
	_, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"corpsim", "price_history"},
		[]string{"kind", "name", "price", "supply", "demand", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (s *Store) AppendSharePriceHistory(ctx context.Context, points []store.SharePricePoint) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(points))
	for _, p := range points {
		rows = append(rows, []any{p.CorporationID, p.Price, p.Capital, p.RecordedAt})
	}
	_, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"corpsim", "share_price_history"},
		[]string{"corporation_id", "price", "capital", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// ClaimTick inserts the (kind, bucket) row; a conflict means another run
// already owns the bucket.
func (s *Store) ClaimTick(ctx context.Context, kind string, bucket time.Time) (bool, error) {
	cmd, err := s.db.Exec(ctx, `
		INSERT INTO corpsim.tick_runs (kind, bucket, run_id, claimed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (kind, bucket) DO NOTHING
	`, kind, bucket.UTC(), uuid.NewString())
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (s *Store) ReleaseTick(ctx context.Context, kind string, bucket time.Time) error {
	_, err := s.db.Exec(ctx, `DELETE FROM corpsim.tick_runs WHERE kind = $1 AND bucket = $2`, kind, bucket.UTC())
	return err
}

func (s *Store) AccrueActionPoints(ctx context.Context, limit int) (int64, error) {
	cmd, err := s.db.Exec(ctx, `
		UPDATE corpsim.players
		SET action_points = action_points + 1
		WHERE action_points < $1
	`, limit)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (s *Store) DeleteExpiredActions(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM corpsim.corporate_actions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
