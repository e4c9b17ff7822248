package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"corpsim/internal/store"
)

type pgTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) LockCorporation(ctx context.Context, id int64) (store.Corporation, error) {
	return getCorporation(ctx, t.tx, id, true)
}

func (t *pgTx) SaveCorporation(ctx context.Context, c store.Corporation) error {
	var lastSpecial *time.Time
	if !c.LastSpecialDividendAt.IsZero() {
		lastSpecial = &c.LastSpecialDividendAt
	}
	cmd, err := t.tx.Exec(ctx, `
		UPDATE corpsim.corporations
		SET sector = $2,
			hq_state = $3,
			capital = $4,
			shares = $5,
			public_shares = $6,
			share_price = $7,
			ceo_salary = $8,
			dividend_percentage = $9,
			elected_ceo_id = NULLIF($10, ''),
			focus = $11,
			board_size = $12,
			last_special_dividend_at = $13
		WHERE id = $1
	`, c.ID, string(c.Sector), c.HQState, c.Capital, c.Shares, c.PublicShares, c.SharePrice,
		c.CEOSalary, c.DividendPercentage, c.ElectedCEOID, c.Focus, c.BoardSize, lastSpecial)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("corporation %d: %w", c.ID, store.ErrNotFound)
	}
	return nil
}

func (t *pgTx) LockShareholders(ctx context.Context, corporationID int64) ([]store.Shareholder, error) {
	return shareholders(ctx, t.tx, corporationID, true)
}

func (t *pgTx) SetShareholding(ctx context.Context, corporationID int64, userID string, shares int64) error {
	if shares < 0 {
		return fmt.Errorf("shares must be >= 0")
	}
	if shares == 0 {
		_, err := t.tx.Exec(ctx, `
			DELETE FROM corpsim.shareholders
			WHERE corporation_id = $1 AND user_id = $2
		`, corporationID, userID)
		return err
	}
	if err := ensurePlayer(ctx, t.tx, userID); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO corpsim.shareholders (corporation_id, user_id, shares)
		VALUES ($1, $2, $3)
		ON CONFLICT (corporation_id, user_id) DO UPDATE SET shares = EXCLUDED.shares
	`, corporationID, userID, shares)
	return err
}

func ensurePlayer(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO corpsim.players (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (t *pgTx) CreditPlayer(ctx context.Context, userID string, amount float64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO corpsim.players (user_id, cash)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET cash = corpsim.players.cash + EXCLUDED.cash
	`, userID, amount)
	return err
}

func (t *pgTx) SpendActionPoint(ctx context.Context, userID string) error {
	var points int
	err := t.tx.QueryRow(ctx, `
		SELECT action_points
		FROM corpsim.players
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&points)
	if err != nil {
		return notFound(err, "player", userID)
	}
	if points <= 0 {
		return store.ErrNoActionPoints
	}
	_, err = t.tx.Exec(ctx, `UPDATE corpsim.players SET action_points = action_points - 1 WHERE user_id = $1`, userID)
	return err
}

func (t *pgTx) RecordTransaction(ctx context.Context, ct store.CorporateTransaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO corpsim.corporate_transactions (tx_group_id, corporation_id, user_id, kind, amount, memo, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`, ct.GroupID, ct.CorporationID, ct.UserID, ct.Kind, ct.Amount, ct.Memo, ct.At)
	return err
}

func (t *pgTx) ActiveAction(ctx context.Context, corporationID int64, actionType string, now time.Time) (store.CorporateAction, bool, error) {
	var a store.CorporateAction
	err := t.tx.QueryRow(ctx, `
		SELECT id, corporation_id, type, cost, created_at, expires_at
		FROM corpsim.corporate_actions
		WHERE corporation_id = $1 AND type = $2 AND expires_at > $3
		ORDER BY expires_at DESC
		LIMIT 1
		FOR UPDATE
	`, corporationID, actionType, now).Scan(&a.ID, &a.CorporationID, &a.Type, &a.Cost, &a.CreatedAt, &a.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, false, nil
	}
	if err != nil {
		return a, false, err
	}
	return a, true, nil
}

func (t *pgTx) InsertAction(ctx context.Context, a store.CorporateAction) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO corpsim.corporate_actions (corporation_id, type, cost, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, a.CorporationID, a.Type, a.Cost, a.CreatedAt, a.ExpiresAt).Scan(&id)
	return id, err
}

func (t *pgTx) InsertProposal(ctx context.Context, p store.Proposal) (int64, error) {
	data := p.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO corpsim.board_proposals (corporation_id, proposer_id, type, data, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		RETURNING id
	`, p.CorporationID, p.ProposerID, p.Type, string(data), string(p.Status), p.CreatedAt, p.ExpiresAt).Scan(&id)
	return id, err
}

func (t *pgTx) LockProposal(ctx context.Context, id int64) (store.Proposal, error) {
	p, err := scanProposal(t.tx.QueryRow(ctx, `
		SELECT `+proposalColumns+`
		FROM corpsim.board_proposals
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return p, notFound(err, "proposal", id)
	}
	return p, nil
}

func (t *pgTx) SaveProposal(ctx context.Context, p store.Proposal) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE corpsim.board_proposals
		SET status = $2, resolved_at = $3
		WHERE id = $1
	`, p.ID, string(p.Status), p.ResolvedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("proposal %d: %w", p.ID, store.ErrNotFound)
	}
	return nil
}

func (t *pgTx) UpsertVote(ctx context.Context, v store.Vote) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO corpsim.board_votes (proposal_id, voter_id, vote, cast_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (proposal_id, voter_id) DO UPDATE SET vote = EXCLUDED.vote, cast_at = EXCLUDED.cast_at
	`, v.ProposalID, v.VoterID, string(v.Choice), v.CastAt)
	return err
}

func (t *pgTx) Votes(ctx context.Context, proposalID int64) ([]store.Vote, error) {
	return votes(ctx, t.tx, proposalID)
}

func (t *pgTx) PurgeVotes(ctx context.Context, corporationID int64, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	cmd, err := t.tx.Exec(ctx, `
		DELETE FROM corpsim.board_votes v
		USING corpsim.board_proposals p
		WHERE v.proposal_id = p.id
			AND p.corporation_id = $1
			AND p.status = 'active'
			AND NOT (v.voter_id = ANY($2))
	`, corporationID, keep)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
