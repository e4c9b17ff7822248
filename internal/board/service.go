package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"corpsim/internal/economy"
	"corpsim/internal/notify"
	"corpsim/internal/store"
)

type Service struct {
	store    store.Store
	notifier notify.Notifier
	log      *slog.Logger
	now      func() time.Time
	expiry   time.Duration
}

func NewService(st store.Store, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		notifier: notifier,
		log:      logger,
		now:      time.Now,
		expiry:   DefaultExpiry,
	}
}

type CreateInput struct {
	CorporationID int64           `json:"corporation_id"`
	ProposerID    string          `json:"proposer_id"`
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
}

// Outcome reports the state of a proposal after a vote or resolution.
// Applied is true only for the call that moved the proposal out of active.
type Outcome struct {
	Proposal store.Proposal `json:"proposal"`
	Tally    Tally          `json:"tally"`
	Resolved bool           `json:"resolved"`
	Passed   bool           `json:"passed"`
	Applied  bool           `json:"applied"`
	members  []string
	corpName string
}

type SweepResult struct {
	Expired  int `json:"expired"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

func boardSize(corp store.Corporation) int {
	if corp.BoardSize <= 0 {
		return MinBoardSize
	}
	return corp.BoardSize
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrProposalNotFound, err)
	}
	return err
}

func (s *Service) GetBoardMembers(ctx context.Context, corporationID int64) ([]string, error) {
	corp, err := s.store.Corporation(ctx, corporationID)
	if err != nil {
		return nil, err
	}
	holders, err := s.store.Shareholders(ctx, corporationID)
	if err != nil {
		return nil, err
	}
	return BoardMembers(corp, holders), nil
}

func (s *Service) CreateProposal(ctx context.Context, in CreateInput) (store.Proposal, error) {
	var out store.Proposal
	typ, err := ParseProposalType(in.Type)
	if err != nil {
		return out, err
	}
	payload, err := decodePayload(in.Data)
	if err != nil {
		return out, err
	}
	in.ProposerID = strings.TrimSpace(in.ProposerID)

	var members []string
	var corpName string
	now := s.now()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		corp, err := tx.LockCorporation(ctx, in.CorporationID)
		if err != nil {
			return err
		}
		holders, err := tx.LockShareholders(ctx, corp.ID)
		if err != nil {
			return err
		}
		members = BoardMembers(corp, holders)
		if !slices.Contains(members, in.ProposerID) {
			return ErrNotBoardMember
		}
		payload, err = validate(typ, payload, corp, holders, now)
		if err != nil {
			return err
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		out = store.Proposal{
			CorporationID: corp.ID,
			ProposerID:    in.ProposerID,
			Type:          string(typ),
			Data:          data,
			Status:        store.ProposalActive,
			CreatedAt:     now,
			ExpiresAt:     now.Add(s.expiry),
		}
		out.ID, err = tx.InsertProposal(ctx, out)
		corpName = corp.Name
		return err
	})
	if err != nil {
		return store.Proposal{}, err
	}

	s.log.Info("proposal created", "proposal_id", out.ID, "corporation_id", out.CorporationID, "type", out.Type)
	subject := fmt.Sprintf("New proposal #%d at %s", out.ID, corpName)
	body := fmt.Sprintf("%s proposed %s. Voting closes %s.", out.ProposerID, out.Type, out.ExpiresAt.UTC().Format(time.RFC3339))
	for _, m := range members {
		if m != out.ProposerID {
			s.send(ctx, m, subject, body)
		}
	}
	return out, nil
}

func ParseVote(v string) (store.VoteChoice, error) {
	switch c := store.VoteChoice(strings.ToLower(strings.TrimSpace(v))); c {
	case store.VoteAye, store.VoteNay:
		return c, nil
	default:
		return "", invalid("vote must be aye or nay")
	}
}

// CastVote records (or overwrites) a member's vote and resolves the proposal
// when the vote decides it.
func (s *Service) CastVote(ctx context.Context, proposalID int64, voterID, choice string) (Outcome, error) {
	var out Outcome
	vote, err := ParseVote(choice)
	if err != nil {
		return out, err
	}
	voterID = strings.TrimSpace(voterID)
	now := s.now()

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		out = Outcome{}
		p, err := tx.LockProposal(ctx, proposalID)
		if err != nil {
			return mapNotFound(err)
		}
		if p.Status != store.ProposalActive || !now.Before(p.ExpiresAt) {
			return ErrProposalClosed
		}
		corp, err := tx.LockCorporation(ctx, p.CorporationID)
		if err != nil {
			return err
		}
		holders, err := tx.LockShareholders(ctx, corp.ID)
		if err != nil {
			return err
		}
		members := BoardMembers(corp, holders)
		if !slices.Contains(members, voterID) {
			return ErrNotBoardMember
		}
		if err := tx.UpsertVote(ctx, store.Vote{ProposalID: p.ID, VoterID: voterID, Choice: vote, CastAt: now}); err != nil {
			return err
		}
		votes, err := tx.Votes(ctx, p.ID)
		if err != nil {
			return err
		}
		out.Tally = tally(votes, members)
		out.Proposal = p
		passed, decided := earlyOutcome(out.Tally, boardSize(corp), len(members))
		if !decided {
			return nil
		}
		return s.resolveTx(ctx, tx, &out, corp, holders, passed, now)
	})
	if err != nil {
		return Outcome{}, err
	}
	if out.Applied {
		s.announce(ctx, out)
	}
	return out, nil
}

// ResolveProposal closes a proposal by simple aye > nay. It is a no-op for a
// proposal that is no longer active, so a vote-time resolution and an expiry
// resolution never both apply effects.
func (s *Service) ResolveProposal(ctx context.Context, proposalID int64) (Outcome, error) {
	var out Outcome
	now := s.now()
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		out = Outcome{}
		p, err := tx.LockProposal(ctx, proposalID)
		if err != nil {
			return mapNotFound(err)
		}
		out.Proposal = p
		if p.Status != store.ProposalActive {
			out.Resolved = true
			out.Passed = p.Status == store.ProposalPassed
			return nil
		}
		corp, err := tx.LockCorporation(ctx, p.CorporationID)
		if err != nil {
			return err
		}
		holders, err := tx.LockShareholders(ctx, corp.ID)
		if err != nil {
			return err
		}
		votes, err := tx.Votes(ctx, p.ID)
		if err != nil {
			return err
		}
		out.Tally = tally(votes, BoardMembers(corp, holders))
		return s.resolveTx(ctx, tx, &out, corp, holders, out.Tally.Ayes > out.Tally.Nays, now)
	})
	if err != nil {
		return Outcome{}, err
	}
	if out.Applied {
		s.announce(ctx, out)
	}
	return out, nil
}

func (s *Service) GetExpiredActiveProposals(ctx context.Context) ([]store.Proposal, error) {
	return s.store.ExpiredActiveProposals(ctx, s.now())
}

// ResolveExpired resolves every expired active proposal. A failure is logged
// and does not stop the sweep.
func (s *Service) ResolveExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	expired, err := s.GetExpiredActiveProposals(ctx)
	if err != nil {
		return res, err
	}
	res.Expired = len(expired)
	for _, p := range expired {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := s.ResolveProposal(ctx, p.ID)
		if err != nil {
			res.Failed++
			s.log.Error("resolve expired proposal failed", "proposal_id", p.ID, "corporation_id", p.CorporationID, "err", err)
			continue
		}
		if out.Applied {
			res.Resolved++
		}
	}
	return res, nil
}

func (s *Service) resolveTx(ctx context.Context, tx store.Tx, out *Outcome, corp store.Corporation, holders []store.Shareholder, passed bool, now time.Time) error {
	p := out.Proposal
	p.Status = store.ProposalFailed
	if passed {
		p.Status = store.ProposalPassed
	}
	p.ResolvedAt = &now
	if err := tx.SaveProposal(ctx, p); err != nil {
		return err
	}
	if passed {
		var err error
		corp, err = s.applyEffects(ctx, tx, p, corp, holders, now)
		if err != nil {
			return fmt.Errorf("apply %s: %w", p.Type, err)
		}
	}
	fresh, err := tx.LockShareholders(ctx, corp.ID)
	if err != nil {
		return err
	}
	out.Proposal = p
	out.Resolved = true
	out.Passed = passed
	out.Applied = true
	out.members = BoardMembers(corp, fresh)
	out.corpName = corp.Name
	return nil
}

func (s *Service) applyEffects(ctx context.Context, tx store.Tx, p store.Proposal, corp store.Corporation, holders []store.Shareholder, now time.Time) (store.Corporation, error) {
	payload, err := decodePayload(p.Data)
	if err != nil {
		return corp, err
	}
	purge := false
	switch ProposalType(p.Type) {
	case ProposalCEONomination:
		corp.ElectedCEOID = payload.NomineeID
		purge = true
	case ProposalSectorChange:
		corp.Sector = economy.Sector(payload.Sector)
	case ProposalHQChange:
		corp.HQState = payload.State
	case ProposalBoardSize:
		corp.BoardSize = payload.BoardSize
		purge = true
	case ProposalCEOSalary:
		if payload.Salary != nil {
			corp.CEOSalary = *payload.Salary
		}
	case ProposalDividendChange:
		if payload.Percentage != nil {
			corp.DividendPercentage = *payload.Percentage
		}
	case ProposalFocusChange:
		corp.Focus = payload.Focus
	case ProposalSpecialDiv:
		corp, err = s.paySpecialDividend(ctx, tx, corp, holders, payload.Amount, now)
		if err != nil {
			return corp, err
		}
	case ProposalStockSplit:
		corp, err = splitStock(ctx, tx, corp, holders)
		if err != nil {
			return corp, err
		}
	default:
		return corp, invalid("unknown proposal type %q", p.Type)
	}
	if err := tx.SaveCorporation(ctx, corp); err != nil {
		return corp, err
	}
	if purge {
		current, err := tx.LockShareholders(ctx, corp.ID)
		if err != nil {
			return corp, err
		}
		n, err := tx.PurgeVotes(ctx, corp.ID, BoardMembers(corp, current))
		if err != nil {
			return corp, err
		}
		if n > 0 {
			s.log.Info("purged votes of former board members", "corporation_id", corp.ID, "votes", n)
		}
	}
	return corp, nil
}

// paySpecialDividend distributes amount pro rata over shareholders. If the
// capital no longer covers it the payout is skipped and the proposal still
// passes.
func (s *Service) paySpecialDividend(ctx context.Context, tx store.Tx, corp store.Corporation, holders []store.Shareholder, amount float64, now time.Time) (store.Corporation, error) {
	var total int64
	for _, h := range holders {
		total += h.Shares
	}
	if total <= 0 {
		s.log.Warn("special dividend skipped, no shareholders", "corporation_id", corp.ID)
		return corp, nil
	}
	if amount > corp.Capital {
		s.log.Warn("special dividend skipped", "corporation_id", corp.ID, "amount", amount, "capital", corp.Capital, "err", store.ErrInsufficientFunds)
		return corp, nil
	}
	ledger := store.NewLedger(tx, now)
	for _, h := range holders {
		payout := amount * float64(h.Shares) / float64(total)
		if err := tx.CreditPlayer(ctx, h.UserID, payout); err != nil {
			return corp, err
		}
		if err := ledger.Record(ctx, corp.ID, h.UserID, store.TxSpecialDividend, -payout, ""); err != nil {
			return corp, err
		}
	}
	corp.Capital -= amount
	corp.LastSpecialDividendAt = now
	return corp, nil
}

// splitStock doubles every position and the public float and halves the
// price. Shares are recomputed from the holder rows.
func splitStock(ctx context.Context, tx store.Tx, corp store.Corporation, holders []store.Shareholder) (store.Corporation, error) {
	var held int64
	for _, h := range holders {
		next := h.Shares * 2
		if err := tx.SetShareholding(ctx, corp.ID, h.UserID, next); err != nil {
			return corp, err
		}
		held += next
	}
	corp.PublicShares *= 2
	corp.Shares = held + corp.PublicShares
	corp.SharePrice = math.Max(0.01, corp.SharePrice/2)
	return corp, nil
}

func (s *Service) announce(ctx context.Context, out Outcome) {
	verdict := "failed"
	if out.Passed {
		verdict = "passed"
	}
	s.log.Info("proposal resolved", "proposal_id", out.Proposal.ID, "corporation_id", out.Proposal.CorporationID,
		"status", out.Proposal.Status, "ayes", out.Tally.Ayes, "nays", out.Tally.Nays)
	subject := fmt.Sprintf("Proposal #%d %s", out.Proposal.ID, verdict)
	body := fmt.Sprintf("%s: %s %s with %d aye and %d nay.", out.corpName, out.Proposal.Type, verdict, out.Tally.Ayes, out.Tally.Nays)
	for _, m := range out.members {
		s.send(ctx, m, subject, body)
	}
}

func (s *Service) send(ctx context.Context, userID, subject, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, subject, body); err != nil {
		s.log.Warn("notify failed", "user_id", userID, "err", err)
	}
}
