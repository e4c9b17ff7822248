package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"corpsim/internal/store"
)

var (
	ErrUnknownAction = errors.New("unknown corporate action")
	ErrNotCEO        = errors.New("only the elected CEO can activate corporate actions")
)

// PointCap is the most action points a player can bank.
const PointCap = 24

// Definition is one activatable corporate action.
type Definition struct {
	Type     string        `json:"type"`
	Cost     float64       `json:"cost"`
	Duration time.Duration `json:"duration"`
}

var Catalog = []Definition{
	{Type: "marketing_campaign", Cost: 50_000, Duration: 4 * time.Hour},
	{Type: "research_initiative", Cost: 75_000, Duration: 6 * time.Hour},
	{Type: "supply_chain_optimization", Cost: 100_000, Duration: 8 * time.Hour},
}

func Lookup(actionType string) (Definition, error) {
	t := strings.ToLower(strings.TrimSpace(actionType))
	for _, d := range Catalog {
		if d.Type == t {
			return d, nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
}

type Service struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, log: logger, now: time.Now}
}

// Activate starts an action for a corporation. The CEO spends one action
// point and the corporation pays the cost from capital. Only one instance of
// a type may be active at a time.
func (s *Service) Activate(ctx context.Context, corporationID int64, userID, actionType string) (store.CorporateAction, error) {
	var out store.CorporateAction
	def, err := Lookup(actionType)
	if err != nil {
		return out, err
	}
	now := s.now()
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		corp, err := tx.LockCorporation(ctx, corporationID)
		if err != nil {
			return err
		}
		if corp.ElectedCEOID == "" || corp.ElectedCEOID != userID {
			return ErrNotCEO
		}
		if _, active, err := tx.ActiveAction(ctx, corp.ID, def.Type, now); err != nil {
			return err
		} else if active {
			return fmt.Errorf("%w: %s", store.ErrActionActive, def.Type)
		}
		if corp.Capital < def.Cost {
			return fmt.Errorf("%w: %s costs %.2f, capital %.2f", store.ErrInsufficientFunds, def.Type, def.Cost, corp.Capital)
		}
		if err := tx.SpendActionPoint(ctx, userID); err != nil {
			return err
		}
		corp.Capital -= def.Cost
		if err := tx.SaveCorporation(ctx, corp); err != nil {
			return err
		}
		out = store.CorporateAction{
			CorporationID: corp.ID,
			Type:          def.Type,
			Cost:          def.Cost,
			CreatedAt:     now,
			ExpiresAt:     now.Add(def.Duration),
		}
		if out.ID, err = tx.InsertAction(ctx, out); err != nil {
			return err
		}
		return store.NewLedger(tx, now).Record(ctx, corp.ID, userID, store.TxCorporateAction, -def.Cost, def.Type)
	})
	if err != nil {
		return store.CorporateAction{}, err
	}
	s.log.Info("corporate action activated", "corporation_id", corporationID, "type", def.Type, "expires_at", out.ExpiresAt)
	return out, nil
}

// Accrue grants every player one action point up to PointCap and removes
// expired actions.
func (s *Service) Accrue(ctx context.Context) (accrued, expired int64, err error) {
	accrued, err = s.store.AccrueActionPoints(ctx, PointCap)
	if err != nil {
		return 0, 0, fmt.Errorf("accrue action points: %w", err)
	}
	expired, err = s.store.DeleteExpiredActions(ctx, s.now())
	if err != nil {
		return accrued, 0, fmt.Errorf("expire actions: %w", err)
	}
	return accrued, expired, nil
}
