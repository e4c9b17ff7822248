package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"corpsim/internal/economy"
)

type memState struct {
	nextID       int64
	corporations map[int64]Corporation
	shareholders map[int64]map[string]int64
	entries      map[int64]MarketEntry
	units        map[int64]map[economy.UnitType]int64
	players      map[string]Player
	actions      map[int64]CorporateAction
	proposals    map[int64]Proposal
	votes        map[int64]map[string]Vote
	shareTrades  []ShareTransaction
	transactions []CorporateTransaction
	prices       []PricePoint
	sharePrices  []SharePricePoint
	ticks        map[string]struct{}
}

func newMemState() *memState {
	return &memState{
		corporations: map[int64]Corporation{},
		shareholders: map[int64]map[string]int64{},
		entries:      map[int64]MarketEntry{},
		units:        map[int64]map[economy.UnitType]int64{},
		players:      map[string]Player{},
		actions:      map[int64]CorporateAction{},
		proposals:    map[int64]Proposal{},
		votes:        map[int64]map[string]Vote{},
		ticks:        map[string]struct{}{},
	}
}

func (s *memState) clone() *memState {
	out := &memState{
		nextID:       s.nextID,
		corporations: maps.Clone(s.corporations),
		shareholders: make(map[int64]map[string]int64, len(s.shareholders)),
		entries:      maps.Clone(s.entries),
		units:        make(map[int64]map[economy.UnitType]int64, len(s.units)),
		players:      maps.Clone(s.players),
		actions:      maps.Clone(s.actions),
		proposals:    make(map[int64]Proposal, len(s.proposals)),
		votes:        make(map[int64]map[string]Vote, len(s.votes)),
		shareTrades:  slices.Clone(s.shareTrades),
		transactions: slices.Clone(s.transactions),
		prices:       slices.Clone(s.prices),
		sharePrices:  slices.Clone(s.sharePrices),
		ticks:        maps.Clone(s.ticks),
	}
	for k, v := range s.shareholders {
		out.shareholders[k] = maps.Clone(v)
	}
	for k, v := range s.units {
		out.units[k] = maps.Clone(v)
	}
	for k, v := range s.proposals {
		v.Data = slices.Clone(v.Data)
		out.proposals[k] = v
	}
	for k, v := range s.votes {
		out.votes[k] = maps.Clone(v)
	}
	return out
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// Memory is an in-process Store. Transactions run one at a time against a
// copy of the state that replaces the committed state only when fn succeeds.
type Memory struct {
	txMu sync.Mutex

	mu    sync.RWMutex
	state *memState
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{state: newMemState(), now: time.Now}
}

func (m *Memory) read() *memState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// write runs fn against a private copy and commits it on success.
func (m *Memory) write(fn func(*memState) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	next := m.read().clone()
	if err := fn(next); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
	return nil
}

func (m *Memory) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.write(func(s *memState) error {
		return fn(&memTx{s: s})
	})
}

func (m *Memory) Corporation(_ context.Context, id int64) (Corporation, error) {
	c, ok := m.read().corporations[id]
	if !ok {
		return Corporation{}, fmt.Errorf("corporation %d: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *Memory) Corporations(context.Context) ([]Corporation, error) {
	s := m.read()
	out := make([]Corporation, 0, len(s.corporations))
	for _, c := range s.corporations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Shareholders(_ context.Context, corporationID int64) ([]Shareholder, error) {
	return shareholdersOf(m.read(), corporationID), nil
}

func shareholdersOf(s *memState, corporationID int64) []Shareholder {
	out := make([]Shareholder, 0, len(s.shareholders[corporationID]))
	for user, shares := range s.shareholders[corporationID] {
		out = append(out, Shareholder{CorporationID: corporationID, UserID: user, Shares: shares})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Shares == out[j].Shares {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Shares > out[j].Shares
	})
	return out
}

func (m *Memory) Player(_ context.Context, userID string) (Player, error) {
	p, ok := m.read().players[userID]
	if !ok {
		return Player{}, fmt.Errorf("player %q: %w", userID, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) CorporationUnits(_ context.Context, corporationID int64) (economy.SectorUnits, error) {
	return m.unitsWhere(func(e MarketEntry) bool { return e.CorporationID == corporationID })[corporationID], nil
}

func (m *Memory) AllCorporationUnits(context.Context) (map[int64]economy.SectorUnits, error) {
	return m.unitsWhere(func(MarketEntry) bool { return true }), nil
}

func (m *Memory) unitsWhere(keep func(MarketEntry) bool) map[int64]economy.SectorUnits {
	s := m.read()
	out := map[int64]economy.SectorUnits{}
	for id, e := range s.entries {
		if !keep(e) {
			continue
		}
		row, ok := out[e.CorporationID]
		if !ok {
			row = economy.SectorUnits{}
			out[e.CorporationID] = row
		}
		for u, n := range s.units[id] {
			row.Add(e.Sector, u, n)
		}
	}
	return out
}

func (m *Memory) NationalUnitCounts(context.Context) (economy.SectorUnits, error) {
	s := m.read()
	out := economy.SectorUnits{}
	for id, e := range s.entries {
		for u, n := range s.units[id] {
			out.Add(e.Sector, u, n)
		}
	}
	return out, nil
}

func (m *Memory) ShareTransactionsSince(_ context.Context, corporationID int64, since time.Time) ([]ShareTransaction, error) {
	var out []ShareTransaction
	for _, t := range m.read().shareTrades {
		if t.CorporationID == corporationID && !t.At.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) ActiveActions(_ context.Context, corporationID int64, now time.Time) ([]CorporateAction, error) {
	var out []CorporateAction
	for _, a := range m.read().actions {
		if a.CorporationID == corporationID && a.ExpiresAt.After(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ActiveActionCounts(_ context.Context, now time.Time) (map[int64]int, error) {
	out := map[int64]int{}
	for _, a := range m.read().actions {
		if a.ExpiresAt.After(now) {
			out[a.CorporationID]++
		}
	}
	return out, nil
}

func (m *Memory) Proposal(_ context.Context, id int64) (Proposal, error) {
	p, ok := m.read().proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("proposal %d: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) ExpiredActiveProposals(_ context.Context, now time.Time) ([]Proposal, error) {
	var out []Proposal
	for _, p := range m.read().proposals {
		if p.Status == ProposalActive && !p.ExpiresAt.After(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Votes(_ context.Context, proposalID int64) ([]Vote, error) {
	return votesOf(m.read(), proposalID), nil
}

func votesOf(s *memState, proposalID int64) []Vote {
	out := make([]Vote, 0, len(s.votes[proposalID]))
	for _, v := range s.votes[proposalID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out
}

func (m *Memory) Transactions(_ context.Context, corporationID int64, limit int) ([]CorporateTransaction, error) {
	var out []CorporateTransaction
	txs := m.read().transactions
	for i := len(txs) - 1; i >= 0; i-- {
		if txs[i].CorporationID != corporationID {
			continue
		}
		out = append(out, txs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) PriceHistory(_ context.Context, kind economy.Kind, name string, limit int) ([]PricePoint, error) {
	var out []PricePoint
	points := m.read().prices
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].Kind != kind || points[i].Name != name {
			continue
		}
		out = append(out, points[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) SharePriceHistory(_ context.Context, corporationID int64, limit int) ([]SharePricePoint, error) {
	var out []SharePricePoint
	points := m.read().sharePrices
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].CorporationID != corporationID {
			continue
		}
		out = append(out, points[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) AppendPriceHistory(_ context.Context, points []PricePoint) error {
	return m.write(func(s *memState) error {
		s.prices = append(s.prices, points...)
		return nil
	})
}

func (m *Memory) AppendSharePriceHistory(_ context.Context, points []SharePricePoint) error {
	return m.write(func(s *memState) error {
		s.sharePrices = append(s.sharePrices, points...)
		return nil
	})
}

func tickKey(kind string, bucket time.Time) string {
	return kind + "@" + bucket.UTC().Format(time.RFC3339)
}

func (m *Memory) ClaimTick(_ context.Context, kind string, bucket time.Time) (bool, error) {
	key := tickKey(kind, bucket)
	claimed := false
	err := m.write(func(s *memState) error {
		if _, ok := s.ticks[key]; ok {
			return nil
		}
		s.ticks[key] = struct{}{}
		claimed = true
		return nil
	})
	return claimed, err
}

func (m *Memory) ReleaseTick(_ context.Context, kind string, bucket time.Time) error {
	return m.write(func(s *memState) error {
		delete(s.ticks, tickKey(kind, bucket))
		return nil
	})
}

func (m *Memory) AccrueActionPoints(_ context.Context, limit int) (int64, error) {
	var n int64
	err := m.write(func(s *memState) error {
		for id, p := range s.players {
			if p.ActionPoints < limit {
				p.ActionPoints++
				s.players[id] = p
				n++
			}
		}
		return nil
	})
	return n, err
}

func (m *Memory) DeleteExpiredActions(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := m.write(func(s *memState) error {
		for id, a := range s.actions {
			if !a.ExpiresAt.After(now) {
				delete(s.actions, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// Seeding helpers. These stand in for the founding, market-entry and trading
// flows that live outside the simulation core.

func (m *Memory) AddCorporation(c Corporation) int64 {
	var id int64
	_ = m.write(func(s *memState) error {
		if c.ID == 0 {
			c.ID = s.id()
		} else if c.ID > s.nextID {
			s.nextID = c.ID
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = m.now()
		}
		s.corporations[c.ID] = c
		id = c.ID
		return nil
	})
	return id
}

func (m *Memory) AddPlayer(p Player) {
	_ = m.write(func(s *memState) error {
		s.players[p.UserID] = p
		return nil
	})
}

// SetShareholding sets a position outside a transaction and registers the
// holder as a player.
func (m *Memory) SetShareholding(corporationID int64, userID string, shares int64) {
	_ = m.write(func(s *memState) error {
		setShareholding(s, corporationID, userID, shares)
		if _, ok := s.players[userID]; !ok {
			s.players[userID] = Player{UserID: userID}
		}
		return nil
	})
}

// AddUnits enters the corporation into (state, sector) if needed and adds
// count units of the given type. The row is removed when it reaches zero.
func (m *Memory) AddUnits(corporationID int64, state string, sector economy.Sector, unitType economy.UnitType, count int64) {
	_ = m.write(func(s *memState) error {
		var entryID int64
		for id, e := range s.entries {
			if e.CorporationID == corporationID && e.State == state && e.Sector == sector {
				entryID = id
				break
			}
		}
		if entryID == 0 {
			entryID = s.id()
			s.entries[entryID] = MarketEntry{ID: entryID, CorporationID: corporationID, State: state, Sector: sector}
			s.units[entryID] = map[economy.UnitType]int64{}
		}
		next := s.units[entryID][unitType] + count
		if next <= 0 {
			delete(s.units[entryID], unitType)
			return nil
		}
		s.units[entryID][unitType] = next
		return nil
	})
}

func (m *Memory) AddShareTransaction(t ShareTransaction) {
	_ = m.write(func(s *memState) error {
		t.ID = s.id()
		s.shareTrades = append(s.shareTrades, t)
		return nil
	})
}

func (m *Memory) AddAction(a CorporateAction) int64 {
	var id int64
	_ = m.write(func(s *memState) error {
		a.ID = s.id()
		s.actions[a.ID] = a
		id = a.ID
		return nil
	})
	return id
}

func setShareholding(s *memState, corporationID int64, userID string, shares int64) {
	row, ok := s.shareholders[corporationID]
	if !ok {
		row = map[string]int64{}
		s.shareholders[corporationID] = row
	}
	if shares <= 0 {
		delete(row, userID)
		return
	}
	row[userID] = shares
}

type memTx struct {
	s *memState
}

func (t *memTx) LockCorporation(_ context.Context, id int64) (Corporation, error) {
	c, ok := t.s.corporations[id]
	if !ok {
		return Corporation{}, fmt.Errorf("corporation %d: %w", id, ErrNotFound)
	}
	return c, nil
}

func (t *memTx) SaveCorporation(_ context.Context, c Corporation) error {
	if _, ok := t.s.corporations[c.ID]; !ok {
		return fmt.Errorf("corporation %d: %w", c.ID, ErrNotFound)
	}
	t.s.corporations[c.ID] = c
	return nil
}

func (t *memTx) LockShareholders(_ context.Context, corporationID int64) ([]Shareholder, error) {
	return shareholdersOf(t.s, corporationID), nil
}

func (t *memTx) SetShareholding(_ context.Context, corporationID int64, userID string, shares int64) error {
	if shares < 0 {
		return fmt.Errorf("shares must be >= 0")
	}
	setShareholding(t.s, corporationID, userID, shares)
	return nil
}

func (t *memTx) CreditPlayer(_ context.Context, userID string, amount float64) error {
	p, ok := t.s.players[userID]
	if !ok {
		p = Player{UserID: userID}
	}
	p.Cash += amount
	t.s.players[userID] = p
	return nil
}

func (t *memTx) SpendActionPoint(_ context.Context, userID string) error {
	p, ok := t.s.players[userID]
	if !ok {
		return fmt.Errorf("player %q: %w", userID, ErrNotFound)
	}
	if p.ActionPoints <= 0 {
		return ErrNoActionPoints
	}
	p.ActionPoints--
	t.s.players[userID] = p
	return nil
}

func (t *memTx) RecordTransaction(_ context.Context, ct CorporateTransaction) error {
	ct.ID = t.s.id()
	t.s.transactions = append(t.s.transactions, ct)
	return nil
}

func (t *memTx) ActiveAction(_ context.Context, corporationID int64, actionType string, now time.Time) (CorporateAction, bool, error) {
	for _, a := range t.s.actions {
		if a.CorporationID == corporationID && a.Type == actionType && a.ExpiresAt.After(now) {
			return a, true, nil
		}
	}
	return CorporateAction{}, false, nil
}

func (t *memTx) InsertAction(_ context.Context, a CorporateAction) (int64, error) {
	a.ID = t.s.id()
	t.s.actions[a.ID] = a
	return a.ID, nil
}

func (t *memTx) InsertProposal(_ context.Context, p Proposal) (int64, error) {
	p.ID = t.s.id()
	p.Data = slices.Clone(p.Data)
	t.s.proposals[p.ID] = p
	return p.ID, nil
}

func (t *memTx) LockProposal(_ context.Context, id int64) (Proposal, error) {
	p, ok := t.s.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("proposal %d: %w", id, ErrNotFound)
	}
	return p, nil
}

func (t *memTx) SaveProposal(_ context.Context, p Proposal) error {
	if _, ok := t.s.proposals[p.ID]; !ok {
		return fmt.Errorf("proposal %d: %w", p.ID, ErrNotFound)
	}
	t.s.proposals[p.ID] = p
	return nil
}

func (t *memTx) UpsertVote(_ context.Context, v Vote) error {
	row, ok := t.s.votes[v.ProposalID]
	if !ok {
		row = map[string]Vote{}
		t.s.votes[v.ProposalID] = row
	}
	row[v.VoterID] = v
	return nil
}

func (t *memTx) Votes(_ context.Context, proposalID int64) ([]Vote, error) {
	return votesOf(t.s, proposalID), nil
}

func (t *memTx) PurgeVotes(_ context.Context, corporationID int64, keep []string) (int64, error) {
	var n int64
	for id, p := range t.s.proposals {
		if p.CorporationID != corporationID || p.Status != ProposalActive {
			continue
		}
		for voter := range t.s.votes[id] {
			if !slices.Contains(keep, voter) {
				delete(t.s.votes[id], voter)
				n++
			}
		}
	}
	return n, nil
}
