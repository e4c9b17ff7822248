package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpsim/internal/economy"
)

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddCorporation(Corporation{Name: "Acme", Capital: 100})

	boom := errors.New("boom")
	err := m.InTx(ctx, func(tx Tx) error {
		c, err := tx.LockCorporation(ctx, id)
		require.NoError(t, err)
		c.Capital = 0
		require.NoError(t, tx.SaveCorporation(ctx, c))
		require.NoError(t, tx.RecordTransaction(ctx, CorporateTransaction{CorporationID: id, Kind: TxRevenue, Amount: -100}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	c, err := m.Corporation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, c.Capital)
	txs, err := m.Transactions(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestLedgerGroupsLines(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddCorporation(Corporation{Name: "Acme"})

	var group string
	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		l := NewLedger(tx, time.Now())
		group = l.GroupID()
		if err := l.Record(ctx, id, "", TxRevenue, 10, ""); err != nil {
			return err
		}
		return l.Record(ctx, id, "", TxOperatingCost, -4, "")
	}))
	txs, err := m.Transactions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, ct := range txs {
		assert.Equal(t, group, ct.GroupID)
	}
	assert.Equal(t, TxOperatingCost, txs[0].Kind, "newest first")
}

func TestClaimTickOncePerBucket(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	at := time.Date(2026, 3, 1, 10, 42, 0, 0, time.UTC)

	ok, err := m.ClaimTick(ctx, "hourly", Bucket(at, time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.ClaimTick(ctx, "hourly", Bucket(at.Add(10*time.Minute), time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = m.ClaimTick(ctx, "snapshot", Bucket(at, 10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.ReleaseTick(ctx, "hourly", Bucket(at, time.Hour)))
	ok, err = m.ClaimTick(ctx, "hourly", Bucket(at, time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "released bucket can be claimed again")
}

func TestShareholdingZeroRemovesRow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddCorporation(Corporation{Name: "Acme"})
	m.SetShareholding(id, "alice", 10)
	m.SetShareholding(id, "bob", 30)

	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		return tx.SetShareholding(ctx, id, "alice", 0)
	}))
	holders, err := m.Shareholders(ctx, id)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, "bob", holders[0].UserID)
}

func TestUnitCounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := m.AddCorporation(Corporation{Name: "A"})
	b := m.AddCorporation(Corporation{Name: "B"})
	m.AddUnits(a, "CA", economy.SectorEnergy, economy.UnitProduction, 4)
	m.AddUnits(a, "TX", economy.SectorEnergy, economy.UnitProduction, 6)
	m.AddUnits(b, "TX", economy.SectorMining, economy.UnitExtraction, 2)
	m.AddUnits(b, "TX", economy.SectorMining, economy.UnitExtraction, -2)
	m.AddUnits(b, "NV", economy.SectorMining, economy.UnitExtraction, 3)

	national, err := m.NationalUnitCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), national[economy.SectorEnergy][economy.UnitProduction])
	assert.Equal(t, int64(3), national[economy.SectorMining][economy.UnitExtraction])

	all, err := m.AllCorporationUnits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), all[a][economy.SectorEnergy][economy.UnitProduction])
	assert.Equal(t, int64(3), all[b][economy.SectorMining][economy.UnitExtraction])

	own, err := m.CorporationUnits(ctx, b)
	require.NoError(t, err)
	assert.NotContains(t, own, economy.SectorEnergy)
}

func TestPurgeVotesOnlyTouchesActiveProposals(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	corp := m.AddCorporation(Corporation{Name: "Acme"})

	var active, closed int64
	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		var err error
		if active, err = tx.InsertProposal(ctx, Proposal{CorporationID: corp, Status: ProposalActive}); err != nil {
			return err
		}
		if closed, err = tx.InsertProposal(ctx, Proposal{CorporationID: corp, Status: ProposalPassed}); err != nil {
			return err
		}
		for _, pid := range []int64{active, closed} {
			for _, voter := range []string{"alice", "bob", "carol"} {
				if err := tx.UpsertVote(ctx, Vote{ProposalID: pid, VoterID: voter, Choice: VoteAye}); err != nil {
					return err
				}
			}
		}
		n, err := tx.PurgeVotes(ctx, corp, []string{"alice"})
		assert.Equal(t, int64(2), n)
		return err
	}))

	votes, err := m.Votes(ctx, active)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "alice", votes[0].VoterID)
	votes, err = m.Votes(ctx, closed)
	require.NoError(t, err)
	assert.Len(t, votes, 3)
}

func TestAccrueAndExpire(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddPlayer(Player{UserID: "alice", ActionPoints: 23})
	m.AddPlayer(Player{UserID: "bob", ActionPoints: 24})

	n, err := m.AccrueActionPoints(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	p, _ := m.Player(ctx, "alice")
	assert.Equal(t, 24, p.ActionPoints)

	now := time.Now()
	corp := m.AddCorporation(Corporation{Name: "Acme"})
	m.AddAction(CorporateAction{CorporationID: corp, Type: "a", ExpiresAt: now.Add(-time.Minute)})
	m.AddAction(CorporateAction{CorporationID: corp, Type: "b", ExpiresAt: now.Add(time.Hour)})

	counts, err := m.ActiveActionCounts(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[corp])

	gone, err := m.DeleteExpiredActions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gone)
}
