package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpsim/internal/economy"
	"corpsim/internal/store"
)

func TestIsSerializationError(t *testing.T) {
	assert.True(t, isSerializationError(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isSerializationError(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})))
	assert.False(t, isSerializationError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isSerializationError(errors.New("boom")))
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepWithContext(ctx, time.Hour), context.Canceled)
}

// The tests below need a scratch database:
// CORPSIM_TEST_DATABASE_URL=postgres://localhost/corpsim_test go test ./internal/store/postgres
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("CORPSIM_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CORPSIM_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url, PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE corpsim.corporations, corpsim.players, corpsim.tick_runs,
		corpsim.price_history, corpsim.economic_config RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return New(pool, nil)
}

func TestTransactionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO corpsim.corporations (name, sector, capital, shares, public_shares, share_price)
		VALUES ('Acme', 'Technology', 1000, 100, 10, 5) RETURNING id
	`).Scan(&id)
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx store.Tx) error {
		corp, err := tx.LockCorporation(ctx, id)
		if err != nil {
			return err
		}
		corp.Capital += 250
		corp.ElectedCEOID = "ceo"
		if err := tx.SetShareholding(ctx, id, "ceo", 90); err != nil {
			return err
		}
		if err := tx.SaveCorporation(ctx, corp); err != nil {
			return err
		}
		return store.NewLedger(tx, time.Now()).Record(ctx, id, "", store.TxRevenue, 250, "")
	})
	require.NoError(t, err)

	corp, err := s.Corporation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1250.0, corp.Capital)
	assert.Equal(t, "ceo", corp.ElectedCEOID)
	assert.True(t, corp.LastSpecialDividendAt.IsZero())

	holders, err := s.Shareholders(ctx, id)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, int64(90), holders[0].Shares)

	txs, err := s.Transactions(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Empty(t, txs[0].UserID)

	_, err = s.Corporation(ctx, id+1000)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClaimTickOncePerBucket(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	bucket := store.Bucket(time.Now(), time.Hour)

	ok, err := s.ClaimTick(ctx, "hourly", bucket)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ClaimTick(ctx, "hourly", bucket)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseTick(ctx, "hourly", bucket))
	ok, err = s.ClaimTick(ctx, "hourly", bucket)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConfigStoreVersions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cs := NewConfigStore(s, nil)

	v, err := cs.ConfigVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, economy.DefaultCatalog().Version, v)

	require.NoError(t, cs.Update(ctx, func(c *economy.Catalog) error {
		return c.SetUnitConfig(economy.UnitConfig{Sector: economy.SectorTechnology, UnitType: economy.UnitRetail, BaseRevenue: 99, BaseCost: 1})
	}))
	v, err = cs.ConfigVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "db-1", v)

	cat, err := cs.FullConfiguration(ctx)
	require.NoError(t, err)
	uc, ok := cat.UnitConfig(economy.SectorTechnology, economy.UnitRetail)
	require.True(t, ok)
	assert.Equal(t, 99.0, uc.BaseRevenue)
}
