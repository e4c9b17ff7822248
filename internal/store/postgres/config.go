package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"corpsim/internal/economy"
	"corpsim/internal/store"
)

// ConfigStore keeps the economic catalog as one versioned JSONB document.
// Until an admin edit is saved the seed catalog is served.
type ConfigStore struct {
	s    *Store
	seed *economy.Catalog
}

var _ economy.ConfigStore = (*ConfigStore)(nil)

func NewConfigStore(s *Store, seed *economy.Catalog) *ConfigStore {
	if seed == nil {
		seed = economy.DefaultCatalog()
	}
	return &ConfigStore{s: s, seed: seed}
}

func versionToken(v int64) string {
	return "db-" + strconv.FormatInt(v, 10)
}

func (c *ConfigStore) ConfigVersion(ctx context.Context) (string, error) {
	var v int64
	err := c.s.db.QueryRow(ctx, `SELECT version FROM corpsim.economic_config WHERE id = 1`).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return c.seed.Version, nil
	}
	if err != nil {
		return "", err
	}
	return versionToken(v), nil
}

func (c *ConfigStore) FullConfiguration(ctx context.Context) (*economy.Catalog, error) {
	var (
		v   int64
		doc []byte
	)
	err := c.s.db.QueryRow(ctx, `SELECT version, document FROM corpsim.economic_config WHERE id = 1`).Scan(&v, &doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return c.seed.Clone(), nil
	}
	if err != nil {
		return nil, err
	}
	var cat economy.Catalog
	if err := json.Unmarshal(doc, &cat); err != nil {
		return nil, fmt.Errorf("decode economic config: %w", err)
	}
	cat.Version = versionToken(v)
	return &cat, nil
}

// Update applies an admin edit under a row lock and bumps the version.
func (c *ConfigStore) Update(ctx context.Context, fn func(*economy.Catalog) error) error {
	retry := func() error {
		tx, err := c.s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var (
			v   int64
			doc []byte
		)
		cat := c.seed.Clone()
		err = tx.QueryRow(ctx, `SELECT version, document FROM corpsim.economic_config WHERE id = 1 FOR UPDATE`).Scan(&v, &doc)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			cat = &economy.Catalog{}
			if err := json.Unmarshal(doc, cat); err != nil {
				return fmt.Errorf("decode economic config: %w", err)
			}
		}
		if err := fn(cat); err != nil {
			return err
		}
		if err := cat.Validate(); err != nil {
			return err
		}
		cat.Version = versionToken(v + 1)
		next, err := json.Marshal(cat)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO corpsim.economic_config (id, version, document, updated_at)
			VALUES (1, $1, $2::jsonb, now())
			ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, document = EXCLUDED.document, updated_at = now()
		`, v+1, string(next)); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	delay := firstRetry
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := retry()
		if err == nil || !isSerializationError(err) {
			return err
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		if delay < maxRetryDelay {
			delay *= 2
		}
	}
	return store.ErrTxConflict
}
