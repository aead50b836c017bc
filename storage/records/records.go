package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	"stablevault/native/liquidation"
)

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("records storage path must be configured")

const schema = `
CREATE TABLE IF NOT EXISTS liquidations (
    id          TEXT PRIMARY KEY,
    vault_id    INTEGER NOT NULL,
    liquidator  TEXT NOT NULL,
    debt_repaid TEXT NOT NULL,
    seized      TEXT NOT NULL,
    bonus_value TEXT NOT NULL,
    occurred_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS liquidations_vault ON liquidations(vault_id, occurred_at);
`

// Store is the append-only liquidation audit trail backed by sqlite. Rows are
// only ever inserted; there is no update or delete path.
type Store struct {
	db *sql.DB
}

// Open initialises the backing store using a sqlite-compatible DSN. Use
// ":memory:" for tests.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append persists one settled liquidation.
func (s *Store) Append(ctx context.Context, record liquidation.Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("records storage not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("record id required")
	}
	seized, err := json.Marshal(encodeAmounts(record.Seized))
	if err != nil {
		return fmt.Errorf("encode seized collateral: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO liquidations(id, vault_id, liquidator, debt_repaid, seized, bonus_value, occurred_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, record.ID, record.VaultID, record.Liquidator,
		amountString(record.DebtRepaid), string(seized), amountString(record.BonusValue),
		record.Timestamp.UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert liquidation: %w", err)
	}
	return nil
}

// List returns the most recent liquidations, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]liquidation.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("records storage not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, vault_id, liquidator, debt_repaid, seized, bonus_value, occurred_at
        FROM liquidations
        ORDER BY occurred_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query liquidations: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListByVault returns every liquidation recorded against the vault, oldest
// first.
func (s *Store) ListByVault(ctx context.Context, vaultID uint64) ([]liquidation.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("records storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, vault_id, liquidator, debt_repaid, seized, bonus_value, occurred_at
        FROM liquidations
        WHERE vault_id = ?
        ORDER BY occurred_at ASC, id ASC
    `, vaultID)
	if err != nil {
		return nil, fmt.Errorf("query vault liquidations: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]liquidation.Record, error) {
	var records []liquidation.Record
	for rows.Next() {
		var (
			record   liquidation.Record
			repaid   string
			seized   string
			bonus    string
			occurred int64
		)
		if err := rows.Scan(&record.ID, &record.VaultID, &record.Liquidator, &repaid, &seized, &bonus, &occurred); err != nil {
			return nil, fmt.Errorf("scan liquidation: %w", err)
		}
		var err error
		if record.DebtRepaid, err = parseAmount(repaid); err != nil {
			return nil, err
		}
		if record.BonusValue, err = parseAmount(bonus); err != nil {
			return nil, err
		}
		var encoded map[string]string
		if err := json.Unmarshal([]byte(seized), &encoded); err != nil {
			return nil, fmt.Errorf("decode seized collateral: %w", err)
		}
		record.Seized = make(map[string]*big.Int, len(encoded))
		for asset, amount := range encoded {
			if record.Seized[asset], err = parseAmount(amount); err != nil {
				return nil, err
			}
		}
		record.Timestamp = time.Unix(occurred, 0).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate liquidations: %w", err)
	}
	return records, nil
}

func encodeAmounts(amounts map[string]*big.Int) map[string]string {
	encoded := make(map[string]string, len(amounts))
	for asset, amount := range amounts {
		encoded[asset] = amountString(amount)
	}
	return encoded
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
