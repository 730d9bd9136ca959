package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/SealTrip/internal/models"
)

// CreateAccount provisions an operator account with an opening balance.
// A non-zero opening balance is recorded as an ALLOCATION credit so the
// transaction log stays the single source of truth.
func (s *Storage) CreateAccount(ctx context.Context, openingCoins int64) (*models.Account, error) {
	now := time.Now().UTC()
	var acc models.Account
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
INSERT INTO accounts (coins, created_at, updated_at)
VALUES ($1,$2,$2)
RETURNING id, coins, created_at, updated_at
`, openingCoins, now).Scan(&acc.ID, &acc.Coins, &acc.CreatedAt, &acc.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, "insert account")
		}
		if openingCoins > 0 {
			_, err = insertTransactionTx(ctx, tx, acc.ID, acc.ID, openingCoins,
				models.EntryCredit, models.ReasonAllocation, "opening balance", now)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *Storage) GetAccount(ctx context.Context, accountID uint64) (*models.Account, error) {
	var acc models.Account
	err := s.db.QueryRow(ctx, `
SELECT id, coins, created_at, updated_at FROM accounts WHERE id = $1
`, accountID).Scan(&acc.ID, &acc.Coins, &acc.CreatedAt, &acc.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select account")
	}
	return &acc, nil
}

// Debit spends coins from one account. The balance check and the update are
// one compare-and-set statement, so two racing debits cannot both pass on a
// balance that only covers one of them.
func (s *Storage) Debit(ctx context.Context, accountID uint64, amount int64, reasonCode, note string) (uint64, error) {
	var txID uint64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		txID, err = debitTx(ctx, tx, accountID, amount, reasonCode, note)
		return err
	})
	return txID, err
}

// Credit adds coins to an account (ALLOCATION and friends).
func (s *Storage) Credit(ctx context.Context, accountID uint64, amount int64, reasonCode, note string) (uint64, error) {
	var txID uint64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		if err := creditAccountTx(ctx, tx, accountID, amount, now); err != nil {
			return err
		}
		var err error
		txID, err = insertTransactionTx(ctx, tx, accountID, accountID, amount,
			models.EntryCredit, reasonCode, note, now)
		return err
	})
	return txID, err
}

// Transfer moves coins between two accounts as one atomic debit+credit.
func (s *Storage) Transfer(ctx context.Context, fromID, toID uint64, amount int64, reasonCode, note string) (uint64, error) {
	var txID uint64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		if err := debitAccountTx(ctx, tx, fromID, amount, now); err != nil {
			return err
		}
		if err := creditAccountTx(ctx, tx, toID, amount, now); err != nil {
			return err
		}
		var err error
		txID, err = insertTransactionTx(ctx, tx, fromID, toID, amount,
			models.EntryTransfer, reasonCode, note, now)
		return err
	})
	return txID, err
}

// debitTx is the in-transaction debit used by the trip creation unit.
func debitTx(ctx context.Context, tx pgx.Tx, accountID uint64, amount int64, reasonCode, note string) (uint64, error) {
	now := time.Now().UTC()
	if err := debitAccountTx(ctx, tx, accountID, amount, now); err != nil {
		return 0, err
	}
	return insertTransactionTx(ctx, tx, accountID, accountID, amount,
		models.EntryDebit, reasonCode, note, now)
}

func debitAccountTx(ctx context.Context, tx pgx.Tx, accountID uint64, amount int64, now time.Time) error {
	ct, err := tx.Exec(ctx, `
UPDATE accounts SET coins = coins - $2, updated_at = $3
WHERE id = $1 AND coins >= $2
`, accountID, amount, now)
	if err != nil {
		return errors.Wrap(err, "debit account")
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return errors.Wrap(err, "check account")
		}
		if !exists {
			return models.ErrAccountNotFound
		}
		return models.ErrInsufficientBalance
	}
	return nil
}

func creditAccountTx(ctx context.Context, tx pgx.Tx, accountID uint64, amount int64, now time.Time) error {
	ct, err := tx.Exec(ctx, `
UPDATE accounts SET coins = coins + $2, updated_at = $3 WHERE id = $1
`, accountID, amount, now)
	if err != nil {
		return errors.Wrap(err, "credit account")
	}
	if ct.RowsAffected() == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

func insertTransactionTx(ctx context.Context, tx pgx.Tx, fromID, toID uint64, amount int64, entryKind, reasonCode, note string, now time.Time) (uint64, error) {
	var id uint64
	err := tx.QueryRow(ctx, `
INSERT INTO coin_transactions (from_account, to_account, amount, entry_kind, reason_code, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, fromID, toID, amount, entryKind, reasonCode, note, now).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert coin transaction")
	}
	return id, nil
}

// ListTransactions returns an account's transaction log, newest first.
// The (created_at, id) ordering keeps pagination stable.
func (s *Storage) ListTransactions(ctx context.Context, accountID uint64, limit, offset int) ([]*models.CoinTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, from_account, to_account, amount, entry_kind, reason_code, note, created_at
FROM coin_transactions
WHERE from_account = $1 OR to_account = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, accountID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select coin transactions")
	}
	defer rows.Close()

	var out []*models.CoinTransaction
	for rows.Next() {
		var t models.CoinTransaction
		if err := rows.Scan(
			&t.ID, &t.FromAccount, &t.ToAccount, &t.Amount,
			&t.EntryKind, &t.ReasonCode, &t.Note, &t.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan coin transaction")
		}
		out = append(out, &t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// SumTransactions recomputes an account's balance from the signed log.
// The stored accounts.coins value must always equal this sum.
func (s *Storage) SumTransactions(ctx context.Context, accountID uint64) (int64, error) {
	var sum int64
	err := s.db.QueryRow(ctx, `
SELECT COALESCE(SUM(
  CASE
    WHEN entry_kind = $2 AND from_account = $1 THEN -amount
    WHEN entry_kind = $3 AND to_account = $1 THEN amount
    WHEN entry_kind = $4 AND from_account = $1 THEN -amount
    WHEN entry_kind = $4 AND to_account = $1 THEN amount
    ELSE 0
  END
), 0)
FROM coin_transactions
WHERE from_account = $1 OR to_account = $1
`, accountID, models.EntryDebit, models.EntryCredit, models.EntryTransfer).Scan(&sum)
	if err != nil {
		return 0, errors.Wrap(err, "sum coin transactions")
	}
	return sum, nil
}
