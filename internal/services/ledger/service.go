// Package ledger meters coin usage: every debit and credit is one atomic
// balance change plus one immutable transaction row.
package ledger

import (
	"context"

	"github.com/pkg/errors"

	"github.com/BearBump/SealTrip/internal/metrics"
	"github.com/BearBump/SealTrip/internal/models"
)

type Repository interface {
	CreateAccount(ctx context.Context, openingCoins int64) (*models.Account, error)
	GetAccount(ctx context.Context, accountID uint64) (*models.Account, error)
	Debit(ctx context.Context, accountID uint64, amount int64, reasonCode, note string) (uint64, error)
	Credit(ctx context.Context, accountID uint64, amount int64, reasonCode, note string) (uint64, error)
	Transfer(ctx context.Context, fromID, toID uint64, amount int64, reasonCode, note string) (uint64, error)
	ListTransactions(ctx context.Context, accountID uint64, limit, offset int) ([]*models.CoinTransaction, error)
	SumTransactions(ctx context.Context, accountID uint64) (int64, error)
}

type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateAccount(ctx context.Context, openingCoins int64) (*models.Account, error) {
	if openingCoins < 0 {
		return nil, errors.New("openingCoins must not be negative")
	}
	return s.repo.CreateAccount(ctx, openingCoins)
}

func (s *Service) GetAccount(ctx context.Context, accountID uint64) (*models.Account, error) {
	if accountID == 0 {
		return nil, models.ErrAccountNotFound
	}
	return s.repo.GetAccount(ctx, accountID)
}

func (s *Service) Debit(ctx context.Context, accountID uint64, amount int64, reasonCode, note string) (uint64, error) {
	if amount <= 0 {
		return 0, errors.New("amount must be positive")
	}
	id, err := s.repo.Debit(ctx, accountID, amount, reasonCode, note)
	if err != nil {
		return 0, err
	}
	metrics.CoinsDebited.Add(float64(amount))
	return id, nil
}

func (s *Service) Credit(ctx context.Context, accountID uint64, amount int64, reasonCode, note string) (uint64, error) {
	if amount <= 0 {
		return 0, errors.New("amount must be positive")
	}
	if reasonCode == "" {
		reasonCode = models.ReasonAllocation
	}
	return s.repo.Credit(ctx, accountID, amount, reasonCode, note)
}

func (s *Service) Transfer(ctx context.Context, fromID, toID uint64, amount int64, reasonCode, note string) (uint64, error) {
	if amount <= 0 {
		return 0, errors.New("amount must be positive")
	}
	if fromID == toID {
		return 0, errors.New("transfer accounts must differ")
	}
	return s.repo.Transfer(ctx, fromID, toID, amount, reasonCode, note)
}

func (s *Service) ListTransactions(ctx context.Context, accountID uint64, limit, offset int) ([]*models.CoinTransaction, error) {
	if accountID == 0 {
		return nil, models.ErrAccountNotFound
	}
	return s.repo.ListTransactions(ctx, accountID, limit, offset)
}

// CheckBalanceConsistency recomputes the balance from the signed log and
// compares it to the stored value.
func (s *Service) CheckBalanceConsistency(ctx context.Context, accountID uint64) (bool, error) {
	acc, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	sum, err := s.repo.SumTransactions(ctx, accountID)
	if err != nil {
		return false, err
	}
	return acc.Coins == sum, nil
}
