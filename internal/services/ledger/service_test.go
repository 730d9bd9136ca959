package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/SealTrip/internal/models"
)

type fakeRepo struct {
	account *models.Account
	sum     int64

	debitAccount uint64
	debitAmount  int64
	debitErr     error

	creditReason string

	transferFrom, transferTo uint64
}

func (f *fakeRepo) CreateAccount(ctx context.Context, openingCoins int64) (*models.Account, error) {
	return &models.Account{ID: 1, Coins: openingCoins}, nil
}
func (f *fakeRepo) GetAccount(ctx context.Context, accountID uint64) (*models.Account, error) {
	if f.account == nil {
		return nil, models.ErrAccountNotFound
	}
	return f.account, nil
}
func (f *fakeRepo) Debit(ctx context.Context, accountID uint64, amount int64, reasonCode, note string) (uint64, error) {
	f.debitAccount, f.debitAmount = accountID, amount
	return 1, f.debitErr
}
func (f *fakeRepo) Credit(ctx context.Context, accountID uint64, amount int64, reasonCode, note string) (uint64, error) {
	f.creditReason = reasonCode
	return 2, nil
}
func (f *fakeRepo) Transfer(ctx context.Context, fromID, toID uint64, amount int64, reasonCode, note string) (uint64, error) {
	f.transferFrom, f.transferTo = fromID, toID
	return 3, nil
}
func (f *fakeRepo) ListTransactions(ctx context.Context, accountID uint64, limit, offset int) ([]*models.CoinTransaction, error) {
	return []*models.CoinTransaction{}, nil
}
func (f *fakeRepo) SumTransactions(ctx context.Context, accountID uint64) (int64, error) {
	return f.sum, nil
}

func TestService_Debit_Validate(t *testing.T) {
	r := &fakeRepo{}
	s := New(r)

	_, err := s.Debit(context.Background(), 1, 0, models.ReasonSessionCreation, "")
	require.Error(t, err)
	_, err = s.Debit(context.Background(), 1, -5, models.ReasonSessionCreation, "")
	require.Error(t, err)
	require.Zero(t, r.debitAccount)

	_, err = s.Debit(context.Background(), 1, 1, models.ReasonSessionCreation, "trip")
	require.NoError(t, err)
	require.EqualValues(t, 1, r.debitAmount)
}

func TestService_Debit_InsufficientPropagates(t *testing.T) {
	r := &fakeRepo{debitErr: models.ErrInsufficientBalance}
	s := New(r)
	_, err := s.Debit(context.Background(), 1, 1, models.ReasonSessionCreation, "")
	require.ErrorIs(t, err, models.ErrInsufficientBalance)
}

func TestService_Credit_DefaultsReason(t *testing.T) {
	r := &fakeRepo{}
	s := New(r)
	_, err := s.Credit(context.Background(), 1, 10, "", "provisioning")
	require.NoError(t, err)
	require.Equal(t, models.ReasonAllocation, r.creditReason)
}

func TestService_Transfer_Validate(t *testing.T) {
	r := &fakeRepo{}
	s := New(r)

	_, err := s.Transfer(context.Background(), 1, 1, 5, models.ReasonAllocation, "")
	require.Error(t, err)
	_, err = s.Transfer(context.Background(), 1, 2, 0, models.ReasonAllocation, "")
	require.Error(t, err)

	_, err = s.Transfer(context.Background(), 1, 2, 5, models.ReasonAllocation, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, r.transferFrom)
	require.EqualValues(t, 2, r.transferTo)
}

func TestService_CheckBalanceConsistency(t *testing.T) {
	r := &fakeRepo{account: &models.Account{ID: 1, Coins: 7}, sum: 7}
	s := New(r)
	ok, err := s.CheckBalanceConsistency(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)

	r.sum = 6
	ok, err = s.CheckBalanceConsistency(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, ok)
}
