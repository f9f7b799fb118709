package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearinghouse/prediction-core/internal/model"
	"github.com/clearinghouse/prediction-core/internal/persistence"
)

func dollars(v float64) model.Money { return model.MoneyFromFloat(v) }

func TestCreateWalletIsIdempotent(t *testing.T) {
	l := New(nil, nil)
	w1, err := l.CreateWallet("agent-1", dollars(100))
	require.NoError(t, err)
	w2, err := l.CreateWallet("agent-1", dollars(999)) // ignored, wallet already exists
	require.NoError(t, err)
	assert.Equal(t, w1, w2)
	assert.True(t, w2.Available.Cmp(dollars(100)) == 0)
}

func TestLockMovesAvailableToLocked(t *testing.T) {
	l := New(nil, nil)
	_, err := l.CreateWallet("agent-1", dollars(100))
	require.NoError(t, err)

	require.NoError(t, l.Lock("agent-1", dollars(40), "order-1"))

	w, err := l.GetWallet("agent-1")
	require.NoError(t, err)
	assert.True(t, w.Available.Cmp(dollars(60)) == 0)
	assert.True(t, w.Locked.Cmp(dollars(40)) == 0)
}

func TestLockFailsWhenAvailableInsufficient(t *testing.T) {
	l := New(nil, nil)
	_, err := l.CreateWallet("agent-1", dollars(10))
	require.NoError(t, err)

	err = l.Lock("agent-1", dollars(40), "order-1")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	w, _ := l.GetWallet("agent-1")
	assert.True(t, w.Available.Cmp(dollars(10)) == 0, "balance must be unchanged on failure")
}

func TestLockThenReleaseRoundTripsExactly(t *testing.T) {
	l := New(nil, nil)
	_, err := l.CreateWallet("agent-1", dollars(100))
	require.NoError(t, err)

	require.NoError(t, l.Lock("agent-1", dollars(40), "order-1"))
	require.NoError(t, l.Release("agent-1", dollars(40), "order-1"))

	w, err := l.GetWallet("agent-1")
	require.NoError(t, err)
	assert.True(t, w.Available.Cmp(dollars(100)) == 0)
	assert.True(t, w.Locked.IsZero())

	journal, err := l.Journal("agent-1")
	require.NoError(t, err)
	require.Len(t, journal, 3) // genesis deposit, lock, release
	assert.Equal(t, model.JournalEscrowLock, journal[1].Kind)
	assert.Equal(t, model.JournalEscrowRelease, journal[2].Kind)
}

func TestReleaseFailsWhenLockedInsufficient(t *testing.T) {
	l := New(nil, nil)
	_, err := l.CreateWallet("agent-1", dollars(100))
	require.NoError(t, err)

	err = l.Release("agent-1", dollars(1), "order-1")
	assert.ErrorIs(t, err, ErrInvalidRelease)
}

func TestTransferLockedNetsToZeroAndSharesCorrelation(t *testing.T) {
	l := New(nil, nil)
	_, err := l.CreateWallet("buyer", dollars(100))
	require.NoError(t, err)
	_, err = l.CreateWallet("seller", dollars(0))
	require.NoError(t, err)

	require.NoError(t, l.Lock("buyer", dollars(55), "order-1"))
	require.NoError(t, l.TransferLocked("buyer", "seller", dollars(55), "trade-1", "corr-1"))

	buyer, err := l.GetWallet("buyer")
	require.NoError(t, err)
	seller, err := l.GetWallet("seller")
	require.NoError(t, err)

	assert.True(t, buyer.Locked.IsZero())
	assert.True(t, buyer.Available.Cmp(dollars(45)) == 0)
	assert.True(t, seller.Available.Cmp(dollars(55)) == 0)

	bj, _ := l.Journal("buyer")
	sj, _ := l.Journal("seller")
	debit := bj[len(bj)-1]
	credit := sj[len(sj)-1]
	assert.Equal(t, "corr-1", debit.CorrelationID)
	assert.Equal(t, "corr-1", credit.CorrelationID)
	assert.True(t, debit.Amount.Add(credit.Amount).IsZero(), "paired entries must net to zero before fees")
}

func TestTransferLockedFailsWhenSourceLockedInsufficient(t *testing.T) {
	l := New(nil, nil)
	_, err := l.CreateWallet("buyer", dollars(10))
	require.NoError(t, err)
	_, err = l.CreateWallet("seller", dollars(0))
	require.NoError(t, err)

	err = l.TransferLocked("buyer", "seller", dollars(5), "trade-1", "corr-1")
	assert.ErrorIs(t, err, ErrInvalidRelease)
}

func TestUnknownAgentOperationsFail(t *testing.T) {
	l := New(nil, nil)
	_, err := l.GetWallet("ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	err = l.Lock("ghost", dollars(1), "ref")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestBalancesNeverGoNegative(t *testing.T) {
	l := New(nil, nil)
	_, err := l.CreateWallet("agent-1", dollars(50))
	require.NoError(t, err)

	err = l.Withdraw("agent-1", dollars(51))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	w, _ := l.GetWallet("agent-1")
	assert.False(t, w.Available.IsNegative())
}

func TestChargeFeeDebitsAvailable(t *testing.T) {
	l := New(nil, nil)
	_, err := l.CreateWallet("agent-1", dollars(100))
	require.NoError(t, err)

	require.NoError(t, l.ChargeFee("agent-1", dollars(2.5), "trade-1"))

	w, _ := l.GetWallet("agent-1")
	assert.True(t, w.Available.Cmp(dollars(97.5)) == 0)
}

func TestCreditSettlementCreditsAvailable(t *testing.T) {
	l := New(nil, nil)
	_, err := l.CreateWallet("agent-1", dollars(0))
	require.NoError(t, err)

	require.NoError(t, l.CreditSettlement("agent-1", dollars(30), "market-1"))

	w, _ := l.GetWallet("agent-1")
	assert.True(t, w.Available.Cmp(dollars(30)) == 0)
}

func TestSetStoreMirrorsBalanceAndJournal(t *testing.T) {
	l := New(nil, nil)
	store := persistence.NewMemoryStore()
	l.SetStore(store)

	_, err := l.CreateWallet("agent-1", dollars(100))
	require.NoError(t, err)
	require.NoError(t, l.Lock("agent-1", dollars(40), "order-1"))

	stored, err := store.GetBalance(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, stored.Available.Cmp(dollars(60)) == 0)
	assert.True(t, stored.Locked.Cmp(dollars(40)) == 0)
}
