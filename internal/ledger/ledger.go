// Package ledger implements the escrow ledger from spec.md §4.2: per-agent
// available/locked balances, an append-only journal, and the four monetary
// primitives (lock, release, transfer_locked) every other subsystem builds
// on top of.
//
// Grounded on raphalbongso-wager-marketplace's db.WalletAddLocked/
// db.WalletAddBalance pair (lock/unlock and cash-delta as two separate
// primitives over a SQL row) and on other_examples' NevzatMmc-updown
// walletRepo.AddBalance + LogTransaction journal-then-project pattern —
// both generalized here from a *sql.Tx to an in-memory, per-wallet-mutex
// structure per spec.md §5's "single-writer per wallet" scheduling model.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/clearinghouse/prediction-core/internal/clock"
	"github.com/clearinghouse/prediction-core/internal/model"
	"github.com/clearinghouse/prediction-core/internal/persistence"
)

type walletEntry struct {
	mu      sync.Mutex
	wallet  model.Wallet
	journal []model.JournalEntry
}

// Ledger is the process-wide escrow ledger. Safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex // guards the wallets map itself (not its contents)
	wallets map[string]*walletEntry

	nextJournalID atomic.Int64
	clock         clock.Clock
	logger        *zap.SugaredLogger
	store         persistence.Store
}

// SetStore attaches a durable store that every subsequent balance mutation
// and journal entry is mirrored to, best-effort: a persistence failure is
// logged, not rolled back into the in-memory ledger, which stays the source
// of truth matching decisions read from within this process (spec.md §6).
// Call before serving traffic; nil (the default) disables mirroring, which
// is what every matching/settlement test in this module relies on.
func (l *Ledger) SetStore(s persistence.Store) {
	l.store = s
}

func (l *Ledger) mirror(w model.Wallet, entry model.JournalEntry) {
	if l.store == nil {
		return
	}
	ctx := context.Background()
	if err := l.store.SetBalance(ctx, w); err != nil {
		l.logger.Warnw("mirror balance to store", "agent", w.AgentID, "error", err)
	}
	if err := l.store.RecordJournal(ctx, entry); err != nil {
		l.logger.Warnw("mirror journal entry to store", "agent", w.AgentID, "error", err)
	}
}

func New(logger *zap.SugaredLogger, c clock.Clock) *Ledger {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Ledger{
		wallets: make(map[string]*walletEntry),
		clock:   c,
		logger:  logger,
	}
}

// CreateWallet is idempotent on agentID: if a wallet already exists it is
// returned unchanged. Otherwise a wallet is created and, if opening is
// non-zero, an initial deposit is journalled (spec.md §4.2).
func (l *Ledger) CreateWallet(agentID string, opening model.Money) (model.Wallet, error) {
	entry, created := l.entryFor(agentID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !created {
		return entry.wallet, nil
	}
	if !opening.IsZero() {
		je := l.appendLocked(entry, agentID, model.JournalDeposit, opening, "genesis")
		entry.wallet.Available = entry.wallet.Available.Add(opening)
		l.mirror(entry.wallet, je)
	}
	return entry.wallet, nil
}

func (l *Ledger) entryFor(agentID string) (*walletEntry, bool) {
	l.mu.RLock()
	e, ok := l.wallets[agentID]
	l.mu.RUnlock()
	if ok {
		return e, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.wallets[agentID]; ok {
		return e, false
	}
	e = &walletEntry{wallet: model.Wallet{AgentID: agentID}}
	l.wallets[agentID] = e
	return e, true
}

func (l *Ledger) existing(agentID string) (*walletEntry, error) {
	l.mu.RLock()
	e, ok := l.wallets[agentID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ledger: agent %s: %w", agentID, ErrUnknownAgent)
	}
	return e, nil
}

// GetWallet returns a snapshot of agentID's wallet.
func (l *Ledger) GetWallet(agentID string) (model.Wallet, error) {
	e, err := l.existing(agentID)
	if err != nil {
		return model.Wallet{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallet, nil
}

// Journal returns a snapshot of agentID's full journal, oldest first.
func (l *Ledger) Journal(agentID string) ([]model.JournalEntry, error) {
	e, err := l.existing(agentID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.JournalEntry, len(e.journal))
	copy(out, e.journal)
	return out, nil
}

// Deposit credits amount to agentID's available balance.
func (l *Ledger) Deposit(agentID string, amount model.Money) error {
	e, err := l.existing(agentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	je := l.appendLocked(e, agentID, model.JournalDeposit, amount, "")
	e.wallet.Available = e.wallet.Available.Add(amount)
	l.mirror(e.wallet, je)
	return nil
}

// Withdraw debits amount from agentID's available balance. Fails with
// ErrInsufficientFunds if amount exceeds Available (spec.md §4.2).
func (l *Ledger) Withdraw(agentID string, amount model.Money) error {
	e, err := l.existing(agentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wallet.Available.LessThan(amount) {
		return fmt.Errorf("ledger.Withdraw %s: need %s, have %s: %w",
			agentID, amount, e.wallet.Available, ErrInsufficientFunds)
	}
	je := l.appendLocked(e, agentID, model.JournalWithdrawal, amount.Neg(), "")
	e.wallet.Available = e.wallet.Available.Sub(amount)
	l.mirror(e.wallet, je)
	return invariant(e.wallet)
}

// Lock moves amount from Available to Locked. Atomic: decrements Available,
// increments Locked, and appends one escrow_lock journal entry. Fails with
// ErrInsufficientFunds if Available < amount (spec.md §4.2).
func (l *Ledger) Lock(agentID string, amount model.Money, ref string) error {
	e, err := l.existing(agentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wallet.Available.LessThan(amount) {
		return fmt.Errorf("ledger.Lock %s ref=%s: need %s, have %s: %w",
			agentID, ref, amount, e.wallet.Available, ErrInsufficientFunds)
	}
	je := l.appendLocked(e, agentID, model.JournalEscrowLock, amount, ref)
	e.wallet.Available = e.wallet.Available.Sub(amount)
	e.wallet.Locked = e.wallet.Locked.Add(amount)
	l.mirror(e.wallet, je)
	return invariant(e.wallet)
}

// Release is the inverse of Lock: moves amount from Locked back to
// Available. Fails with ErrInvalidRelease if Locked < amount.
func (l *Ledger) Release(agentID string, amount model.Money, ref string) error {
	e, err := l.existing(agentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wallet.Locked.LessThan(amount) {
		return fmt.Errorf("ledger.Release %s ref=%s: locked %s < %s: %w",
			agentID, ref, e.wallet.Locked, amount, ErrInvalidRelease)
	}
	je := l.appendLocked(e, agentID, model.JournalEscrowRelease, amount.Neg(), ref)
	e.wallet.Locked = e.wallet.Locked.Sub(amount)
	e.wallet.Available = e.wallet.Available.Add(amount)
	l.mirror(e.wallet, je)
	return invariant(e.wallet)
}

// TransferLocked moves amount from from's Locked balance to to's Available
// balance, producing a paired trade_debit/trade_credit journal entry that
// shares a correlation id and nets to zero before fees (spec.md §4.2
// invariant 3). Locks are acquired in a fixed agent-id order to avoid
// deadlocking against a concurrent transfer in the opposite direction.
func (l *Ledger) TransferLocked(fromID, toID string, amount model.Money, ref, correlationID string) error {
	from, err := l.existing(fromID)
	if err != nil {
		return err
	}
	to, err := l.existing(toID)
	if err != nil {
		return err
	}
	first, second := from, to
	if toID < fromID {
		first, second = to, from
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if second != first {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	if from.wallet.Locked.LessThan(amount) {
		return fmt.Errorf("ledger.TransferLocked %s->%s ref=%s: locked %s < %s: %w",
			fromID, toID, ref, from.wallet.Locked, amount, ErrInvalidRelease)
	}

	debitEntry := l.appendCorrelatedLocked(from, fromID, model.JournalTradeDebit, amount.Neg(), ref, correlationID)
	from.wallet.Locked = from.wallet.Locked.Sub(amount)
	l.mirror(from.wallet, debitEntry)

	creditEntry := l.appendCorrelatedLocked(to, toID, model.JournalTradeCredit, amount, ref, correlationID)
	to.wallet.Available = to.wallet.Available.Add(amount)
	l.mirror(to.wallet, creditEntry)

	if err := invariant(from.wallet); err != nil {
		return err
	}
	return invariant(to.wallet)
}

// ChargeFee debits amount from agentID's Available balance into the fee
// sink, journalled as JournalFee. Used by the matching engine once a trade's
// collateral has been transferred into the counterparty's available balance.
func (l *Ledger) ChargeFee(agentID string, amount model.Money, ref string) error {
	if amount.IsZero() {
		return nil
	}
	e, err := l.existing(agentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wallet.Available.LessThan(amount) {
		return fmt.Errorf("ledger.ChargeFee %s ref=%s: need %s, have %s: %w",
			agentID, ref, amount, e.wallet.Available, ErrInsufficientFunds)
	}
	je := l.appendLocked(e, agentID, model.JournalFee, amount.Neg(), ref)
	e.wallet.Available = e.wallet.Available.Sub(amount)
	l.mirror(e.wallet, je)
	return invariant(e.wallet)
}

// CreditSettlement journals and applies a settlement payout directly to
// Available (spec.md §4.6 step 3/4).
func (l *Ledger) CreditSettlement(agentID string, amount model.Money, ref string) error {
	e, err := l.existing(agentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	je := l.appendLocked(e, agentID, model.JournalSettlementPayout, amount, ref)
	e.wallet.Available = e.wallet.Available.Add(amount)
	l.mirror(e.wallet, je)
	return invariant(e.wallet)
}

func (l *Ledger) appendLocked(e *walletEntry, agentID string, kind model.JournalKind, amount model.Money, ref string) model.JournalEntry {
	return l.appendCorrelatedLocked(e, agentID, kind, amount, ref, "")
}

func (l *Ledger) appendCorrelatedLocked(e *walletEntry, agentID string, kind model.JournalKind, amount model.Money, ref, correlationID string) model.JournalEntry {
	before := e.wallet.Available.Add(e.wallet.Locked)
	entry := model.JournalEntry{
		ID:            l.nextJournalID.Add(1),
		AgentID:       agentID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  before.Add(amount),
		ReferenceID:   ref,
		CorrelationID: correlationID,
		CreatedAt:     l.clock.Now(),
	}
	e.journal = append(e.journal, entry)
	return entry
}

// invariant checks spec.md §4.2 invariant 1 after every mutation: balances
// never go negative. A violation is a programming-error-level bug, not a
// caller mistake, so it is reported as ErrInvariantViolated rather than one
// of the ordinary resource errors.
func invariant(w model.Wallet) error {
	if w.Available.IsNegative() || w.Locked.IsNegative() {
		return fmt.Errorf("ledger: wallet %s available=%s locked=%s: %w",
			w.AgentID, w.Available, w.Locked, ErrInvariantViolated)
	}
	return nil
}
