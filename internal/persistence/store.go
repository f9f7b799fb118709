// Package persistence defines the pluggable store contract from spec.md §6
// and ships the one implementation the core requires for correctness: an
// in-memory store. A durable (relational) implementation is a pluggable
// add-on, not part of this core — see spec.md's Non-goals and SPEC_FULL.md's
// scope note on durability.
//
// Grounded on raphalbongso-wager-marketplace's internal/db.Store: the same
// operation surface (wallets, positions, trades, journal) it exposes over
// *sql.DB/*sql.Tx, here re-expressed as a narrow interface so the core
// doesn't depend on any particular backing store.
package persistence

import (
	"context"

	"github.com/clearinghouse/prediction-core/internal/model"
)

// BalanceKind selects which half of a wallet UpdateBalanceDelta mutates.
type BalanceKind string

const (
	BalanceAvailable BalanceKind = "available"
	BalanceLocked    BalanceKind = "locked"
)

// Store is the small API the core calls out to for durability, per
// spec.md §6. The default in-process implementation (MemoryStore) keeps
// everything in hashed containers; a durable implementation must give
// at-least-once semantics with idempotent writes keyed by record id.
type Store interface {
	GetBalance(ctx context.Context, agentID string) (model.Wallet, error)
	SetBalance(ctx context.Context, w model.Wallet) error
	UpdateBalanceDelta(ctx context.Context, agentID string, delta model.Money, kind BalanceKind) error

	GetPosition(ctx context.Context, agentID, marketID string, outcome model.Outcome) (model.Position, error)
	UpsertPosition(ctx context.Context, pos model.Position) error
	GetMarketPositions(ctx context.Context, marketID string) ([]model.Position, error)

	RecordTrade(ctx context.Context, trade model.Trade) error
	RecordJournal(ctx context.Context, entry model.JournalEntry) error
}
