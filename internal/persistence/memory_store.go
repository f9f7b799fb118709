package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/clearinghouse/prediction-core/internal/model"
)

type positionKey struct {
	agentID  string
	marketID string
	outcome  model.Outcome
}

// MemoryStore is the default, non-durable Store: everything lives in
// process memory behind one mutex. It satisfies every invariant the core
// depends on; it just doesn't survive a restart (spec.md's Non-goals
// explicitly accept that).
type MemoryStore struct {
	mu        sync.RWMutex
	balances  map[string]model.Wallet
	positions map[positionKey]model.Position
	trades    []model.Trade
	journal   []model.JournalEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:  make(map[string]model.Wallet),
		positions: make(map[positionKey]model.Position),
	}
}

func (m *MemoryStore) GetBalance(_ context.Context, agentID string) (model.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.balances[agentID]
	if !ok {
		return model.Wallet{}, fmt.Errorf("persistence: balance %s: %w", agentID, ErrNotFound)
	}
	return w, nil
}

func (m *MemoryStore) SetBalance(_ context.Context, w model.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[w.AgentID] = w
	return nil
}

func (m *MemoryStore) UpdateBalanceDelta(_ context.Context, agentID string, delta model.Money, kind BalanceKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.balances[agentID] // zero-value wallet if first mutation
	w.AgentID = agentID
	switch kind {
	case BalanceAvailable:
		w.Available = w.Available.Add(delta)
	case BalanceLocked:
		w.Locked = w.Locked.Add(delta)
	default:
		return fmt.Errorf("persistence: unknown balance kind %q", kind)
	}
	m.balances[agentID] = w
	return nil
}

// GetPosition returns the zero-value Position (Quantity 0) when the agent
// has never traded this market/outcome — a fresh position is a valid,
// expected state, not a missing record.
func (m *MemoryStore) GetPosition(_ context.Context, agentID, marketID string, outcome model.Outcome) (model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := positionKey{agentID, marketID, outcome}
	if p, ok := m.positions[key]; ok {
		return p, nil
	}
	return model.Position{AgentID: agentID, MarketID: marketID, Outcome: outcome}, nil
}

func (m *MemoryStore) UpsertPosition(_ context.Context, pos model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[positionKey{pos.AgentID, pos.MarketID, pos.Outcome}] = pos
	return nil
}

func (m *MemoryStore) GetMarketPositions(_ context.Context, marketID string) ([]model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Position
	for k, p := range m.positions {
		if k.marketID == marketID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) RecordTrade(_ context.Context, trade model.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return nil
}

func (m *MemoryStore) RecordJournal(_ context.Context, entry model.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = append(m.journal, entry)
	return nil
}

var _ Store = (*MemoryStore)(nil)
