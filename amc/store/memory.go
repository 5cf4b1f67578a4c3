// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/amc-engine/amc"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	contracts map[amc.ContractID]amc.Contract
	entries   []amc.LedgerEntry // append order
}

func NewMemory() *Memory {
	return &Memory{contracts: make(map[amc.ContractID]amc.Contract)}
}

// -----------------------------------------------------------------------------
// ContractStore
// -----------------------------------------------------------------------------

func (m *Memory) CreateContract(_ context.Context, c amc.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createContractLocked(c)
}

func (m *Memory) createContractLocked(c amc.Contract) error {
	if _, exists := m.contracts[c.ID]; exists {
		return &amc.ValidationError{Field: "id", Reason: "contract already exists"}
	}
	c.CoveredAssets = copyAssets(c.CoveredAssets)
	m.contracts[c.ID] = c
	return nil
}

func (m *Memory) GetContract(_ context.Context, id amc.ContractID) (*amc.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getContractLocked(id)
}

func (m *Memory) getContractLocked(id amc.ContractID) (*amc.Contract, error) {
	c, ok := m.contracts[id]
	if !ok {
		return nil, &amc.NotFoundError{Kind: "contract", ID: string(id)}
	}
	c.CoveredAssets = copyAssets(c.CoveredAssets)
	return &c, nil
}

func (m *Memory) ListContracts(_ context.Context, status amc.ContractStatus, now time.Time, page amc.Page) ([]amc.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listContractsLocked(status, now, page)
}

func (m *Memory) listContractsLocked(status amc.ContractStatus, now time.Time, page amc.Page) ([]amc.Contract, error) {
	var matched []amc.Contract
	for _, c := range m.contracts {
		if status != "" && c.StatusAt(now) != status {
			continue
		}
		c.CoveredAssets = copyAssets(c.CoveredAssets)
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, page), nil
}

func (m *Memory) UpdateContractWindow(_ context.Context, id amc.ContractID, start, end time.Time, terms amc.ContractTerms) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateContractWindowLocked(id, start, end, terms)
}

func (m *Memory) updateContractWindowLocked(id amc.ContractID, start, end time.Time, terms amc.ContractTerms) error {
	c, ok := m.contracts[id]
	if !ok {
		return &amc.NotFoundError{Kind: "contract", ID: string(id)}
	}
	c.StartDate = start
	c.EndDate = end
	c.ProviderRef = terms.ProviderRef
	c.InvoiceNumber = terms.InvoiceNumber
	c.Cost = terms.Cost
	c.Frequency = terms.Frequency
	c.Type = terms.Type
	c.Notes = terms.Notes
	c.Payment = terms.Payment
	c.UpdatedAt = time.Now().UTC()
	m.contracts[id] = c
	return nil
}

func (m *Memory) UpdateCoveredAssets(_ context.Context, id amc.ContractID, assets []amc.AssetRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCoveredAssetsLocked(id, assets)
}

func (m *Memory) updateCoveredAssetsLocked(id amc.ContractID, assets []amc.AssetRef) error {
	c, ok := m.contracts[id]
	if !ok {
		return &amc.NotFoundError{Kind: "contract", ID: string(id)}
	}
	c.CoveredAssets = copyAssets(assets)
	c.UpdatedAt = time.Now().UTC()
	m.contracts[id] = c
	return nil
}

func (m *Memory) MarkContractClosed(_ context.Context, id amc.ContractID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markContractClosedLocked(id, reason)
}

func (m *Memory) markContractClosedLocked(id amc.ContractID, reason string) error {
	c, ok := m.contracts[id]
	if !ok {
		return &amc.NotFoundError{Kind: "contract", ID: string(id)}
	}
	c.Closed = true
	c.ClosedReason = reason
	c.UpdatedAt = time.Now().UTC()
	m.contracts[id] = c
	return nil
}

// -----------------------------------------------------------------------------
// LedgerStore (append-only)
// -----------------------------------------------------------------------------

func (m *Memory) AppendEntry(_ context.Context, e amc.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e)
}

func (m *Memory) appendEntryLocked(e amc.LedgerEntry) error {
	e.ServicedAssets = copyAssets(e.ServicedAssets)
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) FindEntriesByContract(_ context.Context, id amc.ContractID, filter amc.EntryFilter, page amc.Page) ([]amc.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findEntriesByContractLocked(id, filter, page)
}

func (m *Memory) findEntriesByContractLocked(id amc.ContractID, filter amc.EntryFilter, page amc.Page) ([]amc.LedgerEntry, error) {
	// Newest-first: walk the append order backwards.
	var matched []amc.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.ContractID != id {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		e.ServicedAssets = copyAssets(e.ServicedAssets)
		matched = append(matched, e)
	}
	return paginate(matched, page), nil
}

func (m *Memory) FindOpenEntryByServiceNumber(_ context.Context, sn amc.ServiceNumber) (*amc.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findOpenEntryLocked(sn)
}

func (m *Memory) findOpenEntryLocked(sn amc.ServiceNumber) (*amc.LedgerEntry, error) {
	var open *amc.LedgerEntry
	for i := range m.entries {
		e := m.entries[i]
		if e.ServiceNumber != sn {
			continue
		}
		if e.Type.IsInitiation() {
			e.ServicedAssets = copyAssets(e.ServicedAssets)
			open = &e
		}
		if e.Type == amc.EntryServiceClosed || e.Type == amc.EntryRepairClosed {
			// A correlated Closed entry ends the cycle.
			open = nil
		}
	}
	if open == nil {
		return nil, &amc.NotFoundError{Kind: "open cycle", ID: string(sn)}
	}
	return open, nil
}

func (m *Memory) ListOpenEntriesByType(_ context.Context, kind amc.EntryType, page amc.Page) ([]amc.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOpenEntriesLocked(kind, page)
}

func (m *Memory) listOpenEntriesLocked(kind amc.EntryType, page amc.Page) ([]amc.LedgerEntry, error) {
	closed := m.closedServiceNumbersLocked()
	var matched []amc.LedgerEntry
	for _, e := range m.entries {
		if e.Type != kind || closed[e.ServiceNumber] {
			continue
		}
		e.ServicedAssets = copyAssets(e.ServicedAssets)
		matched = append(matched, e)
	}
	return paginate(matched, page), nil
}

func (m *Memory) LockedAssets(_ context.Context, dept amc.Department) (map[string]amc.ServiceNumber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lockedAssetsLocked(dept)
}

func (m *Memory) lockedAssetsLocked(dept amc.Department) (map[string]amc.ServiceNumber, error) {
	closed := m.closedServiceNumbersLocked()
	held := make(map[string]amc.ServiceNumber)
	for _, e := range m.entries {
		if !e.Type.IsInitiation() || closed[e.ServiceNumber] {
			continue
		}
		for _, a := range e.ServicedAssets {
			if a.Department == dept {
				held[a.AssetID] = e.ServiceNumber
			}
		}
	}
	return held, nil
}

func (m *Memory) closedServiceNumbersLocked() map[amc.ServiceNumber]bool {
	closed := make(map[amc.ServiceNumber]bool)
	for _, e := range m.entries {
		if e.Type == amc.EntryServiceClosed || e.Type == amc.EntryRepairClosed {
			closed[e.ServiceNumber] = true
		}
	}
	return closed
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. The store mutex is held for
// the whole transaction, so a validate-then-append sequence is an atomic
// check-then-act. Rollback is simulated with a snapshot.
func (tm *TxMemory) WithTx(_ context.Context, fn func(amc.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	contracts := make(map[amc.ContractID]amc.Contract, len(tm.contracts))
	for id, c := range tm.contracts {
		contracts[id] = c
	}
	entries := make([]amc.LedgerEntry, len(tm.entries))
	copy(entries, tm.entries)
	return memorySnapshot{contracts: contracts, entries: entries}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.contracts = s.contracts
	tm.entries = s.entries
}

type memorySnapshot struct {
	contracts map[amc.ContractID]amc.Contract
	entries   []amc.LedgerEntry
}

// txMemoryView routes Store calls to the parent's unlocked methods while
// the parent mutex is held by WithTx.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) CreateContract(_ context.Context, c amc.Contract) error {
	return tv.parent.createContractLocked(c)
}

func (tv *txMemoryView) GetContract(_ context.Context, id amc.ContractID) (*amc.Contract, error) {
	return tv.parent.getContractLocked(id)
}

func (tv *txMemoryView) ListContracts(_ context.Context, status amc.ContractStatus, now time.Time, page amc.Page) ([]amc.Contract, error) {
	return tv.parent.listContractsLocked(status, now, page)
}

func (tv *txMemoryView) UpdateContractWindow(_ context.Context, id amc.ContractID, start, end time.Time, terms amc.ContractTerms) error {
	return tv.parent.updateContractWindowLocked(id, start, end, terms)
}

func (tv *txMemoryView) UpdateCoveredAssets(_ context.Context, id amc.ContractID, assets []amc.AssetRef) error {
	return tv.parent.updateCoveredAssetsLocked(id, assets)
}

func (tv *txMemoryView) MarkContractClosed(_ context.Context, id amc.ContractID, reason string) error {
	return tv.parent.markContractClosedLocked(id, reason)
}

func (tv *txMemoryView) AppendEntry(_ context.Context, e amc.LedgerEntry) error {
	return tv.parent.appendEntryLocked(e)
}

func (tv *txMemoryView) FindEntriesByContract(_ context.Context, id amc.ContractID, filter amc.EntryFilter, page amc.Page) ([]amc.LedgerEntry, error) {
	return tv.parent.findEntriesByContractLocked(id, filter, page)
}

func (tv *txMemoryView) FindOpenEntryByServiceNumber(_ context.Context, sn amc.ServiceNumber) (*amc.LedgerEntry, error) {
	return tv.parent.findOpenEntryLocked(sn)
}

func (tv *txMemoryView) ListOpenEntriesByType(_ context.Context, kind amc.EntryType, page amc.Page) ([]amc.LedgerEntry, error) {
	return tv.parent.listOpenEntriesLocked(kind, page)
}

func (tv *txMemoryView) LockedAssets(_ context.Context, dept amc.Department) (map[string]amc.ServiceNumber, error) {
	return tv.parent.lockedAssetsLocked(dept)
}

// =============================================================================
// HELPERS
// =============================================================================

func copyAssets(assets []amc.AssetRef) []amc.AssetRef {
	if assets == nil {
		return nil
	}
	out := make([]amc.AssetRef, len(assets))
	copy(out, assets)
	return out
}

func paginate[T any](items []T, page amc.Page) []T {
	offset := page.Offset()
	if offset >= len(items) {
		return []T{}
	}
	end := offset + page.Limit()
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
