/*
store.go - Persistence interfaces for contracts and ledger entries

PURPOSE:
  Defines the interface between the domain logic and the database.
  Two record collections exist: contracts (mutable through a fixed set of
  operations) and ledger entries (strictly append-only). Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  ContractStore: Contract records and their covered-asset sets
  LedgerStore:   Append-only ledger entries and lock derivation
  Store:         Both, as one persistence unit
  TxStore:       Store plus atomic multi-write transactions

APPEND-ONLY CONTRACT:
  LedgerStore has exactly one write operation, AppendEntry. There is no
  update or delete for entries; a cycle closes by the existence of a
  correlated Closed entry, never by mutating the Open one.

LOCK DERIVATION:
  LockedAssets derives the asset-lock set by scanning *Initiated entries
  with no matching Closed entry for the same service number. The lock is
  never stored as a flag that could drift from the ledger.

ATOMICITY:
  Lifecycle operations pair a contract mutation with a ledger append.
  TxStore.WithTx makes the pair all-or-nothing, and makes the
  validate-then-append of an initiation an atomic check-then-act.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - amc/store/memory.go:    In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level ledger using LedgerStore
  - engine.go: Lifecycle operations using TxStore
*/
package amc

import (
	"context"
	"time"
)

// =============================================================================
// CONTRACT STORE
// =============================================================================

// ContractStore owns contract records. The engine mutates contracts only
// through these operations, never directly.
type ContractStore interface {
	// CreateContract persists a new contract with its covered-asset set.
	CreateContract(ctx context.Context, c Contract) error

	// GetContract returns a contract by id, or NotFoundError.
	GetContract(ctx context.Context, id ContractID) (*Contract, error)

	// ListContracts returns contracts whose computed status at `now`
	// matches, paginated, newest-first. Status is computed from the date
	// window and closed flag at query time, never read from a stale field.
	ListContracts(ctx context.Context, status ContractStatus, now time.Time, page Page) ([]Contract, error)

	// UpdateContractWindow replaces the validity window and terms of an
	// extension. The covered-asset set is untouched.
	UpdateContractWindow(ctx context.Context, id ContractID, start, end time.Time, terms ContractTerms) error

	// UpdateCoveredAssets replaces the covered-asset set verbatim.
	UpdateCoveredAssets(ctx context.Context, id ContractID, assets []AssetRef) error

	// MarkContractClosed sets the administrative closed flag and reason.
	MarkContractClosed(ctx context.Context, id ContractID, reason string) error
}

// =============================================================================
// LEDGER STORE - Append-only
// =============================================================================

// EntryFilter narrows FindEntriesByContract. The zero value matches all.
type EntryFilter struct {
	Type EntryType // empty = all types
}

// LedgerStore persists ledger entries.
// IMPORTANT: append-only. No update, no delete. Ever.
type LedgerStore interface {
	// AppendEntry persists one entry. This is the ONLY write operation.
	AppendEntry(ctx context.Context, e LedgerEntry) error

	// FindEntriesByContract returns entries for a contract, newest-first.
	FindEntriesByContract(ctx context.Context, id ContractID, filter EntryFilter, page Page) ([]LedgerEntry, error)

	// FindOpenEntryByServiceNumber returns the single *Initiated entry for
	// a service number that has no correlated Closed entry, or
	// NotFoundError if the cycle never opened or is already closed.
	FindOpenEntryByServiceNumber(ctx context.Context, sn ServiceNumber) (*LedgerEntry, error)

	// ListOpenEntriesByType lists currently-open *Initiated entries of the
	// given kind across all contracts, oldest-first (pending work queue).
	ListOpenEntriesByType(ctx context.Context, kind EntryType, page Page) ([]LedgerEntry, error)

	// LockedAssets derives the asset-lock set for a department: every
	// asset referenced by an open *Initiated entry, mapped to the service
	// number that holds it.
	LockedAssets(ctx context.Context, dept Department) (map[string]ServiceNumber, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is the full persistence surface of the engine.
type Store interface {
	ContractStore
	LedgerStore
}

// TxStore wraps Store with transaction support. Lifecycle operations run
// their validations and writes inside WithTx so the contract mutation and
// ledger append commit or fail as a pair, and so concurrent initiations
// cannot both pass the lock check before either appends.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
