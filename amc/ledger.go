/*
ledger.go - Append-only transaction ledger for contract lifecycle events

PURPOSE:
  The Ledger is the immutable source of truth for everything that ever
  happened to a contract: creation, service/repair initiations and
  closures, extensions, administrative close. Asset locks and cycle
  state are always derived by querying it - there is no separate "open
  services" table that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No update, no delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified. Closing a cycle
     appends a new Closed entry for the same service number.
  3. AUDITABLE: Contract history is reconstructable by ordered replay.
  4. VALIDATED: Appends that violate entry invariants are rejected before
     they reach the store.

ENTRY INVARIANTS (enforced by Append):
  - Entry type is a known enum value
  - *Initiated entries carry a non-empty serviced-asset set, an invoice
    number, a service number, and status Open
  - *Closed entries carry the service number of the cycle they close and
    status Closed
  - Serviced-asset references name known departments

EXAMPLE FLOW:
  1. Contract created:        EntryCreate
  2. Service opened on A1:    EntryServiceInitiated  sn=SN-1  status=open
  3. Service finished:        EntryServiceClosed     sn=SN-1  status=closed
  The SN-1 cycle is closed because the Closed entry EXISTS, not because
  anything about entry 2 changed.

SEE ALSO:
  - store.go: LedgerStore persistence interface
  - engine.go: The only writer of ledger entries
*/
package amc

import "context"

// =============================================================================
// LEDGER - Validating wrapper over LedgerStore
// =============================================================================

// Ledger validates entry invariants and delegates persistence to a
// LedgerStore. Reads pass straight through.
type Ledger struct {
	store LedgerStore
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store}
}

// Append validates the entry and appends it. This is the only write.
func (l *Ledger) Append(ctx context.Context, e LedgerEntry) error {
	if err := ValidateEntry(e); err != nil {
		return err
	}
	return l.store.AppendEntry(ctx, e)
}

// FindByContract returns entries for a contract, newest-first, optionally
// filtered by entry type.
func (l *Ledger) FindByContract(ctx context.Context, id ContractID, filter EntryFilter, page Page) ([]LedgerEntry, error) {
	return l.store.FindEntriesByContract(ctx, id, filter, page)
}

// FindOpenByServiceNumber returns the open entry for a service number, or
// NotFoundError when the cycle never opened or is already closed.
func (l *Ledger) FindOpenByServiceNumber(ctx context.Context, sn ServiceNumber) (*LedgerEntry, error) {
	return l.store.FindOpenEntryByServiceNumber(ctx, sn)
}

// ListOpenByType lists open *Initiated entries of the given kind across
// all contracts. Drives "pending work" views.
func (l *Ledger) ListOpenByType(ctx context.Context, kind EntryType, page Page) ([]LedgerEntry, error) {
	if !kind.IsInitiation() {
		return nil, &ValidationError{Field: "kind", Reason: "must be service_initiated or repair_initiated"}
	}
	return l.store.ListOpenEntriesByType(ctx, kind, page)
}

// LockedAssetIDs derives the asset-lock set for a department.
func (l *Ledger) LockedAssetIDs(ctx context.Context, dept Department) (map[string]ServiceNumber, error) {
	return l.store.LockedAssets(ctx, dept)
}

// =============================================================================
// ENTRY VALIDATION
// =============================================================================

// ValidateEntry checks the invariants every ledger entry must satisfy
// before it may be appended.
func ValidateEntry(e LedgerEntry) error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	if e.ContractID == "" {
		return &ValidationError{Field: "contract_id", Reason: "required"}
	}
	if !e.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown entry type"}
	}

	for _, a := range e.ServicedAssets {
		if !a.Department.Valid() {
			return &ValidationError{Field: "serviced_assets", Reason: "unknown department " + string(a.Department)}
		}
		if a.AssetID == "" {
			return &ValidationError{Field: "serviced_assets", Reason: "empty asset id"}
		}
	}

	switch {
	case e.Type.IsInitiation():
		if len(e.ServicedAssets) == 0 {
			return &ValidationError{Field: "serviced_assets", Reason: "required for initiation"}
		}
		if e.InvoiceNumber == "" {
			return &ValidationError{Field: "invoice_number", Reason: "required for initiation"}
		}
		if e.ServiceNumber == "" {
			return &ValidationError{Field: "service_number", Reason: "required for initiation"}
		}
		if e.Status != ServiceOpen {
			return &ValidationError{Field: "status", Reason: "initiation entries must be open"}
		}
	case e.Type == EntryServiceClosed || e.Type == EntryRepairClosed:
		if e.ServiceNumber == "" {
			return &ValidationError{Field: "service_number", Reason: "required for closure"}
		}
		if e.Status != ServiceClosed {
			return &ValidationError{Field: "status", Reason: "closure entries must be closed"}
		}
	}

	return nil
}
