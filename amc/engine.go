/*
engine.go - Lifecycle state machine for contracts and service cycles

PURPOSE:
  Coordinates the contract store, the transaction ledger, and the asset
  directory to implement the open/close protocol for service and repair
  work. Every lifecycle operation is a single logical transaction: the
  contract mutation and the ledger append commit or fail as a pair.

STATE MODEL:
  Event cycle (keyed by service number):  Open -> Closed
  Contract:  Active <-> Expired (computed from the date window, never
  transitioned) with an administrative terminal marker Closed. Extension
  is re-entrant: it always returns a contract to Active with a new
  window, regardless of prior Expired status.

THE LOCKING INVARIANT:
  No asset may be under two open cycles simultaneously, across ANY
  contract - a physical asset cannot be serviced twice at once no matter
  which contract authorized the work. The lock is derived from open
  ledger entries, and the validate-then-append of an initiation runs
  inside one store transaction, so two racing initiations on the same
  asset cannot both pass the check: exactly one succeeds, the other
  observes AssetLockedError naming the conflicting asset and cycle.

OPERATION FLOW (InitiateService):
  1. serviced assets non-empty            -> ValidationError
  2. every asset in the covered set       -> NotCoveredError
  3. no asset locked by any open cycle    -> AssetLockedError
  4. generate a fresh service number
  5. append ServiceInitiated entry, status Open
  6. return the service number

NOTIFICATIONS:
  After every successful operation the engine emits a post-commit event.
  Delivery is fire-and-forget and never affects the result.

AUTHORIZATION:
  The engine assumes the caller was authorized before every mutating
  call. It performs no permission checks itself; the boundary lives in
  the transport layer.

SEE ALSO:
  - ledger.go: Entry validation and ledger reads
  - store.go:  TxStore transaction contract
*/
package amc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the only writer of contracts and ledger entries.
type Engine struct {
	store     TxStore
	directory AssetDirectory
	notifier  Notifier

	// Now is the clock used for status computation and timestamps.
	// Overridable in tests.
	Now func() time.Time
}

func NewEngine(store TxStore, directory AssetDirectory, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		store:     store,
		directory: directory,
		notifier:  notifier,
		Now:       time.Now,
	}
}

// NewServiceNumber generates a fresh correlation key for an open cycle.
func NewServiceNumber() ServiceNumber {
	return ServiceNumber("SN-" + uuid.NewString())
}

func newEntryID() EntryID {
	return EntryID(uuid.NewString())
}

// =============================================================================
// CONTRACT CREATION
// =============================================================================

// CreateContract validates and persists a contract, then appends the
// Create ledger entry. Returns the contract id.
func (e *Engine) CreateContract(ctx context.Context, c Contract) (ContractID, error) {
	if err := e.validateNewContract(ctx, &c); err != nil {
		return "", err
	}

	if c.ID == "" {
		c.ID = ContractID(uuid.NewString())
	}
	now := e.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	err := e.store.WithTx(ctx, func(s Store) error {
		if err := s.CreateContract(ctx, c); err != nil {
			return err
		}
		return NewLedger(s).Append(ctx, LedgerEntry{
			ID:            newEntryID(),
			ContractID:    c.ID,
			Type:          EntryCreate,
			Details:       fmt.Sprintf("contract created, window %s to %s", c.StartDate.Format("2006-01-02"), c.EndDate.Format("2006-01-02")),
			InvoiceNumber: c.InvoiceNumber,
			Payment:       c.Payment,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return "", err
	}

	e.notifier.Notify(Event{Type: EventContractCreated, ContractID: c.ID})
	return c.ID, nil
}

func (e *Engine) validateNewContract(ctx context.Context, c *Contract) error {
	if c.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if c.ProviderRef == "" {
		return &ValidationError{Field: "provider_ref", Reason: "required"}
	}
	if c.InvoiceNumber == "" {
		return &ValidationError{Field: "invoice_number", Reason: "required"}
	}
	if c.Cost.IsNegative() {
		return &ValidationError{Field: "cost", Reason: "must not be negative"}
	}
	if !c.Frequency.Valid() {
		return &ValidationError{Field: "frequency", Reason: "unknown frequency"}
	}
	if !c.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown contract type"}
	}
	if !c.EndDate.After(c.StartDate) {
		return &ValidationError{Field: "end_date", Reason: "must be after start_date"}
	}
	if len(c.CoveredAssets) == 0 {
		return &ValidationError{Field: "covered_assets", Reason: "at least one covered asset required"}
	}
	return e.validateAssetRefs(ctx, c.CoveredAssets)
}

// validateAssetRefs checks departments and resolves ids against the
// external asset directory, one call per department.
func (e *Engine) validateAssetRefs(ctx context.Context, refs []AssetRef) error {
	byDept := make(map[Department][]string)
	for _, a := range refs {
		if !a.Department.Valid() {
			return &ValidationError{Field: "department", Reason: "unknown department " + string(a.Department)}
		}
		if a.AssetID == "" {
			return &ValidationError{Field: "asset_id", Reason: "required"}
		}
		byDept[a.Department] = append(byDept[a.Department], a.AssetID)
	}
	for dept, ids := range byDept {
		if err := e.directory.Validate(ctx, dept, ids); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SERVICE / REPAIR INITIATION
// =============================================================================

// InitiateService opens a service cycle on the contract's assets and
// returns the fresh service number.
func (e *Engine) InitiateService(ctx context.Context, contractID ContractID, invoiceNumber string, estimatedCost decimal.Decimal, details string, assets []AssetRef) (ServiceNumber, error) {
	return e.initiate(ctx, EntryServiceInitiated, contractID, invoiceNumber, estimatedCost, details, assets)
}

// InitiateRepair opens a repair cycle. Symmetric to InitiateService.
func (e *Engine) InitiateRepair(ctx context.Context, contractID ContractID, invoiceNumber string, estimatedCost decimal.Decimal, details string, assets []AssetRef) (ServiceNumber, error) {
	return e.initiate(ctx, EntryRepairInitiated, contractID, invoiceNumber, estimatedCost, details, assets)
}

func (e *Engine) initiate(ctx context.Context, kind EntryType, contractID ContractID, invoiceNumber string, estimatedCost decimal.Decimal, details string, assets []AssetRef) (ServiceNumber, error) {
	if len(assets) == 0 {
		return "", &ValidationError{Field: "serviced_assets", Reason: "at least one asset required"}
	}
	if invoiceNumber == "" {
		return "", &ValidationError{Field: "invoice_number", Reason: "required"}
	}
	seen := make(map[AssetRef]bool, len(assets))
	for _, a := range assets {
		if seen[a] {
			// A duplicate would collide with its own lock on append.
			return "", &ValidationError{Field: "serviced_assets", Reason: "duplicate asset " + a.String()}
		}
		seen[a] = true
	}

	now := e.Now().UTC()
	var sn ServiceNumber

	// Validate-then-append runs inside one transaction: the lock check and
	// the append are a single atomic check-then-act.
	err := e.store.WithTx(ctx, func(s Store) error {
		contract, err := s.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if contract.Closed {
			return &ContractClosedError{ContractID: contractID}
		}

		for _, a := range assets {
			if !contract.Covers(a) {
				return &NotCoveredError{ContractID: contractID, Asset: a}
			}
		}

		locks := make(map[Department]map[string]ServiceNumber)
		for _, a := range assets {
			if locks[a.Department] == nil {
				held, err := s.LockedAssets(ctx, a.Department)
				if err != nil {
					return err
				}
				locks[a.Department] = held
			}
			if owner, held := locks[a.Department][a.AssetID]; held {
				return &AssetLockedError{Asset: a, ServiceNumber: owner}
			}
		}

		sn = NewServiceNumber()
		return NewLedger(s).Append(ctx, LedgerEntry{
			ID:             newEntryID(),
			ContractID:     contractID,
			Type:           kind,
			ServiceNumber:  sn,
			Status:         ServiceOpen,
			Details:        details,
			ServicedAssets: assets,
			EstimatedCost:  estimatedCost,
			InvoiceNumber:  invoiceNumber,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return "", err
	}

	event := EventServiceInitiated
	if kind == EntryRepairInitiated {
		event = EventRepairInitiated
	}
	e.notifier.Notify(Event{Type: event, ContractID: contractID, ServiceNumber: sn})
	return sn, nil
}

// =============================================================================
// SERVICE / REPAIR CLOSURE
// =============================================================================

// CloseInput carries the fields recorded on a cycle's closing entry.
type CloseInput struct {
	FinalCost  decimal.Decimal
	BillNumber string
	Payment    PaymentInfo
	Details    string
}

// CloseService closes an open service cycle by appending a correlated
// ServiceClosed entry. The Open entry is left untouched.
func (e *Engine) CloseService(ctx context.Context, sn ServiceNumber, in CloseInput) error {
	return e.close(ctx, EntryServiceInitiated, sn, in)
}

// CloseRepair closes an open repair cycle. Symmetric to CloseService.
func (e *Engine) CloseRepair(ctx context.Context, sn ServiceNumber, in CloseInput) error {
	return e.close(ctx, EntryRepairInitiated, sn, in)
}

func (e *Engine) close(ctx context.Context, kind EntryType, sn ServiceNumber, in CloseInput) error {
	now := e.Now().UTC()
	var contractID ContractID

	err := e.store.WithTx(ctx, func(s Store) error {
		open, err := s.FindOpenEntryByServiceNumber(ctx, sn)
		if err != nil {
			return err
		}
		if open.Type != kind {
			// A repair cycle cannot be closed through the service path.
			return &NotFoundError{Kind: "open " + cycleName(kind) + " cycle", ID: string(sn)}
		}
		contractID = open.ContractID

		return NewLedger(s).Append(ctx, LedgerEntry{
			ID:             newEntryID(),
			ContractID:     open.ContractID,
			Type:           kind.ClosingType(),
			ServiceNumber:  sn,
			Status:         ServiceClosed,
			Details:        in.Details,
			ServicedAssets: open.ServicedAssets,
			EstimatedCost:  open.EstimatedCost,
			FinalCost:      in.FinalCost,
			InvoiceNumber:  open.InvoiceNumber,
			BillNumber:     in.BillNumber,
			Payment:        in.Payment,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return err
	}

	event := EventServiceClosed
	if kind == EntryRepairInitiated {
		event = EventRepairClosed
	}
	e.notifier.Notify(Event{Type: event, ContractID: contractID, ServiceNumber: sn})
	return nil
}

func cycleName(kind EntryType) string {
	if kind == EntryRepairInitiated {
		return "repair"
	}
	return "service"
}

// =============================================================================
// EXTENSION AND ADMINISTRATIVE CLOSE
// =============================================================================

// ExtendContract replaces the validity window and terms. Extending an
// Expired contract returns it to Active; a closed contract is rejected.
func (e *Engine) ExtendContract(ctx context.Context, id ContractID, start, end time.Time, terms ContractTerms) error {
	if !end.After(start) {
		return &ValidationError{Field: "end_date", Reason: "must be after start_date"}
	}
	if !terms.Frequency.Valid() {
		return &ValidationError{Field: "frequency", Reason: "unknown frequency"}
	}
	if !terms.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown contract type"}
	}
	if terms.Cost.IsNegative() {
		return &ValidationError{Field: "cost", Reason: "must not be negative"}
	}

	now := e.Now().UTC()
	err := e.store.WithTx(ctx, func(s Store) error {
		contract, err := s.GetContract(ctx, id)
		if err != nil {
			return err
		}
		if contract.Closed {
			return &ContractClosedError{ContractID: id}
		}

		if err := s.UpdateContractWindow(ctx, id, start, end, terms); err != nil {
			return err
		}
		return NewLedger(s).Append(ctx, LedgerEntry{
			ID:         newEntryID(),
			ContractID: id,
			Type:       EntryExtended,
			Details: fmt.Sprintf("window %s to %s extended to %s to %s",
				contract.StartDate.Format("2006-01-02"), contract.EndDate.Format("2006-01-02"),
				start.Format("2006-01-02"), end.Format("2006-01-02")),
			InvoiceNumber: terms.InvoiceNumber,
			Payment:       terms.Payment,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return err
	}

	e.notifier.Notify(Event{Type: EventContractExtended, ContractID: id})
	return nil
}

// CloseContract marks a contract administratively closed. All future
// initiations against it fail with ContractClosedError regardless of the
// computed Active/Expired status.
func (e *Engine) CloseContract(ctx context.Context, id ContractID, reason string) error {
	now := e.Now().UTC()
	err := e.store.WithTx(ctx, func(s Store) error {
		contract, err := s.GetContract(ctx, id)
		if err != nil {
			return err
		}
		if contract.Closed {
			return &ContractClosedError{ContractID: id}
		}

		if err := s.MarkContractClosed(ctx, id, reason); err != nil {
			return err
		}
		return NewLedger(s).Append(ctx, LedgerEntry{
			ID:         newEntryID(),
			ContractID: id,
			Type:       EntryClosed,
			Details:    reason,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return err
	}

	e.notifier.Notify(Event{Type: EventContractClosed, ContractID: id})
	return nil
}

// UpdateCoveredAssets replaces the contract's covered-asset set verbatim.
// The resulting set must be non-empty and resolvable by the directory.
func (e *Engine) UpdateCoveredAssets(ctx context.Context, id ContractID, assets []AssetRef) error {
	if len(assets) == 0 {
		return &ValidationError{Field: "covered_assets", Reason: "resulting set must not be empty"}
	}
	if err := e.validateAssetRefs(ctx, assets); err != nil {
		return err
	}

	return e.store.WithTx(ctx, func(s Store) error {
		contract, err := s.GetContract(ctx, id)
		if err != nil {
			return err
		}
		if contract.Closed {
			return &ContractClosedError{ContractID: id}
		}
		return s.UpdateCoveredAssets(ctx, id, assets)
	})
}

// =============================================================================
// READS
// =============================================================================

// GetContract returns a contract by id.
func (e *Engine) GetContract(ctx context.Context, id ContractID) (*Contract, error) {
	return e.store.GetContract(ctx, id)
}

// ListContracts returns contracts by computed status.
func (e *Engine) ListContracts(ctx context.Context, status ContractStatus, page Page) ([]Contract, error) {
	return e.store.ListContracts(ctx, status, e.Now().UTC(), page)
}

// History returns the contract's ledger entries, newest-first.
func (e *Engine) History(ctx context.Context, id ContractID, filter EntryFilter, page Page) ([]LedgerEntry, error) {
	if _, err := e.store.GetContract(ctx, id); err != nil {
		return nil, err
	}
	return NewLedger(e.store).FindByContract(ctx, id, filter, page)
}

// FindOpenByServiceNumber returns the open entry for a service number.
func (e *Engine) FindOpenByServiceNumber(ctx context.Context, sn ServiceNumber) (*LedgerEntry, error) {
	return e.store.FindOpenEntryByServiceNumber(ctx, sn)
}

// ListOpenWork lists open *Initiated entries of the given kind across all
// contracts.
func (e *Engine) ListOpenWork(ctx context.Context, kind EntryType, page Page) ([]LedgerEntry, error) {
	return NewLedger(e.store).ListOpenByType(ctx, kind, page)
}

// AvailableAssets returns, per department, the contract's covered asset
// ids not currently locked by an open cycle belonging to ANY contract.
// This is the set eligible for a new initiation.
func (e *Engine) AvailableAssets(ctx context.Context, id ContractID) (map[Department][]string, error) {
	contract, err := e.store.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}

	available := make(map[Department][]string)
	locks := make(map[Department]map[string]ServiceNumber)
	for _, a := range contract.CoveredAssets {
		if locks[a.Department] == nil {
			held, err := e.store.LockedAssets(ctx, a.Department)
			if err != nil {
				return nil, err
			}
			locks[a.Department] = held
		}
		if _, held := locks[a.Department][a.AssetID]; !held {
			available[a.Department] = append(available[a.Department], a.AssetID)
		}
	}
	for dept := range available {
		sort.Strings(available[dept])
	}
	return available, nil
}
