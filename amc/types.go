/*
Package amc provides the maintenance-contract lifecycle engine.

PURPOSE:
  This package contains the core types and rules for tracking annual
  maintenance contracts (AMCs) over groups of assets, and the full
  lifecycle of service and repair work performed under those contracts.
  Every lifecycle event is recorded as an immutable ledger entry, so the
  complete history of a contract is reconstructable by ordered replay.

KEY CONCEPTS IN THIS FILE (types.go):
  - Contract: A maintenance contract covering a set of asset references
  - LedgerEntry: An immutable audit record of one lifecycle event
  - AssetRef: A (department, asset id) pair identifying a covered asset
  - ServiceNumber: Correlation key tying an Open entry to its Closed entry

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified; closing a cycle
     appends a new entry correlated by service number
  2. Derived state: Contract status and asset locks are computed from
     dates and open entries, never stored as a second source of truth
  3. Precision: Uses decimal.Decimal for all money fields
  4. Type Safety: Strong typing for contract/entry/service identifiers

USAGE:
  contract := amc.Contract{
      Name:      "Server room HVAC",
      Frequency: amc.FreqAnnual,
      Type:      amc.TypeComprehensive,
      ...
  }
  engine := amc.NewEngine(store, directory, notifier)
  id, err := engine.CreateContract(ctx, contract)

SEE ALSO:
  - errors.go: Error taxonomy
  - ledger.go: Transaction ledger over the store
  - engine.go: Lifecycle state machine
*/
package amc

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ContractID string
type EntryID string

// ServiceNumber correlates an "initiated" ledger entry with its eventual
// "closed" entry. At most one currently-open cycle may exist per number.
type ServiceNumber string

// =============================================================================
// DEPARTMENTS - Fixed set of asset-owning departments
// =============================================================================

type Department string

const (
	DeptIT                  Department = "it"
	DeptElectronicComponent Department = "electronic_component"
	DeptTestingEquipment    Department = "testing_equipment"
	DeptFixedAsset          Department = "fixed_asset"
	DeptConsumable          Department = "consumable"
)

// Departments lists all known departments in a stable order.
func Departments() []Department {
	return []Department{
		DeptIT,
		DeptElectronicComponent,
		DeptTestingEquipment,
		DeptFixedAsset,
		DeptConsumable,
	}
}

func (d Department) Valid() bool {
	switch d {
	case DeptIT, DeptElectronicComponent, DeptTestingEquipment, DeptFixedAsset, DeptConsumable:
		return true
	}
	return false
}

// =============================================================================
// ASSET REFERENCE - Department-scoped asset identity
// =============================================================================

// AssetRef identifies an asset by department and its department-scoped id.
// The engine never stores asset attributes; only identifiers flow through.
type AssetRef struct {
	Department Department `json:"department"`
	AssetID    string     `json:"asset_id"`
}

func (a AssetRef) String() string {
	return string(a.Department) + "/" + a.AssetID
}

// =============================================================================
// CONTRACT ENUMS
// =============================================================================

type Frequency string

const (
	FreqMonthly    Frequency = "monthly"
	FreqQuarterly  Frequency = "quarterly"
	FreqHalfYearly Frequency = "half_yearly"
	FreqAnnual     Frequency = "annual"
	FreqTwoYear    Frequency = "two_year"
	FreqThreeYear  Frequency = "three_year"
	FreqFiveYear   Frequency = "five_year"
	FreqLifetime   Frequency = "lifetime"
)

func (f Frequency) Valid() bool {
	switch f {
	case FreqMonthly, FreqQuarterly, FreqHalfYearly, FreqAnnual,
		FreqTwoYear, FreqThreeYear, FreqFiveYear, FreqLifetime:
		return true
	}
	return false
}

type ContractType string

const (
	TypeComprehensive    ContractType = "comprehensive"
	TypeNonComprehensive ContractType = "non_comprehensive"
	TypeOnCall           ContractType = "on_call"
	TypePreventive       ContractType = "preventive"
)

func (t ContractType) Valid() bool {
	switch t {
	case TypeComprehensive, TypeNonComprehensive, TypeOnCall, TypePreventive:
		return true
	}
	return false
}

// ContractStatus is always computed from (EndDate, Closed, now).
// It is never stored as authoritative truth, so it cannot drift.
type ContractStatus string

const (
	StatusActive  ContractStatus = "active"
	StatusExpired ContractStatus = "expired"
	StatusClosed  ContractStatus = "closed"
)

// =============================================================================
// PAYMENT METADATA
// =============================================================================

type PaymentInfo struct {
	Mode      string `json:"mode"`
	Reference string `json:"reference"`
}

// =============================================================================
// CONTRACT
// =============================================================================

// ContractTerms are the commercial fields an extension may update.
type ContractTerms struct {
	ProviderRef   string
	InvoiceNumber string
	Cost          decimal.Decimal
	Frequency     Frequency
	Type          ContractType
	Notes         string
	Payment       PaymentInfo
}

// Contract is a maintenance contract over a set of covered assets.
// The validity window is [StartDate, EndDate).
type Contract struct {
	ID            ContractID
	Name          string
	ProviderRef   string
	InvoiceNumber string
	Cost          decimal.Decimal
	Frequency     Frequency
	Type          ContractType
	StartDate     time.Time
	EndDate       time.Time
	Notes         string
	Payment       PaymentInfo
	CoveredAssets []AssetRef

	// Administrative close is independent of date-based expiry.
	Closed       bool
	ClosedReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusAt computes the contract status at a given time.
// Closed dominates; otherwise the date window decides.
func (c *Contract) StatusAt(now time.Time) ContractStatus {
	if c.Closed {
		return StatusClosed
	}
	if now.Before(c.EndDate) {
		return StatusActive
	}
	return StatusExpired
}

// Covers reports whether the asset is in the covered set.
func (c *Contract) Covers(ref AssetRef) bool {
	for _, a := range c.CoveredAssets {
		if a == ref {
			return true
		}
	}
	return false
}

// =============================================================================
// LEDGER ENTRY - One immutable audit record per lifecycle event
// =============================================================================

type EntryType string

const (
	EntryCreate           EntryType = "create"
	EntryServiceInitiated EntryType = "service_initiated"
	EntryServiceClosed    EntryType = "service_closed"
	EntryRepairInitiated  EntryType = "repair_initiated"
	EntryRepairClosed     EntryType = "repair_closed"
	EntryExtended         EntryType = "extended"
	EntryClosed           EntryType = "closed"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryCreate, EntryServiceInitiated, EntryServiceClosed,
		EntryRepairInitiated, EntryRepairClosed, EntryExtended, EntryClosed:
		return true
	}
	return false
}

// IsInitiation reports whether this entry type opens a service/repair cycle.
func (t EntryType) IsInitiation() bool {
	return t == EntryServiceInitiated || t == EntryRepairInitiated
}

// ClosingType returns the entry type that closes a cycle opened by t.
func (t EntryType) ClosingType() EntryType {
	switch t {
	case EntryServiceInitiated:
		return EntryServiceClosed
	case EntryRepairInitiated:
		return EntryRepairClosed
	}
	return ""
}

type ServiceStatus string

const (
	ServiceOpen   ServiceStatus = "open"
	ServiceClosed ServiceStatus = "closed"
)

// LedgerEntry records one lifecycle event against a contract.
//
// INVARIANT: entries are immutable once appended. A cycle is "closed" when
// a correlated Closed entry exists for the same service number, never by
// mutating the Open entry.
type LedgerEntry struct {
	ID            EntryID
	ContractID    ContractID
	Type          EntryType
	ServiceNumber ServiceNumber
	Status        ServiceStatus
	Details       string

	// Assets under service for *Initiated entries; copied verbatim onto
	// the matching Closed entry.
	ServicedAssets []AssetRef

	EstimatedCost decimal.Decimal
	FinalCost     decimal.Decimal
	InvoiceNumber string
	BillNumber    string
	Payment       PaymentInfo

	CreatedAt time.Time
}

// =============================================================================
// PAGINATION
// =============================================================================

// Page bounds list reads. Zero values fall back to the first page with
// DefaultPageSize items.
type Page struct {
	Number int
	Size   int
}

const DefaultPageSize = 50

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	return p
}

// Offset returns the number of records to skip.
func (p Page) Offset() int {
	p = p.normalize()
	return (p.Number - 1) * p.Size
}

// Limit returns the maximum number of records to return.
func (p Page) Limit() int {
	return p.normalize().Size
}
