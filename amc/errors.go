/*
errors.go - Centralized error types for the AMC engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is against the sentinels, or errors.As
  against the structured types when they need the conflicting asset,
  service number, or field name.

ERROR CATEGORIES:
  1. Validation errors - malformed or missing input
  2. Not-found errors  - unknown contract, entry, or service number
  3. Conflict errors   - asset lock and closed-contract guards

PROPAGATION:
  Every error is returned synchronously to the caller. The engine never
  retries on validation or lock conflicts; retry is a caller decision.

SEE ALSO:
  - ledger.go: Returns validation errors from Append
  - engine.go: Returns the full taxonomy from lifecycle operations
*/
package amc

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for an unknown contract, entry, or when no
	// open cycle exists for a service number.
	ErrNotFound = errors.New("not found")

	// ErrNotCovered is returned when a serviced asset is not in the
	// contract's covered-asset set.
	ErrNotCovered = errors.New("asset not covered by contract")

	// ErrAssetLocked is returned when an asset is already under an open
	// service/repair cycle. The lock is global across contracts.
	ErrAssetLocked = errors.New("asset locked by open cycle")

	// ErrContractClosed is returned for operations against an
	// administratively closed contract.
	ErrContractClosed = errors.New("contract closed")

	// ErrUnknownAsset is returned when the asset directory does not
	// recognize an asset id for a department.
	ErrUnknownAsset = errors.New("unknown asset")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "contract", "entry", "open cycle"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotCoveredError identifies the asset outside the contract's scope.
type NotCoveredError struct {
	ContractID ContractID
	Asset      AssetRef
}

func (e *NotCoveredError) Error() string {
	return fmt.Sprintf("asset %s is not covered by contract %s", e.Asset, e.ContractID)
}

func (e *NotCoveredError) Unwrap() error { return ErrNotCovered }

// AssetLockedError names the conflicting asset and the open cycle that
// holds it, so the caller can direct the operator to the blocking event.
type AssetLockedError struct {
	Asset         AssetRef
	ServiceNumber ServiceNumber
}

func (e *AssetLockedError) Error() string {
	return fmt.Sprintf("asset %s is under open cycle %s", e.Asset, e.ServiceNumber)
}

func (e *AssetLockedError) Unwrap() error { return ErrAssetLocked }

// ContractClosedError marks an operation rejected by the closed guard.
type ContractClosedError struct {
	ContractID ContractID
}

func (e *ContractClosedError) Error() string {
	return fmt.Sprintf("contract %s is closed", e.ContractID)
}

func (e *ContractClosedError) Unwrap() error { return ErrContractClosed }

// UnknownAssetError lists the ids the directory rejected for a department.
type UnknownAssetError struct {
	Department Department
	AssetIDs   []string
}

func (e *UnknownAssetError) Error() string {
	return fmt.Sprintf("unknown assets in %s: %s", e.Department, strings.Join(e.AssetIDs, ", "))
}

func (e *UnknownAssetError) Unwrap() error { return ErrUnknownAsset }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotCovered) ||
		errors.Is(err, ErrUnknownAsset)
}

// IsConflict returns true for violations of a lifecycle guard.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAssetLocked) ||
		errors.Is(err, ErrContractClosed)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
