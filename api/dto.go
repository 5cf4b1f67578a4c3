/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Contract:
    ContractDTO, CreateContractRequest, ExtendContractRequest,
    CloseContractRequest, UpdateAssetsRequest

  Ledger:
    EntryDTO

  Work cycles:
    InitiateWorkRequest, InitiateWorkResponse, CloseWorkRequest

MONEY FIELDS:
  Costs travel as decimal strings ("1200.50"), never floats. They are
  parsed with shopspring/decimal in the handlers.

VALIDATION:
  Shape parsing (dates, decimals) is done in handlers; business
  validation lives in the engine. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - amc/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/warp/amc-engine/amc"
)

// =============================================================================
// CONTRACT TYPES
// =============================================================================

// AssetRefDTO is a (department, asset id) pair.
type AssetRefDTO struct {
	Department string `json:"department"`
	AssetID    string `json:"asset_id"`
}

// PaymentDTO carries payment metadata.
type PaymentDTO struct {
	Mode      string `json:"mode,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// ContractDTO represents a contract in API responses. Status is computed
// at response time, never read from storage.
type ContractDTO struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	ProviderRef   string        `json:"provider_ref"`
	InvoiceNumber string        `json:"invoice_number"`
	Cost          string        `json:"cost"`
	Frequency     string        `json:"frequency"`
	Type          string        `json:"type"`
	StartDate     string        `json:"start_date"`
	EndDate       string        `json:"end_date"`
	Status        string        `json:"status"`
	Notes         string        `json:"notes,omitempty"`
	Payment       PaymentDTO    `json:"payment"`
	CoveredAssets []AssetRefDTO `json:"covered_assets"`
	ClosedReason  string        `json:"closed_reason,omitempty"`
	CreatedAt     string        `json:"created_at,omitempty"`
	UpdatedAt     string        `json:"updated_at,omitempty"`
}

// CreateContractRequest is the request to create a contract.
type CreateContractRequest struct {
	Name          string        `json:"name"`
	ProviderRef   string        `json:"provider_ref"`
	InvoiceNumber string        `json:"invoice_number"`
	Cost          string        `json:"cost"`
	Frequency     string        `json:"frequency"`
	Type          string        `json:"type"`
	StartDate     string        `json:"start_date"`
	EndDate       string        `json:"end_date"`
	Notes         string        `json:"notes,omitempty"`
	Payment       PaymentDTO    `json:"payment"`
	CoveredAssets []AssetRefDTO `json:"covered_assets"`
}

// ExtendContractRequest replaces the validity window and commercial terms.
type ExtendContractRequest struct {
	StartDate     string     `json:"start_date"`
	EndDate       string     `json:"end_date"`
	ProviderRef   string     `json:"provider_ref"`
	InvoiceNumber string     `json:"invoice_number"`
	Cost          string     `json:"cost"`
	Frequency     string     `json:"frequency"`
	Type          string     `json:"type"`
	Notes         string     `json:"notes,omitempty"`
	Payment       PaymentDTO `json:"payment"`
}

// CloseContractRequest marks a contract administratively closed.
type CloseContractRequest struct {
	Reason string `json:"reason"`
}

// UpdateAssetsRequest replaces the covered-asset set verbatim.
type UpdateAssetsRequest struct {
	CoveredAssets []AssetRefDTO `json:"covered_assets"`
}

// =============================================================================
// WORK CYCLE TYPES
// =============================================================================

// InitiateWorkRequest opens a service or repair cycle.
type InitiateWorkRequest struct {
	ContractID    string        `json:"contract_id"`
	InvoiceNumber string        `json:"invoice_number"`
	EstimatedCost string        `json:"estimated_cost"`
	Details       string        `json:"details,omitempty"`
	Assets        []AssetRefDTO `json:"assets"`
}

// InitiateWorkResponse returns the generated correlation key.
type InitiateWorkResponse struct {
	ServiceNumber string `json:"service_number"`
}

// CloseWorkRequest closes an open cycle by service number.
type CloseWorkRequest struct {
	FinalCost  string     `json:"final_cost"`
	BillNumber string     `json:"bill_number"`
	Payment    PaymentDTO `json:"payment"`
	Details    string     `json:"details,omitempty"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// EntryDTO represents one ledger entry in API responses.
type EntryDTO struct {
	ID             string        `json:"id"`
	ContractID     string        `json:"contract_id"`
	Type           string        `json:"type"`
	ServiceNumber  string        `json:"service_number,omitempty"`
	Status         string        `json:"status,omitempty"`
	Details        string        `json:"details,omitempty"`
	ServicedAssets []AssetRefDTO `json:"serviced_assets,omitempty"`
	EstimatedCost  string        `json:"estimated_cost,omitempty"`
	FinalCost      string        `json:"final_cost,omitempty"`
	InvoiceNumber  string        `json:"invoice_number,omitempty"`
	BillNumber     string        `json:"bill_number,omitempty"`
	Payment        PaymentDTO    `json:"payment"`
	CreatedAt      string        `json:"created_at"`
}

// ErrorResponse is the error body for all non-2xx responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DOMAIN -> DTO CONVERSION
// =============================================================================

func toAssetRefDTOs(refs []amc.AssetRef) []AssetRefDTO {
	dtos := make([]AssetRefDTO, len(refs))
	for i, a := range refs {
		dtos[i] = AssetRefDTO{Department: string(a.Department), AssetID: a.AssetID}
	}
	return dtos
}

func fromAssetRefDTOs(dtos []AssetRefDTO) []amc.AssetRef {
	refs := make([]amc.AssetRef, len(dtos))
	for i, d := range dtos {
		refs[i] = amc.AssetRef{Department: amc.Department(d.Department), AssetID: d.AssetID}
	}
	return refs
}

func toContractDTO(c *amc.Contract, now time.Time) ContractDTO {
	return ContractDTO{
		ID:            string(c.ID),
		Name:          c.Name,
		ProviderRef:   c.ProviderRef,
		InvoiceNumber: c.InvoiceNumber,
		Cost:          c.Cost.String(),
		Frequency:     string(c.Frequency),
		Type:          string(c.Type),
		StartDate:     c.StartDate.Format("2006-01-02"),
		EndDate:       c.EndDate.Format("2006-01-02"),
		Status:        string(c.StatusAt(now)),
		Notes:         c.Notes,
		Payment:       PaymentDTO{Mode: c.Payment.Mode, Reference: c.Payment.Reference},
		CoveredAssets: toAssetRefDTOs(c.CoveredAssets),
		ClosedReason:  c.ClosedReason,
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     c.UpdatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(e amc.LedgerEntry) EntryDTO {
	dto := EntryDTO{
		ID:             string(e.ID),
		ContractID:     string(e.ContractID),
		Type:           string(e.Type),
		ServiceNumber:  string(e.ServiceNumber),
		Status:         string(e.Status),
		Details:        e.Details,
		ServicedAssets: toAssetRefDTOs(e.ServicedAssets),
		InvoiceNumber:  e.InvoiceNumber,
		BillNumber:     e.BillNumber,
		Payment:        PaymentDTO{Mode: e.Payment.Mode, Reference: e.Payment.Reference},
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
	if !e.EstimatedCost.IsZero() {
		dto.EstimatedCost = e.EstimatedCost.String()
	}
	if !e.FinalCost.IsZero() {
		dto.FinalCost = e.FinalCost.String()
	}
	return dto
}
