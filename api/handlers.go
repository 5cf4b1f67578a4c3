/*
handlers.go - HTTP API handlers for the maintenance contract engine

PURPOSE:
  Exposes the contract lifecycle engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Contracts:
    GET    /api/contracts                      List by computed status
    POST   /api/contracts                      Create contract
    GET    /api/contracts/{id}                 Get contract
    POST   /api/contracts/{id}/extend          Extend validity window
    POST   /api/contracts/{id}/close           Administrative close
    PUT    /api/contracts/{id}/assets          Replace covered-asset set
    GET    /api/contracts/{id}/available-assets  Unlocked covered assets
    GET    /api/contracts/{id}/history         Ledger entries, newest first

  Work cycles:
    POST   /api/services                       Open service cycle
    POST   /api/services/{sn}/close            Close service cycle
    POST   /api/repairs                        Open repair cycle
    POST   /api/repairs/{sn}/close             Close repair cycle
    GET    /api/work/open                      Open cycles across contracts

REQUEST FLOW:
  1. Parse HTTP request
  2. Parse shapes (dates, decimals)
  3. Call the engine
  4. Serialize response
  5. Map domain errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with status mapped from the domain taxonomy:
  - 400: Validation, NotCovered, UnknownAsset
  - 404: NotFound
  - 409: AssetLocked, ContractClosed
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - amc/engine.go: The operations these wrap
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/amc-engine/amc"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *amc.Engine
}

// NewHandler creates a new handler over the engine.
func NewHandler(engine *amc.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// ListContracts returns contracts filtered by computed status.
// GET /api/contracts?status=active|expired|closed
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	status := amc.ContractStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = amc.StatusActive
	}

	contracts, err := h.Engine.ListContracts(r.Context(), status, pageFrom(r))
	if err != nil {
		writeDomainError(w, "Failed to list contracts", err)
		return
	}

	now := h.Engine.Now().UTC()
	dtos := make([]ContractDTO, len(contracts))
	for i := range contracts {
		dtos[i] = toContractDTO(&contracts[i], now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetContract returns a single contract.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := amc.ContractID(chi.URLParam(r, "id"))

	contract, err := h.Engine.GetContract(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(contract, h.Engine.Now().UTC()))
}

// CreateContract creates a contract and its Create ledger entry.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
		return
	}
	cost, err := parseCost(req.Cost)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cost (use a decimal string)", err)
		return
	}

	contract := amc.Contract{
		Name:          req.Name,
		ProviderRef:   req.ProviderRef,
		InvoiceNumber: req.InvoiceNumber,
		Cost:          cost,
		Frequency:     amc.Frequency(req.Frequency),
		Type:          amc.ContractType(req.Type),
		StartDate:     start,
		EndDate:       end,
		Notes:         req.Notes,
		Payment:       amc.PaymentInfo{Mode: req.Payment.Mode, Reference: req.Payment.Reference},
		CoveredAssets: fromAssetRefDTOs(req.CoveredAssets),
	}

	id, err := h.Engine.CreateContract(r.Context(), contract)
	if err != nil {
		writeDomainError(w, "Failed to create contract", err)
		return
	}

	created, err := h.Engine.GetContract(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to read back contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(created, h.Engine.Now().UTC()))
}

// ExtendContract replaces the validity window and terms.
func (h *Handler) ExtendContract(w http.ResponseWriter, r *http.Request) {
	id := amc.ContractID(chi.URLParam(r, "id"))

	var req ExtendContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
		return
	}
	cost, err := parseCost(req.Cost)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cost (use a decimal string)", err)
		return
	}

	terms := amc.ContractTerms{
		ProviderRef:   req.ProviderRef,
		InvoiceNumber: req.InvoiceNumber,
		Cost:          cost,
		Frequency:     amc.Frequency(req.Frequency),
		Type:          amc.ContractType(req.Type),
		Notes:         req.Notes,
		Payment:       amc.PaymentInfo{Mode: req.Payment.Mode, Reference: req.Payment.Reference},
	}

	if err := h.Engine.ExtendContract(r.Context(), id, start, end, terms); err != nil {
		writeDomainError(w, "Failed to extend contract", err)
		return
	}

	contract, err := h.Engine.GetContract(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to read back contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(contract, h.Engine.Now().UTC()))
}

// CloseContract marks the contract administratively closed.
func (h *Handler) CloseContract(w http.ResponseWriter, r *http.Request) {
	id := amc.ContractID(chi.URLParam(r, "id"))

	var req CloseContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Engine.CloseContract(r.Context(), id, req.Reason); err != nil {
		writeDomainError(w, "Failed to close contract", err)
		return
	}

	contract, err := h.Engine.GetContract(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to read back contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(contract, h.Engine.Now().UTC()))
}

// UpdateAssets replaces the covered-asset set.
// PUT /api/contracts/{id}/assets
func (h *Handler) UpdateAssets(w http.ResponseWriter, r *http.Request) {
	id := amc.ContractID(chi.URLParam(r, "id"))

	var req UpdateAssetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Engine.UpdateCoveredAssets(r.Context(), id, fromAssetRefDTOs(req.CoveredAssets)); err != nil {
		writeDomainError(w, "Failed to update covered assets", err)
		return
	}

	contract, err := h.Engine.GetContract(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to read back contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(contract, h.Engine.Now().UTC()))
}

// AvailableAssets returns covered assets not locked by any open cycle.
func (h *Handler) AvailableAssets(w http.ResponseWriter, r *http.Request) {
	id := amc.ContractID(chi.URLParam(r, "id"))

	available, err := h.Engine.AvailableAssets(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to compute available assets", err)
		return
	}

	// Flatten to a stable list, department order then id order.
	dtos := []AssetRefDTO{}
	depts := make([]amc.Department, 0, len(available))
	for dept := range available {
		depts = append(depts, dept)
	}
	sort.Slice(depts, func(i, j int) bool { return depts[i] < depts[j] })
	for _, dept := range depts {
		for _, assetID := range available[dept] {
			dtos = append(dtos, AssetRefDTO{Department: string(dept), AssetID: assetID})
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// History returns the contract's ledger entries, newest first.
// GET /api/contracts/{id}/history?type=service_initiated
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := amc.ContractID(chi.URLParam(r, "id"))
	filter := amc.EntryFilter{Type: amc.EntryType(r.URL.Query().Get("type"))}

	entries, err := h.Engine.History(r.Context(), id, filter, pageFrom(r))
	if err != nil {
		writeDomainError(w, "Failed to load history", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// WORK CYCLE HANDLERS
// =============================================================================

// InitiateService opens a service cycle.
// POST /api/services
func (h *Handler) InitiateService(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, h.Engine.InitiateService)
}

// InitiateRepair opens a repair cycle.
// POST /api/repairs
func (h *Handler) InitiateRepair(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, h.Engine.InitiateRepair)
}

type initiateFn func(ctx context.Context, id amc.ContractID, invoice string, estimated decimal.Decimal, details string, assets []amc.AssetRef) (amc.ServiceNumber, error)

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request, fn initiateFn) {
	var req InitiateWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	estimated, err := parseCost(req.EstimatedCost)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid estimated_cost (use a decimal string)", err)
		return
	}

	sn, err := fn(r.Context(), amc.ContractID(req.ContractID), req.InvoiceNumber, estimated, req.Details, fromAssetRefDTOs(req.Assets))
	if err != nil {
		writeDomainError(w, "Failed to open cycle", err)
		return
	}
	writeJSON(w, http.StatusCreated, InitiateWorkResponse{ServiceNumber: string(sn)})
}

// CloseService closes an open service cycle.
// POST /api/services/{sn}/close
func (h *Handler) CloseService(w http.ResponseWriter, r *http.Request) {
	h.closeCycle(w, r, h.Engine.CloseService)
}

// CloseRepair closes an open repair cycle.
// POST /api/repairs/{sn}/close
func (h *Handler) CloseRepair(w http.ResponseWriter, r *http.Request) {
	h.closeCycle(w, r, h.Engine.CloseRepair)
}

func (h *Handler) closeCycle(w http.ResponseWriter, r *http.Request, fn func(context.Context, amc.ServiceNumber, amc.CloseInput) error) {
	sn := amc.ServiceNumber(chi.URLParam(r, "sn"))

	var req CloseWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	finalCost, err := parseCost(req.FinalCost)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid final_cost (use a decimal string)", err)
		return
	}

	in := amc.CloseInput{
		FinalCost:  finalCost,
		BillNumber: req.BillNumber,
		Payment:    amc.PaymentInfo{Mode: req.Payment.Mode, Reference: req.Payment.Reference},
		Details:    req.Details,
	}
	if err := fn(r.Context(), sn, in); err != nil {
		writeDomainError(w, "Failed to close cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service_number": string(sn), "status": string(amc.ServiceClosed)})
}

// ListOpenWork lists open cycles across all contracts.
// GET /api/work/open?type=service|repair
func (h *Handler) ListOpenWork(w http.ResponseWriter, r *http.Request) {
	kind := amc.EntryServiceInitiated
	if r.URL.Query().Get("type") == "repair" {
		kind = amc.EntryRepairInitiated
	}

	entries, err := h.Engine.ListOpenWork(r.Context(), kind, pageFrom(r))
	if err != nil {
		writeDomainError(w, "Failed to list open work", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func pageFrom(r *http.Request) amc.Page {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	return amc.Page{Number: page, Size: size}
}

// parseCost parses a decimal string; empty means zero.
func parseCost(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the domain error taxonomy to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case amc.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case amc.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case amc.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
