package amc_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/amc-engine/amc"
	"github.com/warp/amc-engine/amc/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() *amc.Ledger {
	return amc.NewLedger(store.NewMemory())
}

func openEntry(id, contract, sn string, assets ...amc.AssetRef) amc.LedgerEntry {
	if len(assets) == 0 {
		assets = []amc.AssetRef{{Department: amc.DeptIT, AssetID: "laptop-1"}}
	}
	return amc.LedgerEntry{
		ID:             amc.EntryID(id),
		ContractID:     amc.ContractID(contract),
		Type:           amc.EntryServiceInitiated,
		ServiceNumber:  amc.ServiceNumber(sn),
		Status:         amc.ServiceOpen,
		ServicedAssets: assets,
		EstimatedCost:  decimal.NewFromInt(100),
		InvoiceNumber:  "INV-1",
		CreatedAt:      time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
}

func closedEntry(id, contract, sn string) amc.LedgerEntry {
	e := openEntry(id, contract, sn)
	e.Type = amc.EntryServiceClosed
	e.Status = amc.ServiceClosed
	e.FinalCost = decimal.NewFromInt(90)
	e.BillNumber = "BILL-1"
	return e
}

// =============================================================================
// ENTRY VALIDATION
// =============================================================================

func TestValidateEntry_Invariants(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*amc.LedgerEntry)
	}{
		{"missing id", func(e *amc.LedgerEntry) { e.ID = "" }},
		{"missing contract", func(e *amc.LedgerEntry) { e.ContractID = "" }},
		{"unknown type", func(e *amc.LedgerEntry) { e.Type = "audited" }},
		{"initiation without assets", func(e *amc.LedgerEntry) { e.ServicedAssets = nil }},
		{"initiation without invoice", func(e *amc.LedgerEntry) { e.InvoiceNumber = "" }},
		{"initiation without service number", func(e *amc.LedgerEntry) { e.ServiceNumber = "" }},
		{"initiation marked closed", func(e *amc.LedgerEntry) { e.Status = amc.ServiceClosed }},
		{"unknown asset department", func(e *amc.LedgerEntry) {
			e.ServicedAssets = []amc.AssetRef{{Department: "hr", AssetID: "x"}}
		}},
		{"empty asset id", func(e *amc.LedgerEntry) {
			e.ServicedAssets = []amc.AssetRef{{Department: amc.DeptIT, AssetID: ""}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := openEntry("e-1", "c-1", "SN-1")
			tc.mutate(&e)

			err := amc.ValidateEntry(e)
			require.Error(t, err)
			var vErr *amc.ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestValidateEntry_ClosureRequiresCorrelation(t *testing.T) {
	e := closedEntry("e-2", "c-1", "SN-1")
	assert.NoError(t, amc.ValidateEntry(e))

	e.ServiceNumber = ""
	assert.Error(t, amc.ValidateEntry(e), "closure must name the cycle it closes")

	e = closedEntry("e-3", "c-1", "SN-1")
	e.Status = amc.ServiceOpen
	assert.Error(t, amc.ValidateEntry(e), "closure entries carry status closed")
}

// =============================================================================
// LEDGER READS
// =============================================================================

func TestLedger_OpenCycleDerivation(t *testing.T) {
	// GIVEN: SN-1 opened then closed, SN-2 still open
	// WHEN: Querying open state
	// THEN: Only SN-2 is open; only its assets are locked

	ledger := newTestLedger()
	ctx := context.Background()

	a1 := amc.AssetRef{Department: amc.DeptIT, AssetID: "laptop-1"}
	a2 := amc.AssetRef{Department: amc.DeptIT, AssetID: "laptop-2"}

	require.NoError(t, ledger.Append(ctx, openEntry("e-1", "c-1", "SN-1", a1)))
	require.NoError(t, ledger.Append(ctx, closedEntry("e-2", "c-1", "SN-1")))
	require.NoError(t, ledger.Append(ctx, openEntry("e-3", "c-1", "SN-2", a2)))

	_, err := ledger.FindOpenByServiceNumber(ctx, "SN-1")
	assert.True(t, amc.IsNotFound(err), "closed cycle is no longer open")

	open, err := ledger.FindOpenByServiceNumber(ctx, "SN-2")
	require.NoError(t, err)
	assert.Equal(t, amc.EntryID("e-3"), open.ID)

	locked, err := ledger.LockedAssetIDs(ctx, amc.DeptIT)
	require.NoError(t, err)
	assert.Equal(t, map[string]amc.ServiceNumber{"laptop-2": "SN-2"}, locked)
}

func TestLedger_FindByContract_NewestFirstWithFilter(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	e1 := openEntry("e-1", "c-1", "SN-1")
	e2 := closedEntry("e-2", "c-1", "SN-1")
	e2.CreatedAt = e1.CreatedAt.Add(time.Hour)
	require.NoError(t, ledger.Append(ctx, e1))
	require.NoError(t, ledger.Append(ctx, e2))
	require.NoError(t, ledger.Append(ctx, openEntry("e-other", "c-2", "SN-9")))

	all, err := ledger.FindByContract(ctx, "c-1", amc.EntryFilter{}, amc.Page{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, amc.EntryID("e-2"), all[0].ID, "newest first")

	closedOnly, err := ledger.FindByContract(ctx, "c-1", amc.EntryFilter{Type: amc.EntryServiceClosed}, amc.Page{})
	require.NoError(t, err)
	require.Len(t, closedOnly, 1)
	assert.Equal(t, amc.EntryID("e-2"), closedOnly[0].ID)
}

func TestLedger_ListOpenByType_RejectsNonInitiationKinds(t *testing.T) {
	ledger := newTestLedger()

	_, err := ledger.ListOpenByType(context.Background(), amc.EntryServiceClosed, amc.Page{})
	var vErr *amc.ValidationError
	assert.ErrorAs(t, err, &vErr)
}
