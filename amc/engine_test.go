package amc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/amc-engine/amc"
	"github.com/warp/amc-engine/amc/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *amc.Engine {
	t.Helper()

	dir := amc.NewStaticDirectory()
	dir.Add(amc.DeptIT, "laptop-1", "laptop-2", "server-1")
	dir.Add(amc.DeptTestingEquipment, "scope-1")

	engine := amc.NewEngine(store.NewTxMemory(), dir, amc.NopNotifier{})
	engine.Now = func() time.Time { return testNow }
	return engine
}

func testContract(assets ...amc.AssetRef) amc.Contract {
	if len(assets) == 0 {
		assets = []amc.AssetRef{{Department: amc.DeptIT, AssetID: "laptop-1"}}
	}
	return amc.Contract{
		Name:          "Laptop fleet maintenance",
		ProviderRef:   "vendor-42",
		InvoiceNumber: "INV-001",
		Cost:          decimal.NewFromInt(1200),
		Frequency:     amc.FreqAnnual,
		Type:          amc.TypeComprehensive,
		StartDate:     testNow.AddDate(0, -1, 0),
		EndDate:       testNow.AddDate(1, 0, 0),
		CoveredAssets: assets,
	}
}

func itAsset(id string) amc.AssetRef {
	return amc.AssetRef{Department: amc.DeptIT, AssetID: id}
}

func mustCreate(t *testing.T, engine *amc.Engine, c amc.Contract) amc.ContractID {
	t.Helper()
	id, err := engine.CreateContract(context.Background(), c)
	require.NoError(t, err)
	return id
}

func mustInitiateService(t *testing.T, engine *amc.Engine, id amc.ContractID, assets ...amc.AssetRef) amc.ServiceNumber {
	t.Helper()
	sn, err := engine.InitiateService(context.Background(), id, "INV-SVC", decimal.NewFromInt(100), "scheduled service", assets)
	require.NoError(t, err)
	return sn
}

// =============================================================================
// CONTRACT CREATION
// =============================================================================

func TestCreateContract_AppendsCreateEntry(t *testing.T) {
	// GIVEN: A valid contract
	// WHEN: Creating it
	// THEN: The contract is readable, Active, and its history starts with a Create entry

	engine := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, engine, testContract())

	contract, err := engine.GetContract(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, amc.StatusActive, contract.StatusAt(testNow))
	assert.Equal(t, "Laptop fleet maintenance", contract.Name)

	history, err := engine.History(ctx, id, amc.EntryFilter{}, amc.Page{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, amc.EntryCreate, history[0].Type)
}

func TestCreateContract_Validation(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*amc.Contract)
	}{
		{"missing name", func(c *amc.Contract) { c.Name = "" }},
		{"missing provider", func(c *amc.Contract) { c.ProviderRef = "" }},
		{"missing invoice", func(c *amc.Contract) { c.InvoiceNumber = "" }},
		{"negative cost", func(c *amc.Contract) { c.Cost = decimal.NewFromInt(-1) }},
		{"bad frequency", func(c *amc.Contract) { c.Frequency = "weekly" }},
		{"bad type", func(c *amc.Contract) { c.Type = "gold" }},
		{"window inverted", func(c *amc.Contract) { c.EndDate = c.StartDate }},
		{"no covered assets", func(c *amc.Contract) { c.CoveredAssets = nil }},
		{"bad department", func(c *amc.Contract) {
			c.CoveredAssets = []amc.AssetRef{{Department: "marketing", AssetID: "x"}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := testContract()
			tc.mutate(&c)
			_, err := engine.CreateContract(ctx, c)
			assert.Error(t, err)
			assert.True(t, amc.IsClientError(err), "expected a client error, got %v", err)
		})
	}
}

func TestCreateContract_UnknownAssetRejected(t *testing.T) {
	// GIVEN: A directory that does not know "ghost-1"
	// WHEN: Creating a contract covering it
	// THEN: UnknownAssetError naming the offending ids

	engine := newTestEngine(t)

	_, err := engine.CreateContract(context.Background(), testContract(itAsset("ghost-1")))
	require.Error(t, err)

	var unknownErr *amc.UnknownAssetError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, amc.DeptIT, unknownErr.Department)
	assert.Equal(t, []string{"ghost-1"}, unknownErr.AssetIDs)
}

// =============================================================================
// LOCKING INVARIANT
// =============================================================================

func TestInitiateService_LocksAssets(t *testing.T) {
	// GIVEN: Contract C1 covering A1 and A2, a service opened on both
	// WHEN: Opening another service on A1
	// THEN: AssetLockedError identifying A1 and the owning cycle

	engine := newTestEngine(t)
	ctx := context.Background()

	a1, a2 := itAsset("laptop-1"), itAsset("laptop-2")
	c1 := mustCreate(t, engine, testContract(a1, a2))

	sn1 := mustInitiateService(t, engine, c1, a1, a2)

	_, err := engine.InitiateService(ctx, c1, "INV-2", decimal.Zero, "", []amc.AssetRef{a1})
	require.Error(t, err)

	var lockErr *amc.AssetLockedError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, a1, lockErr.Asset)
	assert.Equal(t, sn1, lockErr.ServiceNumber)
	assert.True(t, amc.IsConflict(err))
}

func TestInitiateService_LockIsGlobalAcrossContracts(t *testing.T) {
	// GIVEN: Two contracts both covering laptop-1, one open cycle under the first
	// WHEN: The second contract tries to service laptop-1
	// THEN: Rejected; the lock is per asset, not per contract

	engine := newTestEngine(t)
	ctx := context.Background()

	a1 := itAsset("laptop-1")
	c1 := mustCreate(t, engine, testContract(a1))
	c2 := mustCreate(t, engine, testContract(a1))

	mustInitiateService(t, engine, c1, a1)

	_, err := engine.InitiateService(ctx, c2, "INV-2", decimal.Zero, "", []amc.AssetRef{a1})
	var lockErr *amc.AssetLockedError
	assert.ErrorAs(t, err, &lockErr)
}

func TestInitiateService_RoundTripFreesAsset(t *testing.T) {
	// GIVEN: A service opened and then closed on laptop-1
	// WHEN: Opening a new service on laptop-1
	// THEN: It succeeds with a fresh service number

	engine := newTestEngine(t)
	ctx := context.Background()

	a1 := itAsset("laptop-1")
	c1 := mustCreate(t, engine, testContract(a1))

	sn1 := mustInitiateService(t, engine, c1, a1)
	require.NoError(t, engine.CloseService(ctx, sn1, amc.CloseInput{
		FinalCost:  decimal.NewFromInt(80),
		BillNumber: "BILL-1",
	}))

	sn2 := mustInitiateService(t, engine, c1, a1)
	assert.NotEqual(t, sn1, sn2)
}

func TestInitiateService_DuplicateAssetRefsRejected(t *testing.T) {
	// GIVEN: An initiation request naming laptop-1 twice
	// WHEN: Opening the service
	// THEN: ValidationError, and no lock is taken by the failed request

	engine := newTestEngine(t)
	ctx := context.Background()

	a1 := itAsset("laptop-1")
	c1 := mustCreate(t, engine, testContract(a1))

	_, err := engine.InitiateService(ctx, c1, "INV-D", decimal.Zero, "", []amc.AssetRef{a1, a1})
	require.Error(t, err)
	var vErr *amc.ValidationError
	assert.ErrorAs(t, err, &vErr)

	// laptop-1 stays free.
	mustInitiateService(t, engine, c1, a1)
}

func TestInitiateService_ConcurrentRaceOnSameAsset(t *testing.T) {
	// GIVEN: 16 goroutines racing to open a service on the same asset
	// WHEN: All fire at once
	// THEN: Exactly one succeeds, the rest observe AssetLockedError

	engine := newTestEngine(t)
	ctx := context.Background()

	a1 := itAsset("laptop-1")
	c1 := mustCreate(t, engine, testContract(a1))

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.InitiateService(ctx, c1, "INV-RACE", decimal.Zero, "", []amc.AssetRef{a1})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var lockErr *amc.AssetLockedError
		assert.ErrorAs(t, err, &lockErr)
	}
	assert.Equal(t, 1, succeeded, "exactly one initiation must win")
}

func TestServiceCycle_EndToEnd(t *testing.T) {
	// GIVEN: A contract over two laptops
	// WHEN: A cycle opens on both, conflicts are attempted, the cycle closes,
	//       and a new cycle opens on one of them
	// THEN: Locks appear and disappear with the cycle, and the history
	//       replays the whole trail in order

	engine := newTestEngine(t)
	ctx := context.Background()

	a1, a2 := itAsset("laptop-1"), itAsset("laptop-2")
	c1 := mustCreate(t, engine, testContract(a1, a2))

	sn1 := mustInitiateService(t, engine, c1, a1, a2)

	// Both assets are locked while the cycle is open.
	for _, a := range []amc.AssetRef{a1, a2} {
		_, err := engine.InitiateService(ctx, c1, "INV-X", decimal.Zero, "", []amc.AssetRef{a})
		var lockErr *amc.AssetLockedError
		require.ErrorAs(t, err, &lockErr)
		assert.Equal(t, sn1, lockErr.ServiceNumber)
	}

	require.NoError(t, engine.CloseService(ctx, sn1, amc.CloseInput{
		FinalCost:  decimal.NewFromInt(200),
		BillNumber: "BILL-9",
	}))

	// Both assets are free again.
	available, err := engine.AvailableAssets(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, []string{"laptop-1", "laptop-2"}, available[amc.DeptIT])

	sn2 := mustInitiateService(t, engine, c1, a2)
	assert.NotEqual(t, sn1, sn2)

	history, err := engine.History(ctx, c1, amc.EntryFilter{}, amc.Page{})
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, amc.EntryServiceInitiated, history[0].Type)
	assert.Equal(t, sn2, history[0].ServiceNumber)
	assert.Equal(t, amc.EntryServiceClosed, history[1].Type)
	assert.Equal(t, amc.EntryServiceInitiated, history[2].Type)
	assert.Equal(t, sn1, history[2].ServiceNumber)
	assert.Equal(t, amc.EntryCreate, history[3].Type)
}

// =============================================================================
// CYCLE CLOSURE
// =============================================================================

func TestCloseService_AppendsClosedEntry(t *testing.T) {
	// GIVEN: An open service cycle
	// WHEN: Closing it with a final cost and bill number
	// THEN: A correlated Closed entry is appended; the Open entry is untouched

	engine := newTestEngine(t)
	ctx := context.Background()

	a1 := itAsset("laptop-1")
	c1 := mustCreate(t, engine, testContract(a1))
	sn := mustInitiateService(t, engine, c1, a1)

	require.NoError(t, engine.CloseService(ctx, sn, amc.CloseInput{
		FinalCost:  decimal.NewFromInt(95),
		BillNumber: "BILL-7",
		Details:    "filters replaced",
	}))

	history, err := engine.History(ctx, c1, amc.EntryFilter{}, amc.Page{})
	require.NoError(t, err)
	require.Len(t, history, 3) // create, initiated, closed

	// Newest first: closed entry leads.
	closed := history[0]
	assert.Equal(t, amc.EntryServiceClosed, closed.Type)
	assert.Equal(t, sn, closed.ServiceNumber)
	assert.Equal(t, amc.ServiceClosed, closed.Status)
	assert.True(t, closed.FinalCost.Equal(decimal.NewFromInt(95)))
	assert.Equal(t, []amc.AssetRef{a1}, closed.ServicedAssets)

	opened := history[1]
	assert.Equal(t, amc.EntryServiceInitiated, opened.Type)
	assert.Equal(t, amc.ServiceOpen, opened.Status, "opening entry must never be mutated")
}

func TestCloseService_UnknownOrAlreadyClosed(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	a1 := itAsset("laptop-1")
	c1 := mustCreate(t, engine, testContract(a1))
	sn := mustInitiateService(t, engine, c1, a1)

	// Unknown service number
	err := engine.CloseService(ctx, "SN-nope", amc.CloseInput{})
	assert.True(t, amc.IsNotFound(err))

	// Double close
	require.NoError(t, engine.CloseService(ctx, sn, amc.CloseInput{}))
	err = engine.CloseService(ctx, sn, amc.CloseInput{})
	assert.True(t, amc.IsNotFound(err), "second close must not find an open cycle")
}

func TestCloseService_WrongKindRejected(t *testing.T) {
	// GIVEN: An open repair cycle
	// WHEN: Closing it through the service path
	// THEN: NotFound; the cycle kinds do not cross

	engine := newTestEngine(t)
	ctx := context.Background()

	a1 := itAsset("laptop-1")
	c1 := mustCreate(t, engine, testContract(a1))

	sn, err := engine.InitiateRepair(ctx, c1, "INV-R", decimal.Zero, "broken fan", []amc.AssetRef{a1})
	require.NoError(t, err)

	err = engine.CloseService(ctx, sn, amc.CloseInput{})
	assert.True(t, amc.IsNotFound(err))

	// The repair path still closes it.
	assert.NoError(t, engine.CloseRepair(ctx, sn, amc.CloseInput{}))
}

// =============================================================================
// COVERAGE AND CONTRACT-STATE GUARDS
// =============================================================================

func TestInitiateService_NotCoveredRejected(t *testing.T) {
	// GIVEN: A contract covering only laptop-1
	// WHEN: Opening a service on laptop-2
	// THEN: NotCoveredError, and no lock is taken

	engine := newTestEngine(t)
	ctx := context.Background()

	c1 := mustCreate(t, engine, testContract(itAsset("laptop-1")))

	_, err := engine.InitiateService(ctx, c1, "INV-2", decimal.Zero, "", []amc.AssetRef{itAsset("laptop-2")})
	var ncErr *amc.NotCoveredError
	require.ErrorAs(t, err, &ncErr)
	assert.Equal(t, itAsset("laptop-2"), ncErr.Asset)

	// laptop-2 stays free for a contract that does cover it.
	c2 := mustCreate(t, engine, testContract(itAsset("laptop-2")))
	mustInitiateService(t, engine, c2, itAsset("laptop-2"))
}

func TestClosedContract_RejectsAllMutations(t *testing.T) {
	// GIVEN: An administratively closed contract
	// WHEN: Initiating, extending, or editing assets
	// THEN: ContractClosedError on each path

	engine := newTestEngine(t)
	ctx := context.Background()

	a1 := itAsset("laptop-1")
	c1 := mustCreate(t, engine, testContract(a1))
	require.NoError(t, engine.CloseContract(ctx, c1, "vendor dropped"))

	contract, err := engine.GetContract(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, amc.StatusClosed, contract.StatusAt(testNow))
	assert.Equal(t, "vendor dropped", contract.ClosedReason)

	_, err = engine.InitiateService(ctx, c1, "INV-X", decimal.Zero, "", []amc.AssetRef{a1})
	assert.True(t, amc.IsConflict(err))

	err = engine.ExtendContract(ctx, c1, testNow, testNow.AddDate(1, 0, 0), validTerms())
	assert.True(t, amc.IsConflict(err))

	err = engine.UpdateCoveredAssets(ctx, c1, []amc.AssetRef{a1})
	assert.True(t, amc.IsConflict(err))

	err = engine.CloseContract(ctx, c1, "again")
	assert.True(t, amc.IsConflict(err), "closing twice is a conflict")
}

func validTerms() amc.ContractTerms {
	return amc.ContractTerms{
		ProviderRef:   "vendor-42",
		InvoiceNumber: "INV-EXT",
		Cost:          decimal.NewFromInt(1500),
		Frequency:     amc.FreqAnnual,
		Type:          amc.TypeComprehensive,
	}
}

// =============================================================================
// EXTENSION AND STATUS
// =============================================================================

func TestExtendContract_RevivesExpired(t *testing.T) {
	// GIVEN: A contract whose window ended last month (computed Expired)
	// WHEN: Extending with a window covering today
	// THEN: Status is Active again and an Extended entry is recorded

	engine := newTestEngine(t)
	ctx := context.Background()

	c := testContract()
	c.StartDate = testNow.AddDate(-1, 0, 0)
	c.EndDate = testNow.AddDate(0, -1, 0)
	id := mustCreate(t, engine, c)

	contract, err := engine.GetContract(ctx, id)
	require.NoError(t, err)
	require.Equal(t, amc.StatusExpired, contract.StatusAt(testNow))

	newEnd := testNow.AddDate(1, 0, 0)
	require.NoError(t, engine.ExtendContract(ctx, id, contract.StartDate, newEnd, validTerms()))

	contract, err = engine.GetContract(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, amc.StatusActive, contract.StatusAt(testNow))
	assert.True(t, contract.EndDate.Equal(newEnd))
	assert.True(t, contract.Cost.Equal(decimal.NewFromInt(1500)), "terms replaced by extension")

	history, err := engine.History(ctx, id, amc.EntryFilter{Type: amc.EntryExtended}, amc.Page{})
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestListContracts_ByComputedStatus(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	active := mustCreate(t, engine, testContract())

	expired := testContract()
	expired.StartDate = testNow.AddDate(-2, 0, 0)
	expired.EndDate = testNow.AddDate(-1, 0, 0)
	expiredID := mustCreate(t, engine, expired)

	closedID := mustCreate(t, engine, testContract())
	require.NoError(t, engine.CloseContract(ctx, closedID, "done"))

	ids := func(cs []amc.Contract) []amc.ContractID {
		out := make([]amc.ContractID, len(cs))
		for i, c := range cs {
			out[i] = c.ID
		}
		return out
	}

	got, err := engine.ListContracts(ctx, amc.StatusActive, amc.Page{})
	require.NoError(t, err)
	assert.Equal(t, []amc.ContractID{active}, ids(got))

	got, err = engine.ListContracts(ctx, amc.StatusExpired, amc.Page{})
	require.NoError(t, err)
	assert.Equal(t, []amc.ContractID{expiredID}, ids(got))

	got, err = engine.ListContracts(ctx, amc.StatusClosed, amc.Page{})
	require.NoError(t, err)
	assert.Equal(t, []amc.ContractID{closedID}, ids(got))
}

// =============================================================================
// ASSET VIEWS AND COVERED-SET EDITS
// =============================================================================

func TestAvailableAssets_ExcludesLocked(t *testing.T) {
	// GIVEN: A contract covering three assets, one under an open cycle
	// WHEN: Asking for available assets
	// THEN: Only the unlocked ones come back, sorted

	engine := newTestEngine(t)
	ctx := context.Background()

	a1, a2, s1 := itAsset("laptop-1"), itAsset("laptop-2"), itAsset("server-1")
	c1 := mustCreate(t, engine, testContract(a1, a2, s1))

	mustInitiateService(t, engine, c1, a2)

	available, err := engine.AvailableAssets(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, []string{"laptop-1", "server-1"}, available[amc.DeptIT])
}

func TestUpdateCoveredAssets_ReplacesSet(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	c1 := mustCreate(t, engine, testContract(itAsset("laptop-1")))

	err := engine.UpdateCoveredAssets(ctx, c1, nil)
	assert.True(t, amc.IsClientError(err), "empty replacement set rejected")

	require.NoError(t, engine.UpdateCoveredAssets(ctx, c1, []amc.AssetRef{itAsset("laptop-2")}))

	contract, err := engine.GetContract(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, []amc.AssetRef{itAsset("laptop-2")}, contract.CoveredAssets)
	assert.False(t, contract.Covers(itAsset("laptop-1")))
}

// =============================================================================
// OPEN WORK VIEWS
// =============================================================================

func TestListOpenWork_OnlyOpenCyclesOfKind(t *testing.T) {
	// GIVEN: One open service, one closed service, and one open repair
	// WHEN: Listing open work per kind
	// THEN: Each list holds exactly the still-open cycles of that kind

	engine := newTestEngine(t)
	ctx := context.Background()

	a1, a2, s1 := itAsset("laptop-1"), itAsset("laptop-2"), itAsset("server-1")
	c1 := mustCreate(t, engine, testContract(a1, a2, s1))

	openSN := mustInitiateService(t, engine, c1, a1)
	closedSN := mustInitiateService(t, engine, c1, a2)
	require.NoError(t, engine.CloseService(ctx, closedSN, amc.CloseInput{}))

	repairSN, err := engine.InitiateRepair(ctx, c1, "INV-R", decimal.Zero, "", []amc.AssetRef{s1})
	require.NoError(t, err)

	services, err := engine.ListOpenWork(ctx, amc.EntryServiceInitiated, amc.Page{})
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, openSN, services[0].ServiceNumber)

	repairs, err := engine.ListOpenWork(ctx, amc.EntryRepairInitiated, amc.Page{})
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.Equal(t, repairSN, repairs[0].ServiceNumber)
}
