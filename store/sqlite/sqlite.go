/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements amc.Store and amc.TxStore using SQLite. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE and no DELETE ever touch the ledger_entries table. Cycle
  closure is represented by appending a correlated Closed entry.

KEY TABLES:
  contracts:      Contract records (closed flag is the only lifecycle bit)
  covered_assets: The (department, asset id) pairs a contract covers
  ledger_entries: Immutable audit log of all lifecycle events
  entry_assets:   Per-asset rows of each entry; the open rows form the
                  asset-lock index, maintained transactionally with every
                  append and derivable purely from ledger semantics

INDEXES:
  - idx_entries_contract:     History reads (hot path)
  - idx_entries_open_cycle:   Open-cycle lookup by service number
  - idx_asset_lock (UNIQUE):  One open cycle per (department, asset id) -
                              the database-level backstop for the locking
                              invariant

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode. WithTx holds
  the write lock for the whole transaction, so the engine's
  validate-then-append is an atomic check-then-act; the unique index
  catches anything that slips past.

USAGE:
  store, err := sqlite.New("./data/amc.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := amc.NewEngine(store, directory, notifier)

SEE ALSO:
  - amc/store.go:        Interface definitions
  - amc/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/amc-engine/amc"
)

// Store implements amc.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent; SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		provider_ref TEXT NOT NULL,
		invoice_number TEXT NOT NULL,
		cost TEXT NOT NULL,
		frequency TEXT NOT NULL,
		contract_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		notes TEXT,
		payment_mode TEXT,
		payment_reference TEXT,
		closed INTEGER NOT NULL DEFAULT 0,
		closed_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_end_date
		ON contracts(closed, end_date);

	CREATE TABLE IF NOT EXISTS covered_assets (
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		department TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		PRIMARY KEY (contract_id, department, asset_id)
	);

	-- Ledger (append-only). No UPDATE, no DELETE, ever.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		entry_type TEXT NOT NULL,
		service_number TEXT,
		status TEXT,
		details TEXT,
		estimated_cost TEXT,
		final_cost TEXT,
		invoice_number TEXT,
		bill_number TEXT,
		payment_mode TEXT,
		payment_reference TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_contract
		ON ledger_entries(contract_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_open_cycle
		ON ledger_entries(service_number, entry_type)
		WHERE service_number IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_type
		ON ledger_entries(entry_type);

	-- Per-asset rows of each entry. Rows with open = 1 are the asset-lock
	-- index; the closing append clears them in the same transaction.
	CREATE TABLE IF NOT EXISTS entry_assets (
		entry_id TEXT NOT NULL REFERENCES ledger_entries(id),
		service_number TEXT NOT NULL,
		department TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		open INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_entry_assets_entry
		ON entry_assets(entry_id);
	CREATE INDEX IF NOT EXISTS idx_entry_assets_service
		ON entry_assets(service_number);

	-- CRITICAL: one open cycle per asset, across ALL contracts.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_asset_lock
		ON entry_assets(department, asset_id)
		WHERE open = 1;
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CONTRACT STORE (amc.ContractStore interface)
// =============================================================================

func (s *Store) CreateContract(ctx context.Context, c amc.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.createContract(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) createContract(ctx context.Context, q dbtx, c amc.Contract) error {
	query := `
		INSERT INTO contracts
		(id, name, provider_ref, invoice_number, cost, frequency, contract_type,
		 start_date, end_date, notes, payment_mode, payment_reference,
		 closed, closed_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		c.ID, c.Name, c.ProviderRef, c.InvoiceNumber,
		c.Cost.String(), c.Frequency, c.Type,
		c.StartDate.UTC().Format(time.RFC3339), c.EndDate.UTC().Format(time.RFC3339),
		c.Notes, c.Payment.Mode, c.Payment.Reference,
		boolToInt(c.Closed), c.ClosedReason,
		c.CreatedAt.UTC().Format(time.RFC3339), c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &amc.ValidationError{Field: "id", Reason: "contract already exists"}
		}
		return fmt.Errorf("failed to insert contract: %w", err)
	}

	return s.replaceCoveredAssets(ctx, q, c.ID, c.CoveredAssets)
}

func (s *Store) replaceCoveredAssets(ctx context.Context, q dbtx, id amc.ContractID, assets []amc.AssetRef) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM covered_assets WHERE contract_id = ?", id); err != nil {
		return fmt.Errorf("failed to clear covered assets: %w", err)
	}
	for _, a := range assets {
		_, err := q.ExecContext(ctx,
			"INSERT INTO covered_assets (contract_id, department, asset_id) VALUES (?, ?, ?)",
			id, a.Department, a.AssetID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert covered asset: %w", err)
		}
	}
	return nil
}

func (s *Store) GetContract(ctx context.Context, id amc.ContractID) (*amc.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getContract(ctx, s.db, id)
}

func (s *Store) getContract(ctx context.Context, q dbtx, id amc.ContractID) (*amc.Contract, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, provider_ref, invoice_number, cost, frequency, contract_type,
		       start_date, end_date, notes, payment_mode, payment_reference,
		       closed, closed_reason, created_at, updated_at
		FROM contracts WHERE id = ?
	`, id)

	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, &amc.NotFoundError{Kind: "contract", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}

	assets, err := s.loadCoveredAssets(ctx, q, id)
	if err != nil {
		return nil, err
	}
	c.CoveredAssets = assets
	return c, nil
}

func (s *Store) loadCoveredAssets(ctx context.Context, q dbtx, id amc.ContractID) ([]amc.AssetRef, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT department, asset_id FROM covered_assets WHERE contract_id = ? ORDER BY department, asset_id",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query covered assets: %w", err)
	}
	defer rows.Close()

	var assets []amc.AssetRef
	for rows.Next() {
		var a amc.AssetRef
		if err := rows.Scan(&a.Department, &a.AssetID); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (s *Store) ListContracts(ctx context.Context, status amc.ContractStatus, now time.Time, page amc.Page) ([]amc.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listContracts(ctx, s.db, status, now, page)
}

func (s *Store) listContracts(ctx context.Context, q dbtx, status amc.ContractStatus, now time.Time, page amc.Page) ([]amc.Contract, error) {
	// Status is computed against the date window at query time, never
	// read from a stored status field.
	where := "1=1"
	args := []any{}
	nowStr := now.UTC().Format(time.RFC3339)

	switch status {
	case amc.StatusActive:
		where = "closed = 0 AND end_date > ?"
		args = append(args, nowStr)
	case amc.StatusExpired:
		where = "closed = 0 AND end_date <= ?"
		args = append(args, nowStr)
	case amc.StatusClosed:
		where = "closed = 1"
	}

	query := fmt.Sprintf(`
		SELECT id, name, provider_ref, invoice_number, cost, frequency, contract_type,
		       start_date, end_date, notes, payment_mode, payment_reference,
		       closed, closed_reason, created_at, updated_at
		FROM contracts
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, where)
	args = append(args, page.Limit(), page.Offset())

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}

	var contracts []amc.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range contracts {
		assets, err := s.loadCoveredAssets(ctx, q, contracts[i].ID)
		if err != nil {
			return nil, err
		}
		contracts[i].CoveredAssets = assets
	}
	return contracts, nil
}

func (s *Store) UpdateContractWindow(ctx context.Context, id amc.ContractID, start, end time.Time, terms amc.ContractTerms) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateContractWindow(ctx, s.db, id, start, end, terms)
}

func (s *Store) updateContractWindow(ctx context.Context, q dbtx, id amc.ContractID, start, end time.Time, terms amc.ContractTerms) error {
	res, err := q.ExecContext(ctx, `
		UPDATE contracts SET
			start_date = ?, end_date = ?,
			provider_ref = ?, invoice_number = ?, cost = ?,
			frequency = ?, contract_type = ?, notes = ?,
			payment_mode = ?, payment_reference = ?,
			updated_at = ?
		WHERE id = ?
	`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
		terms.ProviderRef, terms.InvoiceNumber, terms.Cost.String(),
		terms.Frequency, terms.Type, terms.Notes,
		terms.Payment.Mode, terms.Payment.Reference,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update contract window: %w", err)
	}
	return requireRow(res, "contract", string(id))
}

func (s *Store) UpdateCoveredAssets(ctx context.Context, id amc.ContractID, assets []amc.AssetRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.updateCoveredAssetsTx(ctx, tx, id, assets); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) updateCoveredAssetsTx(ctx context.Context, q dbtx, id amc.ContractID, assets []amc.AssetRef) error {
	var exists int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM contracts WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return &amc.NotFoundError{Kind: "contract", ID: string(id)}
	}

	if err := s.replaceCoveredAssets(ctx, q, id, assets); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, "UPDATE contracts SET updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (s *Store) MarkContractClosed(ctx context.Context, id amc.ContractID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markContractClosed(ctx, s.db, id, reason)
}

func (s *Store) markContractClosed(ctx context.Context, q dbtx, id amc.ContractID, reason string) error {
	res, err := q.ExecContext(ctx,
		"UPDATE contracts SET closed = 1, closed_reason = ?, updated_at = ? WHERE id = ?",
		reason, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to close contract: %w", err)
	}
	return requireRow(res, "contract", string(id))
}

// =============================================================================
// LEDGER STORE (amc.LedgerStore interface) - append-only
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e amc.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.appendEntry(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) appendEntry(ctx context.Context, q dbtx, e amc.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
		(id, contract_id, entry_type, service_number, status, details,
		 estimated_cost, final_cost, invoice_number, bill_number,
		 payment_mode, payment_reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		e.ID, e.ContractID, e.Type,
		nullString(string(e.ServiceNumber)), nullString(string(e.Status)), e.Details,
		e.EstimatedCost.String(), e.FinalCost.String(),
		e.InvoiceNumber, e.BillNumber,
		e.Payment.Mode, e.Payment.Reference,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	// Initiation rows are inserted open: they ARE the asset-lock index.
	// A closing entry clears the open rows of its cycle in the same
	// database transaction; the ledger_entries rows stay untouched.
	open := 0
	if e.Type.IsInitiation() {
		open = 1
	}
	for _, a := range e.ServicedAssets {
		_, err := q.ExecContext(ctx,
			"INSERT INTO entry_assets (entry_id, service_number, department, asset_id, open) VALUES (?, ?, ?, ?, ?)",
			e.ID, string(e.ServiceNumber), a.Department, a.AssetID, open,
		)
		if err != nil {
			if isAssetLockError(err) {
				return fmt.Errorf("%s already locked: %w",
					amc.AssetRef{Department: a.Department, AssetID: a.AssetID}, amc.ErrAssetLocked)
			}
			return fmt.Errorf("failed to insert entry asset: %w", err)
		}
	}

	if e.Type == amc.EntryServiceClosed || e.Type == amc.EntryRepairClosed {
		_, err := q.ExecContext(ctx,
			"UPDATE entry_assets SET open = 0 WHERE service_number = ? AND open = 1",
			string(e.ServiceNumber),
		)
		if err != nil {
			return fmt.Errorf("failed to release asset locks: %w", err)
		}
	}

	return nil
}

func (s *Store) FindEntriesByContract(ctx context.Context, id amc.ContractID, filter amc.EntryFilter, page amc.Page) ([]amc.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findEntriesByContract(ctx, s.db, id, filter, page)
}

func (s *Store) findEntriesByContract(ctx context.Context, q dbtx, id amc.ContractID, filter amc.EntryFilter, page amc.Page) ([]amc.LedgerEntry, error) {
	query := `
		SELECT id, contract_id, entry_type, service_number, status, details,
		       estimated_cost, final_cost, invoice_number, bill_number,
		       payment_mode, payment_reference, created_at
		FROM ledger_entries
		WHERE contract_id = ?
	`
	args := []any{id}

	if filter.Type != "" {
		query += " AND entry_type = ?"
		args = append(args, filter.Type)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, page.Limit(), page.Offset())

	return s.queryEntries(ctx, q, query, args...)
}

func (s *Store) FindOpenEntryByServiceNumber(ctx context.Context, sn amc.ServiceNumber) (*amc.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findOpenEntry(ctx, s.db, sn)
}

func (s *Store) findOpenEntry(ctx context.Context, q dbtx, sn amc.ServiceNumber) (*amc.LedgerEntry, error) {
	// Open means: an initiation entry exists for the service number with
	// no correlated closing entry. The initiation row itself never changes.
	query := `
		SELECT id, contract_id, entry_type, service_number, status, details,
		       estimated_cost, final_cost, invoice_number, bill_number,
		       payment_mode, payment_reference, created_at
		FROM ledger_entries e
		WHERE e.service_number = ?
		  AND e.entry_type IN ('service_initiated', 'repair_initiated')
		  AND NOT EXISTS (
			SELECT 1 FROM ledger_entries c
			WHERE c.service_number = e.service_number
			  AND c.entry_type IN ('service_closed', 'repair_closed')
		  )
		LIMIT 1
	`

	entries, err := s.queryEntries(ctx, q, query, string(sn))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, &amc.NotFoundError{Kind: "open cycle", ID: string(sn)}
	}
	return &entries[0], nil
}

func (s *Store) ListOpenEntriesByType(ctx context.Context, kind amc.EntryType, page amc.Page) ([]amc.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOpenEntries(ctx, s.db, kind, page)
}

func (s *Store) listOpenEntries(ctx context.Context, q dbtx, kind amc.EntryType, page amc.Page) ([]amc.LedgerEntry, error) {
	query := `
		SELECT id, contract_id, entry_type, service_number, status, details,
		       estimated_cost, final_cost, invoice_number, bill_number,
		       payment_mode, payment_reference, created_at
		FROM ledger_entries e
		WHERE e.entry_type = ?
		  AND NOT EXISTS (
			SELECT 1 FROM ledger_entries c
			WHERE c.service_number = e.service_number
			  AND c.entry_type IN ('service_closed', 'repair_closed')
		  )
		ORDER BY created_at ASC, rowid ASC
		LIMIT ? OFFSET ?
	`

	return s.queryEntries(ctx, q, query, kind, page.Limit(), page.Offset())
}

func (s *Store) LockedAssets(ctx context.Context, dept amc.Department) (map[string]amc.ServiceNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockedAssets(ctx, s.db, dept)
}

func (s *Store) lockedAssets(ctx context.Context, q dbtx, dept amc.Department) (map[string]amc.ServiceNumber, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT asset_id, service_number FROM entry_assets WHERE department = ? AND open = 1",
		dept,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query locked assets: %w", err)
	}
	defer rows.Close()

	held := make(map[string]amc.ServiceNumber)
	for rows.Next() {
		var assetID, sn string
		if err := rows.Scan(&assetID, &sn); err != nil {
			return nil, err
		}
		held[assetID] = amc.ServiceNumber(sn)
	}
	return held, rows.Err()
}

func (s *Store) queryEntries(ctx context.Context, q dbtx, query string, args ...any) ([]amc.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}

	var entries []amc.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range entries {
		assets, err := s.loadEntryAssets(ctx, q, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].ServicedAssets = assets
	}
	return entries, nil
}

func (s *Store) loadEntryAssets(ctx context.Context, q dbtx, id amc.EntryID) ([]amc.AssetRef, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT department, asset_id FROM entry_assets WHERE entry_id = ? ORDER BY department, asset_id",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry assets: %w", err)
	}
	defer rows.Close()

	var assets []amc.AssetRef
	for rows.Next() {
		var a amc.AssetRef
		if err := rows.Scan(&a.Department, &a.AssetID); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (amc.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The write
// lock is held for its duration, so validate-then-append sequences are
// atomic with respect to every other writer.
func (s *Store) WithTx(ctx context.Context, fn func(store amc.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes Store calls through an open *sql.Tx. The parent's write
// lock is already held by WithTx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreateContract(ctx context.Context, c amc.Contract) error {
	return ts.parent.createContract(ctx, ts.tx, c)
}

func (ts *txStore) GetContract(ctx context.Context, id amc.ContractID) (*amc.Contract, error) {
	return ts.parent.getContract(ctx, ts.tx, id)
}

func (ts *txStore) ListContracts(ctx context.Context, status amc.ContractStatus, now time.Time, page amc.Page) ([]amc.Contract, error) {
	return ts.parent.listContracts(ctx, ts.tx, status, now, page)
}

func (ts *txStore) UpdateContractWindow(ctx context.Context, id amc.ContractID, start, end time.Time, terms amc.ContractTerms) error {
	return ts.parent.updateContractWindow(ctx, ts.tx, id, start, end, terms)
}

func (ts *txStore) UpdateCoveredAssets(ctx context.Context, id amc.ContractID, assets []amc.AssetRef) error {
	return ts.parent.updateCoveredAssetsTx(ctx, ts.tx, id, assets)
}

func (ts *txStore) MarkContractClosed(ctx context.Context, id amc.ContractID, reason string) error {
	return ts.parent.markContractClosed(ctx, ts.tx, id, reason)
}

func (ts *txStore) AppendEntry(ctx context.Context, e amc.LedgerEntry) error {
	return ts.parent.appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) FindEntriesByContract(ctx context.Context, id amc.ContractID, filter amc.EntryFilter, page amc.Page) ([]amc.LedgerEntry, error) {
	return ts.parent.findEntriesByContract(ctx, ts.tx, id, filter, page)
}

func (ts *txStore) FindOpenEntryByServiceNumber(ctx context.Context, sn amc.ServiceNumber) (*amc.LedgerEntry, error) {
	return ts.parent.findOpenEntry(ctx, ts.tx, sn)
}

func (ts *txStore) ListOpenEntriesByType(ctx context.Context, kind amc.EntryType, page amc.Page) ([]amc.LedgerEntry, error) {
	return ts.parent.listOpenEntries(ctx, ts.tx, kind, page)
}

func (ts *txStore) LockedAssets(ctx context.Context, dept amc.Department) (map[string]amc.ServiceNumber, error) {
	return ts.parent.lockedAssets(ctx, ts.tx, dept)
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*amc.Contract, error) {
	var (
		c                    amc.Contract
		cost                 string
		startDate, endDate   string
		notes, closedReason  sql.NullString
		payMode, payRef      sql.NullString
		closed               int
		createdAt, updatedAt string
	)

	err := row.Scan(
		&c.ID, &c.Name, &c.ProviderRef, &c.InvoiceNumber, &cost, &c.Frequency, &c.Type,
		&startDate, &endDate, &notes, &payMode, &payRef,
		&closed, &closedReason, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Cost = mustDecimal(cost)
	// A malformed date must not scan into a zero time: a zero EndDate would
	// silently report the contract Expired.
	if c.StartDate, err = time.Parse(time.RFC3339, startDate); err != nil {
		return nil, fmt.Errorf("failed to parse start_date: %w", err)
	}
	if c.EndDate, err = time.Parse(time.RFC3339, endDate); err != nil {
		return nil, fmt.Errorf("failed to parse end_date: %w", err)
	}
	c.Notes = notes.String
	c.Payment = amc.PaymentInfo{Mode: payMode.String, Reference: payRef.String}
	c.Closed = closed != 0
	c.ClosedReason = closedReason.String
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &c, nil
}

func scanEntry(rows *sql.Rows) (amc.LedgerEntry, error) {
	var (
		e                        amc.LedgerEntry
		serviceNumber, status    sql.NullString
		details                  sql.NullString
		estimatedCost, finalCost sql.NullString
		invoice, bill            sql.NullString
		payMode, payRef          sql.NullString
		createdAt                string
	)

	err := rows.Scan(
		&e.ID, &e.ContractID, &e.Type, &serviceNumber, &status, &details,
		&estimatedCost, &finalCost, &invoice, &bill,
		&payMode, &payRef, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	e.ServiceNumber = amc.ServiceNumber(serviceNumber.String)
	e.Status = amc.ServiceStatus(status.String)
	e.Details = details.String
	e.EstimatedCost = mustDecimal(estimatedCost.String)
	e.FinalCost = mustDecimal(finalCost.String)
	e.InvoiceNumber = invoice.String
	e.BillNumber = bill.String
	e.Payment = amc.PaymentInfo{Mode: payMode.String, Reference: payRef.String}
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return e, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &amc.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if e, ok := err.(sqlite3.Error); ok {
		return e.Code == sqlite3.ErrConstraint
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isAssetLockError recognizes a violation of idx_asset_lock. SQLite
// reports it by the indexed columns, not the index name:
// "UNIQUE constraint failed: entry_assets.department, entry_assets.asset_id".
func isAssetLockError(err error) bool {
	if e, ok := err.(sqlite3.Error); ok {
		return e.ExtendedCode == sqlite3.ErrConstraintUnique &&
			strings.Contains(e.Error(), "entry_assets")
	}
	return err != nil && strings.Contains(err.Error(), "entry_assets.asset_id")
}
