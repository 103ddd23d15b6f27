package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/pepwatch/ingest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and tests; Postgres backs production.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY churn under the worker pool.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL,
	website_url      TEXT NOT NULL UNIQUE,
	active           INTEGER NOT NULL DEFAULT 1,
	allow_aggressive INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS vendor_pages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	vendor_id      INTEGER NOT NULL REFERENCES vendors(id),
	page_url       TEXT NOT NULL UNIQUE,
	active         INTEGER NOT NULL DEFAULT 1,
	policy_blocked INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scrape_requests (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	vendor_id    INTEGER NOT NULL REFERENCES vendors(id),
	requested_at DATETIME NOT NULL DEFAULT (datetime('now')),
	processed_at DATETIME
);

CREATE TABLE IF NOT EXISTS compounds (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	slug   TEXT NOT NULL UNIQUE,
	name   TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS compound_aliases (
	normalized_name TEXT PRIMARY KEY,
	raw_name        TEXT NOT NULL,
	compound_id     INTEGER REFERENCES compounds(id),
	status          TEXT NOT NULL,
	confidence      REAL NOT NULL DEFAULT 0,
	reason          TEXT,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS variants (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	compound_id        INTEGER NOT NULL REFERENCES compounds(id),
	formulation_code   TEXT NOT NULL,
	display_size_label TEXT NOT NULL,
	strength_value     REAL,
	strength_unit      TEXT,
	package_quantity   INTEGER,
	package_unit       TEXT,
	total_mass_mg      REAL,
	total_volume_ml    REAL,
	total_count_units  REAL,
	UNIQUE (compound_id, formulation_code, display_size_label)
);

CREATE TABLE IF NOT EXISTS offers (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	vendor_id        INTEGER NOT NULL REFERENCES vendors(id),
	vendor_page_id   INTEGER NOT NULL REFERENCES vendor_pages(id),
	variant_id       INTEGER NOT NULL REFERENCES variants(id),
	product_url      TEXT NOT NULL,
	product_name     TEXT NOT NULL,
	currency_code    TEXT NOT NULL DEFAULT 'USD',
	list_price_cents INTEGER NOT NULL,
	available        INTEGER NOT NULL,
	price_per_mg     REAL,
	price_per_ml     REAL,
	price_per_vial   REAL,
	price_per_unit   REAL,
	last_run_id      TEXT,
	first_seen_at    DATETIME NOT NULL,
	last_seen_at     DATETIME NOT NULL,
	UNIQUE (vendor_id, variant_id, product_url)
);

CREATE TABLE IF NOT EXISTS offer_history (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	offer_id         INTEGER NOT NULL REFERENCES offers(id),
	list_price_cents INTEGER NOT NULL,
	available        INTEGER NOT NULL,
	run_id           TEXT,
	effective_from   DATETIME NOT NULL,
	effective_to     DATETIME
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id           TEXT PRIMARY KEY,
	job_type     TEXT NOT NULL,
	run_mode     TEXT NOT NULL,
	scrape_mode  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	heartbeat_at DATETIME NOT NULL,
	finished_at  DATETIME,
	summary      TEXT
);

CREATE TABLE IF NOT EXISTS review_items (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	vendor_id      INTEGER NOT NULL,
	vendor_page_id INTEGER NOT NULL,
	alias          TEXT NOT NULL DEFAULT '',
	kind           TEXT NOT NULL,
	message        TEXT NOT NULL,
	details        TEXT,
	open           INTEGER NOT NULL DEFAULT 1,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (vendor_id, vendor_page_id, alias, kind)
);

CREATE TABLE IF NOT EXISTS events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL,
	vendor_id      INTEGER,
	vendor_page_id INTEGER,
	kind           TEXT NOT NULL,
	message        TEXT NOT NULL,
	details        TEXT,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vendor_pages_vendor ON vendor_pages(vendor_id);
CREATE INDEX IF NOT EXISTS idx_offers_vendor_url ON offers(vendor_id, product_url);
CREATE INDEX IF NOT EXISTS idx_offer_history_offer ON offer_history(offer_id);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_status ON scrape_runs(status);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return eris.Wrap(s.db.Close(), "sqlite: close")
}

const sqliteTargetsSQL = `
SELECT p.id, v.id, v.name, v.website_url, p.page_url, v.allow_aggressive
FROM vendor_pages p
JOIN vendors v ON v.id = p.vendor_id
WHERE v.active = 1 AND p.active = 1 AND p.policy_blocked = 0`

func (s *SQLiteStore) EnumerateTargets(ctx context.Context) ([]model.ScrapeTarget, error) {
	rows, err := s.db.QueryContext(ctx, sqliteTargetsSQL+` ORDER BY v.id, p.id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: enumerate targets")
	}
	return scanTargetsSQL(rows)
}

func (s *SQLiteStore) EnumerateVendorTargets(ctx context.Context, vendorID int64) ([]model.ScrapeTarget, error) {
	rows, err := s.db.QueryContext(ctx, sqliteTargetsSQL+` AND v.id = ? ORDER BY p.id`, vendorID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: enumerate targets for vendor %d", vendorID)
	}
	return scanTargetsSQL(rows)
}

func scanTargetsSQL(rows *sql.Rows) ([]model.ScrapeTarget, error) {
	defer rows.Close()
	var targets []model.ScrapeTarget
	for rows.Next() {
		var t model.ScrapeTarget
		if err := rows.Scan(&t.VendorPageID, &t.VendorID, &t.VendorName, &t.WebsiteURL, &t.PageURL, &t.AllowAggressive); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan target")
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "sqlite: iterate targets")
}

func (s *SQLiteStore) EnqueueScrapeRequest(ctx context.Context, vendorID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_requests (vendor_id) VALUES (?)`, vendorID)
	return eris.Wrapf(err, "sqlite: enqueue scrape request for vendor %d", vendorID)
}

func (s *SQLiteStore) DequeueManualRequests(ctx context.Context) ([]model.ScrapeTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT vendor_id FROM scrape_requests WHERE processed_at IS NULL`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending scrape requests")
	}
	var vendorIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan scrape request")
		}
		vendorIDs = append(vendorIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate scrape requests")
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE scrape_requests SET processed_at = ? WHERE processed_at IS NULL`,
		time.Now().UTC()); err != nil {
		return nil, eris.Wrap(err, "sqlite: mark scrape requests processed")
	}

	var targets []model.ScrapeTarget
	for _, id := range vendorIDs {
		vt, err := s.EnumerateVendorTargets(ctx, id)
		if err != nil {
			return nil, err
		}
		targets = append(targets, vt...)
	}
	return targets, nil
}

func (s *SQLiteStore) MarkPagePolicyBlocked(ctx context.Context, vendorPageID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vendor_pages SET policy_blocked = 1 WHERE id = ?`, vendorPageID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark page %d policy blocked", vendorPageID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: vendor page not found: %d", vendorPageID)
	}
	return nil
}

func (s *SQLiteStore) ListActiveCompounds(ctx context.Context) ([]model.Compound, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slug, name, active FROM compounds WHERE active = 1 ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list compounds")
	}
	defer rows.Close()

	var compounds []model.Compound
	for rows.Next() {
		var c model.Compound
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan compound")
		}
		compounds = append(compounds, c)
	}
	return compounds, eris.Wrap(rows.Err(), "sqlite: iterate compounds")
}

func (s *SQLiteStore) GetAlias(ctx context.Context, normalizedName string) (*model.CompoundAlias, error) {
	var a model.CompoundAlias
	var compoundID sql.NullInt64
	var reason sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT normalized_name, raw_name, compound_id, status, confidence, reason, updated_at FROM compound_aliases WHERE normalized_name = ?`,
		normalizedName,
	).Scan(&a.NormalizedName, &a.RawName, &compoundID, &a.Status, &a.Confidence, &reason, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get alias %q", normalizedName)
	}
	if compoundID.Valid {
		a.CompoundID = &compoundID.Int64
	}
	a.Reason = reason.String
	return &a, nil
}

func (s *SQLiteStore) PutAlias(ctx context.Context, alias model.CompoundAlias) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO compound_aliases (normalized_name, raw_name, compound_id, status, confidence, reason, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (normalized_name) DO UPDATE SET
	raw_name = excluded.raw_name,
	compound_id = excluded.compound_id,
	status = excluded.status,
	confidence = excluded.confidence,
	reason = excluded.reason,
	updated_at = excluded.updated_at`,
		alias.NormalizedName, alias.RawName, alias.CompoundID,
		string(alias.Status), alias.Confidence, alias.Reason, alias.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put alias %q", alias.NormalizedName)
}

func (s *SQLiteStore) UpsertVariant(ctx context.Context, v model.Variant) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO variants (compound_id, formulation_code, display_size_label, strength_value, strength_unit, package_quantity, package_unit, total_mass_mg, total_volume_ml, total_count_units)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (compound_id, formulation_code, display_size_label) DO UPDATE SET
	strength_value = excluded.strength_value,
	strength_unit = excluded.strength_unit,
	package_quantity = excluded.package_quantity,
	package_unit = excluded.package_unit,
	total_mass_mg = excluded.total_mass_mg,
	total_volume_ml = excluded.total_volume_ml,
	total_count_units = excluded.total_count_units
RETURNING id`,
		v.CompoundID, v.FormulationCode, v.DisplaySizeLabel,
		v.StrengthValue, v.StrengthUnit, v.PackageQuantity, v.PackageUnit,
		v.TotalMassMg, v.TotalVolumeMl, v.TotalCountUnits,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: upsert variant %s", v.DisplaySizeLabel)
	}
	return id, nil
}

func (s *SQLiteStore) UpsertCurrentOfferAndAppendHistory(ctx context.Context, o model.OfferState) (model.OfferChange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin offer upsert")
	}
	defer func() { _ = tx.Rollback() }()

	now := o.SeenAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var offerID, prevCents int64
	var prevAvailable bool
	err = tx.QueryRowContext(ctx,
		`SELECT id, list_price_cents, available FROM offers WHERE vendor_id = ? AND variant_id = ? AND product_url = ?`,
		o.VendorID, o.VariantID, o.ProductURL,
	).Scan(&offerID, &prevCents, &prevAvailable)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx, `
INSERT INTO offers (vendor_id, vendor_page_id, variant_id, product_url, product_name, currency_code, list_price_cents, available, price_per_mg, price_per_ml, price_per_vial, price_per_unit, last_run_id, first_seen_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`,
			o.VendorID, o.VendorPageID, o.VariantID, o.ProductURL, o.ProductName,
			o.CurrencyCode, o.ListPriceCents, o.Available,
			o.Metrics.PricePerMg, o.Metrics.PricePerMl, o.Metrics.PricePerVial, o.Metrics.PricePerUnit,
			o.RunID, now, now,
		).Scan(&offerID)
		if err != nil {
			return "", eris.Wrap(err, "sqlite: insert offer")
		}
		if err := appendHistorySQL(ctx, tx, offerID, o.ListPriceCents, o.Available, o.RunID, now); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", eris.Wrap(err, "sqlite: commit offer insert")
		}
		return model.OfferInserted, nil

	case err != nil:
		return "", eris.Wrap(err, "sqlite: find offer")
	}

	if prevCents == o.ListPriceCents && prevAvailable == o.Available {
		if _, err := tx.ExecContext(ctx,
			`UPDATE offers SET last_seen_at = ?, last_run_id = ? WHERE id = ?`,
			now, o.RunID, offerID); err != nil {
			return "", eris.Wrap(err, "sqlite: touch offer")
		}
		if err := tx.Commit(); err != nil {
			return "", eris.Wrap(err, "sqlite: commit offer touch")
		}
		return model.OfferUnchanged, nil
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE offers SET product_name = ?, currency_code = ?, list_price_cents = ?, available = ?,
	price_per_mg = ?, price_per_ml = ?, price_per_vial = ?, price_per_unit = ?,
	last_run_id = ?, last_seen_at = ?
WHERE id = ?`,
		o.ProductName, o.CurrencyCode, o.ListPriceCents, o.Available,
		o.Metrics.PricePerMg, o.Metrics.PricePerMl, o.Metrics.PricePerVial, o.Metrics.PricePerUnit,
		o.RunID, now, offerID); err != nil {
		return "", eris.Wrap(err, "sqlite: update offer")
	}
	if err := closeOpenHistorySQL(ctx, tx, offerID, now); err != nil {
		return "", err
	}
	if err := appendHistorySQL(ctx, tx, offerID, o.ListPriceCents, o.Available, o.RunID, now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit offer update")
	}
	return model.OfferUpdated, nil
}

func closeOpenHistorySQL(ctx context.Context, tx *sql.Tx, offerID int64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE offer_history SET effective_to = ? WHERE offer_id = ? AND effective_to IS NULL`,
		now, offerID)
	return eris.Wrap(err, "sqlite: close history interval")
}

func appendHistorySQL(ctx context.Context, tx *sql.Tx, offerID, cents int64, available bool, runID string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO offer_history (offer_id, list_price_cents, available, run_id, effective_from) VALUES (?, ?, ?, ?, ?)`,
		offerID, cents, available, runID, now)
	return eris.Wrap(err, "sqlite: append history row")
}

func (s *SQLiteStore) DeactivateOffersByURL(ctx context.Context, vendorID int64, productURL, runID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin deactivate")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx,
		`SELECT id, list_price_cents FROM offers WHERE vendor_id = ? AND product_url = ? AND available = 1`,
		vendorID, productURL)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: find live offers")
	}
	type dead struct {
		id    int64
		cents int64
	}
	var deactivated []dead
	for rows.Next() {
		var d dead
		if err := rows.Scan(&d.id, &d.cents); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "sqlite: scan live offer")
		}
		deactivated = append(deactivated, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: iterate live offers")
	}

	for _, d := range deactivated {
		if _, err := tx.ExecContext(ctx,
			`UPDATE offers SET available = 0, last_seen_at = ?, last_run_id = ? WHERE id = ?`,
			now, runID, d.id); err != nil {
			return 0, eris.Wrap(err, "sqlite: deactivate offer")
		}
		if err := closeOpenHistorySQL(ctx, tx, d.id, now); err != nil {
			return 0, err
		}
		if err := appendHistorySQL(ctx, tx, d.id, d.cents, false, runID, now); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit deactivate")
	}
	return len(deactivated), nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, jobType string, runMode model.RunMode, scrapeMode model.ScrapeMode) (*model.ScrapeRun, error) {
	run := &model.ScrapeRun{
		ID:          uuid.New().String(),
		JobType:     jobType,
		RunMode:     runMode,
		ScrapeMode:  scrapeMode,
		Status:      model.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
		HeartbeatAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scrape_runs (id, job_type, run_mode, scrape_mode, status, started_at, heartbeat_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobType, string(run.RunMode), string(run.ScrapeMode),
		string(run.Status), run.StartedAt, run.HeartbeatAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) HeartbeatRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scrape_runs SET heartbeat_at = ? WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), runID)
	return eris.Wrapf(err, "sqlite: heartbeat run %s", runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE scrape_runs SET status = ?, summary = ?, finished_at = ?
WHERE id = ? AND status = 'running'`,
		string(status), string(summaryJSON), time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunAlreadyFinished
	}
	return nil
}

func (s *SQLiteStore) SweepStaleRuns(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := s.db.ExecContext(ctx, `
UPDATE scrape_runs SET status = 'failed', finished_at = ?,
	summary = COALESCE(summary, '{"error": "stale run reconciled by sweep"}')
WHERE status = 'running' AND heartbeat_at < ?`,
		time.Now().UTC(), cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep stale runs")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const sqliteSelectRunSQL = `SELECT id, job_type, run_mode, scrape_mode, status, started_at, heartbeat_at, finished_at, summary FROM scrape_runs`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.ScrapeRun, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectRunSQL+` WHERE id = ?`, runID)
	run, err := scanRunSQL(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "sqlite: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ScrapeRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		sqliteSelectRunSQL+` WHERE (? = '' OR status = ?) AND (? = '' OR run_mode = ?) ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		string(filter.Status), string(filter.Status),
		string(filter.Mode), string(filter.Mode),
		limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ScrapeRun
	for rows.Next() {
		run, err := scanRunSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) ListRecentRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT summary FROM scrape_runs
WHERE run_mode = 'full' AND status <> 'running' AND summary IS NOT NULL
ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run summaries")
	}
	defer rows.Close()

	var summaries []model.RunSummary
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run summary")
		}
		var summary model.RunSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, eris.Wrap(rows.Err(), "sqlite: iterate run summaries")
}

type sqlRowScanner interface {
	Scan(dest ...any) error
}

func scanRunSQL(row sqlRowScanner) (*model.ScrapeRun, error) {
	var run model.ScrapeRun
	var finishedAt sql.NullTime
	var summaryJSON sql.NullString
	if err := row.Scan(&run.ID, &run.JobType, &run.RunMode, &run.ScrapeMode,
		&run.Status, &run.StartedAt, &run.HeartbeatAt, &finishedAt, &summaryJSON); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		var summary model.RunSummary
		if err := json.Unmarshal([]byte(summaryJSON.String), &summary); err == nil {
			run.Summary = &summary
		}
	}
	return &run, nil
}

func (s *SQLiteStore) UpsertReviewItem(ctx context.Context, item model.ReviewItem) (bool, error) {
	detailsJSON, err := json.Marshal(item.Details)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal review details")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE review_items SET message = ?, details = ?, open = 1, updated_at = ?
WHERE vendor_id = ? AND vendor_page_id = ? AND alias = ? AND kind = ?`,
		item.Message, string(detailsJSON), time.Now().UTC(),
		item.VendorID, item.VendorPageID, item.Alias, item.Kind)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: update review item")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO review_items (vendor_id, vendor_page_id, alias, kind, message, details)
VALUES (?, ?, ?, ?, ?, ?)`,
		item.VendorID, item.VendorPageID, item.Alias, item.Kind, item.Message, string(detailsJSON))
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert review item %s/%s", item.Kind, item.Alias)
	}
	return true, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev model.Event) error {
	detailsJSON, err := json.Marshal(ev.Details)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal event details")
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO events (run_id, vendor_id, vendor_page_id, kind, message, details, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, nullableID(ev.VendorID), nullableID(ev.VendorPageID),
		ev.Kind, ev.Message, string(detailsJSON), createdAt)
	return eris.Wrapf(err, "sqlite: append event %s", ev.Kind)
}
