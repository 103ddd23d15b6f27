package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/pepwatch/ingest-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Declared as an
// interface so tests can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations.
var preparedStatements = map[string]string{
	"get_alias":     `SELECT normalized_name, raw_name, compound_id, status, confidence, reason, updated_at FROM compound_aliases WHERE normalized_name = $1`,
	"heartbeat_run": `UPDATE scrape_runs SET heartbeat_at = $1 WHERE id = $2 AND status = 'running'`,
	"find_offer":    `SELECT id, list_price_cents, available FROM offers WHERE vendor_id = $1 AND variant_id = $2 AND product_url = $3 FOR UPDATE`,
	"touch_offer":   `UPDATE offers SET last_seen_at = $1, last_run_id = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (or mock).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id               BIGSERIAL PRIMARY KEY,
	name             TEXT NOT NULL,
	website_url      TEXT NOT NULL UNIQUE,
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	allow_aggressive BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vendor_pages (
	id             BIGSERIAL PRIMARY KEY,
	vendor_id      BIGINT NOT NULL REFERENCES vendors(id),
	page_url       TEXT NOT NULL UNIQUE,
	active         BOOLEAN NOT NULL DEFAULT TRUE,
	policy_blocked BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scrape_requests (
	id           BIGSERIAL PRIMARY KEY,
	vendor_id    BIGINT NOT NULL REFERENCES vendors(id),
	requested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS compounds (
	id     BIGSERIAL PRIMARY KEY,
	slug   TEXT NOT NULL UNIQUE,
	name   TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS compound_aliases (
	normalized_name TEXT PRIMARY KEY,
	raw_name        TEXT NOT NULL,
	compound_id     BIGINT REFERENCES compounds(id),
	status          TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	reason          TEXT,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS variants (
	id                 BIGSERIAL PRIMARY KEY,
	compound_id        BIGINT NOT NULL REFERENCES compounds(id),
	formulation_code   TEXT NOT NULL,
	display_size_label TEXT NOT NULL,
	strength_value     DOUBLE PRECISION,
	strength_unit      TEXT,
	package_quantity   INTEGER,
	package_unit       TEXT,
	total_mass_mg      DOUBLE PRECISION,
	total_volume_ml    DOUBLE PRECISION,
	total_count_units  DOUBLE PRECISION,
	UNIQUE (compound_id, formulation_code, display_size_label)
);

CREATE TABLE IF NOT EXISTS offers (
	id               BIGSERIAL PRIMARY KEY,
	vendor_id        BIGINT NOT NULL REFERENCES vendors(id),
	vendor_page_id   BIGINT NOT NULL REFERENCES vendor_pages(id),
	variant_id       BIGINT NOT NULL REFERENCES variants(id),
	product_url      TEXT NOT NULL,
	product_name     TEXT NOT NULL,
	currency_code    TEXT NOT NULL DEFAULT 'USD',
	list_price_cents BIGINT NOT NULL,
	available        BOOLEAN NOT NULL,
	price_per_mg     DOUBLE PRECISION,
	price_per_ml     DOUBLE PRECISION,
	price_per_vial   DOUBLE PRECISION,
	price_per_unit   DOUBLE PRECISION,
	last_run_id      TEXT,
	first_seen_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (vendor_id, variant_id, product_url)
);

CREATE TABLE IF NOT EXISTS offer_history (
	id               BIGSERIAL PRIMARY KEY,
	offer_id         BIGINT NOT NULL REFERENCES offers(id),
	list_price_cents BIGINT NOT NULL,
	available        BOOLEAN NOT NULL,
	run_id           TEXT,
	effective_from   TIMESTAMPTZ NOT NULL DEFAULT now(),
	effective_to     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id           TEXT PRIMARY KEY,
	job_type     TEXT NOT NULL,
	run_mode     TEXT NOT NULL,
	scrape_mode  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	heartbeat_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at  TIMESTAMPTZ,
	summary      JSONB
);

CREATE TABLE IF NOT EXISTS review_items (
	id             BIGSERIAL PRIMARY KEY,
	vendor_id      BIGINT NOT NULL,
	vendor_page_id BIGINT NOT NULL,
	alias          TEXT NOT NULL DEFAULT '',
	kind           TEXT NOT NULL,
	message        TEXT NOT NULL,
	details        JSONB,
	open           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (vendor_id, vendor_page_id, alias, kind)
);

CREATE TABLE IF NOT EXISTS events (
	id             BIGSERIAL PRIMARY KEY,
	run_id         TEXT NOT NULL,
	vendor_id      BIGINT,
	vendor_page_id BIGINT,
	kind           TEXT NOT NULL,
	message        TEXT NOT NULL,
	details        JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_vendor_pages_vendor ON vendor_pages(vendor_id);
CREATE INDEX IF NOT EXISTS idx_offers_vendor_url ON offers(vendor_id, product_url);
CREATE INDEX IF NOT EXISTS idx_offer_history_offer ON offer_history(offer_id);
CREATE INDEX IF NOT EXISTS idx_offer_history_open ON offer_history(offer_id) WHERE effective_to IS NULL;
CREATE INDEX IF NOT EXISTS idx_scrape_runs_status ON scrape_runs(status);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_started ON scrape_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
CREATE INDEX IF NOT EXISTS idx_scrape_requests_pending ON scrape_requests(vendor_id) WHERE processed_at IS NULL;
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

const enumerateTargetsSQL = `
SELECT p.id, v.id, v.name, v.website_url, p.page_url, v.allow_aggressive
FROM vendor_pages p
JOIN vendors v ON v.id = p.vendor_id
WHERE v.active AND p.active AND NOT p.policy_blocked`

func (s *PostgresStore) EnumerateTargets(ctx context.Context) ([]model.ScrapeTarget, error) {
	rows, err := s.pool.Query(ctx, enumerateTargetsSQL+` ORDER BY v.id, p.id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enumerate targets")
	}
	return scanTargets(rows)
}

func (s *PostgresStore) EnumerateVendorTargets(ctx context.Context, vendorID int64) ([]model.ScrapeTarget, error) {
	rows, err := s.pool.Query(ctx, enumerateTargetsSQL+` AND v.id = $1 ORDER BY p.id`, vendorID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: enumerate targets for vendor %d", vendorID)
	}
	return scanTargets(rows)
}

func scanTargets(rows pgx.Rows) ([]model.ScrapeTarget, error) {
	defer rows.Close()
	var targets []model.ScrapeTarget
	for rows.Next() {
		var t model.ScrapeTarget
		if err := rows.Scan(&t.VendorPageID, &t.VendorID, &t.VendorName, &t.WebsiteURL, &t.PageURL, &t.AllowAggressive); err != nil {
			return nil, eris.Wrap(err, "postgres: scan target")
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "postgres: iterate targets")
}

func (s *PostgresStore) EnqueueScrapeRequest(ctx context.Context, vendorID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_requests (vendor_id) VALUES ($1)`, vendorID)
	return eris.Wrapf(err, "postgres: enqueue scrape request for vendor %d", vendorID)
}

func (s *PostgresStore) DequeueManualRequests(ctx context.Context) ([]model.ScrapeTarget, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin dequeue")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
UPDATE scrape_requests SET processed_at = now()
WHERE processed_at IS NULL
RETURNING vendor_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: drain scrape requests")
	}
	vendorIDs := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan scrape request")
		}
		vendorIDs[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate scrape requests")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit dequeue")
	}

	var targets []model.ScrapeTarget
	for id := range vendorIDs {
		vt, err := s.EnumerateVendorTargets(ctx, id)
		if err != nil {
			return nil, err
		}
		targets = append(targets, vt...)
	}
	return targets, nil
}

func (s *PostgresStore) MarkPagePolicyBlocked(ctx context.Context, vendorPageID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vendor_pages SET policy_blocked = TRUE WHERE id = $1`, vendorPageID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark page %d policy blocked", vendorPageID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: vendor page not found: %d", vendorPageID)
	}
	return nil
}

func (s *PostgresStore) ListActiveCompounds(ctx context.Context) ([]model.Compound, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, slug, name, active FROM compounds WHERE active ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list compounds")
	}
	defer rows.Close()

	var compounds []model.Compound
	for rows.Next() {
		var c model.Compound
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan compound")
		}
		compounds = append(compounds, c)
	}
	return compounds, eris.Wrap(rows.Err(), "postgres: iterate compounds")
}

func (s *PostgresStore) GetAlias(ctx context.Context, normalizedName string) (*model.CompoundAlias, error) {
	var a model.CompoundAlias
	var reason *string
	err := s.pool.QueryRow(ctx,
		`SELECT normalized_name, raw_name, compound_id, status, confidence, reason, updated_at FROM compound_aliases WHERE normalized_name = $1`,
		normalizedName,
	).Scan(&a.NormalizedName, &a.RawName, &a.CompoundID, &a.Status, &a.Confidence, &reason, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get alias %q", normalizedName)
	}
	if reason != nil {
		a.Reason = *reason
	}
	return &a, nil
}

func (s *PostgresStore) PutAlias(ctx context.Context, alias model.CompoundAlias) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO compound_aliases (normalized_name, raw_name, compound_id, status, confidence, reason, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (normalized_name) DO UPDATE SET
	raw_name = EXCLUDED.raw_name,
	compound_id = EXCLUDED.compound_id,
	status = EXCLUDED.status,
	confidence = EXCLUDED.confidence,
	reason = EXCLUDED.reason,
	updated_at = EXCLUDED.updated_at`,
		alias.NormalizedName, alias.RawName, alias.CompoundID,
		string(alias.Status), alias.Confidence, alias.Reason, alias.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: put alias %q", alias.NormalizedName)
}

func (s *PostgresStore) UpsertVariant(ctx context.Context, v model.Variant) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO variants (compound_id, formulation_code, display_size_label, strength_value, strength_unit, package_quantity, package_unit, total_mass_mg, total_volume_ml, total_count_units)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (compound_id, formulation_code, display_size_label) DO UPDATE SET
	strength_value = EXCLUDED.strength_value,
	strength_unit = EXCLUDED.strength_unit,
	package_quantity = EXCLUDED.package_quantity,
	package_unit = EXCLUDED.package_unit,
	total_mass_mg = EXCLUDED.total_mass_mg,
	total_volume_ml = EXCLUDED.total_volume_ml,
	total_count_units = EXCLUDED.total_count_units
RETURNING id`,
		v.CompoundID, v.FormulationCode, v.DisplaySizeLabel,
		v.StrengthValue, v.StrengthUnit, v.PackageQuantity, v.PackageUnit,
		v.TotalMassMg, v.TotalVolumeMl, v.TotalCountUnits,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert variant %s", v.DisplaySizeLabel)
	}
	return id, nil
}

func (s *PostgresStore) UpsertCurrentOfferAndAppendHistory(ctx context.Context, o model.OfferState) (model.OfferChange, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin offer upsert")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := o.SeenAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var offerID int64
	var prevCents int64
	var prevAvailable bool
	err = tx.QueryRow(ctx,
		`SELECT id, list_price_cents, available FROM offers WHERE vendor_id = $1 AND variant_id = $2 AND product_url = $3 FOR UPDATE`,
		o.VendorID, o.VariantID, o.ProductURL,
	).Scan(&offerID, &prevCents, &prevAvailable)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, `
INSERT INTO offers (vendor_id, vendor_page_id, variant_id, product_url, product_name, currency_code, list_price_cents, available, price_per_mg, price_per_ml, price_per_vial, price_per_unit, last_run_id, first_seen_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
RETURNING id`,
			o.VendorID, o.VendorPageID, o.VariantID, o.ProductURL, o.ProductName,
			o.CurrencyCode, o.ListPriceCents, o.Available,
			o.Metrics.PricePerMg, o.Metrics.PricePerMl, o.Metrics.PricePerVial, o.Metrics.PricePerUnit,
			o.RunID, now,
		).Scan(&offerID)
		if err != nil {
			return "", eris.Wrap(err, "postgres: insert offer")
		}
		if err := appendHistoryPgx(ctx, tx, offerID, o.ListPriceCents, o.Available, o.RunID, now); err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", eris.Wrap(err, "postgres: commit offer insert")
		}
		return model.OfferInserted, nil

	case err != nil:
		return "", eris.Wrap(err, "postgres: find offer")
	}

	if prevCents == o.ListPriceCents && prevAvailable == o.Available {
		// No state change: touch the current row, skip history.
		_, err = tx.Exec(ctx,
			`UPDATE offers SET last_seen_at = $1, last_run_id = $2 WHERE id = $3`,
			now, o.RunID, offerID)
		if err != nil {
			return "", eris.Wrap(err, "postgres: touch offer")
		}
		if err := tx.Commit(ctx); err != nil {
			return "", eris.Wrap(err, "postgres: commit offer touch")
		}
		return model.OfferUnchanged, nil
	}

	_, err = tx.Exec(ctx, `
UPDATE offers SET product_name = $1, currency_code = $2, list_price_cents = $3, available = $4,
	price_per_mg = $5, price_per_ml = $6, price_per_vial = $7, price_per_unit = $8,
	last_run_id = $9, last_seen_at = $10
WHERE id = $11`,
		o.ProductName, o.CurrencyCode, o.ListPriceCents, o.Available,
		o.Metrics.PricePerMg, o.Metrics.PricePerMl, o.Metrics.PricePerVial, o.Metrics.PricePerUnit,
		o.RunID, now, offerID)
	if err != nil {
		return "", eris.Wrap(err, "postgres: update offer")
	}
	if err := closeOpenHistoryPgx(ctx, tx, offerID, now); err != nil {
		return "", err
	}
	if err := appendHistoryPgx(ctx, tx, offerID, o.ListPriceCents, o.Available, o.RunID, now); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "postgres: commit offer update")
	}
	return model.OfferUpdated, nil
}

func closeOpenHistoryPgx(ctx context.Context, tx pgx.Tx, offerID int64, now time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE offer_history SET effective_to = $1 WHERE offer_id = $2 AND effective_to IS NULL`,
		now, offerID)
	return eris.Wrap(err, "postgres: close history interval")
}

func appendHistoryPgx(ctx context.Context, tx pgx.Tx, offerID, cents int64, available bool, runID string, now time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO offer_history (offer_id, list_price_cents, available, run_id, effective_from) VALUES ($1, $2, $3, $4, $5)`,
		offerID, cents, available, runID, now)
	return eris.Wrap(err, "postgres: append history row")
}

func (s *PostgresStore) DeactivateOffersByURL(ctx context.Context, vendorID int64, productURL, runID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin deactivate")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	rows, err := tx.Query(ctx, `
UPDATE offers SET available = FALSE, last_seen_at = $1, last_run_id = $2
WHERE vendor_id = $3 AND product_url = $4 AND available
RETURNING id, list_price_cents`,
		now, runID, vendorID, productURL)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: deactivate offers")
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
			return 0, eris.Wrap(err, "postgres: scan deactivated offer")
		}
		deactivated = append(deactivated, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "postgres: iterate deactivated offers")
	}

	for _, d := range deactivated {
		if err := closeOpenHistoryPgx(ctx, tx, d.id, now); err != nil {
			return 0, err
		}
		if err := appendHistoryPgx(ctx, tx, d.id, d.cents, false, runID, now); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit deactivate")
	}
	return len(deactivated), nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, jobType string, runMode model.RunMode, scrapeMode model.ScrapeMode) (*model.ScrapeRun, error) {
	run := &model.ScrapeRun{
		ID:          uuid.New().String(),
		JobType:     jobType,
		RunMode:     runMode,
		ScrapeMode:  scrapeMode,
		Status:      model.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
		HeartbeatAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO scrape_runs (id, job_type, run_mode, scrape_mode, status, started_at, heartbeat_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.JobType, string(run.RunMode), string(run.ScrapeMode),
		string(run.Status), run.StartedAt, run.HeartbeatAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) HeartbeatRun(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scrape_runs SET heartbeat_at = $1 WHERE id = $2 AND status = 'running'`,
		time.Now().UTC(), runID)
	return eris.Wrapf(err, "postgres: heartbeat run %s", runID)
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_runs SET status = $1, summary = $2, finished_at = $3
WHERE id = $4 AND status = 'running'`,
		string(status), summaryJSON, time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunAlreadyFinished
	}
	return nil
}

func (s *PostgresStore) SweepStaleRuns(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_runs SET status = 'failed', finished_at = $1,
	summary = COALESCE(summary, '{}'::jsonb) || '{"error": "stale run reconciled by sweep"}'::jsonb
WHERE status = 'running' AND heartbeat_at < $2`,
		time.Now().UTC(), cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sweep stale runs")
	}
	return int(tag.RowsAffected()), nil
}

const selectRunSQL = `SELECT id, job_type, run_mode, scrape_mode, status, started_at, heartbeat_at, finished_at, summary FROM scrape_runs`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.ScrapeRun, error) {
	row := s.pool.QueryRow(ctx, selectRunSQL+` WHERE id = $1`, runID)
	run, err := scanRunPgx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "postgres: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ScrapeRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := selectRunSQL + ` WHERE ($1 = '' OR status = $1) AND ($2 = '' OR run_mode = $2) ORDER BY started_at DESC LIMIT $3 OFFSET $4`
	rows, err := s.pool.Query(ctx, query,
		string(filter.Status), string(filter.Mode), limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ScrapeRun
	for rows.Next() {
		run, err := scanRunPgx(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) ListRecentRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
SELECT summary FROM scrape_runs
WHERE run_mode = 'full' AND status <> 'running' AND summary IS NOT NULL
ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run summaries")
	}
	defer rows.Close()

	var summaries []model.RunSummary
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run summary")
		}
		var summary model.RunSummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			// Unparseable snapshots are skipped, not fatal; guardrails scan
			// past them to the next baseline.
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, eris.Wrap(rows.Err(), "postgres: iterate run summaries")
}

type pgxRowScanner interface {
	Scan(dest ...any) error
}

func scanRunPgx(row pgxRowScanner) (*model.ScrapeRun, error) {
	var run model.ScrapeRun
	var summaryJSON []byte
	if err := row.Scan(&run.ID, &run.JobType, &run.RunMode, &run.ScrapeMode,
		&run.Status, &run.StartedAt, &run.HeartbeatAt, &run.FinishedAt, &summaryJSON); err != nil {
		return nil, err
	}
	if len(summaryJSON) > 0 {
		var summary model.RunSummary
		if err := json.Unmarshal(summaryJSON, &summary); err == nil {
			run.Summary = &summary
		}
	}
	return &run, nil
}

func (s *PostgresStore) UpsertReviewItem(ctx context.Context, item model.ReviewItem) (bool, error) {
	detailsJSON, err := json.Marshal(item.Details)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal review details")
	}
	var inserted bool
	err = s.pool.QueryRow(ctx, `
INSERT INTO review_items (vendor_id, vendor_page_id, alias, kind, message, details, open, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, now(), now())
ON CONFLICT (vendor_id, vendor_page_id, alias, kind) DO UPDATE SET
	message = EXCLUDED.message,
	details = EXCLUDED.details,
	open = TRUE,
	updated_at = now()
RETURNING (xmax = 0)`,
		item.VendorID, item.VendorPageID, item.Alias, item.Kind, item.Message, detailsJSON,
	).Scan(&inserted)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert review item %s/%s", item.Kind, item.Alias)
	}
	return inserted, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev model.Event) error {
	detailsJSON, err := json.Marshal(ev.Details)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal event details")
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO events (run_id, vendor_id, vendor_page_id, kind, message, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.RunID, nullableID(ev.VendorID), nullableID(ev.VendorPageID),
		ev.Kind, ev.Message, detailsJSON, createdAt)
	return eris.Wrapf(err, "postgres: append event %s", ev.Kind)
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
