package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentradar/internal/domain"
	"rentradar/internal/region"
)

// PostgresStore handles interactions with the PostgreSQL database.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// Optional columns are NOT NULL with zero defaults so rows scan into plain
// value types. Won amounts on real_trades need BIGINT; listing prices are in
// units of 10,000 won and fit INTEGER.
const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS listings (
	id BIGSERIAL PRIMARY KEY,
	source TEXT NOT NULL,
	source_id TEXT NOT NULL,
	property_type TEXT NOT NULL,
	rent_type TEXT NOT NULL,
	deposit INTEGER NOT NULL,
	monthly_rent INTEGER NOT NULL DEFAULT 0,
	address TEXT NOT NULL,
	dong TEXT NOT NULL DEFAULT '',
	detail_address TEXT NOT NULL DEFAULT '',
	area_m2 NUMERIC(8,2) NOT NULL DEFAULT 0,
	floor INTEGER NOT NULL DEFAULT 0,
	total_floors INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	latitude NUMERIC(10,7) NOT NULL DEFAULT 0,
	longitude NUMERIC(10,7) NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT uq_listings_source_source_id UNIQUE (source, source_id)
);
CREATE INDEX IF NOT EXISTS idx_listings_region ON listings (dong, property_type, rent_type);
CREATE INDEX IF NOT EXISTS idx_listings_deposit ON listings (deposit);
CREATE INDEX IF NOT EXISTS idx_listings_active ON listings (is_active);

CREATE TABLE IF NOT EXISTS real_trades (
	id BIGSERIAL PRIMARY KEY,
	property_type TEXT NOT NULL,
	rent_type TEXT NOT NULL,
	trade_category TEXT NOT NULL DEFAULT 'rent',
	region_code TEXT NOT NULL,
	dong TEXT NOT NULL DEFAULT '',
	apt_name TEXT NOT NULL DEFAULT '',
	deposit BIGINT NOT NULL,
	monthly_rent BIGINT NOT NULL DEFAULT 0,
	area_m2 NUMERIC(8,2) NOT NULL DEFAULT 0,
	floor INTEGER NOT NULL DEFAULT 0,
	contract_year INTEGER NOT NULL,
	contract_month INTEGER NOT NULL,
	contract_day INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT uq_real_trades_identity UNIQUE (
		property_type, region_code, dong, apt_name, area_m2, floor,
		contract_year, contract_month, contract_day, rent_type, trade_category
	)
);
CREATE INDEX IF NOT EXISTS idx_real_trades_region ON real_trades (region_code, dong);
CREATE INDEX IF NOT EXISTS idx_real_trades_date ON real_trades (contract_year, contract_month);
`

// InitSchema creates the tables and indexes if they do not exist yet.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, initSchemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

const upsertListingSQL = `
INSERT INTO listings (
  source, source_id, property_type, rent_type, deposit, monthly_rent,
  address, dong, detail_address, area_m2, floor, total_floors,
  description, latitude, longitude, is_active, first_seen_at, last_seen_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, TRUE, NOW(), NOW())
ON CONFLICT (source, source_id) DO UPDATE SET
  property_type = EXCLUDED.property_type,
  rent_type = EXCLUDED.rent_type,
  deposit = EXCLUDED.deposit,
  monthly_rent = EXCLUDED.monthly_rent,
  address = EXCLUDED.address,
  dong = EXCLUDED.dong,
  detail_address = EXCLUDED.detail_address,
  area_m2 = EXCLUDED.area_m2,
  floor = EXCLUDED.floor,
  total_floors = EXCLUDED.total_floors,
  description = EXCLUDED.description,
  latitude = EXCLUDED.latitude,
  longitude = EXCLUDED.longitude,
  is_active = TRUE,
  last_seen_at = NOW(),
  updated_at = NOW()
RETURNING (xmax = 0)`

// UpsertListings inserts or refreshes listings in one batch. A re-seen
// listing gets its prices and last_seen_at updated and is resurrected if it
// was inactive. The returned count covers newly inserted rows only; xmax = 0
// holds just for rows created by this statement, so refreshes do not count.
func (s *PostgresStore) UpsertListings(ctx context.Context, rows []domain.Listing) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(upsertListingSQL,
			row.Source, row.SourceID, row.PropertyType, row.RentType,
			row.Deposit, row.MonthlyRent, row.Address, row.Dong,
			row.DetailAddress, row.AreaM2, row.Floor, row.TotalFloors,
			row.Description, row.Latitude, row.Longitude)
	}

	results := s.db.SendBatch(ctx, batch)
	inserted := 0
	for range rows {
		var isNew bool
		if err := results.QueryRow().Scan(&isNew); err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("upsert listings: %w", err)
		}
		if isNew {
			inserted++
		}
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close listing batch: %w", err)
	}
	return inserted, nil
}

// DeactivateStale marks active listings in scope that were not seen by the
// current run as inactive. The scope's filter slices narrow the sweep so a
// partial crawl can never deactivate rows it did not observe.
func (s *PostgresStore) DeactivateStale(ctx context.Context, scope domain.DeactivationScope, seenIDs []string) (int, error) {
	if scope.Source == "" {
		return 0, fmt.Errorf("deactivation scope requires a source")
	}

	query := `UPDATE listings SET is_active = FALSE, updated_at = NOW() WHERE source = $1 AND is_active`
	args := []any{scope.Source}
	if len(seenIDs) > 0 {
		args = append(args, seenIDs)
		query += fmt.Sprintf(" AND NOT (source_id = ANY($%d))", len(args))
	}
	if len(scope.Dongs) > 0 {
		args = append(args, scope.Dongs)
		query += fmt.Sprintf(" AND dong = ANY($%d)", len(args))
	}
	if len(scope.PropertyTypes) > 0 {
		args = append(args, scope.PropertyTypes)
		query += fmt.Sprintf(" AND property_type = ANY($%d)", len(args))
	}
	if len(scope.RentTypes) > 0 {
		args = append(args, scope.RentTypes)
		query += fmt.Sprintf(" AND rent_type = ANY($%d)", len(args))
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate stale listings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const insertTradeSQL = `
INSERT INTO real_trades (
  property_type, rent_type, trade_category, region_code, dong, apt_name,
  deposit, monthly_rent, area_m2, floor, contract_year, contract_month, contract_day
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT ON CONSTRAINT uq_real_trades_identity DO NOTHING`

// UpsertTrades inserts real trade records, silently skipping rows already
// present. Trades are immutable facts; re-fetching a month must be a no-op
// for rows seen before.
func (s *PostgresStore) UpsertTrades(ctx context.Context, rows []domain.RealTrade) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertTradeSQL,
			row.PropertyType, row.RentType, row.TradeCategory, row.RegionCode,
			row.Dong, row.AptName, row.Deposit, row.MonthlyRent, row.AreaM2,
			row.Floor, row.ContractYear, row.ContractMonth, row.ContractDay)
	}

	results := s.db.SendBatch(ctx, batch)
	inserted := 0
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("insert real trades: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close trade batch: %w", err)
	}
	return inserted, nil
}

const listingColumns = `id, source, source_id, property_type, rent_type, deposit, monthly_rent,
  address, dong, detail_address, area_m2, floor, total_floors, description,
  latitude, longitude, is_active, first_seen_at, last_seen_at`

// buildListingQuery assembles the search statement for a filter. Kept as a
// pure function so the WHERE construction is testable without a database.
func buildListingQuery(filter domain.ListingFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(format string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}

	if !filter.IncludeInactive {
		conds = append(conds, "is_active")
	}
	if filter.RegionCode != "" {
		// Listings carry no region column; the code resolves to its district
		// name and matches the dong or address the source reported. Codes are
		// validated at the API boundary, unknown ones resolve to no filter.
		if district, ok := region.ByCode(filter.RegionCode); ok {
			args = append(args, "%"+district.Name+"%")
			conds = append(conds, fmt.Sprintf("(dong ILIKE $%d OR address ILIKE $%d)", len(args), len(args)))
		}
	}
	if filter.Dong != "" {
		add("dong = $%d", filter.Dong)
	}
	if filter.PropertyType != "" {
		add("property_type = $%d", filter.PropertyType)
	}
	if filter.RentType != "" {
		add("rent_type = $%d", filter.RentType)
	}
	if filter.MinDeposit > 0 {
		add("deposit >= $%d", filter.MinDeposit)
	}
	if filter.MaxDeposit > 0 {
		add("deposit <= $%d", filter.MaxDeposit)
	}
	if filter.MinRent > 0 {
		add("monthly_rent >= $%d", filter.MinRent)
	}
	if filter.MaxRent > 0 {
		add("monthly_rent <= $%d", filter.MaxRent)
	}
	if filter.MinAreaM2 > 0 {
		add("area_m2 >= $%d", filter.MinAreaM2)
	}
	if filter.MaxAreaM2 > 0 {
		add("area_m2 <= $%d", filter.MaxAreaM2)
	}
	if filter.MinFloor > 0 {
		add("floor >= $%d", filter.MinFloor)
	}
	if filter.MaxFloor > 0 {
		add("floor <= $%d", filter.MaxFloor)
	}

	query := "SELECT " + listingColumns + " FROM listings"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_seen_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	return query, args
}

// SearchListings returns listings matching the filter, newest sighting first.
func (s *PostgresStore) SearchListings(ctx context.Context, filter domain.ListingFilter) ([]domain.Listing, error) {
	query, args := buildListingQuery(filter)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}
	defer rows.Close()

	listings := make([]domain.Listing, 0)
	for rows.Next() {
		var l domain.Listing
		if err := rows.Scan(
			&l.ID, &l.Source, &l.SourceID, &l.PropertyType, &l.RentType,
			&l.Deposit, &l.MonthlyRent, &l.Address, &l.Dong, &l.DetailAddress,
			&l.AreaM2, &l.Floor, &l.TotalFloors, &l.Description,
			&l.Latitude, &l.Longitude, &l.IsActive, &l.FirstSeenAt, &l.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// buildTradeQuery assembles the real trade search statement.
func buildTradeQuery(filter domain.TradeFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(format string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}

	if filter.RegionCode != "" {
		add("region_code = $%d", filter.RegionCode)
	}
	if filter.Dong != "" {
		add("dong = $%d", filter.Dong)
	}
	if filter.RentType != "" {
		add("rent_type = $%d", filter.RentType)
	}
	if filter.MinYear > 0 {
		add("contract_year >= $%d", filter.MinYear)
	}
	if filter.MaxDeposit > 0 {
		add("deposit <= $%d", filter.MaxDeposit)
	}

	query := `SELECT id, property_type, rent_type, trade_category, region_code, dong, apt_name,
  deposit, monthly_rent, area_m2, floor, contract_year, contract_month, contract_day
  FROM real_trades`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY contract_year DESC, contract_month DESC, contract_day DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	return query, args
}

// SearchTrades returns real trade records matching the filter, newest
// contract first.
func (s *PostgresStore) SearchTrades(ctx context.Context, filter domain.TradeFilter) ([]domain.RealTrade, error) {
	query, args := buildTradeQuery(filter)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search trades: %w", err)
	}
	defer rows.Close()

	trades := make([]domain.RealTrade, 0)
	for rows.Next() {
		var t domain.RealTrade
		if err := rows.Scan(
			&t.ID, &t.PropertyType, &t.RentType, &t.TradeCategory, &t.RegionCode,
			&t.Dong, &t.AptName, &t.Deposit, &t.MonthlyRent, &t.AreaM2,
			&t.Floor, &t.ContractYear, &t.ContractMonth, &t.ContractDay,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
