/*
Package sqlite provides a SQLite-backed implementation of allowance.Store.

PURPOSE:
  Implements the full persistence surface (employees, country config,
  trajectories, rides, monthly summaries) using SQLite. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  employees:          Identity records (read-mostly; HR sets custom_tariff)
  config:             One policy row per country
  trajectories:       Employee-owned commute legs
  rides:              Accepted rides with computed km/amount
  monthly_summaries:  Export rollups, upsert keyed (employee, year_month)

DECIMAL HANDLING:
  Money and kilometer values are stored as decimal strings and summed in Go
  with shopspring/decimal. SQLite would sum them as floats, and the cap
  checks need exact cents.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WAL mode for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery
  WithTx holds the write lock for the whole callback, so the eligibility
  re-check and the ride insert commit as one atomic unit.

USAGE:
  store, err := sqlite.New("./data/allowance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - allowance/store.go: Interface definitions
  - allowance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/pedal/allowance-engine/allowance"
)

// Store implements allowance.Store using SQLite.
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
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE,
		land TEXT NOT NULL CHECK (land IN ('BE','NL')),
		role TEXT NOT NULL DEFAULT 'employee',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		custom_tariff TEXT,
		created_at TEXT NOT NULL
	);

	-- One active policy row per country
	CREATE TABLE IF NOT EXISTS config (
		land TEXT PRIMARY KEY CHECK (land IN ('BE','NL')),
		tariff_per_km TEXT NOT NULL,
		max_per_month TEXT NOT NULL DEFAULT '0',
		max_per_year TEXT NOT NULL DEFAULT '0',
		deadline_day INTEGER NOT NULL,
		allow_above_tax_free BOOLEAN NOT NULL DEFAULT FALSE,
		require_declaration BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trajectories (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		name TEXT NOT NULL,
		start_location TEXT,
		end_location TEXT,
		km_single_trip TEXT NOT NULL,
		kind TEXT NOT NULL,
		declaration_signed BOOLEAN NOT NULL DEFAULT FALSE,
		declaration_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trajectories_employee
		ON trajectories(employee_id);

	-- Rides are immutable once written: no UPDATE path exists in this
	-- package, only INSERT and (pre-deadline) DELETE.
	CREATE TABLE IF NOT EXISTS rides (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		trajectory_id TEXT NOT NULL REFERENCES trajectories(id),
		ride_date TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('heen','terug','heen_terug')),
		portion TEXT NOT NULL CHECK (portion IN ('volledig','gedeeltelijk')),
		km_total TEXT NOT NULL,
		amount_euro TEXT NOT NULL,
		declaration_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- Daily-cap and month-total hot path
	CREATE INDEX IF NOT EXISTS idx_rides_employee_date
		ON rides(employee_id, ride_date);
	CREATE INDEX IF NOT EXISTS idx_rides_trajectory
		ON rides(trajectory_id);

	-- Schema-level backstop for the per-day ride limit. The eligibility
	-- check runs inside WithTx, but a direct INSERT must not bypass it.
	CREATE TRIGGER IF NOT EXISTS rides_daily_cap
	BEFORE INSERT ON rides
	WHEN (SELECT COUNT(*) FROM rides
	      WHERE employee_id = NEW.employee_id
	        AND ride_date = NEW.ride_date) >= 2
	BEGIN
		SELECT RAISE(ABORT, 'daily ride limit reached');
	END;

	CREATE TABLE IF NOT EXISTS monthly_summaries (
		employee_id TEXT NOT NULL REFERENCES employees(id),
		year_month TEXT NOT NULL,
		total_km TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		exported_at TEXT,
		PRIMARY KEY (employee_id, year_month)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// EnsureDefaultPolicies seeds a policy row per country when none exists yet.
// The Belgian defaults follow the statutory tax-free scheme; the Dutch
// policy carries no cumulative cap. Existing rows are left untouched.
func (s *Store) EnsureDefaultPolicies(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT OR IGNORE INTO config
		(land, tariff_per_km, max_per_month, max_per_year, deadline_day,
		 allow_above_tax_free, require_declaration, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC().Format(time.RFC3339)
	defaults := []allowance.CountryPolicy{
		{
			Country:            allowance.CountryBE,
			TariffPerKm:        decimal.RequireFromString("0.27"),
			MaxPerMonth:        decimal.Zero,
			MaxPerYear:         decimal.NewFromInt(3160),
			DeadlineDay:        15,
			RequireDeclaration: true,
		},
		{
			Country:            allowance.CountryNL,
			TariffPerKm:        decimal.RequireFromString("0.23"),
			MaxPerMonth:        decimal.Zero,
			MaxPerYear:         decimal.Zero,
			DeadlineDay:        15,
			RequireDeclaration: true,
		},
	}

	for _, p := range defaults {
		_, err := s.db.ExecContext(ctx, query,
			p.Country, p.TariffPerKm.String(), p.MaxPerMonth.String(),
			p.MaxPerYear.String(), p.DeadlineDay,
			p.AllowAboveTaxFree, p.RequireDeclaration, now)
		if err != nil {
			return err
		}
	}
	return nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same query code
// serves the store and its transaction scope.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// SaveEmployee upserts an employee record. Identity provisioning is an
// upstream concern in production; this exists for seeding and tests.
func (s *Store) SaveEmployee(ctx context.Context, e allowance.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, land, role, is_active, custom_tariff, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			land = excluded.land,
			role = excluded.role,
			is_active = excluded.is_active,
			custom_tariff = excluded.custom_tariff
	`

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Name, e.Email, e.Country, e.Role, e.Active,
		decimalPtrString(e.CustomTariff),
		createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*allowance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, id)
}

func getEmployee(ctx context.Context, q dbtx, id string) (*allowance.Employee, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, name, email, land, role, is_active, custom_tariff, created_at
		 FROM employees WHERE id = ?`, id)

	emp, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return emp, nil
}

func scanEmployee(row rowScanner) (*allowance.Employee, error) {
	var (
		e            allowance.Employee
		email        sql.NullString
		customTariff sql.NullString
		createdAt    string
	)

	err := row.Scan(&e.ID, &e.Name, &email, &e.Country, &e.Role, &e.Active, &customTariff, &createdAt)
	if err != nil {
		return nil, err
	}

	e.Email = email.String
	if customTariff.Valid && customTariff.String != "" {
		d, err := decimal.NewFromString(customTariff.String)
		if err != nil {
			return nil, fmt.Errorf("invalid custom_tariff for %s: %w", e.ID, err)
		}
		e.CustomTariff = &d
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]allowance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, land, role, is_active, custom_tariff, created_at
		 FROM employees ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []allowance.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, *emp)
	}
	return employees, rows.Err()
}

func (s *Store) SetCustomTariff(ctx context.Context, employeeID string, tariff *decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE employees SET custom_tariff = ? WHERE id = ?`,
		decimalPtrString(tariff), employeeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return allowance.ErrEmployeeNotFound
	}
	return nil
}

// =============================================================================
// COUNTRY POLICIES
// =============================================================================

func (s *Store) GetPolicy(ctx context.Context, country allowance.Country) (*allowance.CountryPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPolicy(ctx, s.db, country)
}

func getPolicy(ctx context.Context, q dbtx, country allowance.Country) (*allowance.CountryPolicy, error) {
	var (
		p         allowance.CountryPolicy
		tariff    string
		perMonth  string
		perYear   string
		updatedAt string
	)

	err := q.QueryRowContext(ctx,
		`SELECT land, tariff_per_km, max_per_month, max_per_year, deadline_day,
		        allow_above_tax_free, require_declaration, updated_at
		 FROM config WHERE land = ?`, country,
	).Scan(&p.Country, &tariff, &perMonth, &perYear, &p.DeadlineDay,
		&p.AllowAboveTaxFree, &p.RequireDeclaration, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, allowance.ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}

	if p.TariffPerKm, err = decimal.NewFromString(tariff); err != nil {
		return nil, fmt.Errorf("invalid tariff_per_km for %s: %w", country, err)
	}
	if p.MaxPerMonth, err = decimal.NewFromString(perMonth); err != nil {
		return nil, fmt.Errorf("invalid max_per_month for %s: %w", country, err)
	}
	if p.MaxPerYear, err = decimal.NewFromString(perYear); err != nil {
		return nil, fmt.Errorf("invalid max_per_year for %s: %w", country, err)
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func (s *Store) SavePolicy(ctx context.Context, policy allowance.CountryPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO config
		(land, tariff_per_km, max_per_month, max_per_year, deadline_day,
		 allow_above_tax_free, require_declaration, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(land) DO UPDATE SET
			tariff_per_km = excluded.tariff_per_km,
			max_per_month = excluded.max_per_month,
			max_per_year = excluded.max_per_year,
			deadline_day = excluded.deadline_day,
			allow_above_tax_free = excluded.allow_above_tax_free,
			require_declaration = excluded.require_declaration,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		policy.Country, policy.TariffPerKm.String(), policy.MaxPerMonth.String(),
		policy.MaxPerYear.String(), policy.DeadlineDay,
		policy.AllowAboveTaxFree, policy.RequireDeclaration,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// TRAJECTORIES
// =============================================================================

// SaveTrajectory creates a trajectory. A known id is rejected: trajectories
// are create-and-delete only, so rides keep pointing at the distance they
// were priced against.
func (s *Store) SaveTrajectory(ctx context.Context, t allowance.Trajectory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO trajectories
		(id, employee_id, name, start_location, end_location, km_single_trip,
		 kind, declaration_signed, declaration_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	var declarationAt any
	if t.DeclarationAt != nil {
		declarationAt = t.DeclarationAt.UTC().Format(time.RFC3339)
	}

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		t.ID, t.EmployeeID, t.Name, t.StartLocation, t.EndLocation,
		t.KmSingleTrip.String(), t.Kind, t.DeclarationSigned, declarationAt,
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return allowance.ErrTrajectoryExists
	}
	return nil
}

func (s *Store) GetTrajectory(ctx context.Context, id string) (*allowance.Trajectory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTrajectory(ctx, s.db, id)
}

func getTrajectory(ctx context.Context, q dbtx, id string) (*allowance.Trajectory, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, employee_id, name, start_location, end_location,
		        km_single_trip, kind, declaration_signed, declaration_at, created_at
		 FROM trajectories WHERE id = ?`, id)

	t, err := scanTrajectory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTrajectory(row rowScanner) (*allowance.Trajectory, error) {
	var (
		t             allowance.Trajectory
		start, end    sql.NullString
		km            string
		declarationAt sql.NullString
		createdAt     string
	)

	err := row.Scan(&t.ID, &t.EmployeeID, &t.Name, &start, &end, &km,
		&t.Kind, &t.DeclarationSigned, &declarationAt, &createdAt)
	if err != nil {
		return nil, err
	}

	t.StartLocation = start.String
	t.EndLocation = end.String
	if t.KmSingleTrip, err = decimal.NewFromString(km); err != nil {
		return nil, fmt.Errorf("invalid km_single_trip for %s: %w", t.ID, err)
	}
	if declarationAt.Valid {
		at, _ := time.Parse(time.RFC3339, declarationAt.String)
		t.DeclarationAt = &at
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}

func (s *Store) ListTrajectories(ctx context.Context, employeeID string) ([]allowance.Trajectory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, employee_id, name, start_location, end_location,
		        km_single_trip, kind, declaration_signed, declaration_at, created_at
		 FROM trajectories WHERE employee_id = ? ORDER BY created_at DESC, id DESC`,
		employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trajectories []allowance.Trajectory
	for rows.Next() {
		t, err := scanTrajectory(rows)
		if err != nil {
			return nil, err
		}
		trajectories = append(trajectories, *t)
	}
	return trajectories, rows.Err()
}

func (s *Store) DeleteTrajectory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inUse, err := trajectoryHasRides(ctx, s.db, id)
	if err != nil {
		return err
	}
	if inUse {
		return allowance.ErrTrajectoryInUse
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM trajectories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return allowance.ErrTrajectoryNotFound
	}
	return nil
}

func (s *Store) TrajectoryHasRides(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return trajectoryHasRides(ctx, s.db, id)
}

func trajectoryHasRides(ctx context.Context, q dbtx, id string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rides WHERE trajectory_id = ?`, id).Scan(&count)
	return count > 0, err
}

// =============================================================================
// RIDES
// =============================================================================

func (s *Store) InsertRide(ctx context.Context, ride allowance.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertRide(ctx, s.db, ride)
}

func insertRide(ctx context.Context, q dbtx, ride allowance.Ride) error {
	query := `
		INSERT INTO rides
		(id, employee_id, trajectory_id, ride_date, direction, portion,
		 km_total, amount_euro, declaration_confirmed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		ride.ID, ride.EmployeeID, ride.TrajectoryID,
		ride.Date.Format("2006-01-02"), ride.Direction, ride.Portion,
		ride.KmTotal.String(), ride.AmountEuro.String(),
		ride.DeclarationConfirmed,
		ride.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ride: %w", err)
	}
	return nil
}

func (s *Store) GetRide(ctx context.Context, id string) (*allowance.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRide(ctx, s.db, id)
}

func getRide(ctx context.Context, q dbtx, id string) (*allowance.Ride, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, employee_id, trajectory_id, ride_date, direction, portion,
		        km_total, amount_euro, declaration_confirmed, created_at
		 FROM rides WHERE id = ?`, id)

	r, err := scanRide(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func scanRide(row rowScanner) (*allowance.Ride, error) {
	var (
		r         allowance.Ride
		rideDate  string
		km        string
		amount    string
		createdAt string
	)

	err := row.Scan(&r.ID, &r.EmployeeID, &r.TrajectoryID, &rideDate,
		&r.Direction, &r.Portion, &km, &amount, &r.DeclarationConfirmed, &createdAt)
	if err != nil {
		return nil, err
	}

	r.Date, _ = time.Parse("2006-01-02", rideDate)
	if r.KmTotal, err = decimal.NewFromString(km); err != nil {
		return nil, fmt.Errorf("invalid km_total for %s: %w", r.ID, err)
	}
	if r.AmountEuro, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount_euro for %s: %w", r.ID, err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &r, nil
}

func (s *Store) DeleteRide(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM rides WHERE id = ?`, id)
	return err
}

func (s *Store) ListRidesForMonth(ctx context.Context, employeeID string, ym allowance.YearMonth) ([]allowance.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRidesForMonth(ctx, s.db, employeeID, ym)
}

func listRidesForMonth(ctx context.Context, q dbtx, employeeID string, ym allowance.YearMonth) ([]allowance.Ride, error) {
	from, to := monthRange(ym)
	rows, err := q.QueryContext(ctx,
		`SELECT id, employee_id, trajectory_id, ride_date, direction, portion,
		        km_total, amount_euro, declaration_confirmed, created_at
		 FROM rides
		 WHERE employee_id = ? AND ride_date >= ? AND ride_date < ?
		 ORDER BY ride_date DESC, created_at DESC`,
		employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []allowance.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, *r)
	}
	return rides, rows.Err()
}

func (s *Store) CountRidesOnDate(ctx context.Context, employeeID string, date time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countRidesOnDate(ctx, s.db, employeeID, date)
}

func countRidesOnDate(ctx context.Context, q dbtx, employeeID string, date time.Time) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rides WHERE employee_id = ? AND ride_date = ?`,
		employeeID, date.Format("2006-01-02")).Scan(&count)
	return count, err
}

// SumAmountForYear sums amount_euro in Go so cent-exact cap comparisons
// never ride on SQLite float arithmetic.
func (s *Store) SumAmountForYear(ctx context.Context, employeeID string, year int) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumAmountForYear(ctx, s.db, employeeID, year)
}

func sumAmountForYear(ctx context.Context, q dbtx, employeeID string, year int) (decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT amount_euro FROM rides
		 WHERE employee_id = ? AND ride_date >= ? AND ride_date < ?`,
		employeeID,
		fmt.Sprintf("%04d-01-01", year),
		fmt.Sprintf("%04d-01-01", year+1))
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

func (s *Store) SumForMonth(ctx context.Context, employeeID string, ym allowance.YearMonth) (allowance.MonthTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumForMonth(ctx, s.db, employeeID, ym)
}

func sumForMonth(ctx context.Context, q dbtx, employeeID string, ym allowance.YearMonth) (allowance.MonthTotals, error) {
	from, to := monthRange(ym)
	rows, err := q.QueryContext(ctx,
		`SELECT km_total, amount_euro FROM rides
		 WHERE employee_id = ? AND ride_date >= ? AND ride_date < ?`,
		employeeID, from, to)
	if err != nil {
		return allowance.MonthTotals{}, err
	}
	defer rows.Close()

	totals := allowance.MonthTotals{TotalKm: decimal.Zero, TotalAmount: decimal.Zero}
	for rows.Next() {
		var km, amount string
		if err := rows.Scan(&km, &amount); err != nil {
			return allowance.MonthTotals{}, err
		}
		kmD, err := decimal.NewFromString(km)
		if err != nil {
			return allowance.MonthTotals{}, err
		}
		amountD, err := decimal.NewFromString(amount)
		if err != nil {
			return allowance.MonthTotals{}, err
		}
		totals.TotalKm = totals.TotalKm.Add(kmD)
		totals.TotalAmount = totals.TotalAmount.Add(amountD)
		totals.RideCount++
	}
	return totals, rows.Err()
}

// =============================================================================
// MONTHLY SUMMARIES
// =============================================================================

func (s *Store) UpsertSummary(ctx context.Context, sum allowance.MonthlySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO monthly_summaries
		(employee_id, year_month, total_km, total_amount, status, exported_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, year_month) DO UPDATE SET
			total_km = excluded.total_km,
			total_amount = excluded.total_amount,
			status = excluded.status,
			exported_at = excluded.exported_at
	`

	var exportedAt any
	if sum.ExportedAt != nil {
		exportedAt = sum.ExportedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, query,
		sum.EmployeeID, sum.YearMonth.String(),
		sum.TotalKm.String(), sum.TotalAmount.String(),
		sum.Status, exportedAt,
	)
	return err
}

func (s *Store) GetSummary(ctx context.Context, employeeID string, ym allowance.YearMonth) (*allowance.MonthlySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sum        allowance.MonthlySummary
		yearMonth  string
		km, amount string
		exportedAt sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT employee_id, year_month, total_km, total_amount, status, exported_at
		 FROM monthly_summaries WHERE employee_id = ? AND year_month = ?`,
		employeeID, ym.String(),
	).Scan(&sum.EmployeeID, &yearMonth, &km, &amount, &sum.Status, &exportedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if sum.YearMonth, err = allowance.ParseYearMonth(yearMonth); err != nil {
		return nil, err
	}
	if sum.TotalKm, err = decimal.NewFromString(km); err != nil {
		return nil, err
	}
	if sum.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if exportedAt.Valid {
		at, _ := time.Parse(time.RFC3339, exportedAt.String)
		sum.ExportedAt = &at
	}
	return &sum, nil
}

// MonthAggregates returns month totals per active employee with at least one
// ride in the month, ordered by employee id.
func (s *Store) MonthAggregates(ctx context.Context, ym allowance.YearMonth) ([]allowance.MonthAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to := monthRange(ym)
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.name, e.email, e.land, r.km_total, r.amount_euro
		 FROM employees e
		 JOIN rides r ON r.employee_id = e.id
		 WHERE e.is_active = TRUE AND r.ride_date >= ? AND r.ride_date < ?
		 ORDER BY e.id`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out     []allowance.MonthAggregate
		current *allowance.MonthAggregate
	)
	for rows.Next() {
		var (
			id, name   string
			email      sql.NullString
			land       allowance.Country
			km, amount string
		)
		if err := rows.Scan(&id, &name, &email, &land, &km, &amount); err != nil {
			return nil, err
		}
		kmD, err := decimal.NewFromString(km)
		if err != nil {
			return nil, err
		}
		amountD, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, err
		}

		if current == nil || current.EmployeeID != id {
			out = append(out, allowance.MonthAggregate{
				EmployeeID: id, Name: name, Email: email.String, Country: land,
				TotalKm: decimal.Zero, TotalAmount: decimal.Zero,
			})
			current = &out[len(out)-1]
		}
		current.TotalKm = current.TotalKm.Add(kmD)
		current.TotalAmount = current.TotalAmount.Add(amountD)
		current.RideCount++
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. The write lock is held
// for the duration, so the eligibility re-check and the ride insert are one
// atomic unit even though SQLite serializes writers anyway.
func (s *Store) WithTx(ctx context.Context, fn func(allowance.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the transaction scope handed to WithTx callbacks. The parent's
// mutex is already held; methods go straight to the *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetEmployee(ctx context.Context, id string) (*allowance.Employee, error) {
	return getEmployee(ctx, ts.tx, id)
}

func (ts *txStore) ListEmployees(ctx context.Context) ([]allowance.Employee, error) {
	return nil, errTxUnsupported("ListEmployees")
}

func (ts *txStore) SetCustomTariff(ctx context.Context, employeeID string, tariff *decimal.Decimal) error {
	_, err := ts.tx.ExecContext(ctx,
		`UPDATE employees SET custom_tariff = ? WHERE id = ?`,
		decimalPtrString(tariff), employeeID)
	return err
}

func (ts *txStore) GetPolicy(ctx context.Context, country allowance.Country) (*allowance.CountryPolicy, error) {
	return getPolicy(ctx, ts.tx, country)
}

func (ts *txStore) SavePolicy(ctx context.Context, policy allowance.CountryPolicy) error {
	return errTxUnsupported("SavePolicy")
}

func (ts *txStore) SaveTrajectory(ctx context.Context, t allowance.Trajectory) error {
	return errTxUnsupported("SaveTrajectory")
}

func (ts *txStore) GetTrajectory(ctx context.Context, id string) (*allowance.Trajectory, error) {
	return getTrajectory(ctx, ts.tx, id)
}

func (ts *txStore) ListTrajectories(ctx context.Context, employeeID string) ([]allowance.Trajectory, error) {
	return nil, errTxUnsupported("ListTrajectories")
}

func (ts *txStore) DeleteTrajectory(ctx context.Context, id string) error {
	return errTxUnsupported("DeleteTrajectory")
}

func (ts *txStore) TrajectoryHasRides(ctx context.Context, id string) (bool, error) {
	return trajectoryHasRides(ctx, ts.tx, id)
}

func (ts *txStore) InsertRide(ctx context.Context, ride allowance.Ride) error {
	return insertRide(ctx, ts.tx, ride)
}

func (ts *txStore) GetRide(ctx context.Context, id string) (*allowance.Ride, error) {
	return getRide(ctx, ts.tx, id)
}

func (ts *txStore) DeleteRide(ctx context.Context, id string) error {
	_, err := ts.tx.ExecContext(ctx, `DELETE FROM rides WHERE id = ?`, id)
	return err
}

func (ts *txStore) ListRidesForMonth(ctx context.Context, employeeID string, ym allowance.YearMonth) ([]allowance.Ride, error) {
	return listRidesForMonth(ctx, ts.tx, employeeID, ym)
}

func (ts *txStore) CountRidesOnDate(ctx context.Context, employeeID string, date time.Time) (int, error) {
	return countRidesOnDate(ctx, ts.tx, employeeID, date)
}

func (ts *txStore) SumAmountForYear(ctx context.Context, employeeID string, year int) (decimal.Decimal, error) {
	return sumAmountForYear(ctx, ts.tx, employeeID, year)
}

func (ts *txStore) SumForMonth(ctx context.Context, employeeID string, ym allowance.YearMonth) (allowance.MonthTotals, error) {
	return sumForMonth(ctx, ts.tx, employeeID, ym)
}

func (ts *txStore) UpsertSummary(ctx context.Context, sum allowance.MonthlySummary) error {
	return errTxUnsupported("UpsertSummary")
}

func (ts *txStore) GetSummary(ctx context.Context, employeeID string, ym allowance.YearMonth) (*allowance.MonthlySummary, error) {
	return nil, errTxUnsupported("GetSummary")
}

func (ts *txStore) MonthAggregates(ctx context.Context, ym allowance.YearMonth) ([]allowance.MonthAggregate, error) {
	return nil, errTxUnsupported("MonthAggregates")
}

func (ts *txStore) WithTx(ctx context.Context, fn func(allowance.Store) error) error {
	return fn(ts) // already inside a transaction
}

func errTxUnsupported(op string) error {
	return fmt.Errorf("%s is not available inside a ride transaction", op)
}

// =============================================================================
// HELPERS
// =============================================================================

func monthRange(ym allowance.YearMonth) (from, to string) {
	start := time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC)
	return start.Format("2006-01-02"), start.AddDate(0, 1, 0).Format("2006-01-02")
}

func decimalPtrString(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

var (
	_ allowance.Store = (*Store)(nil)
	_ allowance.Store = (*txStore)(nil)
)
