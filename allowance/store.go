/*
store.go - Storage interfaces consumed by the core

PURPOSE:
  The core treats persistence as a set of query contracts, injected into each
  component constructor. No global connection handle. Two implementations ship
  with the repo:

    store/sqlite:    production store (WAL, schema migration, transactions)
    allowance/store: in-memory store for tests and demos

TRANSACTIONS:
  Cumulative-sum and daily-count reads are potentially stale by the time a
  ride is written. WithTx runs the final gate re-check and the insert as one
  atomic unit, which is what keeps the "max 2 rides per day" and cap
  invariants intact under concurrent submissions.
*/
package allowance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EmployeeStore reads employee records (owned by the identity subsystem)
// and applies the one HR mutation the core exposes: the custom tariff.
type EmployeeStore interface {
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
	SetCustomTariff(ctx context.Context, employeeID string, tariff *decimal.Decimal) error
}

// PolicyStore reads and writes the single active CountryPolicy per country.
type PolicyStore interface {
	GetPolicy(ctx context.Context, country Country) (*CountryPolicy, error)
	SavePolicy(ctx context.Context, policy CountryPolicy) error
}

// TrajectoryStore manages employee-owned commute legs. Legs are created and
// deleted, never updated: SaveTrajectory returns ErrTrajectoryExists for a
// known id, so a referenced leg's distance can never be rewritten.
type TrajectoryStore interface {
	SaveTrajectory(ctx context.Context, t Trajectory) error
	GetTrajectory(ctx context.Context, id string) (*Trajectory, error)
	ListTrajectories(ctx context.Context, employeeID string) ([]Trajectory, error)
	// DeleteTrajectory removes a trajectory. Returns ErrTrajectoryInUse when
	// rides still reference it.
	DeleteTrajectory(ctx context.Context, id string) error
	TrajectoryHasRides(ctx context.Context, id string) (bool, error)
}

// RideStore persists computed rides and answers the gate's aggregate queries.
type RideStore interface {
	InsertRide(ctx context.Context, ride Ride) error
	GetRide(ctx context.Context, id string) (*Ride, error)
	DeleteRide(ctx context.Context, id string) error
	ListRidesForMonth(ctx context.Context, employeeID string, ym YearMonth) ([]Ride, error)

	// CountRidesOnDate counts rides for (employee, exact calendar date).
	CountRidesOnDate(ctx context.Context, employeeID string, date time.Time) (int, error)
	// SumAmountForYear sums amount_euro over rides dated in the given year.
	SumAmountForYear(ctx context.Context, employeeID string, year int) (decimal.Decimal, error)
	// SumForMonth totals km, amount, and ride count for one month.
	SumForMonth(ctx context.Context, employeeID string, ym YearMonth) (MonthTotals, error)
}

// SummaryStore holds the export job's per-employee month rollups.
type SummaryStore interface {
	// UpsertSummary writes one MonthlySummary keyed on (employee, year-month),
	// updating in place on re-runs.
	UpsertSummary(ctx context.Context, s MonthlySummary) error
	GetSummary(ctx context.Context, employeeID string, ym YearMonth) (*MonthlySummary, error)
	// MonthAggregates returns month totals per active employee with at least
	// one ride in the month, ordered by employee id.
	MonthAggregates(ctx context.Context, ym YearMonth) ([]MonthAggregate, error)
}

// Store is the full persistence surface of the engine.
type Store interface {
	EmployeeStore
	PolicyStore
	TrajectoryStore
	RideStore
	SummaryStore

	// WithTx executes fn against a transaction-scoped store. The submission
	// pipeline runs its final eligibility re-check and the ride insert here.
	WithTx(ctx context.Context, fn func(Store) error) error
}
