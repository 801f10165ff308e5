/*
Package allowance implements the core of the bicycle-commute reimbursement engine.

PURPOSE:
  Employees register commute rides against predefined trajectories. For every
  candidate ride the engine decides two things:
    1. Is the employee allowed to submit this ride at all? (eligibility gate)
    2. How many kilometers count and what is the payout? (amount calculator)

  Both components operate per country (Belgium, Netherlands), each with its own
  tariff, caps, and submission deadline, configured as a CountryPolicy.

KEY CONCEPTS IN THIS FILE (types.go):
  - Country:       BE or NL, each with distinct tariff bounds and cap rules
  - Direction:     heen (outbound), terug (return), heen_terug (round trip)
  - Portion:       volledig (fully cycled) or gedeeltelijk (multimodal, half counts)
  - CountryPolicy: the per-country configuration record
  - Trajectory:    an employee-owned commute leg with a fixed one-way distance
  - Ride:          the computed, immutable fact persisted after a submission

DESIGN PRINCIPLES:
  1. Precision: money and kilometers are decimal.Decimal; rounding to two
     decimals happens exactly once, at the end of the calculation.
  2. Fail fast: a rejected submission leaves no partial state behind.
  3. No guessing: a missing policy or out-of-bound tariff is an error, never
     a silent default.

SEE ALSO:
  - calculator.go: kilometers and payout computation
  - gate.go: eligibility checks (declaration, daily cap, deadline, cumulative caps)
  - service.go: the submission pipeline tying gate and calculator together
*/
package allowance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COUNTRY
// =============================================================================

// Country is the tax regime a policy and an employee belong to.
type Country string

const (
	CountryBE Country = "BE"
	CountryNL Country = "NL"
)

func (c Country) Valid() bool { return c == CountryBE || c == CountryNL }

// =============================================================================
// RIDE ENUMS
// =============================================================================

// Direction says which leg(s) of the trajectory were ridden.
type Direction string

const (
	DirectionOutbound  Direction = "heen"
	DirectionReturn    Direction = "terug"
	DirectionRoundTrip Direction = "heen_terug"
)

func (d Direction) Valid() bool {
	return d == DirectionOutbound || d == DirectionReturn || d == DirectionRoundTrip
}

// Portion says whether the whole leg was cycled or only part of a
// multimodal commute (which counts for half the distance).
type Portion string

const (
	PortionFull    Portion = "volledig"
	PortionPartial Portion = "gedeeltelijk"
)

func (p Portion) Valid() bool { return p == PortionFull || p == PortionPartial }

// Role is the explicit authorization attribute on an employee.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleHR       Role = "hr"
	RoleAdmin    Role = "admin"
)

// CanAdminister reports whether the role may mutate config and run exports.
func (r Role) CanAdminister() bool { return r == RoleHR || r == RoleAdmin }

// =============================================================================
// RECORDS
// =============================================================================

// Employee is owned by the identity subsystem and read-only to the core.
// CustomTariff, when non-nil, overrides the country tariff; it is validated
// against country bounds at calculation time, not at write time.
type Employee struct {
	ID           string
	Name         string
	Email        string
	Country      Country
	Role         Role
	Active       bool
	CustomTariff *decimal.Decimal
	CreatedAt    time.Time
}

// CountryPolicy is the single active configuration record per country.
// Mutated only by HR; read by both the gate and the calculator.
type CountryPolicy struct {
	Country            Country
	TariffPerKm        decimal.Decimal
	MaxPerMonth        decimal.Decimal // zero means: derive from MaxPerYear / 12
	MaxPerYear         decimal.Decimal
	DeadlineDay        int // day-of-month in the month FOLLOWING the ride month
	AllowAboveTaxFree  bool
	RequireDeclaration bool
	UpdatedAt          time.Time
}

// MonthlyCap returns the effective monthly ceiling. The stored value wins
// when set; otherwise the yearly cap is spread evenly over twelve months.
func (p CountryPolicy) MonthlyCap() decimal.Decimal {
	if p.MaxPerMonth.IsPositive() {
		return p.MaxPerMonth
	}
	return p.MaxPerYear.Div(decimal.NewFromInt(12))
}

// Trajectory is an employee-owned commute leg with a fixed one-way distance.
// Immutable once created: the stores reject rewrites of a known id, and
// deletion is blocked while rides reference it.
type Trajectory struct {
	ID                string
	EmployeeID        string
	Name              string
	StartLocation     string
	EndLocation       string
	KmSingleTrip      decimal.Decimal
	Kind              Portion // volledig = fully by bike, gedeeltelijk = multimodal
	DeclarationSigned bool
	DeclarationAt     *time.Time
	CreatedAt         time.Time
}

// Ride is the computed fact. KmTotal and AmountEuro are fixed at creation
// and never mutated; a ride can only be deleted, and only before its deadline.
type Ride struct {
	ID                   string
	EmployeeID           string
	TrajectoryID         string
	Date                 time.Time // calendar date, midnight UTC
	Direction            Direction
	Portion              Portion
	KmTotal              decimal.Decimal
	AmountEuro           decimal.Decimal
	DeclarationConfirmed bool
	CreatedAt            time.Time
}

// MonthStatus is the export state of an employee month.
type MonthStatus string

const (
	MonthOpen      MonthStatus = "open"
	MonthProcessed MonthStatus = "verwerkt"
)

// MonthlySummary is the per-employee, per-month rollup written by the export
// job. The core reads it only to tell the UI whether a month is closed.
type MonthlySummary struct {
	EmployeeID  string
	YearMonth   YearMonth
	TotalKm     decimal.Decimal
	TotalAmount decimal.Decimal
	Status      MonthStatus
	ExportedAt  *time.Time
}

// MonthTotals is the aggregate over an employee's rides in one month.
type MonthTotals struct {
	TotalKm     decimal.Decimal
	TotalAmount decimal.Decimal
	RideCount   int
}

// MonthAggregate is one export row: an active employee's month totals.
type MonthAggregate struct {
	EmployeeID  string
	Name        string
	Email       string
	Country     Country
	TotalKm     decimal.Decimal
	TotalAmount decimal.Decimal
	RideCount   int
}

// =============================================================================
// YEAR-MONTH
// =============================================================================

// YearMonth identifies a calendar month (export granularity).
type YearMonth struct {
	Year  int
	Month time.Month
}

// ParseYearMonth parses the YYYY-MM wire format.
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, &ValidationError{Field: "year_month", Reason: "must be YYYY-MM"}
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

// YearMonthOf returns the month containing t.
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// Previous returns the month before this one (January wraps to December).
func (ym YearMonth) Previous() YearMonth {
	if ym.Month == time.January {
		return YearMonth{Year: ym.Year - 1, Month: time.December}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month - 1}
}

func (ym YearMonth) String() string {
	return time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// Date constructs a midnight-UTC calendar date, the canonical ride date form.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOnly truncates a timestamp to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	return Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day())
}
