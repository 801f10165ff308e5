// Package store provides an in-memory Store implementation (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pedal/allowance-engine/allowance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of allowance.Store
// =============================================================================

type Memory struct {
	mu           sync.Mutex
	employees    map[string]allowance.Employee
	policies     map[allowance.Country]allowance.CountryPolicy
	trajectories map[string]allowance.Trajectory
	rides        map[string]allowance.Ride
	summaries    map[summaryKey]allowance.MonthlySummary
}

type summaryKey struct {
	EmployeeID string
	YearMonth  allowance.YearMonth
}

func NewMemory() *Memory {
	return &Memory{
		employees:    make(map[string]allowance.Employee),
		policies:     make(map[allowance.Country]allowance.CountryPolicy),
		trajectories: make(map[string]allowance.Trajectory),
		rides:        make(map[string]allowance.Ride),
		summaries:    make(map[summaryKey]allowance.MonthlySummary),
	}
}

// WithTx serializes fn under the store mutex. The callback receives an
// unlocked view so its reads and the final insert happen as one atomic unit,
// mirroring the database transaction in store/sqlite.
func (m *Memory) WithTx(_ context.Context, fn func(allowance.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&txView{m})
}

// txView is the transaction scope handed to WithTx callbacks. The mutex is
// already held, so it calls the lock-free internals directly.
type txView struct{ m *Memory }

// =============================================================================
// EMPLOYEES
// =============================================================================

// SaveEmployee is not part of allowance.Store; it exists so tests and demo
// seeding can create employees.
func (m *Memory) SaveEmployee(_ context.Context, e allowance.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id string) (*allowance.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getEmployeeLocked(id)
}

func (m *Memory) getEmployeeLocked(id string) (*allowance.Employee, error) {
	e, ok := m.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]allowance.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]allowance.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetCustomTariff(_ context.Context, employeeID string, tariff *decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.employees[employeeID]
	if !ok {
		return allowance.ErrEmployeeNotFound
	}
	e.CustomTariff = tariff
	m.employees[employeeID] = e
	return nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (m *Memory) GetPolicy(_ context.Context, country allowance.Country) (*allowance.CountryPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getPolicyLocked(country)
}

func (m *Memory) getPolicyLocked(country allowance.Country) (*allowance.CountryPolicy, error) {
	p, ok := m.policies[country]
	if !ok {
		return nil, allowance.ErrPolicyNotFound
	}
	return &p, nil
}

func (m *Memory) SavePolicy(_ context.Context, policy allowance.CountryPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[policy.Country] = policy
	return nil
}

// =============================================================================
// TRAJECTORIES
// =============================================================================

func (m *Memory) SaveTrajectory(_ context.Context, t allowance.Trajectory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trajectories[t.ID]; ok {
		return allowance.ErrTrajectoryExists
	}
	m.trajectories[t.ID] = t
	return nil
}

func (m *Memory) GetTrajectory(_ context.Context, id string) (*allowance.Trajectory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trajectories[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) ListTrajectories(_ context.Context, employeeID string) ([]allowance.Trajectory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []allowance.Trajectory
	for _, t := range m.trajectories {
		if t.EmployeeID == employeeID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteTrajectory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.trajectoryHasRidesLocked(id) {
		return allowance.ErrTrajectoryInUse
	}
	if _, ok := m.trajectories[id]; !ok {
		return allowance.ErrTrajectoryNotFound
	}
	delete(m.trajectories, id)
	return nil
}

func (m *Memory) TrajectoryHasRides(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trajectoryHasRidesLocked(id), nil
}

func (m *Memory) trajectoryHasRidesLocked(id string) bool {
	for _, r := range m.rides {
		if r.TrajectoryID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// RIDES
// =============================================================================

func (m *Memory) InsertRide(_ context.Context, ride allowance.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertRideLocked(ride)
}

func (m *Memory) insertRideLocked(ride allowance.Ride) error {
	m.rides[ride.ID] = ride
	return nil
}

func (m *Memory) GetRide(_ context.Context, id string) (*allowance.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getRideLocked(id)
}

func (m *Memory) getRideLocked(id string) (*allowance.Ride, error) {
	r, ok := m.rides[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) DeleteRide(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rides, id)
	return nil
}

func (m *Memory) ListRidesForMonth(_ context.Context, employeeID string, ym allowance.YearMonth) ([]allowance.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listMonthLocked(employeeID, ym), nil
}

func (m *Memory) listMonthLocked(employeeID string, ym allowance.YearMonth) []allowance.Ride {
	var out []allowance.Ride
	for _, r := range m.rides {
		if r.EmployeeID == employeeID && allowance.YearMonthOf(r.Date) == ym {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

func (m *Memory) CountRidesOnDate(_ context.Context, employeeID string, date time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countOnDateLocked(employeeID, date), nil
}

func (m *Memory) countOnDateLocked(employeeID string, date time.Time) int {
	count := 0
	for _, r := range m.rides {
		if r.EmployeeID == employeeID && r.Date.Equal(allowance.DateOnly(date)) {
			count++
		}
	}
	return count
}

func (m *Memory) SumAmountForYear(_ context.Context, employeeID string, year int) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumYearLocked(employeeID, year), nil
}

func (m *Memory) sumYearLocked(employeeID string, year int) decimal.Decimal {
	total := decimal.Zero
	for _, r := range m.rides {
		if r.EmployeeID == employeeID && r.Date.Year() == year {
			total = total.Add(r.AmountEuro)
		}
	}
	return total
}

func (m *Memory) SumForMonth(_ context.Context, employeeID string, ym allowance.YearMonth) (allowance.MonthTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumMonthLocked(employeeID, ym), nil
}

func (m *Memory) sumMonthLocked(employeeID string, ym allowance.YearMonth) allowance.MonthTotals {
	totals := allowance.MonthTotals{TotalKm: decimal.Zero, TotalAmount: decimal.Zero}
	for _, r := range m.rides {
		if r.EmployeeID == employeeID && allowance.YearMonthOf(r.Date) == ym {
			totals.TotalKm = totals.TotalKm.Add(r.KmTotal)
			totals.TotalAmount = totals.TotalAmount.Add(r.AmountEuro)
			totals.RideCount++
		}
	}
	return totals
}

// =============================================================================
// SUMMARIES
// =============================================================================

func (m *Memory) UpsertSummary(_ context.Context, s allowance.MonthlySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[summaryKey{s.EmployeeID, s.YearMonth}] = s
	return nil
}

func (m *Memory) GetSummary(_ context.Context, employeeID string, ym allowance.YearMonth) (*allowance.MonthlySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.summaries[summaryKey{employeeID, ym}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) MonthAggregates(_ context.Context, ym allowance.YearMonth) ([]allowance.MonthAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []allowance.MonthAggregate
	for _, e := range m.employees {
		if !e.Active {
			continue
		}
		totals := m.sumMonthLocked(e.ID, ym)
		if totals.RideCount == 0 {
			continue
		}
		out = append(out, allowance.MonthAggregate{
			EmployeeID:  e.ID,
			Name:        e.Name,
			Email:       e.Email,
			Country:     e.Country,
			TotalKm:     totals.TotalKm,
			TotalAmount: totals.TotalAmount,
			RideCount:   totals.RideCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

// =============================================================================
// TRANSACTION VIEW - lock already held
// =============================================================================

func (v *txView) GetEmployee(_ context.Context, id string) (*allowance.Employee, error) {
	return v.m.getEmployeeLocked(id)
}

func (v *txView) ListEmployees(ctx context.Context) ([]allowance.Employee, error) {
	out := make([]allowance.Employee, 0, len(v.m.employees))
	for _, e := range v.m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) SetCustomTariff(_ context.Context, employeeID string, tariff *decimal.Decimal) error {
	e, ok := v.m.employees[employeeID]
	if !ok {
		return allowance.ErrEmployeeNotFound
	}
	e.CustomTariff = tariff
	v.m.employees[employeeID] = e
	return nil
}

func (v *txView) GetPolicy(_ context.Context, country allowance.Country) (*allowance.CountryPolicy, error) {
	return v.m.getPolicyLocked(country)
}

func (v *txView) SavePolicy(_ context.Context, policy allowance.CountryPolicy) error {
	v.m.policies[policy.Country] = policy
	return nil
}

func (v *txView) SaveTrajectory(_ context.Context, t allowance.Trajectory) error {
	if _, ok := v.m.trajectories[t.ID]; ok {
		return allowance.ErrTrajectoryExists
	}
	v.m.trajectories[t.ID] = t
	return nil
}

func (v *txView) GetTrajectory(_ context.Context, id string) (*allowance.Trajectory, error) {
	t, ok := v.m.trajectories[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (v *txView) ListTrajectories(ctx context.Context, employeeID string) ([]allowance.Trajectory, error) {
	var out []allowance.Trajectory
	for _, t := range v.m.trajectories {
		if t.EmployeeID == employeeID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) DeleteTrajectory(_ context.Context, id string) error {
	if v.m.trajectoryHasRidesLocked(id) {
		return allowance.ErrTrajectoryInUse
	}
	if _, ok := v.m.trajectories[id]; !ok {
		return allowance.ErrTrajectoryNotFound
	}
	delete(v.m.trajectories, id)
	return nil
}

func (v *txView) TrajectoryHasRides(_ context.Context, id string) (bool, error) {
	return v.m.trajectoryHasRidesLocked(id), nil
}

func (v *txView) InsertRide(_ context.Context, ride allowance.Ride) error {
	return v.m.insertRideLocked(ride)
}

func (v *txView) GetRide(_ context.Context, id string) (*allowance.Ride, error) {
	return v.m.getRideLocked(id)
}

func (v *txView) DeleteRide(_ context.Context, id string) error {
	delete(v.m.rides, id)
	return nil
}

func (v *txView) ListRidesForMonth(_ context.Context, employeeID string, ym allowance.YearMonth) ([]allowance.Ride, error) {
	return v.m.listMonthLocked(employeeID, ym), nil
}

func (v *txView) CountRidesOnDate(_ context.Context, employeeID string, date time.Time) (int, error) {
	return v.m.countOnDateLocked(employeeID, date), nil
}

func (v *txView) SumAmountForYear(_ context.Context, employeeID string, year int) (decimal.Decimal, error) {
	return v.m.sumYearLocked(employeeID, year), nil
}

func (v *txView) SumForMonth(_ context.Context, employeeID string, ym allowance.YearMonth) (allowance.MonthTotals, error) {
	return v.m.sumMonthLocked(employeeID, ym), nil
}

func (v *txView) UpsertSummary(_ context.Context, s allowance.MonthlySummary) error {
	v.m.summaries[summaryKey{s.EmployeeID, s.YearMonth}] = s
	return nil
}

func (v *txView) GetSummary(_ context.Context, employeeID string, ym allowance.YearMonth) (*allowance.MonthlySummary, error) {
	s, ok := v.m.summaries[summaryKey{employeeID, ym}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (v *txView) MonthAggregates(ctx context.Context, ym allowance.YearMonth) ([]allowance.MonthAggregate, error) {
	var out []allowance.MonthAggregate
	for _, e := range v.m.employees {
		if !e.Active {
			continue
		}
		totals := v.m.sumMonthLocked(e.ID, ym)
		if totals.RideCount == 0 {
			continue
		}
		out = append(out, allowance.MonthAggregate{
			EmployeeID:  e.ID,
			Name:        e.Name,
			Email:       e.Email,
			Country:     e.Country,
			TotalKm:     totals.TotalKm,
			TotalAmount: totals.TotalAmount,
			RideCount:   totals.RideCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

// WithTx on a transaction view reuses the already-held lock.
func (v *txView) WithTx(_ context.Context, fn func(allowance.Store) error) error {
	return fn(v)
}

var _ allowance.Store = (*Memory)(nil)
var _ allowance.Store = (*txView)(nil)
