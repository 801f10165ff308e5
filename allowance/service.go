/*
service.go - Ride submission pipeline

PURPOSE:
  Ties the Eligibility Gate and Amount Calculator together:

    [Draft] --submit--> [Eligibility Gate]
      all checks pass --> [Amount Calculator] --success--> [Persisted Ride]
      any check fails --> [Rejected] (terminal; no state mutation)

  The gate and the insert run inside one store transaction, so the cap and
  daily-count reads the gate depends on cannot go stale between the check
  and the write. Two concurrent submissions for the same employee serialize
  at the store; the loser re-reads the winner's row and is rejected.

SEE ALSO:
  - gate.go, calculator.go: the two core components
  - store.go: WithTx contract
*/
package allowance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// RideService is the entry point for ride submission, deletion, and the
// employee-facing month overview.
type RideService struct {
	store Store
	gate  *Gate
	calc  *Calculator

	// now is injectable for deadline tests.
	now func() time.Time
}

// NewRideService wires the gate and calculator onto a store.
func NewRideService(store Store) *RideService {
	return &RideService{
		store: store,
		gate:  NewGate(),
		calc:  NewCalculator(),
		now:   time.Now,
	}
}

// WithClock overrides the wall clock (tests).
func (s *RideService) WithClock(now func() time.Time) *RideService {
	s.now = now
	return s
}

// SubmitRide validates, gates, prices, and persists a candidate ride.
// On rejection nothing is written and the returned error carries the
// specific reason.
func (s *RideService) SubmitRide(ctx context.Context, employeeID string, in SubmissionInput) (*Ride, error) {
	if in.TrajectoryID == "" {
		return nil, &ValidationError{Field: "trajectory_id", Reason: "required"}
	}
	if in.Date.IsZero() {
		return nil, &ValidationError{Field: "ride_date", Reason: "required"}
	}
	if !in.Direction.Valid() {
		return nil, &ValidationError{Field: "direction", Reason: "must be heen, terug or heen_terug"}
	}
	if !in.Portion.Valid() {
		return nil, &ValidationError{Field: "portion", Reason: "must be volledig or gedeeltelijk"}
	}
	in.Date = DateOnly(in.Date)

	emp, err := s.activeEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	trajectory, err := s.store.GetTrajectory(ctx, in.TrajectoryID)
	if err != nil {
		return nil, err
	}
	if trajectory == nil || trajectory.EmployeeID != emp.ID {
		return nil, ErrTrajectoryNotFound
	}

	policy, err := s.store.GetPolicy(ctx, emp.Country)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var ride *Ride

	// Gate, price, and insert atomically. The gate's aggregate reads happen
	// against the transaction scope, closing the check-then-write race. The
	// calculator is pure and reuses the policy fetched above; calling back
	// into the outer store here would re-enter the lock WithTx holds.
	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := s.gate.CheckSubmission(ctx, tx, emp, policy, in, now); err != nil {
			return err
		}

		result, err := s.calc.Calculate(emp, trajectory, policy, in.Direction, in.Portion)
		if err != nil {
			return err
		}

		r := Ride{
			ID:                   newRideID(emp.ID),
			EmployeeID:           emp.ID,
			TrajectoryID:         trajectory.ID,
			Date:                 in.Date,
			Direction:            in.Direction,
			Portion:              in.Portion,
			KmTotal:              result.Km,
			AmountEuro:           result.Amount,
			DeclarationConfirmed: in.DeclarationConfirmed,
			CreatedAt:            now.UTC(),
		}
		if err := tx.InsertRide(ctx, r); err != nil {
			return fmt.Errorf("persisting ride: %w", err)
		}
		ride = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ride, nil
}

// DeleteRide removes a ride owned by the employee, provided the submission
// deadline for the ride's original date has not yet passed.
func (s *RideService) DeleteRide(ctx context.Context, employeeID, rideID string) error {
	emp, err := s.activeEmployee(ctx, employeeID)
	if err != nil {
		return err
	}

	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride == nil || ride.EmployeeID != emp.ID {
		return ErrRideNotFound
	}

	policy, err := s.store.GetPolicy(ctx, emp.Country)
	if err != nil {
		return err
	}

	if err := s.gate.CheckDeletion(policy, ride.Date, s.now()); err != nil {
		return err
	}
	return s.store.DeleteRide(ctx, rideID)
}

// MonthOverview is the employee's ride list for one month with totals and
// the month's export status.
type MonthOverview struct {
	Rides  []Ride
	Totals MonthTotals
	Status MonthStatus
}

// Month returns the overview for (employee, year-month).
func (s *RideService) Month(ctx context.Context, employeeID string, ym YearMonth) (*MonthOverview, error) {
	rides, err := s.store.ListRidesForMonth(ctx, employeeID, ym)
	if err != nil {
		return nil, err
	}
	totals, err := s.store.SumForMonth(ctx, employeeID, ym)
	if err != nil {
		return nil, err
	}

	status := MonthOpen
	if summary, err := s.store.GetSummary(ctx, employeeID, ym); err == nil && summary != nil {
		status = summary.Status
	}

	return &MonthOverview{Rides: rides, Totals: totals, Status: status}, nil
}

// Status answers the read-only "can this employee submit right now" query.
func (s *RideService) Status(ctx context.Context, employeeID string) (EligibilityStatus, error) {
	emp, err := s.activeEmployee(ctx, employeeID)
	if err != nil {
		return EligibilityStatus{}, err
	}
	return s.gate.Status(ctx, s.store, emp, s.now()), nil
}

func (s *RideService) activeEmployee(ctx context.Context, id string) (*Employee, error) {
	emp, err := s.store.GetEmployee(ctx, id)
	if err != nil {
		return nil, err
	}
	if emp == nil || !emp.Active {
		return nil, ErrEmployeeNotFound
	}
	return emp, nil
}

var rideSeq atomic.Uint64

func newRideID(employeeID string) string {
	return fmt.Sprintf("ride-%s-%d-%d", employeeID, time.Now().UnixNano(), rideSeq.Add(1))
}
