/*
gate.go - Eligibility Gate

PURPOSE:
  Guards ride creation (and deletion) against the per-day, deadline, and
  cumulative-cap invariants. Runs before the Amount Calculator; any failing
  check rejects the submission before a single row is written.

CHECKS (fail-fast, first failure is the one reported):
  1. Declaration of honor  - unless the country policy waives it
  2. Daily cap             - at most 2 rides per (employee, calendar date)
  3. Submission deadline   - deadline day of the month following the ride
  4. Cumulative caps       - Belgium only, unless allow_above_tax_free:
                             yearly and monthly ceilings checked independently

  Every check queries current state; nothing is cached between checks. The
  service layer additionally re-runs the gate inside the insert transaction,
  so two concurrent submissions cannot both slip under a cap.

DELETION:
  Only the deadline check applies, against the ride's ORIGINAL date. A ride
  can be deleted up to the same cutoff that would have blocked submitting it,
  which prevents backdated manipulation after payroll closed.

SEE ALSO:
  - deadline.go: cutoff arithmetic
  - service.go: transaction wiring
*/
package allowance

import (
	"context"
	"fmt"
	"time"
)

// maxRidesPerDay models one outbound and one return leg per day.
const maxRidesPerDay = 2

// SubmissionInput is the candidate ride as the employee submitted it.
type SubmissionInput struct {
	TrajectoryID         string
	Date                 time.Time
	Direction            Direction
	Portion              Portion
	DeclarationConfirmed bool
}

// EligibilityStatus answers "can this employee submit any ride right now",
// independent of which date they intend to log. Read-only; drives UI state.
type EligibilityStatus struct {
	Blocked      bool
	PastDeadline bool
	Reason       string
}

// Gate runs the eligibility checks against up-to-date storage reads.
type Gate struct{}

// NewGate creates an eligibility gate.
func NewGate() *Gate { return &Gate{} }

// CheckSubmission runs all submission checks in order and returns the first
// rejection. rides must be the same store (or transaction scope) the ride
// will be inserted into.
func (g *Gate) CheckSubmission(ctx context.Context, rides RideStore, emp *Employee, policy *CountryPolicy, in SubmissionInput, now time.Time) error {
	if err := g.checkDeclaration(policy, in); err != nil {
		return err
	}
	if err := g.checkDailyCap(ctx, rides, emp.ID, in.Date); err != nil {
		return err
	}
	if err := g.checkDeadline(policy, in.Date, now); err != nil {
		return err
	}
	return g.checkCumulativeCaps(ctx, rides, emp, policy, in.Date)
}

// CheckDeletion re-runs only the deadline check against the ride's date.
func (g *Gate) CheckDeletion(policy *CountryPolicy, rideDate time.Time, now time.Time) error {
	return g.checkDeadline(policy, rideDate, now)
}

// Status evaluates the cap and deadline predicates against "now". The
// deadline reported is the one for last month's rides: once it passes, the
// previous month can no longer be logged.
//
// A storage failure here degrades to an unblocked status: blocking
// legitimate work on an infrastructure hiccup is worse than a rare missed
// cap check. Submission itself still fails closed.
func (g *Gate) Status(ctx context.Context, store Store, emp *Employee, now time.Time) EligibilityStatus {
	policy, err := store.GetPolicy(ctx, emp.Country)
	if err != nil {
		return EligibilityStatus{}
	}

	prevMonth := YearMonthOf(now).Previous()
	pastDeadline := PastDeadline(Date(prevMonth.Year, prevMonth.Month, 1), policy.DeadlineDay, now)

	if err := g.checkCumulativeCaps(ctx, store, emp, policy, DateOnly(now)); err != nil {
		if IsEligibilityRejection(err) {
			return EligibilityStatus{Blocked: true, PastDeadline: pastDeadline, Reason: err.Error()}
		}
		return EligibilityStatus{} // fail open on infrastructure error
	}

	status := EligibilityStatus{PastDeadline: pastDeadline}
	if pastDeadline {
		status.Reason = fmt.Sprintf("registration deadline for %s passed on %s",
			prevMonth, DeadlineFor(Date(prevMonth.Year, prevMonth.Month, 1), policy.DeadlineDay).Format("2006-01-02"))
	}
	return status
}

// =============================================================================
// INDIVIDUAL CHECKS
// =============================================================================

func (g *Gate) checkDeclaration(policy *CountryPolicy, in SubmissionInput) error {
	if !policy.RequireDeclaration {
		return nil
	}
	if !in.DeclarationConfirmed {
		return ErrDeclarationRequired
	}
	return nil
}

func (g *Gate) checkDailyCap(ctx context.Context, rides RideStore, employeeID string, date time.Time) error {
	count, err := rides.CountRidesOnDate(ctx, employeeID, DateOnly(date))
	if err != nil {
		return fmt.Errorf("counting rides on %s: %w", date.Format("2006-01-02"), err)
	}
	if count >= maxRidesPerDay {
		return &DailyCapError{Date: DateOnly(date), Count: count}
	}
	return nil
}

func (g *Gate) checkDeadline(policy *CountryPolicy, rideDate time.Time, now time.Time) error {
	if PastDeadline(rideDate, policy.DeadlineDay, now) {
		return &DeadlinePassedError{
			RideDate: DateOnly(rideDate),
			Deadline: DeadlineFor(rideDate, policy.DeadlineDay),
		}
	}
	return nil
}

// checkCumulativeCaps enforces the Belgian tax-free ceilings. The
// Netherlands has no statutory cap in this model, and a Belgian policy may
// explicitly allow going above the tax-free threshold. The yearly and
// monthly caps are evaluated independently: exceeding either rejects.
func (g *Gate) checkCumulativeCaps(ctx context.Context, rides RideStore, emp *Employee, policy *CountryPolicy, rideDate time.Time) error {
	if emp.Country != CountryBE || policy.AllowAboveTaxFree {
		return nil
	}

	yearTotal, err := rides.SumAmountForYear(ctx, emp.ID, rideDate.Year())
	if err != nil {
		return fmt.Errorf("summing yearly total: %w", err)
	}
	if yearTotal.GreaterThanOrEqual(policy.MaxPerYear) {
		return &CapExceededError{Scope: CapYearly, Cap: policy.MaxPerYear, Total: yearTotal}
	}

	monthTotals, err := rides.SumForMonth(ctx, emp.ID, YearMonthOf(rideDate))
	if err != nil {
		return fmt.Errorf("summing monthly total: %w", err)
	}
	monthlyCap := policy.MonthlyCap()
	if monthTotals.TotalAmount.GreaterThanOrEqual(monthlyCap) {
		return &CapExceededError{Scope: CapMonthly, Cap: monthlyCap, Total: monthTotals.TotalAmount}
	}
	return nil
}
