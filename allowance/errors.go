/*
errors.go - Centralized error types for the reimbursement core

PURPOSE:
  All error types in one place. The taxonomy matters at the API boundary:

  1. Validation errors   - malformed input, never reaches storage (400)
  2. Policy errors       - missing config row, tariff out of bounds (422)
  3. Eligibility errors  - daily cap, deadline, cumulative cap, missing
                           declaration; expected user-facing outcomes (422)
  4. Not-found errors    - unknown trajectory/ride, or not owned by caller (404)
  5. Infrastructure      - anything else; submission fails closed, the
                           status query fails open

USAGE:
  if allowance.IsEligibilityRejection(err) {
      // structured reason, no retry needed
  }
*/
package allowance

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPolicyNotFound is returned when no config row exists for a country.
	// The calculator never falls back to a guessed tariff.
	ErrPolicyNotFound = errors.New("no policy configured for country")

	// ErrEmployeeNotFound is returned for an unknown or inactive employee.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrTrajectoryNotFound is returned when a trajectory does not exist or
	// is not owned by the requesting employee.
	ErrTrajectoryNotFound = errors.New("trajectory not found")

	// ErrRideNotFound is returned when a ride does not exist or is not owned
	// by the requesting employee.
	ErrRideNotFound = errors.New("ride not found")

	// ErrTrajectoryInUse is returned when deleting a trajectory that rides
	// still reference.
	ErrTrajectoryInUse = errors.New("trajectory has registered rides")

	// ErrTrajectoryExists is returned when saving a trajectory under an id
	// that already exists. Trajectories are create-and-delete only: rewriting
	// the distance under existing rides would break their audit trail.
	ErrTrajectoryExists = errors.New("trajectory already exists")

	// ErrDeclarationRequired is returned when a ride is submitted without
	// the declaration of honor and the country policy requires one.
	ErrDeclarationRequired = errors.New("declaration of honor required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TariffBoundsError reports a custom tariff outside its country bounds.
// The ride fails; the tariff is never silently clamped.
type TariffBoundsError struct {
	Country Country
	Tariff  decimal.Decimal
	Min     decimal.Decimal
	Max     decimal.Decimal
}

func (e *TariffBoundsError) Error() string {
	if e.Country == CountryBE {
		return fmt.Sprintf("tariff €%s/km out of bounds for BE: must be between €%s and €%s",
			e.Tariff.StringFixed(2), e.Min.StringFixed(2), e.Max.StringFixed(2))
	}
	return fmt.Sprintf("tariff €%s/km out of bounds for NL: must not exceed €%s",
		e.Tariff.StringFixed(2), e.Max.StringFixed(2))
}

// DailyCapError reports the two-rides-per-day limit being hit.
type DailyCapError struct {
	Date  time.Time
	Count int
}

func (e *DailyCapError) Error() string {
	return fmt.Sprintf("maximum of 2 rides per day reached for %s (%d registered)",
		e.Date.Format("2006-01-02"), e.Count)
}

// DeadlinePassedError reports a submission (or deletion) after the cutoff
// for the ride's month.
type DeadlinePassedError struct {
	RideDate time.Time
	Deadline time.Time // last day on which the ride was still submittable
}

func (e *DeadlinePassedError) Error() string {
	return fmt.Sprintf("deadline passed for rides in %s: cutoff was %s",
		e.RideDate.Format("2006-01"), e.Deadline.Format("2006-01-02"))
}

// CapScope distinguishes the two independently evaluated cumulative caps.
type CapScope string

const (
	CapMonthly CapScope = "monthly"
	CapYearly  CapScope = "yearly"
)

// CapExceededError reports a Belgian cumulative cap being reached.
type CapExceededError struct {
	Scope CapScope
	Cap   decimal.Decimal
	Total decimal.Decimal
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("%s tax-free maximum of €%s reached: current total €%s",
		e.Scope, e.Cap.StringFixed(2), e.Total.StringFixed(2))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsEligibilityRejection reports whether err is an expected, user-facing
// gate rejection (as opposed to a system failure).
func IsEligibilityRejection(err error) bool {
	var (
		daily    *DailyCapError
		deadline *DeadlinePassedError
		capErr   *CapExceededError
		tariff   *TariffBoundsError
	)
	return errors.Is(err, ErrDeclarationRequired) ||
		errors.As(err, &daily) ||
		errors.As(err, &deadline) ||
		errors.As(err, &capErr) ||
		errors.As(err, &tariff)
}

// IsNotFound reports whether err indicates a missing or foreign-owned record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTrajectoryNotFound) ||
		errors.Is(err, ErrRideNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrPolicyNotFound)
}

// IsValidation reports whether err is a client input error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
