/*
calculator.go - Amount Calculator

PURPOSE:
  Pure computation of (kilometers, euro amount) for an accepted ride. The
  caller supplies the country policy; no I/O happens here, so the calculator
  is safe to run inside the submission transaction.

ALGORITHM:
  km = trajectory.km_single_trip
  heen_terug doubles it; heen / terug alone leave it (the single-trip
  distance already represents one leg)
  gedeeltelijk halves it (only half of a multimodal leg is cycled)
  amount = round(km * tariff, 2)

  Internal math stays at full decimal precision; both outputs are rounded
  to two decimals in the final step, so summing persisted rides never
  accumulates rounding drift.

SEE ALSO:
  - tariff.go: custom-tariff bounds validation
  - gate.go: runs before this, so a rejected ride is never priced
*/
package allowance

import (
	"github.com/shopspring/decimal"
)

var (
	two  = decimal.NewFromInt(2)
	half = decimal.RequireFromString("0.5")
)

// CalcResult is the calculator's output, rounded to monetary precision.
type CalcResult struct {
	Km     decimal.Decimal
	Amount decimal.Decimal
}

// Calculator computes ride kilometers and payout from a trajectory and the
// employee's effective tariff.
type Calculator struct{}

// NewCalculator creates a calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate resolves the employee's effective tariff and prices the ride.
// It fails when the trajectory distance is non-positive, when the policy is
// missing, or when a custom tariff breaches its country bound.
func (c *Calculator) Calculate(emp *Employee, trajectory *Trajectory, policy *CountryPolicy, direction Direction, portion Portion) (CalcResult, error) {
	if !trajectory.KmSingleTrip.IsPositive() {
		return CalcResult{}, &ValidationError{Field: "km_single_trip", Reason: "must be positive"}
	}
	if !direction.Valid() {
		return CalcResult{}, &ValidationError{Field: "direction", Reason: "must be heen, terug or heen_terug"}
	}
	if !portion.Valid() {
		return CalcResult{}, &ValidationError{Field: "portion", Reason: "must be volledig or gedeeltelijk"}
	}
	if policy == nil {
		return CalcResult{}, ErrPolicyNotFound
	}

	tariff, err := ResolveTariff(emp, policy)
	if err != nil {
		return CalcResult{}, err
	}

	km := trajectory.KmSingleTrip
	if direction == DirectionRoundTrip {
		km = km.Mul(two)
	}
	if portion == PortionPartial {
		km = km.Mul(half)
	}

	return CalcResult{
		Km:     km.Round(2),
		Amount: km.Mul(tariff).Round(2),
	}, nil
}
