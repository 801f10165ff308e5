package allowance_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedal/allowance-engine/allowance"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bePolicy() allowance.CountryPolicy {
	return allowance.CountryPolicy{
		Country:            allowance.CountryBE,
		TariffPerKm:        dec("0.27"),
		MaxPerYear:         dec("3160"),
		DeadlineDay:        15,
		RequireDeclaration: true,
	}
}

func nlPolicy() allowance.CountryPolicy {
	return allowance.CountryPolicy{
		Country:            allowance.CountryNL,
		TariffPerKm:        dec("0.23"),
		DeadlineDay:        15,
		RequireDeclaration: true,
	}
}

func beEmployee(id string) allowance.Employee {
	return allowance.Employee{
		ID:      id,
		Name:    "An Peeters",
		Email:   id + "@example.com",
		Country: allowance.CountryBE,
		Role:    allowance.RoleEmployee,
		Active:  true,
	}
}

func trajectory10km(employeeID string) allowance.Trajectory {
	return allowance.Trajectory{
		ID:                "traj-1",
		EmployeeID:        employeeID,
		Name:              "Home - Office",
		KmSingleTrip:      dec("10"),
		Kind:              allowance.PortionFull,
		DeclarationSigned: true,
		CreatedAt:         time.Now().UTC(),
	}
}

// =============================================================================
// MULTIPLIER TESTS
// =============================================================================

func TestCalculate_RoundTrip_FullPortion(t *testing.T) {
	// GIVEN: 10 km single trip, BE tariff 0.27
	// WHEN: heen_terug, volledig
	// THEN: 20.00 km, €5.40

	calc := allowance.NewCalculator()
	emp := beEmployee("emp-1")
	policy := bePolicy()
	traj := trajectory10km("emp-1")

	result, err := calc.Calculate(&emp, &traj, &policy,
		allowance.DirectionRoundTrip, allowance.PortionFull)

	require.NoError(t, err)
	assert.Equal(t, "20.00", result.Km.StringFixed(2))
	assert.Equal(t, "5.40", result.Amount.StringFixed(2))
}

func TestCalculate_SingleLeg_FullPortion(t *testing.T) {
	// Single legs keep the trajectory's one-way distance.
	calc := allowance.NewCalculator()
	emp := beEmployee("emp-1")
	policy := bePolicy()
	traj := trajectory10km("emp-1")

	for _, direction := range []allowance.Direction{
		allowance.DirectionOutbound, allowance.DirectionReturn,
	} {
		result, err := calc.Calculate(&emp, &traj, &policy,
			direction, allowance.PortionFull)
		require.NoError(t, err)
		assert.Equal(t, "10.00", result.Km.StringFixed(2), "direction %s", direction)
		assert.Equal(t, "2.70", result.Amount.StringFixed(2), "direction %s", direction)
	}
}

func TestCalculate_RoundTrip_PartialPortion(t *testing.T) {
	// GIVEN: 10 km single trip, multimodal commute
	// WHEN: heen_terug, gedeeltelijk
	// THEN: half of the doubled distance counts: 10.00 km, €2.70

	calc := allowance.NewCalculator()
	emp := beEmployee("emp-1")
	policy := bePolicy()
	traj := trajectory10km("emp-1")

	result, err := calc.Calculate(&emp, &traj, &policy,
		allowance.DirectionRoundTrip, allowance.PortionPartial)

	require.NoError(t, err)
	assert.Equal(t, "10.00", result.Km.StringFixed(2))
	assert.Equal(t, "2.70", result.Amount.StringFixed(2))
}

func TestCalculate_RoundsOnceAtTheEnd(t *testing.T) {
	// 7.77 km one-way, heen, gedeeltelijk: 3.885 km raw.
	// km rounds to 3.89 but the amount comes from the unrounded 3.885.
	calc := allowance.NewCalculator()
	emp := beEmployee("emp-1")
	policy := bePolicy()
	traj := trajectory10km("emp-1")
	traj.KmSingleTrip = dec("7.77")

	result, err := calc.Calculate(&emp, &traj, &policy,
		allowance.DirectionOutbound, allowance.PortionPartial)

	require.NoError(t, err)
	assert.Equal(t, "3.89", result.Km.StringFixed(2))
	// 3.885 * 0.27 = 1.04895 -> 1.05
	assert.Equal(t, "1.05", result.Amount.StringFixed(2))
}

// =============================================================================
// TARIFF RESOLUTION
// =============================================================================

func TestCalculate_CustomTariff_Wins(t *testing.T) {
	calc := allowance.NewCalculator()
	emp := beEmployee("emp-1")
	custom := dec("0.30")
	emp.CustomTariff = &custom
	policy := bePolicy()
	traj := trajectory10km("emp-1")

	result, err := calc.Calculate(&emp, &traj, &policy,
		allowance.DirectionRoundTrip, allowance.PortionFull)

	require.NoError(t, err)
	assert.Equal(t, "6.00", result.Amount.StringFixed(2))
}

func TestCalculate_CustomTariff_OutOfBounds_FailsNotClamps(t *testing.T) {
	// GIVEN: BE custom tariff above the 0.35 statutory maximum
	// WHEN: Calculating
	// THEN: TariffBoundsError; the amount is never computed with a clamped value

	calc := allowance.NewCalculator()
	emp := beEmployee("emp-1")
	custom := dec("0.36")
	emp.CustomTariff = &custom
	policy := bePolicy()
	traj := trajectory10km("emp-1")

	_, err := calc.Calculate(&emp, &traj, &policy,
		allowance.DirectionRoundTrip, allowance.PortionFull)

	var boundsErr *allowance.TariffBoundsError
	require.ErrorAs(t, err, &boundsErr)
	assert.Equal(t, allowance.CountryBE, boundsErr.Country)
	assert.True(t, allowance.IsEligibilityRejection(err))
}

func TestCalculate_NLCustomTariff_AboveMax_Fails(t *testing.T) {
	calc := allowance.NewCalculator()
	emp := beEmployee("emp-1")
	emp.Country = allowance.CountryNL
	custom := dec("0.24")
	emp.CustomTariff = &custom
	policy := nlPolicy()
	traj := trajectory10km("emp-1")

	_, err := calc.Calculate(&emp, &traj, &policy,
		allowance.DirectionOutbound, allowance.PortionFull)

	var boundsErr *allowance.TariffBoundsError
	require.ErrorAs(t, err, &boundsErr)
	assert.Equal(t, allowance.CountryNL, boundsErr.Country)
}

func TestCalculate_NLCustomTariff_NoLowerBound(t *testing.T) {
	// NL has no statutory minimum; 0.01 below BE's floor is fine there.
	calc := allowance.NewCalculator()
	emp := beEmployee("emp-1")
	emp.Country = allowance.CountryNL
	custom := dec("0.005")
	emp.CustomTariff = &custom
	policy := nlPolicy()
	traj := trajectory10km("emp-1")

	result, err := calc.Calculate(&emp, &traj, &policy,
		allowance.DirectionOutbound, allowance.PortionFull)

	require.NoError(t, err)
	assert.Equal(t, "0.05", result.Amount.StringFixed(2))
}

// =============================================================================
// FAILURE MODES
// =============================================================================

func TestCalculate_MissingPolicy_NoGuessedTariff(t *testing.T) {
	// No policy for BE: the calculation fails, it never assumes a default.
	calc := allowance.NewCalculator()
	emp := beEmployee("emp-1")
	traj := trajectory10km("emp-1")

	_, err := calc.Calculate(&emp, &traj, nil,
		allowance.DirectionRoundTrip, allowance.PortionFull)

	require.ErrorIs(t, err, allowance.ErrPolicyNotFound)
}

func TestCalculate_NonPositiveDistance_Rejected(t *testing.T) {
	calc := allowance.NewCalculator()
	emp := beEmployee("emp-1")
	policy := bePolicy()
	traj := trajectory10km("emp-1")
	traj.KmSingleTrip = decimal.Zero

	_, err := calc.Calculate(&emp, &traj, &policy,
		allowance.DirectionRoundTrip, allowance.PortionFull)

	assert.True(t, allowance.IsValidation(err))
}

func TestCalculate_InvalidEnums_Rejected(t *testing.T) {
	calc := allowance.NewCalculator()
	emp := beEmployee("emp-1")
	policy := bePolicy()
	traj := trajectory10km("emp-1")

	_, err := calc.Calculate(&emp, &traj, &policy,
		allowance.Direction("sideways"), allowance.PortionFull)
	assert.True(t, allowance.IsValidation(err))

	_, err = calc.Calculate(&emp, &traj, &policy,
		allowance.DirectionOutbound, allowance.Portion("most"))
	assert.True(t, allowance.IsValidation(err))
}
