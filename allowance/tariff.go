package allowance

import "github.com/shopspring/decimal"

// =============================================================================
// TARIFF RESOLUTION
// =============================================================================

// Statutory per-km bounds for custom tariffs. A company policy tariff is
// assumed to be configured within bounds by HR; only employee-level overrides
// are re-validated at the point of use.
var (
	tariffMinBE = decimal.RequireFromString("0.01")
	tariffMaxBE = decimal.RequireFromString("0.35")
	tariffMaxNL = decimal.RequireFromString("0.23")
)

// ValidateTariff checks a per-km tariff against the country's statutory
// bounds: BE allows 0.01 through 0.35, NL anything up to 0.23.
func ValidateTariff(country Country, t decimal.Decimal) error {
	switch country {
	case CountryBE:
		if t.LessThan(tariffMinBE) || t.GreaterThan(tariffMaxBE) {
			return &TariffBoundsError{
				Country: CountryBE, Tariff: t, Min: tariffMinBE, Max: tariffMaxBE,
			}
		}
	case CountryNL:
		if t.GreaterThan(tariffMaxNL) {
			return &TariffBoundsError{
				Country: CountryNL, Tariff: t, Max: tariffMaxNL,
			}
		}
	}
	return nil
}

// ResolveTariff returns the effective per-km tariff for an employee:
// the custom tariff when set and within the country's bounds, otherwise the
// country policy's tariff. An out-of-bound custom tariff is an error, never
// silently clamped.
func ResolveTariff(emp *Employee, policy *CountryPolicy) (decimal.Decimal, error) {
	if emp.CustomTariff == nil {
		return policy.TariffPerKm, nil
	}
	if err := ValidateTariff(emp.Country, *emp.CustomTariff); err != nil {
		return decimal.Zero, err
	}
	return *emp.CustomTariff, nil
}
