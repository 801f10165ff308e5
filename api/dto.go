/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ON THE WIRE:
  Kilometers and euro amounts are serialized as fixed two-decimal strings
  ("20.00", "5.40"). Clients never receive floats.

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - allowance/types.go: The domain records these mirror
*/
package api

import (
	"time"

	"github.com/pedal/allowance-engine/allowance"
)

// =============================================================================
// RIDES
// =============================================================================

// SubmitRideRequest is the body of POST /api/rides.
type SubmitRideRequest struct {
	TrajectoryID         string `json:"trajectory_id"`
	Date                 string `json:"date"` // YYYY-MM-DD
	Direction            string `json:"direction"`
	Portion              string `json:"portion"`
	DeclarationConfirmed bool   `json:"declaration_confirmed"`
}

// RideDTO represents an accepted ride in API responses.
type RideDTO struct {
	ID                   string `json:"id"`
	TrajectoryID         string `json:"trajectory_id"`
	Date                 string `json:"date"`
	Direction            string `json:"direction"`
	Portion              string `json:"portion"`
	KmTotal              string `json:"km_total"`
	AmountEuro           string `json:"amount_euro"`
	DeclarationConfirmed bool   `json:"declaration_confirmed"`
	CreatedAt            string `json:"created_at"`
}

func toRideDTO(r allowance.Ride) RideDTO {
	return RideDTO{
		ID:                   r.ID,
		TrajectoryID:         r.TrajectoryID,
		Date:                 r.Date.Format("2006-01-02"),
		Direction:            string(r.Direction),
		Portion:              string(r.Portion),
		KmTotal:              r.KmTotal.StringFixed(2),
		AmountEuro:           r.AmountEuro.StringFixed(2),
		DeclarationConfirmed: r.DeclarationConfirmed,
		CreatedAt:            r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// MonthOverviewDTO is the response of GET /api/rides/month/{yearMonth}.
type MonthOverviewDTO struct {
	YearMonth   string    `json:"year_month"`
	Rides       []RideDTO `json:"rides"`
	TotalKm     string    `json:"total_km"`
	TotalAmount string    `json:"total_amount_euro"`
	RideCount   int       `json:"ride_count"`
	Status      string    `json:"status"` // open | verwerkt
}

// StatusDTO is the response of GET /api/status. It answers the two banner
// questions the UI asks before showing the submission form.
type StatusDTO struct {
	Blocked      bool   `json:"blocked"`
	PastDeadline bool   `json:"past_deadline"`
	Reason       string `json:"reason,omitempty"`
}

// =============================================================================
// TRAJECTORIES
// =============================================================================

// CreateTrajectoryRequest is the body of POST /api/trajectories.
type CreateTrajectoryRequest struct {
	Name          string `json:"name"`
	StartLocation string `json:"start_location"`
	EndLocation   string `json:"end_location"`
	KmSingleTrip  string `json:"km_single_trip"`
	Kind          string `json:"kind"` // volledig | gedeeltelijk
	// DeclarationSigned records the on-file declaration of honor.
	DeclarationSigned bool `json:"declaration_signed"`
}

// TrajectoryDTO represents a commute leg in API responses.
type TrajectoryDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	StartLocation     string `json:"start_location"`
	EndLocation       string `json:"end_location"`
	KmSingleTrip      string `json:"km_single_trip"`
	Kind              string `json:"kind"`
	DeclarationSigned bool   `json:"declaration_signed"`
	CreatedAt         string `json:"created_at"`
}

func toTrajectoryDTO(t allowance.Trajectory) TrajectoryDTO {
	return TrajectoryDTO{
		ID:                t.ID,
		Name:              t.Name,
		StartLocation:     t.StartLocation,
		EndLocation:       t.EndLocation,
		KmSingleTrip:      t.KmSingleTrip.StringFixed(2),
		Kind:              string(t.Kind),
		DeclarationSigned: t.DeclarationSigned,
		CreatedAt:         t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// CONFIG
// =============================================================================

// PolicyDTO represents a country configuration in API responses.
type PolicyDTO struct {
	Land               string `json:"land"`
	TariffPerKm        string `json:"tariff_per_km"`
	MaxPerMonth        string `json:"max_per_month"`
	MaxPerYear         string `json:"max_per_year"`
	DeadlineDay        int    `json:"deadline_day"`
	AllowAboveTaxFree  bool   `json:"allow_above_tax_free"`
	RequireDeclaration bool   `json:"require_declaration"`
	UpdatedAt          string `json:"updated_at"`
}

func toPolicyDTO(p allowance.CountryPolicy) PolicyDTO {
	return PolicyDTO{
		Land:               string(p.Country),
		TariffPerKm:        p.TariffPerKm.String(),
		MaxPerMonth:        p.MaxPerMonth.String(),
		MaxPerYear:         p.MaxPerYear.String(),
		DeadlineDay:        p.DeadlineDay,
		AllowAboveTaxFree:  p.AllowAboveTaxFree,
		RequireDeclaration: p.RequireDeclaration,
		UpdatedAt:          p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// UpdatePolicyRequest is the body of PATCH /api/config/{land}.
// Nil fields are left unchanged.
type UpdatePolicyRequest struct {
	TariffPerKm        *string `json:"tariff_per_km,omitempty"`
	MaxPerMonth        *string `json:"max_per_month,omitempty"`
	MaxPerYear         *string `json:"max_per_year,omitempty"`
	DeadlineDay        *int    `json:"deadline_day,omitempty"`
	AllowAboveTaxFree  *bool   `json:"allow_above_tax_free,omitempty"`
	RequireDeclaration *bool   `json:"require_declaration,omitempty"`
}

// =============================================================================
// HR
// =============================================================================

// EmployeeDTO represents an employee in API responses. Totals is only
// populated on the HR listing when a ?year_month filter is given.
type EmployeeDTO struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Land         string          `json:"land"`
	Role         string          `json:"role"`
	Active       bool            `json:"active"`
	CustomTariff *string         `json:"custom_tariff,omitempty"`
	Totals       *MonthTotalsDTO `json:"totals,omitempty"`
}

// MonthTotalsDTO is a per-employee month rollup on the HR listing.
type MonthTotalsDTO struct {
	YearMonth   string `json:"year_month"`
	TotalKm     string `json:"total_km"`
	TotalAmount string `json:"total_amount_euro"`
	RideCount   int    `json:"ride_count"`
}

func toEmployeeDTO(e allowance.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:     e.ID,
		Name:   e.Name,
		Email:  e.Email,
		Land:   string(e.Country),
		Role:   string(e.Role),
		Active: e.Active,
	}
	if e.CustomTariff != nil {
		v := e.CustomTariff.String()
		dto.CustomTariff = &v
	}
	return dto
}

// SetTariffRequest is the body of PATCH /api/hr/employees/{id}/tariff.
// A null tariff clears the override back to the country default.
type SetTariffRequest struct {
	TariffPerKm *string `json:"tariff_per_km"`
}

// ExportRowDTO is one employee line of a monthly export run.
type ExportRowDTO struct {
	EmployeeID  string `json:"employee_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Land        string `json:"land"`
	TotalKm     string `json:"total_km"`
	TotalAmount string `json:"total_amount_euro"`
	RideCount   int    `json:"ride_count"`
}

// ExportRunDTO is the response of POST /api/hr/export/{yearMonth}.
type ExportRunDTO struct {
	YearMonth   string         `json:"year_month"`
	GeneratedAt string         `json:"generated_at"`
	Rows        []ExportRowDTO `json:"rows"`
	Filename    string         `json:"filename"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
