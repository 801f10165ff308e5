/*
handlers.go - HTTP API handlers for the reimbursement engine

PURPOSE:
  Exposes the reimbursement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Rides (authenticated employee):
    POST   /api/rides                    Submit a ride
    GET    /api/rides/month/{yearMonth}  Month overview with totals
    DELETE /api/rides/{id}               Delete a ride (pre-deadline only)
    GET    /api/status                   Submission eligibility banner

  Trajectories (authenticated employee):
    GET    /api/trajectories             List own trajectories
    POST   /api/trajectories             Create trajectory
    DELETE /api/trajectories/{id}        Delete (blocked while rides reference it)

  Config (HR role):
    GET    /api/config/{land}            Country policy
    PATCH  /api/config/{land}            Partial policy update

  HR (HR role):
    GET    /api/hr/employees                   List employees
    PATCH  /api/hr/employees/{id}/tariff       Set/clear custom tariff
    POST   /api/hr/export/{yearMonth}          Run monthly export (?format=csv)

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (service, gate, exporter)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing or unknown caller identity
  - 403: Role not allowed
  - 404: Resource not found (including foreign-owned records)
  - 409: Conflict (trajectory still referenced by rides)
  - 422: Eligibility rejection (cap, deadline, declaration)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - identity.go: Caller identity and role gate
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pedal/allowance-engine/allowance"
	"github.com/pedal/allowance-engine/export"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    allowance.Store
	Rides    *allowance.RideService
	Exporter *export.Exporter
}

// NewHandler creates a new handler with the given store.
func NewHandler(store allowance.Store) *Handler {
	return &Handler{
		Store:    store,
		Rides:    allowance.NewRideService(store),
		Exporter: export.New(store),
	}
}

// =============================================================================
// RIDE HANDLERS
// =============================================================================

// SubmitRide registers a ride for the caller.
func (h *Handler) SubmitRide(w http.ResponseWriter, r *http.Request) {
	var req SubmitRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	ride, err := h.Rides.SubmitRide(r.Context(), CallerID(r), allowance.SubmissionInput{
		TrajectoryID:         req.TrajectoryID,
		Date:                 allowance.DateOnly(date),
		Direction:            allowance.Direction(req.Direction),
		Portion:              allowance.Portion(req.Portion),
		DeclarationConfirmed: req.DeclarationConfirmed,
	})
	if err != nil {
		writeDomainError(w, "Failed to submit ride", err)
		return
	}

	writeJSON(w, http.StatusCreated, toRideDTO(*ride))
}

// GetMonth returns the caller's rides and totals for one month.
func (h *Handler) GetMonth(w http.ResponseWriter, r *http.Request) {
	ym, err := allowance.ParseYearMonth(chi.URLParam(r, "yearMonth"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year-month (use YYYY-MM)", err)
		return
	}

	overview, err := h.Rides.Month(r.Context(), CallerID(r), ym)
	if err != nil {
		writeDomainError(w, "Failed to load month", err)
		return
	}

	dtos := make([]RideDTO, len(overview.Rides))
	for i, ride := range overview.Rides {
		dtos[i] = toRideDTO(ride)
	}

	writeJSON(w, http.StatusOK, MonthOverviewDTO{
		YearMonth:   ym.String(),
		Rides:       dtos,
		TotalKm:     overview.Totals.TotalKm.StringFixed(2),
		TotalAmount: overview.Totals.TotalAmount.StringFixed(2),
		RideCount:   overview.Totals.RideCount,
		Status:      string(overview.Status),
	})
}

// DeleteRide removes one of the caller's rides if its deadline has not passed.
func (h *Handler) DeleteRide(w http.ResponseWriter, r *http.Request) {
	err := h.Rides.DeleteRide(r.Context(), CallerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to delete ride", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStatus answers the submission banner: is the caller blocked, and has
// the previous month's deadline passed.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Rides.Status(r.Context(), CallerID(r))
	if err != nil {
		writeDomainError(w, "Failed to load status", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusDTO{
		Blocked:      status.Blocked,
		PastDeadline: status.PastDeadline,
		Reason:       status.Reason,
	})
}

// =============================================================================
// TRAJECTORY HANDLERS
// =============================================================================

// ListTrajectories returns the caller's trajectories.
func (h *Handler) ListTrajectories(w http.ResponseWriter, r *http.Request) {
	trajectories, err := h.Store.ListTrajectories(r.Context(), CallerID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list trajectories", err)
		return
	}

	dtos := make([]TrajectoryDTO, len(trajectories))
	for i, t := range trajectories {
		dtos[i] = toTrajectoryDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTrajectory registers a new commute leg for the caller.
func (h *Handler) CreateTrajectory(w http.ResponseWriter, r *http.Request) {
	var req CreateTrajectoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}
	km, err := decimal.NewFromString(req.KmSingleTrip)
	if err != nil || !km.IsPositive() {
		writeError(w, http.StatusBadRequest, "km_single_trip must be a positive decimal", err)
		return
	}
	kind := allowance.Portion(req.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be volledig or gedeeltelijk", nil)
		return
	}

	now := time.Now().UTC()
	trajectory := allowance.Trajectory{
		ID:                newEntityID("traj"),
		EmployeeID:        CallerID(r),
		Name:              req.Name,
		StartLocation:     req.StartLocation,
		EndLocation:       req.EndLocation,
		KmSingleTrip:      km,
		Kind:              kind,
		DeclarationSigned: req.DeclarationSigned,
		CreatedAt:         now,
	}
	if req.DeclarationSigned {
		trajectory.DeclarationAt = &now
	}

	if err := h.Store.SaveTrajectory(r.Context(), trajectory); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create trajectory", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTrajectoryDTO(trajectory))
}

// DeleteTrajectory removes a trajectory. Ownership by the caller is part of
// existence: a foreign trajectory is a 404, never a 403.
func (h *Handler) DeleteTrajectory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	trajectory, err := h.Store.GetTrajectory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load trajectory", err)
		return
	}
	if trajectory == nil || trajectory.EmployeeID != CallerID(r) {
		writeError(w, http.StatusNotFound, "Trajectory not found", nil)
		return
	}

	if err := h.Store.DeleteTrajectory(r.Context(), id); err != nil {
		if errors.Is(err, allowance.ErrTrajectoryInUse) {
			writeError(w, http.StatusConflict, "Trajectory has registered rides", err)
			return
		}
		writeDomainError(w, "Failed to delete trajectory", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CONFIG HANDLERS (HR)
// =============================================================================

// GetPolicy returns the active configuration for a country.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	country := allowance.Country(chi.URLParam(r, "land"))
	if !country.Valid() {
		writeError(w, http.StatusBadRequest, "Land must be BE or NL", nil)
		return
	}

	policy, err := h.Store.GetPolicy(r.Context(), country)
	if err != nil {
		writeDomainError(w, "Failed to load policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*policy))
}

// UpdatePolicy applies a partial update to a country's configuration.
// Tariff bounds are enforced here so a bad config never reaches the
// calculator.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	country := allowance.Country(chi.URLParam(r, "land"))
	if !country.Valid() {
		writeError(w, http.StatusBadRequest, "Land must be BE or NL", nil)
		return
	}

	var req UpdatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	policy, err := h.Store.GetPolicy(r.Context(), country)
	if err != nil {
		writeDomainError(w, "Failed to load policy", err)
		return
	}

	if req.TariffPerKm != nil {
		tariff, err := decimal.NewFromString(*req.TariffPerKm)
		if err != nil {
			writeError(w, http.StatusBadRequest, "tariff_per_km must be a decimal", err)
			return
		}
		if err := allowance.ValidateTariff(country, tariff); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "Tariff out of bounds", err)
			return
		}
		policy.TariffPerKm = tariff
	}
	if req.MaxPerMonth != nil {
		if policy.MaxPerMonth, err = parseNonNegative("max_per_month", *req.MaxPerMonth); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
	}
	if req.MaxPerYear != nil {
		if policy.MaxPerYear, err = parseNonNegative("max_per_year", *req.MaxPerYear); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
	}
	if req.DeadlineDay != nil {
		if *req.DeadlineDay < 1 || *req.DeadlineDay > 28 {
			writeError(w, http.StatusBadRequest, "deadline_day must be between 1 and 28", nil)
			return
		}
		policy.DeadlineDay = *req.DeadlineDay
	}
	if req.AllowAboveTaxFree != nil {
		policy.AllowAboveTaxFree = *req.AllowAboveTaxFree
	}
	if req.RequireDeclaration != nil {
		policy.RequireDeclaration = *req.RequireDeclaration
	}

	if err := h.Store.SavePolicy(r.Context(), *policy); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*policy))
}

// =============================================================================
// HR HANDLERS
// =============================================================================

// ListEmployees returns all employees. With ?year_month=YYYY-MM each entry
// carries that month's km/amount/ride totals.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	var withTotals bool
	var ym allowance.YearMonth
	if raw := r.URL.Query().Get("year_month"); raw != "" {
		ym, err = allowance.ParseYearMonth(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year_month (use YYYY-MM)", err)
			return
		}
		withTotals = true
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
		if !withTotals {
			continue
		}
		totals, err := h.Store.SumForMonth(r.Context(), e.ID, ym)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to total rides", err)
			return
		}
		dtos[i].Totals = &MonthTotalsDTO{
			YearMonth:   ym.String(),
			TotalKm:     totals.TotalKm.StringFixed(2),
			TotalAmount: totals.TotalAmount.StringFixed(2),
			RideCount:   totals.RideCount,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetCustomTariff sets or clears an employee's tariff override. The bound
// check runs against the employee's own country.
func (h *Handler) SetCustomTariff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SetTariffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	var tariff *decimal.Decimal
	if req.TariffPerKm != nil {
		t, err := decimal.NewFromString(*req.TariffPerKm)
		if err != nil {
			writeError(w, http.StatusBadRequest, "tariff_per_km must be a decimal", err)
			return
		}
		if err := allowance.ValidateTariff(emp.Country, t); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "Tariff out of bounds", err)
			return
		}
		tariff = &t
	}

	if err := h.Store.SetCustomTariff(r.Context(), id, tariff); err != nil {
		writeDomainError(w, "Failed to set tariff", err)
		return
	}

	emp.CustomTariff = tariff
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// RunExport runs the monthly export for the given month and closes it.
// With ?format=csv the payroll CSV is returned instead of JSON.
func (h *Handler) RunExport(w http.ResponseWriter, r *http.Request) {
	ym, err := allowance.ParseYearMonth(chi.URLParam(r, "yearMonth"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year-month (use YYYY-MM)", err)
		return
	}

	report, err := h.Exporter.Run(r.Context(), ym)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Export failed", err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		data, err := report.CSV()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to render CSV", err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", report.Filename()))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}

	rows := make([]ExportRowDTO, len(report.Rows))
	for i, row := range report.Rows {
		rows[i] = ExportRowDTO{
			EmployeeID:  row.EmployeeID,
			Name:        row.Name,
			Email:       row.Email,
			Land:        string(row.Country),
			TotalKm:     row.TotalKm.StringFixed(2),
			TotalAmount: row.TotalAmount.StringFixed(2),
			RideCount:   row.RideCount,
		}
	}
	writeJSON(w, http.StatusOK, ExportRunDTO{
		YearMonth:   report.YearMonth.String(),
		GeneratedAt: report.GeneratedAt.Format(time.RFC3339),
		Rows:        rows,
		Filename:    report.Filename(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the core error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case allowance.IsValidation(err):
		writeError(w, http.StatusBadRequest, message, err)
	case allowance.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case allowance.IsEligibilityRejection(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func parseNonNegative(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must be a non-negative decimal", field)
	}
	return d, nil
}

var entitySeq atomic.Uint64

func newEntityID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), entitySeq.Add(1))
}
