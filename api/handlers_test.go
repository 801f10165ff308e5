/*
handlers_test.go - HTTP-level tests for the API surface

Tests run against the real router with the in-memory store, covering:
- Identity and role enforcement
- Ride submission, rejection statuses, month overview
- Trajectory lifecycle including the in-use conflict
- Config and HR endpoints
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedal/allowance-engine/allowance"
	mem "github.com/pedal/allowance-engine/allowance/store"
	"github.com/pedal/allowance-engine/api"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestServer(t *testing.T) (http.Handler, *mem.Memory) {
	t.Helper()
	s := mem.NewMemory()
	ctx := context.Background()

	require.NoError(t, s.SavePolicy(ctx, allowance.CountryPolicy{
		Country:            allowance.CountryBE,
		TariffPerKm:        dec("0.27"),
		MaxPerYear:         dec("3160"),
		DeadlineDay:        15,
		RequireDeclaration: true,
	}))
	require.NoError(t, s.SavePolicy(ctx, allowance.CountryPolicy{
		Country:            allowance.CountryNL,
		TariffPerKm:        dec("0.23"),
		DeadlineDay:        15,
		RequireDeclaration: true,
	}))

	require.NoError(t, s.SaveEmployee(ctx, allowance.Employee{
		ID: "emp-1", Name: "An Peeters", Email: "an@example.com",
		Country: allowance.CountryBE, Role: allowance.RoleEmployee, Active: true,
	}))
	require.NoError(t, s.SaveEmployee(ctx, allowance.Employee{
		ID: "hr-1", Name: "Hilde Maes", Email: "hilde@example.com",
		Country: allowance.CountryBE, Role: allowance.RoleHR, Active: true,
	}))

	require.NoError(t, s.SaveTrajectory(ctx, allowance.Trajectory{
		ID: "traj-1", EmployeeID: "emp-1", Name: "Home - Office",
		KmSingleTrip: dec("10"), Kind: allowance.PortionFull,
		DeclarationSigned: true, CreatedAt: time.Now().UTC(),
	}))

	handler := api.NewHandler(s)
	return api.NewRouter(handler), s
}

func doJSON(t *testing.T, router http.Handler, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req.Header.Set("X-Employee-ID", caller)
	}
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func rideBody(date string) map[string]any {
	return map[string]any{
		"trajectory_id":         "traj-1",
		"date":                  date,
		"direction":             "heen_terug",
		"portion":               "volledig",
		"declaration_confirmed": true,
	}
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// =============================================================================
// IDENTITY
// =============================================================================

func TestAPI_MissingIdentityHeader(t *testing.T) {
	router, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_HRRoutesRejectEmployees(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/hr/employees", "emp-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/config/BE", "emp-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// RIDES
// =============================================================================

func TestAPI_SubmitRide(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", rideBody(today()))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var ride map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ride))
	assert.Equal(t, "20.00", ride["km_total"])
	assert.Equal(t, "5.40", ride["amount_euro"])
}

func TestAPI_SubmitRide_ThirdOnSameDay422(t *testing.T) {
	router, _ := newTestServer(t)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", rideBody(today()))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", rideBody(today()))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAPI_SubmitRide_MissingDeclaration422(t *testing.T) {
	router, _ := newTestServer(t)

	body := rideBody(today())
	body["declaration_confirmed"] = false
	rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAPI_SubmitRide_BadInput400(t *testing.T) {
	router, _ := newTestServer(t)

	body := rideBody(today())
	body["direction"] = "sideways"
	rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = rideBody("20-03-2024")
	rec = doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SubmitRide_UnknownTrajectory404(t *testing.T) {
	router, _ := newTestServer(t)

	body := rideBody(today())
	body["trajectory_id"] = "traj-unknown"
	rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_MonthOverview(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", rideBody(today()))
	require.Equal(t, http.StatusCreated, rec.Code)

	ym := time.Now().UTC().Format("2006-01")
	rec = doJSON(t, router, http.MethodGet, "/api/rides/month/"+ym, "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var overview map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overview))
	assert.Equal(t, "20.00", overview["total_km"])
	assert.Equal(t, "5.40", overview["total_amount_euro"])
	assert.Equal(t, "open", overview["status"])
	assert.Equal(t, float64(1), overview["ride_count"])
}

func TestAPI_DeleteRide(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", rideBody(today()))
	require.Equal(t, http.StatusCreated, rec.Code)
	var ride map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ride))
	id := ride["id"].(string)

	// Another employee cannot see, let alone delete, the ride
	rec = doJSON(t, router, http.MethodDelete, "/api/rides/"+id, "hr-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/rides/"+id, "emp-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPI_Status(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/status", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, false, status["blocked"])
}

// =============================================================================
// TRAJECTORIES
// =============================================================================

func TestAPI_TrajectoryLifecycle(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/trajectories", "emp-1", map[string]any{
		"name":               "Home - Station",
		"start_location":     "Kerkstraat 1",
		"end_location":       "Station Gent",
		"km_single_trip":     "4.5",
		"kind":               "gedeeltelijk",
		"declaration_signed": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "4.50", created["km_single_trip"])
	id := created["id"].(string)

	rec = doJSON(t, router, http.MethodGet, "/api/trajectories", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = doJSON(t, router, http.MethodDelete, "/api/trajectories/"+id, "emp-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPI_TrajectoryCreate_BadKm(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/trajectories", "emp-1", map[string]any{
		"name":           "Broken",
		"km_single_trip": "-3",
		"kind":           "volledig",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_TrajectoryDelete_InUse409(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", rideBody(today()))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/trajectories/traj-1", "emp-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_TrajectoryDelete_Foreign404(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodDelete, "/api/trajectories/traj-1", "hr-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CONFIG
// =============================================================================

func TestAPI_ConfigGetAndPatch(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/config/BE", "hr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var policy map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policy))
	assert.Equal(t, "0.27", policy["tariff_per_km"])

	rec = doJSON(t, router, http.MethodPatch, "/api/config/BE", "hr-1", map[string]any{
		"tariff_per_km": "0.30",
		"deadline_day":  10,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policy))
	assert.Equal(t, "0.30", policy["tariff_per_km"])
	assert.Equal(t, float64(10), policy["deadline_day"])
	// Untouched fields survive the partial update
	assert.Equal(t, "3160", policy["max_per_year"])
}

func TestAPI_ConfigPatch_TariffOutOfBounds422(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPatch, "/api/config/BE", "hr-1", map[string]any{
		"tariff_per_km": "0.40",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAPI_ConfigUnknownLand400(t *testing.T) {
	router, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/api/config/DE", "hr-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// HR
// =============================================================================

func TestAPI_HRListEmployees(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/hr/employees", "hr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestAPI_HRListEmployees_MonthTotals(t *testing.T) {
	// GIVEN one submitted ride this month
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", rideBody(today()))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN HR lists employees filtered on the current month
	ym := time.Now().UTC().Format("2006-01")
	rec = doJSON(t, router, http.MethodGet, "/api/hr/employees?year_month="+ym, "hr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)

	// THEN the rider carries totals and the HR account shows zero
	byID := map[string]map[string]any{}
	for _, e := range list {
		byID[e["id"].(string)] = e
	}
	riderTotals := byID["emp-1"]["totals"].(map[string]any)
	assert.Equal(t, "20.00", riderTotals["total_km"])
	assert.Equal(t, "5.40", riderTotals["total_amount_euro"])
	assert.Equal(t, float64(1), riderTotals["ride_count"])

	hrTotals := byID["hr-1"]["totals"].(map[string]any)
	assert.Equal(t, "0.00", hrTotals["total_amount_euro"])
}

func TestAPI_HRListEmployees_BadYearMonth400(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/hr/employees?year_month=March", "hr-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_HRSetCustomTariff(t *testing.T) {
	router, s := newTestServer(t)

	rec := doJSON(t, router, http.MethodPatch, "/api/hr/employees/emp-1/tariff", "hr-1",
		map[string]any{"tariff_per_km": "0.30"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	emp, err := s.GetEmployee(context.Background(), "emp-1")
	require.NoError(t, err)
	require.NotNil(t, emp.CustomTariff)
	assert.Equal(t, "0.3", emp.CustomTariff.String())

	// Clearing with null falls back to the country tariff
	rec = doJSON(t, router, http.MethodPatch, "/api/hr/employees/emp-1/tariff", "hr-1",
		map[string]any{"tariff_per_km": nil})
	require.Equal(t, http.StatusOK, rec.Code)

	emp, err = s.GetEmployee(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Nil(t, emp.CustomTariff)
}

func TestAPI_HRSetCustomTariff_OutOfBounds422(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPatch, "/api/hr/employees/emp-1/tariff", "hr-1",
		map[string]any{"tariff_per_km": "0.36"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAPI_HRExport(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", rideBody(today()))
	require.Equal(t, http.StatusCreated, rec.Code)

	ym := time.Now().UTC().Format("2006-01")
	rec = doJSON(t, router, http.MethodPost, "/api/hr/export/"+ym, "hr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var run map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	rows := run["rows"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, "emp-1", row["employee_id"])
	assert.Equal(t, "5.40", row["total_amount_euro"])

	// The month now reads as verwerkt for the employee
	rec = doJSON(t, router, http.MethodGet, "/api/rides/month/"+ym, "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var overview map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overview))
	assert.Equal(t, "verwerkt", overview["status"])
}

func TestAPI_HRExportCSV(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/rides", "emp-1", rideBody(today()))
	require.Equal(t, http.StatusCreated, rec.Code)

	ym := time.Now().UTC().Format("2006-01")
	rec = doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/api/hr/export/%s?format=csv", ym), "hr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(),
		"employee_id,name,email,land,year_month,total_km,total_amount_euro,ride_count,status"))
}
