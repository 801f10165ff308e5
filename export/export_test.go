package export_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedal/allowance-engine/allowance"
	mem "github.com/pedal/allowance-engine/allowance/store"
	"github.com/pedal/allowance-engine/export"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march = allowance.YearMonth{Year: 2024, Month: time.March}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestExporter(t *testing.T) (*export.Exporter, *mem.Memory) {
	t.Helper()
	s := mem.NewMemory()
	ctx := context.Background()

	employees := []allowance.Employee{
		{ID: "emp-1", Name: "An Peeters", Email: "an@example.com",
			Country: allowance.CountryBE, Role: allowance.RoleEmployee, Active: true},
		{ID: "emp-2", Name: "Jip de Vries", Email: "jip@example.com",
			Country: allowance.CountryNL, Role: allowance.RoleEmployee, Active: true},
		{ID: "emp-3", Name: "Former Colleague", Email: "gone@example.com",
			Country: allowance.CountryBE, Role: allowance.RoleEmployee, Active: false},
	}
	for _, e := range employees {
		require.NoError(t, s.SaveEmployee(ctx, e))
	}

	rides := []allowance.Ride{
		{ID: "r-1", EmployeeID: "emp-1", TrajectoryID: "traj-1",
			Date: allowance.Date(2024, time.March, 4), Direction: allowance.DirectionRoundTrip,
			Portion: allowance.PortionFull, KmTotal: dec("20"), AmountEuro: dec("5.40")},
		{ID: "r-2", EmployeeID: "emp-1", TrajectoryID: "traj-1",
			Date: allowance.Date(2024, time.March, 5), Direction: allowance.DirectionOutbound,
			Portion: allowance.PortionFull, KmTotal: dec("10"), AmountEuro: dec("2.70")},
		{ID: "r-3", EmployeeID: "emp-2", TrajectoryID: "traj-2",
			Date: allowance.Date(2024, time.March, 6), Direction: allowance.DirectionRoundTrip,
			Portion: allowance.PortionFull, KmTotal: dec("30"), AmountEuro: dec("6.90")},
		// Outside the month and from an inactive employee: both excluded
		{ID: "r-4", EmployeeID: "emp-1", TrajectoryID: "traj-1",
			Date: allowance.Date(2024, time.April, 1), Direction: allowance.DirectionOutbound,
			Portion: allowance.PortionFull, KmTotal: dec("10"), AmountEuro: dec("2.70")},
		{ID: "r-5", EmployeeID: "emp-3", TrajectoryID: "traj-3",
			Date: allowance.Date(2024, time.March, 6), Direction: allowance.DirectionOutbound,
			Portion: allowance.PortionFull, KmTotal: dec("10"), AmountEuro: dec("2.70")},
	}
	for _, r := range rides {
		require.NoError(t, s.InsertRide(ctx, r))
	}

	exporter := export.New(s).WithClock(func() time.Time {
		return time.Date(2024, time.April, 16, 6, 0, 0, 0, time.UTC)
	})
	return exporter, s
}

// =============================================================================
// EXPORT RUN
// =============================================================================

func TestRun_AggregatesPerActiveEmployee(t *testing.T) {
	// GIVEN: Two active employees with March rides, one inactive, one April ride
	// WHEN: Running the March export
	// THEN: Two rows; per-employee totals; April and inactive excluded

	exporter, _ := newTestExporter(t)

	report, err := exporter.Run(context.Background(), march)
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)

	assert.Equal(t, "emp-1", report.Rows[0].EmployeeID)
	assert.Equal(t, "30.00", report.Rows[0].TotalKm.StringFixed(2))
	assert.Equal(t, "8.10", report.Rows[0].TotalAmount.StringFixed(2))
	assert.Equal(t, 2, report.Rows[0].RideCount)

	assert.Equal(t, "emp-2", report.Rows[1].EmployeeID)
	assert.Equal(t, "6.90", report.Rows[1].TotalAmount.StringFixed(2))
}

func TestRun_ClosesTheMonth(t *testing.T) {
	exporter, s := newTestExporter(t)
	ctx := context.Background()

	_, err := exporter.Run(ctx, march)
	require.NoError(t, err)

	for _, id := range []string{"emp-1", "emp-2"} {
		summary, err := s.GetSummary(ctx, id, march)
		require.NoError(t, err)
		require.NotNil(t, summary, "summary missing for %s", id)
		assert.Equal(t, allowance.MonthProcessed, summary.Status)
		assert.NotNil(t, summary.ExportedAt)
	}

	// No rides, no summary
	summary, err := s.GetSummary(ctx, "emp-3", march)
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	// GIVEN: March already exported
	// WHEN: Running again after a late correction
	// THEN: One summary per employee, carrying the fresh totals

	exporter, s := newTestExporter(t)
	ctx := context.Background()

	_, err := exporter.Run(ctx, march)
	require.NoError(t, err)

	require.NoError(t, s.InsertRide(ctx, allowance.Ride{
		ID: "r-6", EmployeeID: "emp-1", TrajectoryID: "traj-1",
		Date: allowance.Date(2024, time.March, 7), Direction: allowance.DirectionOutbound,
		Portion: allowance.PortionFull, KmTotal: dec("10"), AmountEuro: dec("2.70"),
	}))

	report, err := exporter.Run(ctx, march)
	require.NoError(t, err)
	assert.Len(t, report.Rows, 2)

	summary, err := s.GetSummary(ctx, "emp-1", march)
	require.NoError(t, err)
	assert.Equal(t, "10.80", summary.TotalAmount.StringFixed(2))
}

func TestRun_EmptyMonth(t *testing.T) {
	exporter, _ := newTestExporter(t)

	report, err := exporter.Run(context.Background(),
		allowance.YearMonth{Year: 2023, Month: time.November})
	require.NoError(t, err)
	assert.Empty(t, report.Rows)
}

// =============================================================================
// CSV RENDERING
// =============================================================================

func TestCSV_PayrollColumns(t *testing.T) {
	exporter, _ := newTestExporter(t)

	report, err := exporter.Run(context.Background(), march)
	require.NoError(t, err)

	data, err := report.CSV()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t,
		"employee_id,name,email,land,year_month,total_km,total_amount_euro,ride_count,status",
		lines[0])
	assert.Equal(t, "emp-1,An Peeters,an@example.com,BE,2024-03,30.00,8.10,2,verwerkt", lines[1])
	assert.Equal(t, "emp-2,Jip de Vries,jip@example.com,NL,2024-03,30.00,6.90,1,verwerkt", lines[2])
}

func TestFilename(t *testing.T) {
	report := &export.Report{YearMonth: march}
	assert.Equal(t, "fietsvergoeding-2024-03.csv", report.Filename())
}
