/*
Package export builds the monthly payroll handoff.

PURPOSE:
  Once a month HR closes the previous period: every active employee's rides
  are rolled up into one row (total km, total amount, ride count) and the
  rollup is written back as a MonthlySummary with status "verwerkt". The same
  rows are rendered as CSV for the payroll system.

IDEMPOTENCY:
  Summaries are upserted keyed on (employee, year-month). Re-running an
  export for the same month overwrites the rows with fresh totals instead of
  duplicating them, so a retry after a partial failure is always safe.

SEE ALSO:
  - allowance/store.go: MonthAggregates and UpsertSummary contracts
  - api/scheduler.go: the background job that triggers the monthly run
*/
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/pedal/allowance-engine/allowance"
)

// Report is the outcome of one export run.
type Report struct {
	YearMonth   allowance.YearMonth
	Rows        []allowance.MonthAggregate
	GeneratedAt time.Time
}

// Exporter produces monthly reports and closes the exported months.
type Exporter struct {
	store allowance.Store
	now   func() time.Time
}

func New(store allowance.Store) *Exporter {
	return &Exporter{store: store, now: time.Now}
}

// WithClock overrides the time source. Tests use this to pin GeneratedAt.
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	e.now = now
	return e
}

// Generate collects one aggregate row per active employee with rides in the
// month. It does not write anything; call Run for the full generate-and-close.
func (e *Exporter) Generate(ctx context.Context, ym allowance.YearMonth) (*Report, error) {
	rows, err := e.store.MonthAggregates(ctx, ym)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", ym, err)
	}
	return &Report{
		YearMonth:   ym,
		Rows:        rows,
		GeneratedAt: e.now().UTC(),
	}, nil
}

// MarkProcessed upserts a "verwerkt" summary for every row of the report.
// Safe to re-run: the upsert overwrites earlier rows for the same month.
func (e *Exporter) MarkProcessed(ctx context.Context, report *Report) error {
	exportedAt := e.now().UTC()
	for _, row := range report.Rows {
		summary := allowance.MonthlySummary{
			EmployeeID:  row.EmployeeID,
			YearMonth:   report.YearMonth,
			TotalKm:     row.TotalKm,
			TotalAmount: row.TotalAmount,
			Status:      allowance.MonthProcessed,
			ExportedAt:  &exportedAt,
		}
		if err := e.store.UpsertSummary(ctx, summary); err != nil {
			return fmt.Errorf("failed to close month %s for %s: %w",
				report.YearMonth, row.EmployeeID, err)
		}
	}
	return nil
}

// Run generates the report for the month and closes it in one call.
func (e *Exporter) Run(ctx context.Context, ym allowance.YearMonth) (*Report, error) {
	report, err := e.Generate(ctx, ym)
	if err != nil {
		return nil, err
	}
	if err := e.MarkProcessed(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// csvHeader matches the column order payroll ingests.
var csvHeader = []string{
	"employee_id", "name", "email", "land", "year_month",
	"total_km", "total_amount_euro", "ride_count", "status",
}

// CSV renders the report rows in payroll column order.
func (r *Report) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, row := range r.Rows {
		record := []string{
			row.EmployeeID,
			row.Name,
			row.Email,
			string(row.Country),
			r.YearMonth.String(),
			row.TotalKm.StringFixed(2),
			row.TotalAmount.StringFixed(2),
			fmt.Sprintf("%d", row.RideCount),
			string(allowance.MonthProcessed),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Filename is the canonical attachment name for the month's CSV.
func (r *Report) Filename() string {
	return fmt.Sprintf("fietsvergoeding-%s.csv", r.YearMonth)
}
