/*
scheduler.go - Automated monthly export scheduler

PURPOSE:
  Periodically checks whether the previous month's export is due and runs it
  automatically once the submission deadline for that month has passed.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Targets the previous calendar month
  - Waits until every country's submission window has ended, so exports
    never close a month employees can still write into
  - Skips months whose summaries are already "verwerkt" (the upsert makes a
    re-run harmless, but we avoid the churn)

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewExportScheduler(store, handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - export/export.go: The export run itself
  - handlers.go: RunExport endpoint (manual trigger)
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pedal/allowance-engine/allowance"
)

// ExportScheduler handles automated monthly export runs.
type ExportScheduler struct {
	Store         allowance.Store
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExportScheduler creates a new scheduler.
func NewExportScheduler(store allowance.Store, handler *Handler) *ExportScheduler {
	return &ExportScheduler{
		Store:         store,
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (es *ExportScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.wg.Add(1)

	go es.run()

	log.Printf("[Scheduler] Started with check interval: %v", es.CheckInterval)
}

// Stop stops the scheduler.
func (es *ExportScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (es *ExportScheduler) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.checkAndExport()

	for {
		select {
		case <-es.ticker.C:
			es.checkAndExport()
		case <-es.stop:
			return
		}
	}
}

func (es *ExportScheduler) checkAndExport() {
	ctx := context.Background()
	now := time.Now().UTC()
	target := allowance.YearMonthOf(now).Previous()

	due, err := es.exportDue(ctx, target, now)
	if err != nil {
		log.Printf("[Scheduler] Check failed for %s: %v", target, err)
		return
	}
	if !due {
		return
	}

	report, err := es.Handler.Exporter.Run(ctx, target)
	if err != nil {
		log.Printf("[Scheduler] Export failed for %s: %v", target, err)
		return
	}
	log.Printf("[Scheduler] Exported %s: %d employees", target, len(report.Rows))
}

// exportDue reports whether the target month can be closed: every country's
// submission window must have ended and at least one employee month must not
// be "verwerkt" yet.
func (es *ExportScheduler) exportDue(ctx context.Context, target allowance.YearMonth, now time.Time) (bool, error) {
	firstOfMonth := allowance.Date(target.Year, target.Month, 1)

	for _, country := range []allowance.Country{allowance.CountryBE, allowance.CountryNL} {
		policy, err := es.Store.GetPolicy(ctx, country)
		if err != nil {
			return false, err
		}
		if !allowance.PastDeadline(firstOfMonth, policy.DeadlineDay, now) {
			return false, nil
		}
	}

	aggregates, err := es.Store.MonthAggregates(ctx, target)
	if err != nil {
		return false, err
	}
	for _, agg := range aggregates {
		summary, err := es.Store.GetSummary(ctx, agg.EmployeeID, target)
		if err != nil {
			return false, err
		}
		if summary == nil || summary.Status != allowance.MonthProcessed {
			return true, nil
		}
	}
	return false, nil
}
