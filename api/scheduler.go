/*
scheduler.go - Automated realization scheduler

PURPOSE:
  Periodically realizes every pending spread line whose due date has
  arrived, so that the monthly (quarterly, yearly) share of each cost is
  booked without an operator.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each run calls SpreadLedger.RealizeDue(today) once, sequentially
  - Realization is idempotent, so overlapping manual runs are harmless
  - A failing source line is reported and retried on the next run

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRealizationScheduler(ledger, store, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RealizeDue endpoint (manual run)
  - spread/ledger.go: RealizeDue
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/cost-spread/generic"
	"github.com/warp/cost-spread/spread"
)

// RealizationScheduler handles automated realization of due spread lines.
type RealizationScheduler struct {
	Ledger        *spread.SpreadLedger
	Sources       spread.SourceLineReader
	CheckInterval time.Duration
	Enabled       bool
	Log           logrus.FieldLogger

	// Today returns the as-of date of each run.
	Today func() generic.TimePoint

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.Mutex
	lastRun *spread.RealizeReport
}

// NewRealizationScheduler creates a new scheduler.
func NewRealizationScheduler(ledger *spread.SpreadLedger, sources spread.SourceLineReader, logger logrus.FieldLogger) *RealizationScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RealizationScheduler{
		Ledger:        ledger,
		Sources:       sources,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Log:           logger.WithField("module", "scheduler"),
		Today:         generic.Today,
	}
}

// Start begins the scheduler.
func (rs *RealizationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Log.WithField("interval", rs.CheckInterval.String()).Info("scheduler started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (rs *RealizationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Log.Info("scheduler stopped")
	}
}

func (rs *RealizationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess(context.Background())

	for {
		select {
		case <-ticker.C:
			rs.checkAndProcess(context.Background())
		case <-stop:
			return
		}
	}
}

func (rs *RealizationScheduler) checkAndProcess(ctx context.Context) spread.RealizeReport {
	asOf := rs.Today()

	report, err := rs.Ledger.RealizeDue(ctx, asOf, rs.Sources)
	if err != nil {
		rs.Log.WithError(err).WithField("as_of", asOf.String()).Error("realization run failed")
		return report
	}

	for _, f := range report.Failures {
		rs.Log.WithFields(logrus.Fields{
			"source_line": f.SourceLineID,
			"spread_line": f.SpreadLineID,
		}).WithError(f.Err).Warn("spread line not realized, will retry next run")
	}

	rs.lastMu.Lock()
	rs.lastRun = &report
	rs.lastMu.Unlock()
	return report
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *RealizationScheduler) RunNow(ctx context.Context) spread.RealizeReport {
	return rs.checkAndProcess(ctx)
}

// LastRun returns the report of the latest completed run, if any.
func (rs *RealizationScheduler) LastRun() (spread.RealizeReport, bool) {
	rs.lastMu.Lock()
	defer rs.lastMu.Unlock()
	if rs.lastRun == nil {
		return spread.RealizeReport{}, false
	}
	return *rs.lastRun, true
}
