/*
scheduler.go - Automated formula coverage monitor

PURPOSE:
  Periodically checks that every deduction in the current jurisdiction has
  a schedule in force for every pay date over the coming horizon. A Finance
  Act that lands with a closing date but no successor row would otherwise
  surface only when payroll fails for every employee.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Checks [today, today + Horizon] with statutory.CheckCoverage
  - Logs each gap at WARN and keeps the last report (LastReport)
  - GET /api/coverage runs the same check on demand

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Horizon: How far ahead to look (default: 90 days)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewCoverageScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - statutory/coverage.go: CheckCoverage
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/statutory-engine/statutory"
)

// CoverageScheduler checks formula coverage on a ticker.
type CoverageScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Horizon       time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *statutory.CoverageReport
}

// NewCoverageScheduler creates a new scheduler.
func NewCoverageScheduler(h *Handler) *CoverageScheduler {
	return &CoverageScheduler{
		Handler:       h,
		CheckInterval: 1 * time.Hour,
		Horizon:       90 * 24 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (cs *CoverageScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	logger := cs.Handler.Logger.With("component", "coverage")
	if !cs.Enabled {
		logger.Info("coverage monitor disabled")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)

	go cs.run()

	logger.Info("coverage monitor started", "interval", cs.CheckInterval, "horizon", cs.Horizon)
}

// Stop stops the scheduler and waits for an in-flight check.
func (cs *CoverageScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		cs.Handler.Logger.Info("coverage monitor stopped", "component", "coverage")
	}
}

func (cs *CoverageScheduler) run() {
	defer cs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-cs.stop
		cancel()
	}()

	// Run immediately on start
	cs.check(ctx)

	for {
		select {
		case <-cs.ticker.C:
			cs.check(ctx)
		case <-cs.stop:
			return
		}
	}
}

// RunNow performs one check synchronously (for tests and admin use).
func (cs *CoverageScheduler) RunNow(ctx context.Context) (statutory.CoverageReport, error) {
	return cs.check(ctx)
}

// LastReport returns the most recent report, or nil before the first check.
func (cs *CoverageScheduler) LastReport() *statutory.CoverageReport {
	cs.lastMu.RLock()
	defer cs.lastMu.RUnlock()
	return cs.last
}

func (cs *CoverageScheduler) check(ctx context.Context) (statutory.CoverageReport, error) {
	h := cs.Handler
	logger := h.Logger.With("component", "coverage")
	from := h.today()
	to := statutory.DateOf(from.Time().Add(cs.Horizon))

	report, err := statutory.CheckCoverage(ctx, h.Store, h.Calculator().Jurisdiction(), from, to)
	if err != nil {
		logger.Error("coverage check failed", "error", err)
		return report, err
	}

	cs.lastMu.Lock()
	cs.last = &report
	cs.lastMu.Unlock()

	for _, gap := range report.Gaps {
		logger.Warn("no formula in force",
			"deduction", gap.DeductionType, "from", gap.Date, "reason", gap.Reason)
	}
	logger.Debug("coverage checked", "from", from, "to", to, "gaps", len(report.Gaps))
	return report, nil
}
