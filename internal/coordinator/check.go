package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/nholik/freshness-sentinel/internal/config"
	"github.com/nholik/freshness-sentinel/internal/monitor"
)

// CheckReport is the outcome of a one-shot check of a target.
type CheckReport struct {
	Target   string              `json:"target"`
	Result   monitor.CheckResult `json:"result"`
	Status   monitor.Status      `json:"status"`
	Duration time.Duration       `json:"duration_ns"`
	Err      string              `json:"error,omitempty"`
}

// recordingObserver keeps the last result a monitor reported.
type recordingObserver struct {
	mu       sync.Mutex
	result   monitor.CheckResult
	duration time.Duration
}

func (o *recordingObserver) ObserveCheck(_ string, result monitor.CheckResult, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.result = result
	o.duration = duration
}

// CheckOnce checks every target a single time without notifying or reloading.
// Reports are returned in target order.
func (c *Coordinator) CheckOnce(ctx context.Context) []CheckReport {
	targets := c.Targets()
	reports := make([]CheckReport, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target config.Target) {
			defer wg.Done()
			reports[i] = c.checkTarget(ctx, target)
		}(i, target)
	}
	wg.Wait()
	return reports
}

func (c *Coordinator) checkTarget(ctx context.Context, target config.Target) CheckReport {
	report := CheckReport{Target: target.Name}

	wiring, err := c.wireTarget(target)
	if err != nil {
		report.Result = monitor.ResultUnresolved
		report.Err = err.Error()
		return report
	}
	source, err := wiring.source()
	if err != nil {
		report.Result = monitor.ResultUnresolved
		report.Err = err.Error()
		return report
	}

	opts := wiring.options
	opts.ShowNotification = false
	opts.AutoRefresh = false

	observer := &recordingObserver{}
	options := []monitor.Option{monitor.WithObserver(observer)}
	for _, shared := range c.deps.Observers {
		options = append(options, monitor.WithObserver(shared))
	}
	mon, err := monitor.New(c.logger.With().Str("target", target.Name).Logger(), source, wiring.fetcher, opts, options...)
	if err != nil {
		report.Result = monitor.ResultUnresolved
		report.Err = err.Error()
		return report
	}

	mon.ManualCheck(ctx)

	observer.mu.Lock()
	report.Result = observer.result
	report.Duration = observer.duration
	observer.mu.Unlock()
	report.Status = mon.Status()
	return report
}
