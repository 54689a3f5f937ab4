package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Checker runs periodic health checks over the case lifecycle: it collects
// a MetricsSnapshot, evaluates it for alerts, and sends them.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
}

// NewChecker creates a Checker. A zero interval defaults to 5 minutes.
func NewChecker(collector *Collector, alerter *Alerter, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
	}
}

// Run blocks, executing a check every interval until the context is
// cancelled. Call it from its own goroutine.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring"))
	log.Info("health checker started", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.check(ctx, log)

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// CheckOnce runs a single collect/evaluate/send cycle and returns the
// snapshot and the alerts raised.
func (c *Checker) CheckOnce(ctx context.Context) (*MetricsSnapshot, []Alert, error) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		return nil, nil, err
	}
	alerts := c.alerter.Evaluate(snap)
	c.alerter.SendAlerts(ctx, alerts)
	return snap, alerts, nil
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, alerts, err := c.CheckOnce(ctx)
	if err != nil {
		log.Error("health check failed", zap.Error(err))
		return
	}
	log.Debug("health check complete",
		zap.Int("stuck_generating", snap.StuckGenerating),
		zap.Int("awaiting_review", snap.AwaitingReview),
		zap.Int("alerts", len(alerts)),
	)
}
