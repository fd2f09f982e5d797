package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/config"
	"github.com/sells-group/docflow/internal/resilience"
)

// BreakerSource reports the extraction backends' breakers.
type BreakerSource func() []resilience.BreakerStatus

// Checker periodically evaluates document outcomes and extraction backend
// health and posts the resulting alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	breakers  BreakerSource

	// opens is the last seen open count per backend so each opening is
	// reported once.
	opens map[string]int
}

// NewChecker creates a background alert checker. breakers may be nil.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, breakers BreakerSource) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		breakers:  breakers,
		opens:     make(map[string]int),
	}
}

// Run checks every CheckIntervalSecs (default 5m) until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting outcome checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Bool("extractor_breakers", c.breakers != nil),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("outcome checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check gathers outcome and breaker alerts. A failed outcome query does not
// hide backend alerts.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	var alerts []Alert

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect outcomes", zap.Error(err))
	} else {
		alerts = append(alerts, c.alerter.Evaluate(snap)...)
	}
	alerts = append(alerts, c.newlyOpened()...)

	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return 0
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return len(alerts)
}

// newlyOpened alerts on backends that opened since the previous check and
// have not recovered.
func (c *Checker) newlyOpened() []Alert {
	if c.breakers == nil {
		return nil
	}
	var alerts []Alert
	for _, b := range c.breakers() {
		seen := c.opens[b.Backend]
		c.opens[b.Backend] = b.Opens
		if b.Opens > seen && b.State != resilience.BreakerClosed {
			alerts = append(alerts, ExtractorAlert(b))
		}
	}
	return alerts
}
