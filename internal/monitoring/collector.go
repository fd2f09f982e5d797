// Package monitoring watches document outcomes and posts webhook alerts when
// failure or manual-review rates cross their thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Documents updated within the lookback window, by status.
	DocumentsTotal  int `json:"documents_total"`
	Approved        int `json:"approved"`
	PendingReview   int `json:"pending_review"`
	ManualRequired  int `json:"manual_required"`
	Failed          int `json:"failed"`
	StillProcessing int `json:"still_processing"`

	FailRate      float64 `json:"fail_rate"`
	ManualRate    float64 `json:"manual_rate"`
	AvgConfidence float64 `json:"avg_confidence"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// OutcomeSource abstracts the store query the collector needs.
type OutcomeSource interface {
	Outcomes(ctx context.Context, since time.Time) (store.OutcomeStats, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store OutcomeSource
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st OutcomeSource) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of document outcomes over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	stats, err := c.store.Outcomes(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count outcomes")
	}

	for status, n := range stats.ByStatus {
		snap.DocumentsTotal += n
		switch status {
		case model.DocumentStatusApproved:
			snap.Approved += n
		case model.DocumentStatusPendingReview:
			snap.PendingReview += n
		case model.DocumentStatusManualRequired:
			snap.ManualRequired += n
		case model.DocumentStatusFailed:
			snap.Failed += n
		default:
			snap.StillProcessing += n
		}
	}
	snap.AvgConfidence = stats.AvgConfidence

	finished := snap.DocumentsTotal - snap.StillProcessing
	if finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
		snap.ManualRate = float64(snap.ManualRequired) / float64(finished)
	}
	return snap, nil
}
