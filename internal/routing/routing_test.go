package routing

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow/internal/model"
)

func TestDecide_Table(t *testing.T) {
	tests := []struct {
		name        string
		confidence  float64
		criticalLow bool
		want        model.RoutingDecision
	}{
		{"perfect", 1.0, false, model.RoutingAutoApprove},
		{"auto approve boundary", 0.95, false, model.RoutingAutoApprove},
		{"just below auto approve", 0.9499, false, model.RoutingQuickReview},
		{"quick review boundary", 0.80, false, model.RoutingQuickReview},
		{"just below quick review", 0.7999, false, model.RoutingFullReview},
		{"zero", 0, false, model.RoutingFullReview},
		{"critical override dominates", 0.99, true, model.RoutingFullReview},
		{"critical override at 1", 1.0, true, model.RoutingFullReview},
		{"critical with low confidence", 0.2, true, model.RoutingFullReview},
		{"nan", math.NaN(), false, model.RoutingFullReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.confidence, tt.criticalLow))
		})
	}
}

func TestDecide_SweepMatchesThresholds(t *testing.T) {
	for i := 0; i <= 1000; i++ {
		c := float64(i) / 1000
		got := Decide(c, false)
		switch {
		case c >= 0.95:
			assert.Equal(t, model.RoutingAutoApprove, got, "c=%v", c)
		case c >= 0.80:
			assert.Equal(t, model.RoutingQuickReview, got, "c=%v", c)
		default:
			assert.Equal(t, model.RoutingFullReview, got, "c=%v", c)
		}
		assert.NotEqual(t, model.RoutingManualRequired, got)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.Equal(t, model.RoutingQuickReview, Decide(0.87, false))
	}
}

func TestEngine_CustomThresholds(t *testing.T) {
	e, err := NewEngine(Thresholds{AutoApprove: 0.9, QuickReview: 0.6})
	require.NoError(t, err)

	assert.Equal(t, model.RoutingAutoApprove, e.Decide(0.92, false))
	assert.Equal(t, model.RoutingQuickReview, e.Decide(0.65, false))
	assert.Equal(t, model.RoutingFullReview, e.Decide(0.59, false))
	assert.Equal(t, model.RoutingFullReview, e.Decide(0.92, true))
	assert.Equal(t, Thresholds{AutoApprove: 0.9, QuickReview: 0.6}, e.Thresholds())
}

func TestNewEngine_RejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name string
		t    Thresholds
	}{
		{"inverted", Thresholds{AutoApprove: 0.7, QuickReview: 0.8}},
		{"equal", Thresholds{AutoApprove: 0.8, QuickReview: 0.8}},
		{"above one", Thresholds{AutoApprove: 1.2, QuickReview: 0.8}},
		{"zero quick review", Thresholds{AutoApprove: 0.9, QuickReview: 0}},
		{"nan", Thresholds{AutoApprove: math.NaN(), QuickReview: 0.8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.t)
			require.Error(t, err)
			var cfgErr *model.ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestDefaultThresholds_Valid(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
}
