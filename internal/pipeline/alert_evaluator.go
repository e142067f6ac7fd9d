package pipeline

import (
	"github.com/appshare1603/VanLive/internal/domain"
)

// AlertEvaluator derives the AlertSet for a sample using the thresholds
// configured for its vehicle. Safe for concurrent use.
type AlertEvaluator struct {
	thresholds *ThresholdSet
}

func NewAlertEvaluator(thresholds *ThresholdSet) *AlertEvaluator {
	return &AlertEvaluator{thresholds: thresholds}
}

func (e *AlertEvaluator) Evaluate(s *domain.Sample) domain.AlertSet {
	return domain.Evaluate(s, e.thresholds.For(s.VehicleID))
}

func (e *AlertEvaluator) Thresholds(vehicleID string) domain.Thresholds {
	return e.thresholds.For(vehicleID)
}
