package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
)

// snapshotOutcomes reads the bot's booking outcome counters keyed by outcome.
func snapshotOutcomes(gatherer prometheus.Gatherer) map[string]float64 {
	out := map[string]float64{}
	if gatherer == nil {
		return out
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return out
	}

	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == metrics.BookingOutcomesMetric {
			family = mf
			break
		}
	}
	if family == nil {
		return out
	}
	for _, m := range family.Metric {
		if m == nil || m.GetCounter() == nil {
			continue
		}
		out[labelValue(m, "outcome")] += m.GetCounter().GetValue()
	}
	return out
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
