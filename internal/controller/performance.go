package controller

import (
	"gonum.org/v1/gonum/stat"

	"solar-pump-rl/internal/rl"
)

// PerformanceStats summarizes the most recent decisions
type PerformanceStats struct {
	Samples      int     `json:"samples"`
	MeanReward   float64 `json:"mean_reward"`
	StdReward    float64 `json:"std_reward"`
	DutyCycle    float64 `json:"duty_cycle"`    // share of decisions with the pump ON
	OverrideRate float64 `json:"override_rate"` // share of proposals reverted by the guardrail
	ExploreRate  float64 `json:"explore_rate"`  // share of randomly chosen proposals
}

type performanceRecord struct {
	reward     float64
	on         bool
	overridden bool
	explored   bool
}

// PerformanceTracker keeps a sliding window of decision outcomes. It is not
// safe for concurrent use.
type PerformanceTracker struct {
	maxRecords int
	records    []performanceRecord
}

// NewPerformanceTracker creates a tracker over the last maxRecords decisions
func NewPerformanceTracker(maxRecords int) *PerformanceTracker {
	if maxRecords < 1 {
		maxRecords = 1
	}
	return &PerformanceTracker{
		maxRecords: maxRecords,
		records:    make([]performanceRecord, 0, maxRecords),
	}
}

// Record adds a decision, evicting the oldest beyond the window
func (p *PerformanceTracker) Record(d Decision) {
	if len(p.records) >= p.maxRecords {
		copy(p.records, p.records[1:])
		p.records = p.records[:len(p.records)-1]
	}
	p.records = append(p.records, performanceRecord{
		reward:     d.Reward.Total,
		on:         d.Effective == rl.ActionOn,
		overridden: d.Overridden,
		explored:   d.Explored,
	})
}

// Stats computes the window summary
func (p *PerformanceTracker) Stats() PerformanceStats {
	n := len(p.records)
	if n == 0 {
		return PerformanceStats{}
	}

	rewards := make([]float64, n)
	var on, overridden, explored int
	for i, r := range p.records {
		rewards[i] = r.reward
		if r.on {
			on++
		}
		if r.overridden {
			overridden++
		}
		if r.explored {
			explored++
		}
	}

	s := PerformanceStats{
		Samples:      n,
		MeanReward:   stat.Mean(rewards, nil),
		DutyCycle:    float64(on) / float64(n),
		OverrideRate: float64(overridden) / float64(n),
		ExploreRate:  float64(explored) / float64(n),
	}
	if n > 1 {
		s.StdReward = stat.StdDev(rewards, nil)
	}
	return s
}
