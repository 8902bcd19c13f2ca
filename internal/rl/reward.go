package rl

import (
	"math"
	"time"

	"solar-pump-rl/pkg/config"
)

// TransitionState is the bookkeeping the reward model threads from one cycle
// to the next. It is also the single record of the actuator's current state
// that the guardrail reads.
type TransitionState struct {
	PrevTankTemp    float64   `json:"prev_tank_temp"`
	HasPrevTankTemp bool      `json:"has_prev_tank_temp"`
	LastAction      Action    `json:"last_action"`
	LastSwitchTime  time.Time `json:"last_switch_time"` // zero until the first switch
}

// RewardBreakdown holds the individual reward terms of one transition
type RewardBreakdown struct {
	Gain        float64 `json:"gain"`
	UsefulHeat  float64 `json:"useful_heat"`
	RunningCost float64 `json:"running_cost"`
	Chatter     float64 `json:"chatter"`
	Safety      float64 `json:"safety"`
	Total       float64 `json:"total"`
	SunFactor   float64 `json:"sun_factor"`
	Switched    bool    `json:"switched"`
}

// RewardModel computes the shaped step reward
type RewardModel struct {
	weights config.RewardConfig
}

// NewRewardModel creates a reward model with the given weights
func NewRewardModel(weights config.RewardConfig) *RewardModel {
	return &RewardModel{weights: weights}
}

// CalculateReward scores taking action for reading r and returns the
// bookkeeping for the next call. The input state is not modified.
func (m *RewardModel) CalculateReward(r Reading, action Action, w WeatherContext, st TransitionState) (RewardBreakdown, TransitionState) {
	now := r.Timestamp
	cfg := m.weights
	next := st

	var b RewardBreakdown
	b.SunFactor = w.SunFactor(now)

	if st.HasPrevTankTemp {
		b.Gain = cfg.Alpha * (r.TankTemp - st.PrevTankTemp) * b.SunFactor
	}

	if action == ActionOn {
		if delta := r.PanelDelta(); delta > 0 {
			b.UsefulHeat = cfg.Beta * math.Min(delta, cfg.PanelDeltaCap)
		}
		b.RunningCost = -cfg.Gamma
	}

	if action != st.LastAction {
		b.Switched = true
		if !st.LastSwitchTime.IsZero() {
			dt := now.Sub(st.LastSwitchTime)
			if dt < cfg.FastSwitchWindow {
				b.Chatter = -2 * cfg.Delta
			} else if dt < cfg.SlowSwitchWindow {
				b.Chatter = -cfg.Delta
			}
		}
		next.LastSwitchTime = now
	}

	if r.TankTemp > cfg.TankMaxC {
		b.Safety -= cfg.LambdaHot
	}
	if r.TankTemp < cfg.TankMinC {
		b.Safety -= cfg.LambdaCold
	}

	b.Total = b.Gain + b.UsefulHeat + b.RunningCost + b.Chatter + b.Safety

	next.PrevTankTemp = r.TankTemp
	next.HasPrevTankTemp = true
	next.LastAction = action

	return b, next
}
