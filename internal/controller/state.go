package controller

import (
	"time"

	"solar-pump-rl/internal/rl"
)

// State is the mutable state owned by the control loop. Transition is the
// single record of the pump's current state: the guardrail reads it and only
// the reward model's result replaces it.
type State struct {
	Transition rl.TransitionState
	history    []float64
	capacity   int
}

// NewState creates an empty state whose history keeps at most capacity entries
func NewState(capacity int) *State {
	return &State{
		history:  make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// AppendHistory records a tank temperature, evicting the oldest beyond capacity
func (s *State) AppendHistory(tankTemp float64) {
	if len(s.history) >= s.capacity {
		copy(s.history, s.history[1:])
		s.history = s.history[:len(s.history)-1]
	}
	s.history = append(s.history, tankTemp)
}

// History returns a copy of the history, oldest first
func (s *State) History() []float64 {
	out := make([]float64, len(s.history))
	copy(out, s.history)
	return out
}

// Decision is the outcome of one control cycle
type Decision struct {
	Timestamp       time.Time          `json:"timestamp"`
	Reading         rl.Reading         `json:"reading"`
	Weather         rl.WeatherContext  `json:"weather"`
	WeatherFallback bool               `json:"weather_fallback"`
	State           string             `json:"state"`
	Proposed        rl.Action          `json:"proposed"`
	Effective       rl.Action          `json:"effective"`
	Explored        bool               `json:"explored"`
	Overridden      bool               `json:"overridden"`
	Reward          rl.RewardBreakdown `json:"reward"`
	QValue          float64            `json:"q_value"`
	ExplorationRate float64            `json:"exploration_rate"`
	Duration        time.Duration      `json:"duration"`
}

// Status is a point-in-time view of the controller for status endpoints
type Status struct {
	Running         bool             `json:"running"`
	Readings        int64            `json:"readings"`
	Malformed       int64            `json:"malformed"`
	Dropped         int64            `json:"dropped"`
	ExplorationRate float64          `json:"exploration_rate"`
	QTableSize      int              `json:"qtable_size"`
	Decisions       int64            `json:"decisions"`
	Updates         int64            `json:"updates"`
	PumpState       string           `json:"pump_state"`
	LastSwitchTime  time.Time        `json:"last_switch_time"`
	LastDecision    *Decision        `json:"last_decision,omitempty"`
	Performance     PerformanceStats `json:"performance"`
	History         []float64        `json:"history"`
}
