package rl

import (
	"time"

	"solar-pump-rl/pkg/config"
)

// Guardrail enforces minimum dwell times before the pump may toggle
type Guardrail struct {
	minOnTime  time.Duration
	minOffTime time.Duration
}

// NewGuardrail creates a guardrail from configured dwell times
func NewGuardrail(cfg config.GuardrailConfig) *Guardrail {
	return &Guardrail{minOnTime: cfg.MinOnTime, minOffTime: cfg.MinOffTime}
}

// Apply returns the action to actuate. A proposal that would switch the pump
// before the current state's dwell time has elapsed is replaced by current.
// With no switch recorded yet every transition is allowed.
func (g *Guardrail) Apply(proposed, current Action, lastSwitch, now time.Time) (effective Action, overridden bool) {
	if proposed == current || lastSwitch.IsZero() {
		return proposed, false
	}

	elapsed := now.Sub(lastSwitch)
	if elapsed < g.MinDwell(current) {
		return current, true
	}
	return proposed, false
}

// MinDwell is how long the pump must stay in state before leaving it
func (g *Guardrail) MinDwell(state Action) time.Duration {
	if state == ActionOn {
		return g.minOnTime
	}
	return g.minOffTime
}
