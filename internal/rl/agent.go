package rl

import (
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"

	"solar-pump-rl/pkg/config"
)

// Agent implements epsilon-greedy action selection and the one-step
// tabular Q-learning update over a QTable.
type Agent struct {
	config config.RLConfig
	qTable *QTable
	rng    *rand.Rand

	explorationRate float64
	decisions       int64
	updates         int64
}

// NewAgent creates an agent over table. A zero seed draws one from the clock.
func NewAgent(cfg config.RLConfig, table *QTable) *Agent {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if table == nil {
		table = NewQTable()
	}
	return &Agent{
		config:          cfg,
		qTable:          table,
		rng:             rand.New(rand.NewSource(seed)),
		explorationRate: cfg.ExplorationRate,
	}
}

// DecideAction picks an action for state. With probability equal to the
// current exploration rate the choice is uniform over all actions; otherwise
// it is greedy. The exploration rate decays exactly once per call.
func (a *Agent) DecideAction(state StateKey) (action Action, explored bool) {
	if a.rng.Float64() < a.explorationRate {
		actions := GetAllActions()
		action = actions[a.rng.Intn(len(actions))]
		explored = true
	} else {
		action = a.BestAction(state)
	}

	a.explorationRate = math.Max(a.explorationRate*a.config.ExplorationDecay, a.config.MinExploration)
	a.decisions++
	return action, explored
}

// BestAction returns the greedy action for state, preferring the lower
// action index on ties.
func (a *Agent) BestAction(state StateKey) Action {
	row := a.qTable.Get(state)
	return Action(floats.MaxIdx(row[:]))
}

// Update applies Q[s][a] += lr * (reward + discount*max(Q[s']) - Q[s][a])
// and returns the new value.
func (a *Agent) Update(state StateKey, action Action, reward float64, nextState StateKey) float64 {
	row := a.qTable.Get(state)
	nextRow := a.qTable.Get(nextState)

	maxNextQ := floats.Max(nextRow[:])
	currentQ := row[action]
	row[action] = currentQ + a.config.LearningRate*(reward+a.config.DiscountFactor*maxNextQ-currentQ)

	a.updates++
	return row[action]
}

// QTable returns the table the agent learns into
func (a *Agent) QTable() *QTable {
	return a.qTable
}

// ExplorationRate returns the current exploration probability
func (a *Agent) ExplorationRate() float64 {
	return a.explorationRate
}

// SetExplorationRate restores a persisted exploration rate, clamped to [floor, 1]
func (a *Agent) SetExplorationRate(rate float64) {
	a.explorationRate = math.Min(1, math.Max(rate, a.config.MinExploration))
}

// Decisions returns the number of DecideAction calls
func (a *Agent) Decisions() int64 {
	return a.decisions
}

// Updates returns the number of Update calls
func (a *Agent) Updates() int64 {
	return a.updates
}
