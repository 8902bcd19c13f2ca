package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solar-pump-rl/internal/rl"
	"solar-pump-rl/internal/transport"
	"solar-pump-rl/pkg/config"
	"solar-pump-rl/pkg/logger"
	"solar-pump-rl/pkg/storage"
)

// ErrQueueFull is returned by Submit when the reading queue has no room
var ErrQueueFull = errors.New("reading queue is full")

// WeatherSource resolves the weather for a cycle. The bool reports whether
// the neutral fallback was used because a lookup failed.
type WeatherSource interface {
	Resolve(ctx context.Context) (rl.WeatherContext, bool)
}

// Actuator applies a pump command
type Actuator interface {
	Publish(ctx context.Context, action rl.Action) error
}

// TableSaver persists the learned table
type TableSaver interface {
	Save(ctx context.Context, snap storage.Snapshot) error
}

// Recorder receives per-cycle metrics
type Recorder interface {
	RecordDecision(action string, explored, overridden bool, reward float64, duration time.Duration)
	SetLearnerState(explorationRate float64, tableSize int)
	SetTankTemp(celsius float64)
	IncrementMalformedReadings()
	IncrementDroppedReadings()
	IncrementWeatherFallbacks()
	IncrementPersistenceFailures()
}

// DecisionPublisher forwards decisions to downstream consumers
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, d Decision) error
}

// HistoryRenderer draws the tank history
type HistoryRenderer interface {
	Render(history []float64, readings int64) (string, error)
}

// Options carries the controller's collaborators. Weather and Actuator are
// required; the rest may be nil.
type Options struct {
	Weather   WeatherSource
	Actuator  Actuator
	Saver     TableSaver
	Recorder  Recorder
	Publisher DecisionPublisher
	Renderer  HistoryRenderer
	Now       func() time.Time
}

// Controller runs the decide, act, learn cycle for one pump. All learning
// state is owned by a single goroutine; Submit and Status are safe to call
// from anywhere.
type Controller struct {
	config      config.Config
	discretizer *rl.Discretizer
	agent       *rl.Agent
	reward      *rl.RewardModel
	guardrail   *rl.Guardrail
	opts        Options

	state       *State
	performance *PerformanceTracker
	readings    int64
	malformed   int64

	queue   chan []byte
	reloads chan config.Config

	mu      sync.RWMutex
	status  Status
	dropped int64
}

// New creates a controller learning into agent
func New(cfg config.Config, agent *rl.Agent, opts Options) (*Controller, error) {
	if agent == nil || opts.Weather == nil || opts.Actuator == nil {
		return nil, fmt.Errorf("controller requires an agent, a weather source and an actuator")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		config:      cfg,
		discretizer: rl.NewDiscretizer(cfg.RL.StateDiscretization),
		agent:       agent,
		reward:      rl.NewRewardModel(cfg.Reward),
		guardrail:   rl.NewGuardrail(cfg.Guardrail),
		opts:        opts,
		state:       NewState(cfg.Controller.HistorySize),
		performance: NewPerformanceTracker(cfg.Controller.StatsWindow),
		queue:       make(chan []byte, cfg.Controller.QueueSize),
		reloads:     make(chan config.Config, 1),
	}
	c.publishStatus(nil)
	return c, nil
}

// Submit queues a raw sensor payload without blocking
func (c *Controller) Submit(payload []byte) error {
	select {
	case c.queue <- payload:
		return nil
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		if c.opts.Recorder != nil {
			c.opts.Recorder.IncrementDroppedReadings()
		}
		logger.GetLogger().Warn("Reading queue full, dropping payload")
		return ErrQueueFull
	}
}

// Reload schedules new reward weights and dwell times. They take effect
// before the next reading is handled.
func (c *Controller) Reload(cfg config.Config) {
	select {
	case c.reloads <- cfg:
	default:
		// replace a pending reload with the newer one
		select {
		case <-c.reloads:
		default:
		}
		c.reloads <- cfg
	}
}

// Run consumes queued payloads until ctx is done
func (c *Controller) Run(ctx context.Context) error {
	c.setRunning(true)
	defer c.setRunning(false)

	logger.GetLogger().Info("Controller loop started")
	for {
		select {
		case <-ctx.Done():
			logger.GetLogger().Info("Controller loop stopped")
			return ctx.Err()
		case cfg := <-c.reloads:
			c.applyReload(cfg)
		case payload := <-c.queue:
			c.drainReloads()
			c.handlePayload(ctx, payload)
		}
	}
}

func (c *Controller) drainReloads() {
	select {
	case cfg := <-c.reloads:
		c.applyReload(cfg)
	default:
	}
}

func (c *Controller) applyReload(cfg config.Config) {
	c.reward = rl.NewRewardModel(cfg.Reward)
	c.guardrail = rl.NewGuardrail(cfg.Guardrail)
	c.config.Reward = cfg.Reward
	c.config.Guardrail = cfg.Guardrail
	logger.GetLogger().WithFields(logrus.Fields{
		"min_on_time":  cfg.Guardrail.MinOnTime,
		"min_off_time": cfg.Guardrail.MinOffTime,
	}).Info("Controller configuration reloaded")
}

func (c *Controller) handlePayload(ctx context.Context, payload []byte) {
	reading, err := transport.ParseReading(payload, c.opts.Now())
	if err != nil {
		c.malformed++
		if c.opts.Recorder != nil {
			c.opts.Recorder.IncrementMalformedReadings()
		}
		logger.GetLogger().WithField("payload", string(payload)).Warnf("Skipping reading: %v", err)
		c.publishStatus(nil)
		return
	}

	if _, err := c.HandleReading(ctx, reading); err != nil {
		logger.GetLogger().Errorf("Control cycle failed: %v", err)
	}
}

// HandleReading runs one full cycle for r. It must only be called from the
// goroutine that owns the controller (Run, or a test).
func (c *Controller) HandleReading(ctx context.Context, r rl.Reading) (Decision, error) {
	start := time.Now()

	weatherCtx, cancel := context.WithTimeout(ctx, c.config.Controller.WeatherTimeout)
	weather, fallback := c.opts.Weather.Resolve(weatherCtx)
	cancel()
	if fallback && c.opts.Recorder != nil {
		c.opts.Recorder.IncrementWeatherFallbacks()
	}

	current := c.state.Transition
	state := c.discretizer.GetState(r, weather, current.LastAction)
	proposed, explored := c.agent.DecideAction(state)

	effective, overridden := c.guardrail.Apply(proposed, current.LastAction, current.LastSwitchTime, r.Timestamp)
	if overridden {
		logger.GetLogger().WithFields(logrus.Fields{
			"proposed":     proposed.String(),
			"effective":    effective.String(),
			"since_switch": r.Timestamp.Sub(current.LastSwitchTime).String(),
		}).Info("guardrail overrode action")
	}

	if err := c.applyCommand(ctx, effective); err != nil {
		return Decision{}, fmt.Errorf("failed to apply pump command %s: %w", effective, err)
	}

	breakdown, next := c.reward.CalculateReward(r, effective, weather, current)
	nextState := state
	qValue := c.agent.Update(state, effective, breakdown.Total, nextState)
	c.state.Transition = next

	c.persist(ctx)

	c.state.AppendHistory(r.TankTemp)
	c.readings++
	if every := int64(c.config.Controller.PlotEvery); every > 0 && c.opts.Renderer != nil && c.readings%every == 0 {
		if _, err := c.opts.Renderer.Render(c.state.History(), c.readings); err != nil {
			logger.GetLogger().Warnf("Failed to render tank history: %v", err)
		}
	}

	decision := Decision{
		Timestamp:       r.Timestamp,
		Reading:         r,
		Weather:         weather,
		WeatherFallback: fallback,
		State:           state.String(),
		Proposed:        proposed,
		Effective:       effective,
		Explored:        explored,
		Overridden:      overridden,
		Reward:          breakdown,
		QValue:          qValue,
		ExplorationRate: c.agent.ExplorationRate(),
		Duration:        time.Since(start),
	}

	logger.GetLogger().WithFields(logrus.Fields{
		"state":            decision.State,
		"proposed":         proposed.String(),
		"action":           effective.String(),
		"reward":           breakdown.Total,
		"exploration_rate": decision.ExplorationRate,
		"tank_temp":        r.TankTemp,
	}).Info("Pump decision")

	if rec := c.opts.Recorder; rec != nil {
		rec.RecordDecision(effective.String(), explored, overridden, breakdown.Total, decision.Duration)
		rec.SetLearnerState(decision.ExplorationRate, c.agent.QTable().Len())
		rec.SetTankTemp(r.TankTemp)
	}
	if c.opts.Publisher != nil {
		if err := c.opts.Publisher.PublishDecision(ctx, decision); err != nil {
			logger.GetLogger().Warnf("Failed to publish decision: %v", err)
		}
	}

	c.performance.Record(decision)
	c.publishStatus(&decision)
	return decision, nil
}

func (c *Controller) applyCommand(ctx context.Context, action rl.Action) error {
	publishCtx, cancel := context.WithTimeout(ctx, c.config.Controller.PublishTimeout)
	defer cancel()
	return c.opts.Actuator.Publish(publishCtx, action)
}

func (c *Controller) persist(ctx context.Context) {
	if c.opts.Saver == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(ctx, c.config.ModelPersistence.SaveTimeout)
	defer cancel()

	snap := storage.Snapshot{
		Table:           c.agent.QTable(),
		ExplorationRate: c.agent.ExplorationRate(),
		UpdatedAt:       c.opts.Now(),
	}
	if err := c.opts.Saver.Save(saveCtx, snap); err != nil {
		if c.opts.Recorder != nil {
			c.opts.Recorder.IncrementPersistenceFailures()
		}
		logger.GetLogger().Warnf("Failed to persist Q-table: %v", err)
	}
}

// Snapshot returns the table and exploration rate for a final save. Only
// call it once Run has returned.
func (c *Controller) Snapshot() storage.Snapshot {
	return storage.Snapshot{
		Table:           c.agent.QTable().Clone(),
		ExplorationRate: c.agent.ExplorationRate(),
		UpdatedAt:       c.opts.Now(),
	}
}

func (c *Controller) publishStatus(last *Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.Readings = c.readings
	c.status.Malformed = c.malformed
	c.status.Dropped = c.dropped
	c.status.ExplorationRate = c.agent.ExplorationRate()
	c.status.QTableSize = c.agent.QTable().Len()
	c.status.Decisions = c.agent.Decisions()
	c.status.Updates = c.agent.Updates()
	c.status.PumpState = c.state.Transition.LastAction.String()
	c.status.LastSwitchTime = c.state.Transition.LastSwitchTime
	c.status.History = c.state.History()
	c.status.Performance = c.performance.Stats()
	if last != nil {
		d := *last
		c.status.LastDecision = &d
	}
}

func (c *Controller) setRunning(running bool) {
	c.mu.Lock()
	c.status.Running = running
	c.mu.Unlock()
}

// Status returns a copy of the latest status
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.status
	s.Dropped = c.dropped
	s.History = append([]float64(nil), c.status.History...)
	if c.status.LastDecision != nil {
		d := *c.status.LastDecision
		s.LastDecision = &d
	}
	return s
}

// History returns a copy of the bounded tank temperature history
func (c *Controller) History() []float64 {
	return c.Status().History
}
