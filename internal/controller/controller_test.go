package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-pump-rl/internal/rl"
	"solar-pump-rl/pkg/config"
	"solar-pump-rl/pkg/storage"
)

var noon = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeWeather struct {
	weather  rl.WeatherContext
	fallback bool
}

func (f *fakeWeather) Resolve(ctx context.Context) (rl.WeatherContext, bool) {
	return f.weather, f.fallback
}

type fakeActuator struct {
	mu       sync.Mutex
	commands []rl.Action
	err      error
}

func (f *fakeActuator) Publish(ctx context.Context, action rl.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, action)
	return nil
}

func (f *fakeActuator) Commands() []rl.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rl.Action(nil), f.commands...)
}

// stalledActuator never acknowledges a command until its context ends
type stalledActuator struct {
	deadline bool
}

func (s *stalledActuator) Publish(ctx context.Context, action rl.Action) error {
	_, s.deadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

type fakeSaver struct {
	saves int
	last  storage.Snapshot
	err   error
}

func (f *fakeSaver) Save(ctx context.Context, snap storage.Snapshot) error {
	f.saves++
	f.last = snap
	return f.err
}

type fakeRecorder struct {
	mu                  sync.Mutex
	decisions           int
	overrides           int
	malformed           int
	dropped             int
	weatherFallbacks    int
	persistenceFailures int
}

func (f *fakeRecorder) RecordDecision(action string, explored, overridden bool, reward float64, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions++
	if overridden {
		f.overrides++
	}
}
func (f *fakeRecorder) SetLearnerState(float64, int) {}
func (f *fakeRecorder) SetTankTemp(float64)          {}
func (f *fakeRecorder) IncrementMalformedReadings() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.malformed++
}
func (f *fakeRecorder) IncrementDroppedReadings() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped++
}
func (f *fakeRecorder) IncrementWeatherFallbacks() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weatherFallbacks++
}
func (f *fakeRecorder) IncrementPersistenceFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persistenceFailures++
}

type fakeRenderer struct {
	calls []int64
	sizes []int
}

func (f *fakeRenderer) Render(history []float64, readings int64) (string, error) {
	f.calls = append(f.calls, readings)
	f.sizes = append(f.sizes, len(history))
	return "", nil
}

type fakePublisher struct {
	decisions []Decision
}

func (f *fakePublisher) PublishDecision(ctx context.Context, d Decision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

type harness struct {
	cfg       config.Config
	ctrl      *Controller
	agent     *rl.Agent
	weather   *fakeWeather
	actuator  *fakeActuator
	saver     *fakeSaver
	recorder  *fakeRecorder
	renderer  *fakeRenderer
	publisher *fakePublisher
	now       time.Time
}

// newHarness builds a controller with a purely greedy agent
func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.Defaults()
	cfg.RL.ExplorationRate = 0
	cfg.RL.MinExploration = 0
	cfg.RL.ExplorationDecay = 1
	cfg.RL.Seed = 1

	h := &harness{
		cfg:   cfg,
		agent: rl.NewAgent(cfg.RL, nil),
		weather: &fakeWeather{weather: rl.WeatherContext{
			CloudCover: 10,
			Sunrise:    noon.Add(-6 * time.Hour),
			Sunset:     noon.Add(6 * time.Hour),
		}},
		actuator:  &fakeActuator{},
		saver:     &fakeSaver{},
		recorder:  &fakeRecorder{},
		renderer:  &fakeRenderer{},
		publisher: &fakePublisher{},
		now:       noon,
	}

	ctrl, err := New(cfg, h.agent, Options{
		Weather:   h.weather,
		Actuator:  h.actuator,
		Saver:     h.saver,
		Recorder:  h.recorder,
		Publisher: h.publisher,
		Renderer:  h.renderer,
		Now:       func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func reading(tank float64, at time.Time) rl.Reading {
	return rl.Reading{TempIn: 40, TempOut: 50, TankTemp: tank, Timestamp: at}
}

func TestNewRequiresCollaborators(t *testing.T) {
	cfg := config.Defaults()
	_, err := New(cfg, rl.NewAgent(cfg.RL, nil), Options{Weather: &fakeWeather{}})
	assert.Error(t, err)
	_, err = New(cfg, nil, Options{Weather: &fakeWeather{}, Actuator: &fakeActuator{}})
	assert.Error(t, err)
}

func TestHandleReadingGuardrailOverride(t *testing.T) {
	h := newHarness(t)
	r := reading(50, noon)

	// pump switched ON 29s ago; the table prefers OFF
	h.ctrl.state.Transition = rl.TransitionState{
		PrevTankTemp:    49,
		HasPrevTankTemp: true,
		LastAction:      rl.ActionOn,
		LastSwitchTime:  noon.Add(-29 * time.Second),
	}
	state := rl.NewDiscretizer(h.cfg.RL.StateDiscretization).GetState(r, h.weather.weather, rl.ActionOn)
	h.agent.QTable().Set(state, rl.QValues{1, 0})

	d, err := h.ctrl.HandleReading(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, state.String(), d.State)
	assert.Equal(t, rl.ActionOff, d.Proposed)
	assert.Equal(t, rl.ActionOn, d.Effective)
	assert.True(t, d.Overridden)
	assert.Equal(t, []rl.Action{rl.ActionOn}, h.actuator.Commands())

	// the ON column learned from the effective action; no switch happened
	assert.False(t, d.Reward.Switched)
	assert.Equal(t, 0.0, d.Reward.Chatter)
	row, _ := h.agent.QTable().Lookup(state)
	assert.Equal(t, 1.0, row[rl.ActionOff])
	assert.InDelta(t, 0.1*(d.Reward.Total+0.9*1.0), row[rl.ActionOn], 1e-12)

	assert.Equal(t, rl.ActionOn, h.ctrl.state.Transition.LastAction)
	assert.Equal(t, noon.Add(-29*time.Second), h.ctrl.state.Transition.LastSwitchTime)
	assert.Equal(t, 1, h.recorder.overrides)
}

func TestHandleReadingSwitchAfterDwell(t *testing.T) {
	h := newHarness(t)
	r := reading(50, noon)

	h.ctrl.state.Transition = rl.TransitionState{
		LastAction:     rl.ActionOn,
		LastSwitchTime: noon.Add(-30 * time.Second),
	}
	state := rl.NewDiscretizer(h.cfg.RL.StateDiscretization).GetState(r, h.weather.weather, rl.ActionOn)
	h.agent.QTable().Set(state, rl.QValues{1, 0})

	d, err := h.ctrl.HandleReading(context.Background(), r)
	require.NoError(t, err)

	assert.False(t, d.Overridden)
	assert.Equal(t, rl.ActionOff, d.Effective)
	assert.True(t, d.Reward.Switched)
	assert.Equal(t, 0.0, d.Reward.Chatter)
	assert.Equal(t, noon, h.ctrl.state.Transition.LastSwitchTime)
	assert.Equal(t, rl.ActionOff, h.ctrl.state.Transition.LastAction)
}

func TestHandleReadingFirstCycle(t *testing.T) {
	h := newHarness(t)

	d, err := h.ctrl.HandleReading(context.Background(), reading(50, noon))
	require.NoError(t, err)

	// empty table ties resolve to OFF, which is no switch from the initial OFF
	assert.Equal(t, rl.ActionOff, d.Effective)
	assert.False(t, d.Overridden)
	assert.Equal(t, 0.0, d.Reward.Gain)
	assert.Equal(t, 1, h.agent.QTable().Len())
	assert.Equal(t, 1, h.saver.saves)
	assert.Same(t, h.agent.QTable(), h.saver.last.Table)
	assert.Len(t, h.publisher.decisions, 1)

	st := h.ctrl.Status()
	assert.Equal(t, int64(1), st.Readings)
	assert.Equal(t, []float64{50}, st.History)
	require.NotNil(t, st.LastDecision)
	assert.Equal(t, d.State, st.LastDecision.State)
	assert.Equal(t, int64(1), st.Decisions)
	assert.Equal(t, int64(1), st.Updates)
}

func TestSnapshotIsDetachedFromLiveTable(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.HandleReading(context.Background(), reading(50, noon))
	require.NoError(t, err)

	snap := h.ctrl.Snapshot()
	require.True(t, snap.Table.Equal(h.agent.QTable()))
	assert.NotSame(t, h.agent.QTable(), snap.Table)

	key := h.agent.QTable().Keys()[0]
	h.agent.QTable().Get(key)[rl.ActionOn] = 7
	assert.False(t, snap.Table.Equal(h.agent.QTable()))
}

func TestHandleReadingActuatorFailureLearnsNothing(t *testing.T) {
	h := newHarness(t)
	h.actuator.err = errors.New("broker down")

	_, err := h.ctrl.HandleReading(context.Background(), reading(50, noon))
	require.Error(t, err)

	for _, key := range h.agent.QTable().Keys() {
		row, _ := h.agent.QTable().Lookup(key)
		assert.Equal(t, rl.QValues{}, row)
	}
	assert.Equal(t, rl.TransitionState{}, h.ctrl.state.Transition)
	assert.Equal(t, 0, h.saver.saves)
	assert.Empty(t, h.ctrl.Status().History)
}

func TestHandleReadingStalledActuatorTimesOut(t *testing.T) {
	h := newHarness(t)
	h.cfg.Controller.PublishTimeout = 50 * time.Millisecond
	stalled := &stalledActuator{}
	ctrl, err := New(h.cfg, h.agent, Options{
		Weather:  h.weather,
		Actuator: stalled,
		Saver:    h.saver,
		Recorder: h.recorder,
		Now:      func() time.Time { return h.now },
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.HandleReading(context.Background(), reading(50, noon))
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not give up on an unacknowledged pump command")
	}

	assert.True(t, stalled.deadline)
	for _, key := range h.agent.QTable().Keys() {
		row, _ := h.agent.QTable().Lookup(key)
		assert.Equal(t, rl.QValues{}, row)
	}
	assert.Equal(t, rl.TransitionState{}, ctrl.state.Transition)
	assert.Equal(t, 0, h.saver.saves)
	assert.Equal(t, 0, h.recorder.decisions)
}

func TestHandleReadingPersistenceFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.saver.err = errors.New("disk full")

	_, err := h.ctrl.HandleReading(context.Background(), reading(50, noon))
	require.NoError(t, err)
	assert.Equal(t, 1, h.recorder.persistenceFailures)
	assert.Equal(t, int64(1), h.ctrl.Status().Readings)
}

func TestHandleReadingWeatherFallbackCounted(t *testing.T) {
	h := newHarness(t)
	h.weather.weather = rl.NeutralWeather()
	h.weather.fallback = true

	d, err := h.ctrl.HandleReading(context.Background(), reading(50, noon))
	require.NoError(t, err)
	assert.True(t, d.WeatherFallback)
	assert.Equal(t, 1, h.recorder.weatherFallbacks)

	key, err := rl.ParseStateKey(d.State)
	require.NoError(t, err)
	assert.Equal(t, rl.OffHoursBin, key.TimeOfDay)
	assert.Equal(t, 0, key.Sun)
	assert.Equal(t, 1, key.Cloud)
}

func TestHandleReadingDisabledWeatherNotCounted(t *testing.T) {
	h := newHarness(t)
	h.weather.weather = rl.NeutralWeather()
	h.weather.fallback = false

	d, err := h.ctrl.HandleReading(context.Background(), reading(50, noon))
	require.NoError(t, err)
	assert.False(t, d.WeatherFallback)
	assert.Equal(t, 0, h.recorder.weatherFallbacks)
}

func TestHistoryIsBoundedAndPlotted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		_, err := h.ctrl.HandleReading(ctx, reading(float64(i), noon.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	history := h.ctrl.History()
	require.Len(t, history, 100)
	assert.Equal(t, 50.0, history[0])
	assert.Equal(t, 149.0, history[99])

	assert.Equal(t, []int64{50, 100, 150}, h.renderer.calls)
	assert.Equal(t, []int{50, 100, 100}, h.renderer.sizes)
}

func TestRunSerializesQueuedPayloads(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()

	require.NoError(t, h.ctrl.Submit([]byte("40,50,45")))
	require.NoError(t, h.ctrl.Submit([]byte("garbage")))
	require.NoError(t, h.ctrl.Submit([]byte("40,50,46")))

	require.Eventually(t, func() bool {
		st := h.ctrl.Status()
		return st.Readings == 2 && st.Malformed == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, h.ctrl.Status().Running)
	assert.Equal(t, []float64{45, 46}, h.ctrl.History())
	assert.Len(t, h.actuator.Commands(), 2)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, h.ctrl.Status().Running)
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < h.cfg.Controller.QueueSize; i++ {
		require.NoError(t, h.ctrl.Submit([]byte("40,50,45")))
	}
	assert.ErrorIs(t, h.ctrl.Submit([]byte("40,50,45")), ErrQueueFull)
	assert.Equal(t, 1, h.recorder.dropped)
	assert.Equal(t, int64(1), h.ctrl.Status().Dropped)
}

func TestReloadUpdatesGuardrail(t *testing.T) {
	h := newHarness(t)
	r := reading(50, noon)

	h.ctrl.state.Transition = rl.TransitionState{
		LastAction:     rl.ActionOn,
		LastSwitchTime: noon.Add(-5 * time.Second),
	}
	state := rl.NewDiscretizer(h.cfg.RL.StateDiscretization).GetState(r, h.weather.weather, rl.ActionOn)
	h.agent.QTable().Set(state, rl.QValues{1, 0})

	cfg := h.cfg
	cfg.Guardrail.MinOnTime = 0
	h.ctrl.Reload(cfg)
	h.ctrl.drainReloads()

	d, err := h.ctrl.HandleReading(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, d.Overridden)
	assert.Equal(t, rl.ActionOff, d.Effective)
	assert.Equal(t, -2*cfg.Reward.Delta, d.Reward.Chatter)
}
