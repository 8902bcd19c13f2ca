package simulator

import (
	"math"
	"math/rand"
	"time"

	"solar-pump-rl/internal/rl"
	"solar-pump-rl/pkg/config"
)

// StateEncoder maps a reading and weather to a state key
type StateEncoder interface {
	GetState(r rl.Reading, w rl.WeatherContext, lastAction rl.Action) rl.StateKey
}

// RewardCalculator scores a transition and threads its bookkeeping
type RewardCalculator interface {
	CalculateReward(r rl.Reading, action rl.Action, w rl.WeatherContext, st rl.TransitionState) (rl.RewardBreakdown, rl.TransitionState)
}

// StepInfo is the diagnostic record of one simulated step
type StepInfo struct {
	Time       time.Time
	TankTemp   float64
	TempIn     float64
	TempOut    float64
	Action     rl.Action
	Reward     float64
	SunFactor  float64
	CloudCover float64 // fraction, 0-1
}

// Env simulates one day of a solar collector feeding a storage tank
type Env struct {
	config  config.SimulatorConfig
	encoder StateEncoder
	reward  RewardCalculator
	rng     *rand.Rand

	clock      time.Time
	end        time.Time
	sunrise    time.Time
	sunset     time.Time
	tankTemp   float64
	cloudCover float64
	transition rl.TransitionState
}

// NewEnv creates an environment for the day containing date, starting at
// StartHour and ending at EndHour.
func NewEnv(cfg config.SimulatorConfig, encoder StateEncoder, reward RewardCalculator, date time.Time, seed int64) *Env {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return &Env{
		config:     cfg,
		encoder:    encoder,
		reward:     reward,
		rng:        rand.New(rand.NewSource(seed)),
		clock:      day.Add(time.Duration(cfg.StartHour) * time.Hour),
		end:        day.Add(time.Duration(cfg.EndHour) * time.Hour),
		sunrise:    day.Add(time.Duration(cfg.SunriseHour) * time.Hour),
		sunset:     day.Add(time.Duration(cfg.SunsetHour) * time.Hour),
		tankTemp:   cfg.InitialTankTemp,
		cloudCover: cfg.InitialCloudCover,
	}
}

// Clock returns the simulated time
func (e *Env) Clock() time.Time {
	return e.clock
}

// TankTemp returns the simulated tank temperature
func (e *Env) TankTemp() float64 {
	return e.tankTemp
}

// CloudCover returns the cloud fraction in [0,1]
func (e *Env) CloudCover() float64 {
	return e.cloudCover
}

// Done reports whether the day is over
func (e *Env) Done() bool {
	return !e.clock.Before(e.end)
}

// SolarIrradiance is a half-sine over daylight hours scaled by clear sky
func (e *Env) SolarIrradiance() float64 {
	if e.clock.Before(e.sunrise) || e.clock.After(e.sunset) {
		return 0
	}
	daylight := e.sunset.Sub(e.sunrise).Hours()
	x := e.clock.Sub(e.sunrise).Hours() / daylight
	return math.Max(0, math.Sin(math.Pi*x)) * (1 - e.cloudCover)
}

// UpdateWeather random-walks the cloud cover, clamped to [0,1]
func (e *Env) UpdateWeather() {
	e.cloudCover += (e.rng.Float64()*2 - 1) * e.config.CloudStep
	e.cloudCover = math.Min(1, math.Max(0, e.cloudCover))
}

// Weather returns the context the controller would see at the current clock
func (e *Env) Weather() rl.WeatherContext {
	return rl.WeatherContext{
		CloudCover:  e.cloudCover * 100,
		AmbientTemp: e.config.AmbientTemp,
		Sunrise:     e.sunrise,
		Sunset:      e.sunset,
	}
}

// Step applies action for one time step and returns the resulting state,
// the reward, whether the day is over, and the step record.
func (e *Env) Step(action rl.Action) (rl.StateKey, float64, bool, StepInfo) {
	e.UpdateWeather()

	ambient := e.config.AmbientTemp
	tempIn := e.tankTemp
	tempOut := ambient + e.config.PanelGainMax*e.SolarIrradiance()

	e.tankTemp -= e.config.TankLossRate * (e.tankTemp - ambient)
	if action == rl.ActionOn && tempOut > e.tankTemp {
		e.tankTemp += (tempOut - e.tankTemp) * e.config.TankGainRate
	}

	reading := rl.Reading{
		TempIn:    tempIn,
		TempOut:   tempOut,
		TankTemp:  e.tankTemp,
		Timestamp: e.clock,
	}
	weather := e.Weather()

	breakdown, next := e.reward.CalculateReward(reading, action, weather, e.transition)
	e.transition = next
	state := e.encoder.GetState(reading, weather, action)

	info := StepInfo{
		Time:       e.clock,
		TankTemp:   e.tankTemp,
		TempIn:     tempIn,
		TempOut:    tempOut,
		Action:     action,
		Reward:     breakdown.Total,
		SunFactor:  breakdown.SunFactor,
		CloudCover: e.cloudCover,
	}

	e.clock = e.clock.Add(e.config.Step)
	return state, breakdown.Total, e.Done(), info
}
