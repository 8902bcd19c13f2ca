package rl

import (
	"fmt"
	"math"
	"time"

	"solar-pump-rl/pkg/config"
)

// OffHoursBin is the time-of-day bin used whenever the sun is down or unknown
const OffHoursBin = 3

// Reading is one sensor sample: panel inlet, panel outlet and tank temperature in °C.
type Reading struct {
	TempIn    float64   `json:"temp_in"`
	TempOut   float64   `json:"temp_out"`
	TankTemp  float64   `json:"tank_temp"`
	Timestamp time.Time `json:"timestamp"`
}

// PanelDelta is the temperature gain across the collector
func (r Reading) PanelDelta() float64 {
	return r.TempOut - r.TempIn
}

// WeatherContext is the per-cycle weather record. A zero Sunrise or Sunset
// means the value is unknown and the cycle is treated as having no sun.
type WeatherContext struct {
	CloudCover  float64   `json:"cloud_cover"` // percent, 0-100
	AmbientTemp float64   `json:"ambient_temp,omitempty"`
	Sunrise     time.Time `json:"sunrise,omitempty"`
	Sunset      time.Time `json:"sunset,omitempty"`
}

// NeutralWeather is substituted whenever the weather source fails
func NeutralWeather() WeatherContext {
	return WeatherContext{CloudCover: 50}
}

// HasSunTimes reports whether both sunrise and sunset are known
func (w WeatherContext) HasSunTimes() bool {
	return !w.Sunrise.IsZero() && !w.Sunset.IsZero()
}

// IsDay reports whether now falls strictly between sunrise and sunset
func (w WeatherContext) IsDay(now time.Time) bool {
	return w.HasSunTimes() && now.After(w.Sunrise) && now.Before(w.Sunset)
}

// SunFactor returns the normalized solar intensity proxy for now
func (w WeatherContext) SunFactor(now time.Time) float64 {
	return SunFactor(now, w.Sunrise, w.Sunset)
}

// SunFactor is a downward parabola over the daylight interval: 0 at sunrise
// and sunset, 1 at the midpoint, 0 outside daylight or when either bound is unknown.
func SunFactor(now, sunrise, sunset time.Time) float64 {
	if sunrise.IsZero() || sunset.IsZero() || !now.After(sunrise) || !now.Before(sunset) {
		return 0
	}
	span := sunset.Sub(sunrise).Seconds()
	x := now.Sub(sunrise).Seconds() / math.Max(1, span)
	return math.Max(0, 1-4*(x-0.5)*(x-0.5))
}

// BinValue maps v onto ascending edges using right-open bins: the result is
// the smallest i with v < edges[i], or len(edges) when no edge exceeds v.
func BinValue(v float64, edges []float64) int {
	for i, e := range edges {
		if v < e {
			return i
		}
	}
	return len(edges)
}

// StateKey identifies one Q-table row
type StateKey struct {
	Tank       int `json:"tank"`
	PanelDelta int `json:"panel_delta"`
	Sun        int `json:"sun"`
	Cloud      int `json:"cloud"`
	TimeOfDay  int `json:"time_of_day"`
	LastAction int `json:"last_action"`
}

// String generates the persisted form of the key
func (k StateKey) String() string {
	return fmt.Sprintf("t%d_p%d_s%d_c%d_h%d_a%d",
		k.Tank, k.PanelDelta, k.Sun, k.Cloud, k.TimeOfDay, k.LastAction)
}

// ParseStateKey is the inverse of StateKey.String
func ParseStateKey(s string) (StateKey, error) {
	var k StateKey
	n, err := fmt.Sscanf(s, "t%d_p%d_s%d_c%d_h%d_a%d",
		&k.Tank, &k.PanelDelta, &k.Sun, &k.Cloud, &k.TimeOfDay, &k.LastAction)
	if err != nil {
		return StateKey{}, fmt.Errorf("invalid state key %q: %w", s, err)
	}
	if n != 6 || k.String() != s {
		return StateKey{}, fmt.Errorf("invalid state key %q", s)
	}
	if k.Tank < 0 || k.PanelDelta < 0 || k.Sun < 0 || k.Cloud < 0 || k.TimeOfDay < 0 || !Action(k.LastAction).IsValid() {
		return StateKey{}, fmt.Errorf("invalid state key %q: negative bin or unknown action", s)
	}
	return k, nil
}

// less orders keys field by field for stable iteration
func (k StateKey) less(o StateKey) bool {
	a := [6]int{k.Tank, k.PanelDelta, k.Sun, k.Cloud, k.TimeOfDay, k.LastAction}
	b := [6]int{o.Tank, o.PanelDelta, o.Sun, o.Cloud, o.TimeOfDay, o.LastAction}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Discretizer maps continuous readings and weather onto a StateKey
type Discretizer struct {
	tankEdges  []float64
	panelEdges []float64
	sunEdges   []float64
	cloudEdges []float64
}

// NewDiscretizer creates a discretizer from configured bin edges
func NewDiscretizer(cfg config.StateDiscretizationConfig) *Discretizer {
	return &Discretizer{
		tankEdges:  append([]float64(nil), cfg.TankTemp...),
		panelEdges: append([]float64(nil), cfg.PanelDelta...),
		sunEdges:   append([]float64(nil), cfg.SunFactor...),
		cloudEdges: append([]float64(nil), cfg.CloudCover...),
	}
}

// GetState discretizes a reading taken at r.Timestamp. lastAction is the
// pump state the reading was taken under.
func (d *Discretizer) GetState(r Reading, w WeatherContext, lastAction Action) StateKey {
	now := r.Timestamp
	sf := w.SunFactor(now)

	return StateKey{
		Tank:       BinValue(r.TankTemp, d.tankEdges),
		PanelDelta: BinValue(r.PanelDelta(), d.panelEdges),
		Sun:        BinValue(sf, d.sunEdges),
		Cloud:      BinValue(w.CloudCover, d.cloudEdges),
		TimeOfDay:  timeOfDayBin(now, w.IsDay(now)),
		LastAction: int(lastAction),
	}
}

// StateSpaceSize returns the number of distinct keys the discretizer can produce
func (d *Discretizer) StateSpaceSize() int {
	return (len(d.tankEdges) + 1) * (len(d.panelEdges) + 1) * (len(d.sunEdges) + 1) *
		(len(d.cloudEdges) + 1) * (OffHoursBin + 1) * NumActions
}

func timeOfDayBin(now time.Time, isDay bool) int {
	if !isDay {
		return OffHoursBin
	}
	switch hr := now.Hour(); {
	case hr < 10:
		return 0
	case hr < 14:
		return 1
	default:
		return 2
	}
}
