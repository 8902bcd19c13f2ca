package transport

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"solar-pump-rl/internal/rl"
)

// ErrMalformedReading marks a sensor payload that cannot be turned into a Reading
var ErrMalformedReading = errors.New("malformed sensor reading")

// ParseReading decodes "temp_in,temp_out,tank_temp" into a Reading stamped with now
func ParseReading(payload []byte, now time.Time) (rl.Reading, error) {
	fields := strings.Split(strings.TrimSpace(string(payload)), ",")
	if len(fields) != 3 {
		return rl.Reading{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedReading, len(fields))
	}

	var values [3]float64
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return rl.Reading{}, fmt.Errorf("%w: field %d: %v", ErrMalformedReading, i+1, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return rl.Reading{}, fmt.Errorf("%w: field %d is not finite", ErrMalformedReading, i+1)
		}
		values[i] = v
	}

	return rl.Reading{
		TempIn:    values[0],
		TempOut:   values[1],
		TankTemp:  values[2],
		Timestamp: now,
	}, nil
}

// FormatCommand renders the pump command sent to the actuator
func FormatCommand(action rl.Action) []byte {
	return []byte(action.String())
}
