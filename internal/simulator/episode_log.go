package simulator

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// EpisodeLogHeader is the column order of every episode log
var EpisodeLogHeader = []string{"time", "tank_temp", "temp_in", "temp_out", "action", "reward", "sun_factor", "cloud_cover"}

// EpisodeLog writes one CSV row per simulated step
type EpisodeLog struct {
	w *csv.Writer
}

// NewEpisodeLog writes the header to w
func NewEpisodeLog(w io.Writer) (*EpisodeLog, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(EpisodeLogHeader); err != nil {
		return nil, fmt.Errorf("failed to write episode log header: %w", err)
	}
	return &EpisodeLog{w: cw}, nil
}

// Write appends info as a row
func (l *EpisodeLog) Write(info StepInfo) error {
	row := []string{
		info.Time.Format("2006-01-02 15:04:05"),
		formatFloat(info.TankTemp),
		formatFloat(info.TempIn),
		formatFloat(info.TempOut),
		strconv.Itoa(int(info.Action)),
		formatFloat(info.Reward),
		formatFloat(info.SunFactor),
		formatFloat(info.CloudCover),
	}
	return l.w.Write(row)
}

// Flush writes buffered rows and reports any write error
func (l *EpisodeLog) Flush() error {
	l.w.Flush()
	return l.w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
