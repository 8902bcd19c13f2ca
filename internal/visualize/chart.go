package visualize

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"solar-pump-rl/pkg/logger"
)

// Series is one named line
type Series struct {
	Name   string
	Values []float64
}

func newLine(title, yName string, points int) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithInitializationOpts(opts.Initialization{Theme: "shine"}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
	)

	steps := make([]string, points)
	for i := range steps {
		steps[i] = fmt.Sprintf("%d", i)
	}
	line.SetXAxis(steps)
	return line
}

// RenderLines writes an HTML page with one line per series
func RenderLines(w io.Writer, title, yName string, series ...Series) error {
	points := 0
	for _, s := range series {
		if len(s.Values) > points {
			points = len(s.Values)
		}
	}

	line := newLine(title, yName, points)
	for _, s := range series {
		items := make([]opts.LineData, 0, len(s.Values))
		for _, v := range s.Values {
			items = append(items, opts.LineData{Value: v})
		}
		line.AddSeries(s.Name, items)
	}

	page := components.NewPage()
	page.AddCharts(line)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// HistoryChart renders the controller's tank temperature history
type HistoryChart struct {
	dir string
}

// NewHistoryChart creates a renderer writing into dir
func NewHistoryChart(dir string) *HistoryChart {
	return &HistoryChart{dir: dir}
}

// Render writes the history to {dir}/tank_history_{readings}.html
func (c *HistoryChart) Render(history []float64, readings int64) (string, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create plot directory: %w", err)
	}

	path := filepath.Join(c.dir, fmt.Sprintf("tank_history_%d.html", readings))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create chart file: %w", err)
	}
	defer f.Close()

	if err := RenderLines(f, "Tank temperature", "°C", Series{Name: "tank", Values: history}); err != nil {
		return "", err
	}

	logger.GetLogger().WithField("path", path).Info("Tank history chart written")
	return path, nil
}
