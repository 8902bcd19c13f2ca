package visualize

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderLines(t *testing.T) {
	var buf bytes.Buffer
	err := RenderLines(&buf, "Episode rewards", "reward",
		Series{Name: "day 1", Values: []float64{1, 2, 3}},
		Series{Name: "day 2", Values: []float64{0.5}},
	)
	require.NoError(t, err)

	html := buf.String()
	assert.Contains(t, html, "Episode rewards")
	assert.Contains(t, html, "day 1")
	assert.Contains(t, html, "day 2")
}

func TestHistoryChartRender(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	chart := NewHistoryChart(dir)

	path, err := chart.Render([]float64{40, 41, 42.5}, 50)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tank_history_50.html"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Tank temperature")
}
