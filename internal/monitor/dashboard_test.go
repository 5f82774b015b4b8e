package monitor

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/semcore/internal/metrics"
)

func testModel() Model {
	return NewModel(metrics.New(), 5*time.Second)
}

func TestNewModel(t *testing.T) {
	model := testModel()
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
}

func TestModel_Init(t *testing.T) {
	model := testModel()
	cmd := model.Init()
	assert.NotNil(t, cmd)
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := testModel()

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := testModel()

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := testModel()

	msg := tickMsg(time.Now())
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_MetricsMsg(t *testing.T) {
	model := testModel()

	msg := metricsMsg(metrics.Snapshot{
		RequestsTotal:   45,
		QueryLatencyAvg: 12300 * time.Microsecond,
		CacheHitRate:    0.97,
	})
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.Equal(t, float64(45), m.metrics.RequestsTotal)
	assert.Equal(t, 12300*time.Microsecond, m.metrics.QueryLatencyAvg)
	assert.InDelta(t, 0.97, m.metrics.CacheHitRate, 1e-9)
	assert.False(t, m.lastUpdate.IsZero())
	assert.Nil(t, cmd)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := testModel()

	msg := errMsg(fmt.Errorf("registry unavailable"))
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.NotNil(t, m.err)
	assert.Contains(t, m.err.Error(), "registry unavailable")
	assert.Nil(t, cmd)
}

func TestModel_View_WithMetrics(t *testing.T) {
	model := testModel()
	model.metrics = MetricsSnapshot{
		RequestsTotal:   45,
		ErrorsTotal:     1,
		TokensTotal:     15200,
		CostTotal:       0.0034,
		QueryLatencyAvg: 12300 * time.Microsecond,
		CacheHitRate:    0.97,
		RSSBytes:        24 << 20,
		Goroutines:      42,
	}
	model.lastUpdate = time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)

	view := model.View()

	assert.Contains(t, view, "semcore Monitor")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "Requests")
	assert.Contains(t, view, "Cache")
	assert.Contains(t, view, "$0.0034")
	assert.Contains(t, view, "System")
	assert.Contains(t, view, "42")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_WithError(t *testing.T) {
	model := testModel()
	model.err = fmt.Errorf("registry unavailable")

	view := model.View()

	assert.Contains(t, view, "Cannot read metrics registry")
	assert.Contains(t, view, "registry unavailable")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_NoData(t *testing.T) {
	model := testModel()

	view := model.View()

	assert.Contains(t, view, "semcore Monitor")
	assert.Contains(t, view, "[q]")
}
