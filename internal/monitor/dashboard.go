package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/semcore/internal/metrics"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model represents the BubbleTea dashboard model
type Model struct {
	poller     *Poller
	interval   time.Duration
	lastUpdate time.Time
	metrics    MetricsSnapshot
	err        error
	quitting   bool

	// Progress bars
	memoryProgress progress.Model
	cacheProgress  progress.Model
}

// MetricsSnapshot holds the data one dashboard refresh renders. It mirrors
// metrics.Snapshot but adds the rolling history sparklines track and the
// peak values the progress bars scale against.
type MetricsSnapshot struct {
	RequestsTotal   float64
	ErrorsTotal     float64
	TokensTotal     float64
	CostTotal       float64
	QueryLatencyAvg time.Duration
	BatchEmbedAvg   time.Duration
	UpsertAvg       time.Duration
	CacheHitRate    float64
	RSSBytes        uint64
	Goroutines      int

	// Historical data for sparklines (last N points)
	RequestRateHistory []float64
	LatencyHistory      []float64
	CacheHitHistory      []float64
	MemoryHistory        []float64

	// Peak values for progress bars
	RequestRatePeak float64
	MemoryMax       uint64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a new dashboard model polling reg on interval.
func NewModel(reg *metrics.Registry, interval time.Duration) Model {
	memProg := progress.New(
		progress.WithGradient("#00ff00", "#ffff00"),
		progress.WithWidth(40),
	)
	cacheProg := progress.New(
		progress.WithGradient("#ff0000", "#00ff00"),
		progress.WithWidth(40),
	)

	return Model{
		poller:        NewPoller(reg),
		interval:      interval,
		quitting:      false,
		memoryProgress: memProg,
		cacheProgress:  cacheProg,
		metrics: MetricsSnapshot{
			RequestRateHistory: make([]float64, 0, historySize),
			LatencyHistory:     make([]float64, 0, historySize),
			CacheHitHistory:    make([]float64, 0, historySize),
			MemoryHistory:      make([]float64, 0, historySize),
			RequestRatePeak:    1.0,
			MemoryMax:          512 << 20,
		},
	}
}

// getCacheBadge returns a colored status badge based on L1 cache hit rate.
func getCacheBadge(hitRate float64) string {
	if hitRate >= 0.95 {
		return healthyStyle.Render("[✓]")
	} else if hitRate >= 0.8 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// getStatusBadge returns overall system status badge based on query latency.
func getStatusBadge(latencyMS float64) string {
	if latencyMS < 100 {
		return healthyStyle.Render("✓ HEALTHY")
	} else if latencyMS < 500 {
		return warningStyle.Render("⚠ WARN")
	}
	return errorStyle.Render("✗ ERROR")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type metricsMsg metrics.Snapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchMetrics(m.poller),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchMetrics samples the poller
func fetchMetrics(p *Poller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snap, err := p.Sample(ctx)
		if err != nil {
			return errMsg(err)
		}
		return metricsMsg(snap)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchMetrics(m.poller)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchMetrics(m.poller),
		)

	case metricsMsg:
		snap := metrics.Snapshot(msg)
		next := MetricsSnapshot{
			RequestsTotal:   snap.RequestsTotal,
			ErrorsTotal:     snap.ErrorsTotal,
			TokensTotal:     snap.TokensTotal,
			CostTotal:       snap.CostTotal,
			QueryLatencyAvg: snap.QueryLatencyAvg,
			BatchEmbedAvg:   snap.BatchEmbedAvg,
			UpsertAvg:       snap.UpsertAvg,
			CacheHitRate:    snap.CacheHitRate,
			RSSBytes:        snap.RSSBytes,
			Goroutines:      snap.Goroutines,
		}

		next.RequestRateHistory = appendToHistory(m.metrics.RequestRateHistory, next.RequestsTotal)
		next.LatencyHistory = appendToHistory(m.metrics.LatencyHistory, float64(next.QueryLatencyAvg.Milliseconds()))
		next.CacheHitHistory = appendToHistory(m.metrics.CacheHitHistory, next.CacheHitRate*100)
		next.MemoryHistory = appendToHistory(m.metrics.MemoryHistory, float64(next.RSSBytes)/(1<<20))

		next.RequestRatePeak = m.metrics.RequestRatePeak
		if next.RequestsTotal > next.RequestRatePeak {
			next.RequestRatePeak = next.RequestsTotal
		}
		next.MemoryMax = m.metrics.MemoryMax
		if next.RSSBytes > next.MemoryMax {
			next.MemoryMax = next.RSSBytes
		}

		m.metrics = next
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render("semcore Monitor")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot read metrics registry") + "\n"
	content += "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	box := containerStyle.Render(header + "\n" + content)
	return box
}

// renderDashboard renders the main dashboard view with sparklines and progress bars
func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	latencyMS := float64(m.metrics.QueryLatencyAvg.Microseconds()) / 1000.0

	header := headerStyle.Render(" semcore Monitor ")
	statusBadge := getStatusBadge(latencyMS)
	headerLine := fmt.Sprintf("%s   %s   %s",
		statusBadge,
		dimStyle.Render("Last update:"),
		valueStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	// Requests section
	content += "\n" + sectionStyle.Render("┃ Requests") + "\n"
	rateSparkline := createSparkline(m.metrics.RequestRateHistory)
	content += labelStyle.Render("  Total: ") +
		valueStyle.Render(fmt.Sprintf("%.0f", m.metrics.RequestsTotal)) +
		"   " + rateSparkline + "\n"
	content += labelStyle.Render("  Errors: ") +
		valueStyle.Render(fmt.Sprintf("%.0f", m.metrics.ErrorsTotal)) + "\n"

	ratePercent := 0.0
	if m.metrics.RequestRatePeak > 0 {
		ratePercent = m.metrics.RequestsTotal / m.metrics.RequestRatePeak
		if ratePercent > 1.0 {
			ratePercent = 1.0
		}
	}
	content += labelStyle.Render("  Load: ") +
		m.cacheProgress.ViewAs(ratePercent) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", ratePercent*100)) + "\n"

	// Query/embed latency section
	content += "\n" + sectionStyle.Render("┃ Latency") + "\n"
	latencySparkline := createSparkline(m.metrics.LatencyHistory)
	content += labelStyle.Render("  Query (avg): ") +
		valueStyle.Render(FormatLatency(m.metrics.QueryLatencyAvg.Seconds())) +
		"   " + latencySparkline + "\n"
	content += labelStyle.Render("  Embed batch (avg): ") +
		valueStyle.Render(FormatLatency(m.metrics.BatchEmbedAvg.Seconds())) + "\n"
	content += labelStyle.Render("  Upsert (avg): ") +
		valueStyle.Render(FormatLatency(m.metrics.UpsertAvg.Seconds())) + "\n"

	// Embedder usage
	content += "\n" + sectionStyle.Render("┃ Embedder") + "\n"
	content += labelStyle.Render("  Tokens: ") +
		valueStyle.Render(fmt.Sprintf("%.0f", m.metrics.TokensTotal)) +
		"  " +
		labelStyle.Render("Cost: ") +
		valueStyle.Render(fmt.Sprintf("$%.4f", m.metrics.CostTotal)) + "\n"

	// Cache section
	content += "\n" + sectionStyle.Render("┃ Cache") + "\n"
	cacheSparkline := createSparkline(m.metrics.CacheHitHistory)
	cacheBadge := getCacheBadge(m.metrics.CacheHitRate)
	content += labelStyle.Render("  L1 hit rate: ") +
		valueStyle.Render(FormatPercentage(m.metrics.CacheHitRate)) +
		" " + cacheBadge +
		"   " + cacheSparkline + "\n"

	// System section
	content += "\n" + sectionStyle.Render("┃ System") + "\n"
	memoryPercent := 0.0
	if m.metrics.MemoryMax > 0 {
		memoryPercent = float64(m.metrics.RSSBytes) / float64(m.metrics.MemoryMax)
	}
	content += labelStyle.Render("  Memory: ") +
		m.memoryProgress.ViewAs(memoryPercent) +
		" " + dimStyle.Render(FormatMemory(m.metrics.RSSBytes)) + "\n"
	content += labelStyle.Render("  Goroutines: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.metrics.Goroutines)) + "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}
