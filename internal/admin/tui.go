package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xiy/persona-memory/internal/store"
	"github.com/xiy/persona-memory/pkg/types"
)

type tickMsg time.Time
type dashboardMsg struct {
	stats    store.Stats
	sweeps   []store.SweepLog
	records  []types.MemoryRecord
	err      error
	duration time.Duration
}

type dashboardStore interface {
	Stats(ctx context.Context, now time.Time) (store.Stats, error)
	RecentSweepLogs(ctx context.Context, limit int) ([]store.SweepLog, error)
	RecentRecords(ctx context.Context, limit int, now time.Time) ([]types.MemoryRecord, error)
}

type model struct {
	ctx          context.Context
	st           dashboardStore
	stats        store.Stats
	sweeps       []store.SweepLog
	records      []types.MemoryRecord
	lastErr      error
	lastTick     time.Time
	logLines     []string
	maxLogs      int
	sweepsLimit  int
	recordsLimit int
	width        int
	height       int
}

// Run starts a lightweight local admin dashboard.
func Run(ctx context.Context, st dashboardStore) error {
	m := model{
		ctx:          ctx,
		st:           st,
		maxLogs:      10,
		sweepsLimit:  8,
		recordsLimit: 8,
	}
	m = m.appendLog("admin UI started")
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.sweepsLimit, m.recordsLimit), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m = m.appendLog("received quit signal")
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.lastTick = time.Time(msg)
		return m, tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.sweepsLimit, m.recordsLimit), tickCmd())
	case dashboardMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.sweeps = msg.sweeps
			m.records = msg.records
			m = m.appendLog(fmt.Sprintf(
				"refresh ok total=%d short=%d long=%d archived=%d (%s)",
				msg.stats.Total,
				msg.stats.ShortTerm,
				msg.stats.LongTerm,
				msg.stats.Archived,
				formatDuration(msg.duration),
			))
		} else {
			m = m.appendLog(fmt.Sprintf("refresh error: %v", msg.err))
		}
	}
	return m, nil
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("persona-memory admin")
	meta := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("q to quit • refresh every 2s")

	statsBody := m.renderStats()
	logBody := "(no log events yet)"
	if len(m.logLines) > 0 {
		logBody = strings.Join(m.logLines, "\n")
	}

	paneWidth := 54
	if m.width > 0 {
		paneWidth = max(38, (m.width-3)/2)
	}
	paneHeight := 9
	if m.height > 0 {
		paneHeight = max(8, (m.height-8)/2)
	}

	topRow := joinColumns(
		renderPane("Stats", statsBody, paneWidth, paneHeight),
		renderPane("General Logs", logBody, paneWidth, paneHeight),
	)
	bottomRow := joinColumns(
		renderPane("Sweep History", formatSweepPane(m.sweeps), paneWidth, paneHeight),
		renderPane("Recent Memories", formatRecordsPane(m.records), paneWidth, paneHeight),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		meta,
		"",
		topRow,
		bottomRow,
	)
}

func (m model) renderStats() string {
	body := fmt.Sprintf(
		"Total memories:  %d\nShort-term:      %d\nLong-term:       %d\nArchived:        %d\nPending expiry:  %d\nEdges:           %d\nTurns:           %d\nLast refresh:    %s",
		m.stats.Total,
		m.stats.ShortTerm,
		m.stats.LongTerm,
		m.stats.Archived,
		m.stats.PendingExpiry,
		m.stats.Edges,
		m.stats.Turns,
		formatTime(m.lastTick),
	)
	if m.lastErr != nil {
		body += "\n\nLast error: " + truncateText(compactWhitespace(m.lastErr.Error()), 120)
	}
	return body
}

func fetchDashboardCmd(ctx context.Context, st dashboardStore, sweepLimit, recLimit int) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		now := time.Now().UTC()
		s, err := st.Stats(ctx, now)
		if err != nil {
			return dashboardMsg{err: err, duration: time.Since(start)}
		}

		sweeps, err := st.RecentSweepLogs(ctx, sweepLimit)
		if err != nil {
			return dashboardMsg{stats: s, err: err, duration: time.Since(start)}
		}

		records, err := st.RecentRecords(ctx, recLimit, now)
		if err != nil {
			return dashboardMsg{stats: s, sweeps: sweeps, err: err, duration: time.Since(start)}
		}

		return dashboardMsg{
			stats:    s,
			sweeps:   sweeps,
			records:  records,
			duration: time.Since(start),
		}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func (m model) appendLog(line string) model {
	if strings.TrimSpace(line) == "" {
		return m
	}
	entry := fmt.Sprintf("[%s] %s", time.Now().UTC().Format("15:04:05"), line)
	m.logLines = append(m.logLines, entry)
	if m.maxLogs <= 0 {
		m.maxLogs = 10
	}
	if len(m.logLines) > m.maxLogs {
		m.logLines = m.logLines[len(m.logLines)-m.maxLogs:]
	}
	return m
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}

func renderPane(title, body string, width, height int) string {
	style := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
	if width > 0 {
		style = style.Width(width)
	}
	if height > 0 {
		style = style.Height(height)
	}
	return style.Render(title + "\n\n" + body)
}

func joinColumns(left, right string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func formatSweepPane(rows []store.SweepLog) string {
	if len(rows) == 0 {
		return "(no sweeps yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		line := fmt.Sprintf(
			"[%s] +%d promoted  -%d expired  ~%d merged  -%d evicted %4dms",
			formatClock(row.SweptAt),
			row.Report.Promoted,
			row.Report.Expired,
			row.Report.Merged,
			row.Report.Archived,
			max(0, int(row.DurationMS)),
		)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatRecordsPane(rows []types.MemoryRecord) string {
	if len(rows) == 0 {
		return "(no memories yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		tier := "L"
		if row.Tier == types.TierShortTerm {
			tier = "S"
		}
		content := truncateText(compactWhitespace(row.Content), 64)
		line := fmt.Sprintf(
			"[%s] %s %-10s :: %s",
			formatClock(row.CreatedAt),
			tier,
			row.Kind,
			content,
		)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.UTC().Format("15:04:05")
}

func truncateText(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
