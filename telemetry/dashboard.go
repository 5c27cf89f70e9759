package telemetry

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Dashboard is a bubbletea model rendering the counters. Lines sent on
// Events show up under "Recent".
type Dashboard struct {
	counters *Counters
	events   <-chan string
	stats    Stats
	recent   []string
	width    int
}

func NewDashboard(c *Counters, events <-chan string) Dashboard {
	return Dashboard{counters: c, events: events, stats: c.Snapshot()}
}

type TickMsg time.Time

type eventMsg string

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*250, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForEvent(events <-chan string) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m Dashboard) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tickCmd())
}

func (m Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case TickMsg:
		m.stats = m.counters.Snapshot()
		return m, tickCmd()
	case eventMsg:
		m.recent = append([]string{string(msg)}, m.recent...)
		if len(m.recent) > 10 {
			m.recent = m.recent[:10]
		}
		return m, waitForEvent(m.events)
	}
	return m, nil
}

func (m Dashboard) View() string {
	s := m.stats
	var b strings.Builder
	fmt.Fprintf(&b, "Uptime:          %s\n", s.Uptime.Round(time.Second))
	fmt.Fprintf(&b, "Games:           %d (red %d / black %d / draw %d)\n", s.Games, s.RedWins, s.BlackWins, s.Draws)
	fmt.Fprintf(&b, "Positions:       %d (buffer %d)\n", s.Positions, s.BufferLen)
	fmt.Fprintf(&b, "Moves/Sec:       %.2f\n", s.MovesPerSec)
	fmt.Fprintf(&b, "Inferences/Sec:  %.2f\n", s.InferPerSec)
	fmt.Fprintf(&b, "Train Steps:     %d (last loss %.4f, diverged %d)\n", s.TrainSteps, s.LastLoss, s.Divergences)
	fmt.Fprintf(&b, "Best Snapshot:   v%d (candidates %d, promoted %d, rejected %d, last score %.3f)\n\n",
		s.BestVersion, s.Candidates, s.Promotions, s.Rejections, s.LastScore)

	b.WriteString("Recent:\n")
	for _, line := range m.recent {
		if m.width > 0 && len(line) > m.width {
			line = line[:m.width]
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\nPress q to quit.\n")
	return b.String()
}
