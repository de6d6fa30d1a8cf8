// ABOUTME: Bubbletea model for the voice call TUI
// ABOUTME: Defines display state, key handling and rendering
package ui

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/internal/version"
	"github.com/Resonate-Protocol/voicecall-go/pkg/voicecall"
	tea "github.com/charmbracelet/bubbletea"
)

const statsInterval = 250 * time.Millisecond

// Shell is the set of call controls the TUI may invoke
type Shell interface {
	StartCall()
	EndCall()
	PressTalk()
	ReleaseTalk()
	ToggleHold()
	Stats() voicecall.Stats
}

// Model represents the TUI state
type Model struct {
	shell  Shell
	engine string

	// Call
	state     voicecall.CallState
	sessionID string
	talking   bool
	held      bool
	errText   string

	// Stats
	stats voicecall.Stats

	// Dimensions
	width  int
	height int
}

// StatusMsg carries a controller status change
type StatusMsg struct {
	Status voicecall.Status
}

type statsTickMsg time.Time

// Init starts the stats refresh loop
func (m Model) Init() tea.Cmd {
	return statsTick()
}

func statsTick() tea.Cmd {
	return tea.Tick(statsInterval, func(t time.Time) tea.Msg {
		return statsTickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg.Status)
	case statsTickMsg:
		if m.shell != nil {
			m.stats = m.shell.Stats()
		}
		return m, statsTick()
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderCall()
	s += m.renderStats()
	s += m.renderHelp()
	return s
}

// renderHeader renders product and engine
func (m Model) renderHeader() string {
	return fmt.Sprintf(`┌─ %-51s┐
│ Engine: %-45s │
├──────────────────────────────────────────────────────┤
`, version.String()+" ", truncate(m.engine, 45))
}

// renderCall renders call state and gates
func (m Model) renderCall() string {
	talk := "○ off"
	if m.talking {
		talk = "● on air"
	}
	hold := "off"
	if m.held {
		hold = "on (muted)"
	}

	s := fmt.Sprintf("│ State:  %-45s │\n", stateLabel(m.state))
	s += fmt.Sprintf("│ Talk:   %-45s │\n", talk)
	s += fmt.Sprintf("│ Hold:   %-45s │\n", hold)
	if m.sessionID != "" {
		s += fmt.Sprintf("│ Call:   %-45s │\n", truncate(m.sessionID, 45))
	}
	if m.errText != "" {
		s += fmt.Sprintf("│ Error:  %-45s │\n", truncate(m.errText, 45))
	}
	return s
}

// renderStats renders frame counters
func (m Model) renderStats() string {
	c := m.stats.Capture
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Mic:    %-45s │
│ Engine: %-45s │
`,
		fmt.Sprintf("captured %d  sent %d  dropped %d", c.Captured, c.Forwarded, c.Dropped),
		fmt.Sprintf("chunks %d  playing %d  barge-ins %d  bad %d",
			m.stats.ChunksIn, m.stats.ActiveUnits, m.stats.Interruptions, m.stats.Malformed))
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ c:Call  e:End  space:Talk  h:Hold  q:Quit            │
└──────────────────────────────────────────────────────┘
`
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.shell == nil {
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.shell.EndCall()
		return m, tea.Quit
	case "c":
		m.shell.StartCall()
	case "e":
		m.shell.EndCall()
	case " ":
		// Terminals report no key release, so space alternates press and release
		if m.talking {
			m.shell.ReleaseTalk()
		} else {
			m.shell.PressTalk()
		}
	case "h":
		m.shell.ToggleHold()
	}

	return m, nil
}

// applyStatus updates model from a controller status
func (m *Model) applyStatus(status voicecall.Status) {
	m.state = status.State
	m.sessionID = status.SessionID
	m.talking = status.Talking
	m.held = status.Held
	m.errText = status.Text
}

func stateLabel(state voicecall.CallState) string {
	switch state {
	case voicecall.StateIdle:
		return "Idle (press c to call)"
	case voicecall.StateConnecting:
		return "Connecting..."
	case voicecall.StateConnected:
		return "Connected"
	case voicecall.StateListening:
		return "Listening"
	case voicecall.StateSpeaking:
		return "Speaking"
	case voicecall.StateError:
		return "Error (press c to retry)"
	case voicecall.StateEnded:
		return "Call ended"
	}
	return state.String()
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
