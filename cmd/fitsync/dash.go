package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"fitsync/store"
	syncengine "fitsync/sync"
)

// newDashCmd creates the dash command, a live terminal dashboard.
func newDashCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Interactive sync dashboard",
		Long: `Open a terminal dashboard showing live sync status.

Keys:
  s   sync now
  r   retry stuck operations
  q   quit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				a.engine.StartBackground()
				p := tea.NewProgram(newDashModel(a))
				_, err := p.Run()
				return err
			})
		},
	}
}

type tickMsg time.Time

type syncDoneMsg struct {
	result *syncengine.Result
	err    error
}

type retryDoneMsg struct {
	reset int
	err   error
}

type dashModel struct {
	app     *app
	spin    spinner.Model
	stats   store.Stats
	last    *time.Time
	syncing bool
	message string
	err     error
}

func newDashModel(a *app) dashModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	return dashModel{app: a, spin: sp}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tick())
}

// refresh re-reads log counts and last sync time.
func (m *dashModel) refresh() {
	if stats, err := m.app.log.Counts(); err == nil {
		m.stats = stats
	}
	if last, err := m.app.state.LastSyncTime(); err == nil {
		m.last = last
	}
}

func (m dashModel) startSync() tea.Cmd {
	a := m.app
	return func() tea.Msg {
		res, err := a.engine.SyncNow(context.Background())
		return syncDoneMsg{result: res, err: err}
	}
}

func (m dashModel) startRetry() tea.Cmd {
	a := m.app
	return func() tea.Msg {
		n, err := a.log.RetryStuck()
		if err != nil {
			return retryDoneMsg{err: err}
		}
		_, err = a.engine.SyncNow(context.Background())
		return retryDoneMsg{reset: n, err: err}
	}
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.app.engine.StopBackground()
			return m, tea.Quit
		case "s":
			if !m.syncing {
				m.syncing = true
				m.message = "syncing..."
				return m, m.startSync()
			}
		case "r":
			if !m.syncing {
				m.syncing = true
				m.message = "retrying stuck operations..."
				return m, m.startRetry()
			}
		}
		return m, nil

	case tickMsg:
		m.refresh()
		m.syncing = m.app.engine.IsSyncing()
		return m, tick()

	case syncDoneMsg:
		m.syncing = false
		m.err = nil
		switch {
		case errors.Is(msg.err, syncengine.ErrSyncInProgress):
			m.message = "sync already running"
		case errors.Is(msg.err, syncengine.ErrUnauthenticated):
			m.message = "not signed in (run 'fitsync login')"
		case msg.err != nil:
			m.err = msg.err
			m.message = ""
		case msg.result.NoOp:
			m.message = "nothing to sync"
		default:
			m.message = fmt.Sprintf("synced %d/%d", msg.result.Synced, msg.result.Submitted)
		}
		m.refresh()
		return m, nil

	case retryDoneMsg:
		m.syncing = false
		m.err = msg.err
		if msg.err == nil {
			m.message = fmt.Sprintf("reset %d stuck operation(s)", msg.reset)
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m dashModel) View() string {
	var b strings.Builder

	b.WriteString(statusTitleStyle.Render("fitsync") + "\n\n")

	if m.syncing {
		b.WriteString(m.spin.View() + " syncing\n")
	} else if m.last != nil {
		b.WriteString(fmt.Sprintf("last sync %s\n", m.last.Local().Format("15:04:05")))
	} else {
		b.WriteString(statusDimStyle.Render("never synced") + "\n")
	}

	b.WriteString(fmt.Sprintf("\npending %d   ", m.stats.Pending))
	b.WriteString(statusOKStyle.Render(fmt.Sprintf("synced %d", m.stats.Synced)))
	if m.stats.Failed > 0 {
		b.WriteString("   " + statusWarnStyle.Render(fmt.Sprintf("failed %d", m.stats.Failed)))
	}
	if m.stats.Stuck > 0 {
		b.WriteString("   " + statusBadStyle.Render(fmt.Sprintf("stuck %d", m.stats.Stuck)))
	}
	b.WriteString("\n")

	if m.stats.Total > 0 {
		b.WriteString(fmt.Sprintf("%d%% synced\n", 100*m.stats.Synced/m.stats.Total))
	}

	if m.message != "" {
		b.WriteString("\n" + statusDimStyle.Render(m.message) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + statusBadStyle.Render("error: "+m.err.Error()) + "\n")
	}

	b.WriteString(statusDimStyle.Render("\ns sync · r retry · q quit\n"))
	return b.String()
}
