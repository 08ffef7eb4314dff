package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	statusOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusBadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// newStatusCmd creates the status command.
func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Long:  "Show pending, synced, failed, and stuck operation counts plus the last successful sync time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				stats, err := a.log.Counts()
				if err != nil {
					return err
				}
				last, err := a.state.LastSyncTime()
				if err != nil {
					return err
				}
				identity, err := a.state.Identity()
				if err != nil {
					return err
				}

				var b strings.Builder
				b.WriteString(statusTitleStyle.Render("Sync status") + "\n\n")

				if identity == "" {
					b.WriteString(statusWarnStyle.Render("Not signed in") + statusDimStyle.Render("  (run 'fitsync login')") + "\n")
				} else {
					b.WriteString(fmt.Sprintf("Signed in as %s\n", identity))
				}

				if last == nil {
					b.WriteString("Last sync: " + statusDimStyle.Render("never") + "\n")
				} else {
					b.WriteString(fmt.Sprintf("Last sync: %s\n", last.Local().Format("2006-01-02 15:04:05")))
				}

				b.WriteString(fmt.Sprintf("\nOperations: %d total\n", stats.Total))
				b.WriteString(fmt.Sprintf("  %s %d\n", statusOKStyle.Render("synced "), stats.Synced))
				b.WriteString(fmt.Sprintf("  pending %d\n", stats.Pending))
				if stats.Failed > 0 {
					b.WriteString(fmt.Sprintf("  %s  %d\n", statusWarnStyle.Render("failed"), stats.Failed))
				}
				if stats.Stuck > 0 {
					b.WriteString(fmt.Sprintf("  %s   %d", statusBadStyle.Render("stuck"), stats.Stuck))
					b.WriteString(statusDimStyle.Render("  (run 'fitsync retry')") + "\n")
				}

				if stats.Total > 0 {
					pct := 100 * stats.Synced / stats.Total
					b.WriteString(fmt.Sprintf("\n%d%% synced\n", pct))
				}

				fmt.Print(b.String())
				return nil
			})
		},
	}
}
