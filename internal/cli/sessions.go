package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored chat sessions of an identity",
	Long: `List the stored chat sessions of --identity, most recent first.
Anonymous users have no stored sessions to list.

Examples:
  nova sessions -u alice@example.com`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if identity == "" || identity == config.AnonymousIdentity {
		return errors.New("sessions: --identity is required")
	}

	store, err := deps.chatStore(ctx)
	if err != nil {
		return err
	}
	list, err := store.List(ctx, identity)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	printSessions(cmd.OutOrStdout(), list)
	return nil
}

func printSessions(w io.Writer, list []models.ChatSummary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No sessions found")
		return
	}
	t := table.New().
		Headers("ID", "UPDATED", "MESSAGES", "TITLE").
		BorderColumn(false).
		BorderHeader(true)
	for _, s := range list {
		t.Row(s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), fmt.Sprint(s.Messages), s.Title)
	}
	fmt.Fprintln(w, t.Render())
}
