package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errRequestFailed = errors.New("request failed")

var askShowCategory bool

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Answer a single message",
	Long: `Answer one customer message in a fresh session and print the reply.

Messages with several questions are split, answered one by one and
combined into a single reply.

Examples:
  nova ask "How do I pair my speaker?"
  nova ask "What is the total of my last order?" -u alice@example.com
  nova ask "Hi! Do you ship to Austria and how do I reset my headphones?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askShowCategory, "show-category", false, "print which agent answered")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, err := deps.chatService(ctx)
	if err != nil {
		return err
	}

	id := svc.Start(identity)
	reply, err := svc.Send(ctx, id, identity, args[0])
	if err != nil {
		return err
	}

	if askShowCategory && reply.Category != "" {
		fmt.Println(defaultTheme.hintStyle().Render("[" + reply.Category + "]"))
	}
	fmt.Println(reply.Text)
	if reply.Failed {
		return errRequestFailed
	}
	return nil
}
