package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/raphaelgruber/nova-go/internal/service"
	"github.com/spf13/cobra"
)

var chatMetricsAddr string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Start an interactive chat session. Every turn is stored; logged-in users
can list and resume their earlier sessions.

Commands inside the chat:
  /login <email>   attach the session to an identity
  /sessions        list your stored sessions
  /resume <id>     continue a stored session
  /new             start a new session
  /stats           show runtime statistics
  /quit            leave

Examples:
  nova chat
  nova chat -u alice@example.com --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, err := deps.chatService(ctx)
	if err != nil {
		return err
	}

	if chatMetricsAddr != "" {
		srv := &http.Server{
			Addr:              chatMetricsAddr,
			Handler:           promhttp.HandlerFor(deps.metrics.Registry(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
		logger.Info("serving metrics", "addr", chatMetricsAddr)
	}

	r := newREPL(svc, deps.metrics, identity, os.Stdin, cmd.OutOrStdout())
	return r.Run(ctx)
}

// chatSessions is the part of service.ChatService the REPL drives.
type chatSessions interface {
	Start(identity string) string
	Send(ctx context.Context, id, identity, message string) (service.ChatReply, error)
	Login(ctx context.Context, id, identity string) (string, error)
	Sessions(ctx context.Context, identity string) ([]models.ChatSummary, error)
	Resume(ctx context.Context, id, identity string) (*models.ChatDocument, error)
}

// repl runs the line-based chat loop.
type repl struct {
	svc      chatSessions
	metrics  *metrics.Collector
	identity string
	session  string
	in       io.Reader
	out      io.Writer
	theme    Theme
}

func newREPL(svc chatSessions, collector *metrics.Collector, identity string, in io.Reader, out io.Writer) *repl {
	if identity == "" {
		identity = config.AnonymousIdentity
	}
	return &repl{svc: svc, metrics: collector, identity: identity, in: in, out: out, theme: defaultTheme}
}

// Run reads lines until EOF, /quit or ctx is done.
func (r *repl) Run(ctx context.Context) error {
	r.session = r.svc.Start(r.identity)
	fmt.Fprintln(r.out, r.theme.hintStyle().Render("Session "+r.session+". Type /quit to leave."))

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, r.theme.statusStyle().Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, r.theme.errorStyle().Render("✗ "+err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		reply, err := r.svc.Send(ctx, r.session, r.identity, line)
		if err != nil {
			fmt.Fprintln(r.out, r.theme.errorStyle().Render("✗ "+err.Error()))
			continue
		}
		style := r.theme.completedStyle()
		if reply.Failed {
			style = r.theme.errorStyle()
		}
		fmt.Fprintln(r.out, style.Render("nova> ")+reply.Text)
	}
}

func (r *repl) command(ctx context.Context, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		r.session = r.svc.Start(r.identity)
		fmt.Fprintln(r.out, r.theme.hintStyle().Render("Session "+r.session))

	case "/login":
		if arg == "" {
			return false, errors.New("usage: /login <email>")
		}
		id, err := r.svc.Login(ctx, r.session, arg)
		if err != nil {
			return false, err
		}
		r.session, r.identity = id, arg
		fmt.Fprintln(r.out, r.theme.hintStyle().Render("Logged in as "+arg+". Session "+id))

	case "/sessions":
		if r.identity == config.AnonymousIdentity {
			fmt.Fprintln(r.out, "Log in to list your sessions")
			return false, nil
		}
		list, err := r.svc.Sessions(ctx, r.identity)
		if err != nil {
			return false, err
		}
		printSessions(r.out, list)

	case "/resume":
		if arg == "" {
			return false, errors.New("usage: /resume <session-id>")
		}
		doc, err := r.svc.Resume(ctx, arg, r.identity)
		if err != nil {
			return false, err
		}
		r.session = doc.ID
		for _, m := range doc.Messages {
			prefix := r.theme.statusStyle().Render("you> ")
			if m.Sender == models.SenderBot {
				prefix = r.theme.completedStyle().Render("nova> ")
			}
			fmt.Fprintln(r.out, prefix+m.Content)
		}

	case "/stats":
		printStats(r.out, r.metrics.Snapshot())

	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}
