package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/miles990/multi-agent-workflow/internal/cliapp"
	"github.com/miles990/multi-agent-workflow/internal/eventindex"
	"github.com/miles990/multi-agent-workflow/internal/queue"
	"github.com/miles990/multi-agent-workflow/internal/routing"
	"github.com/miles990/multi-agent-workflow/internal/server"
	"github.com/miles990/multi-agent-workflow/internal/supervisor"
	"github.com/miles990/multi-agent-workflow/internal/tui"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "workflowq",
		Usage:           "File-backed message queue for multi-agent workflows",
		CommandNotFound: commandNotFound,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workflow",
				Aliases: []string{"w"},
				Usage:   "Workflow id (defaults to the current workflow)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Create or reset a workflow and make it current",
				ArgsUsage: "<id> [type] [topic]",
				Action:    initWorkflow,
			},
			{
				Name:      "register",
				Usage:     "Register an agent in the workflow",
				ArgsUsage: "<agentId> [perspective]",
				Action:    registerAgent,
			},
			{
				Name:      "send",
				Usage:     "Send a message",
				ArgsUsage: "<to> <type> [jsonPayload]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "from",
						Usage: "Sender id",
						Value: workflow.Orchestrator,
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Wait for the receiver's ack, resending on timeout",
					},
				},
				Action: sendMessage,
			},
			{
				Name:      "read",
				Usage:     "Print an agent's messages",
				ArgsUsage: "<agentId>",
				Action:    readMessages,
			},
			{
				Name:      "health",
				Usage:     "Check agent heartbeats",
				ArgsUsage: "[timeoutSeconds]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "table",
						Usage: "Print a table instead of JSON",
					},
				},
				Action: checkHealth,
			},
			{
				Name:   "status",
				Usage:  "Print the workflow registry",
				Action: showStatus,
			},
			{
				Name:      "cleanup",
				Usage:     "Archive or delete a workflow",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "delete",
						Usage: "Delete instead of archiving",
					},
				},
				Action: cleanupWorkflow,
			},
			{
				Name:   "current",
				Usage:  "Print the current workflow id",
				Action: showCurrent,
			},
			{
				Name:      "route",
				Usage:     "Pick a model for a stage and perspective",
				ArgsUsage: "<stage> <perspective>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "table",
						Usage: "Path to a routing table YAML file",
					},
				},
				Action: routeModel,
			},
			{
				Name:  "watch",
				Usage: "Supervise the workflow: drain the orchestrator channel and watch health",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "threshold",
						Usage: "Heartbeat age after which an agent is unresponsive",
						Value: queue.DefaultHealthThreshold,
					},
				},
				Action: watchWorkflow,
			},
			{
				Name:  "serve",
				Usage: "Serve the queue over HTTP",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "Listen port",
						Value: 8765,
					},
				},
				Action: serveWorkflow,
			},
			{
				Name:   "dashboard",
				Usage:  "Open the terminal dashboard",
				Action: openDashboard,
			},
			{
				Name:  "events",
				Usage: "Index and query the audit logs",
				Subcommands: []*cli.Command{
					{
						Name:      "export",
						Usage:     "Copy the workflow's events and errors into the SQLite index",
						ArgsUsage: "[db]",
						Flags:     []cli.Flag{dbFlag()},
						Action:    exportEvents,
					},
					{
						Name:      "query",
						Usage:     "Query the SQLite index",
						ArgsUsage: "[db] [type]",
						Flags: []cli.Flag{
							dbFlag(),
							&cli.StringFlag{
								Name:  "type",
								Usage: "Event or error type",
							},
							&cli.DurationFlag{
								Name:  "since",
								Usage: "Only records newer than this",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "Maximum number of records",
								Value: 50,
							},
							&cli.BoolFlag{
								Name:  "errors",
								Usage: "Query errors instead of events",
							},
							&cli.BoolFlag{
								Name:  "all",
								Usage: "Include every workflow",
							},
						},
						Action: queryEvents,
					},
				},
			},
		},
	}
}

func commandNotFound(c *cli.Context, command string) {
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
	_ = cli.ShowAppHelp(c)
	os.Exit(1)
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "db",
		Usage: "Index database path (defaults to events.db in the base directory)",
	}
}

func setup(c *cli.Context) (*cliapp.Env, error) {
	return cliapp.Setup(c.Bool("verbose"))
}

// requireArgs fails with the command's usage line when fewer than n
// positional arguments were given.
func requireArgs(c *cli.Context, n int) error {
	if c.NArg() >= n {
		return nil
	}
	return fmt.Errorf("usage: %s %s %s", c.App.Name, c.Command.Name, c.Command.ArgsUsage)
}

func argOr(c *cli.Context, i int, def string) string {
	if v := c.Args().Get(i); v != "" {
		return v
	}
	return def
}

func initWorkflow(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	env, err := setup(c)
	if err != nil {
		return err
	}

	dir, err := env.Queue.Init(c.Args().Get(0), argOr(c, 1, "research"), argOr(c, 2, "default"))
	if err != nil {
		return err
	}

	fmt.Printf("Workflow initialized: %s\n", c.Args().Get(0))
	env.Logger.Debug("workflow directory", "path", dir)
	return nil
}

func registerAgent(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	env, err := setup(c)
	if err != nil {
		return err
	}

	id, err := env.Queue.RegisterAgent(c.String("workflow"), c.Args().Get(0), argOr(c, 1, "unknown"))
	if err != nil {
		return err
	}

	fmt.Printf("Agent registered: %s\n", id)
	return nil
}

func sendMessage(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	payload, err := cliapp.ParsePayload(c.Args().Get(2))
	if err != nil {
		return err
	}
	env, err := setup(c)
	if err != nil {
		return err
	}

	to := c.Args().Get(0)
	msgType := workflow.MessageType(c.Args().Get(1))
	wf := c.String("workflow")

	if !c.Bool("wait") {
		id, err := env.Queue.Send(wf, c.String("from"), to, msgType, payload)
		if err != nil {
			return err
		}
		fmt.Printf("Message sent: %s\n", id)
		return nil
	}

	if wf == "" {
		wf = env.Queue.Current()
	}
	if wf == "" {
		return queue.ErrNoActiveWorkflow
	}

	ctx, cancel := cliapp.SignalContext()
	defer cancel()

	sup := supervisor.New(env.Queue, wf, env.Config, supervisor.WithLogger(env.Logger))
	id, result, err := sup.SendWithAck(ctx, to, msgType, payload)
	if id != "" {
		fmt.Printf("Message sent: %s\n", id)
	}
	if err != nil && !errors.Is(err, supervisor.ErrAckTimeout) {
		return err
	}
	if perr := cliapp.PrintJSON(os.Stdout, result); perr != nil {
		return perr
	}
	return err
}

func readMessages(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	env, err := setup(c)
	if err != nil {
		return err
	}

	msgs, err := env.Queue.NewReader().ReadMessages(c.String("workflow"), c.Args().Get(0))
	if err != nil {
		return err
	}
	return cliapp.PrintJSON(os.Stdout, msgs)
}

func checkHealth(c *cli.Context) error {
	var threshold time.Duration
	if arg := c.Args().Get(0); arg != "" {
		secs, err := strconv.ParseFloat(arg, 64)
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid timeout %q: want a positive number of seconds", arg)
		}
		threshold = time.Duration(secs * float64(time.Second))
	}

	env, err := setup(c)
	if err != nil {
		return err
	}

	report, err := env.Queue.CheckAgentsHealth(c.String("workflow"), threshold)
	if err != nil {
		return err
	}

	if c.Bool("table") {
		return cliapp.WriteHealth(os.Stdout, report, cliapp.IsTerminal(os.Stdout))
	}
	return cliapp.PrintJSON(os.Stdout, report)
}

func showStatus(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}

	reg, err := env.Queue.Registry(c.String("workflow"))
	if err != nil {
		return err
	}
	return cliapp.PrintJSON(os.Stdout, reg)
}

func cleanupWorkflow(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	env, err := setup(c)
	if err != nil {
		return err
	}

	id := c.Args().Get(0)
	result, err := env.Queue.Cleanup(id, !c.Bool("delete"))
	if err != nil {
		return err
	}

	if result.Archived {
		fmt.Printf("Workflow archived: %s -> %s\n", id, result.ArchivePath)
	} else {
		fmt.Printf("Workflow deleted: %s\n", id)
	}
	return nil
}

func showCurrent(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}

	cur := env.Queue.Current()
	if cur == "" {
		return queue.ErrNoActiveWorkflow
	}
	fmt.Println(cur)
	return nil
}

func routeModel(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}

	table := routing.DefaultTable()
	if path := c.String("table"); path != "" {
		parsed, err := routing.NewParser().ParseFile(path)
		if err != nil {
			return fmt.Errorf("failed to load routing table: %w", err)
		}
		table = parsed
	}

	return cliapp.PrintJSON(os.Stdout, table.Lookup(c.Args().Get(0), c.Args().Get(1)))
}

// workflowID resolves the --workflow flag against the current workflow and
// checks the workflow exists.
func workflowID(c *cli.Context, q *queue.Queue) (string, error) {
	id := c.String("workflow")
	if id == "" {
		id = q.Current()
	}
	if id == "" {
		return "", queue.ErrNoActiveWorkflow
	}
	if _, err := q.Registry(id); err != nil {
		return "", err
	}
	return id, nil
}

func watchWorkflow(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	wf, err := workflowID(c, env.Queue)
	if err != nil {
		return err
	}

	ctx, cancel := cliapp.SignalContext()
	defer cancel()

	sup := supervisor.New(env.Queue, wf, env.Config,
		supervisor.WithLogger(env.Logger),
		supervisor.WithHandler(newWatchHandler(env.Queue, wf, os.Stdout, env.Logger)),
		supervisor.WithHealthThreshold(c.Duration("threshold")),
	)

	env.Logger.Info("supervising workflow", "workflow", wf, "poll", env.Config.PollingInterval)
	return sup.Run(ctx)
}

func serveWorkflow(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	wf, err := workflowID(c, env.Queue)
	if err != nil {
		return err
	}

	srv := server.NewServer(env.Queue, wf, env.Config, c.Int("port"), env.Logger)

	ctx, cancel := cliapp.SignalContext()
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-errCh
}

func openDashboard(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	wf, err := workflowID(c, env.Queue)
	if err != nil {
		return err
	}

	if err := tui.Run(env.Queue, wf, queue.DefaultHealthThreshold, env.Logger); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func indexPath(c *cli.Context, q *queue.Queue) string {
	if p := c.Args().Get(0); p != "" {
		return p
	}
	if p := c.String("db"); p != "" {
		return p
	}
	return filepath.Join(q.BaseDir(), "events.db")
}

func exportEvents(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	wf, err := workflowID(c, env.Queue)
	if err != nil {
		return err
	}
	dir, err := env.Queue.WorkflowDir(wf)
	if err != nil {
		return err
	}

	db := indexPath(c, env.Queue)
	res, err := eventindex.Export(c.Context, db, dir)
	if err != nil {
		return err
	}

	fmt.Printf("Exported %d events and %d errors to %s\n", res.Events, res.Errors, db)
	return nil
}

func queryEvents(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}

	opts := eventindex.QueryOpts{
		Type:  argOr(c, 1, c.String("type")),
		Limit: c.Int("limit"),
	}
	if !c.Bool("all") {
		if opts.WorkflowID, err = workflowID(c, env.Queue); err != nil {
			return err
		}
	}
	if since := c.Duration("since"); since > 0 {
		after := time.Now().Add(-since)
		opts.After = &after
	}

	ix, err := eventindex.Open(c.Context, indexPath(c, env.Queue))
	if err != nil {
		return err
	}
	defer ix.Close()

	if c.Bool("errors") {
		errs, err := ix.QueryErrors(c.Context, opts)
		if err != nil {
			return err
		}
		return cliapp.PrintJSON(os.Stdout, errs)
	}

	events, err := ix.QueryEvents(c.Context, opts)
	if err != nil {
		return err
	}
	return cliapp.PrintJSON(os.Stdout, events)
}
