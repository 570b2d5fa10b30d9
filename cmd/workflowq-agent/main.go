package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/miles990/multi-agent-workflow/internal/cliapp"
	"github.com/miles990/multi-agent-workflow/internal/queue"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

func main() {
	app := &cli.App{
		Name:            "workflowq-agent",
		Usage:           "Agent-side helper for the workflow message queue",
		CommandNotFound: commandNotFound,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "agent",
				Aliases: []string{"a"},
				Usage:   "Agent id",
				EnvVars: []string{"WORKFLOW_AGENT_ID"},
			},
			&cli.StringFlag{
				Name:    "workflow",
				Aliases: []string{"w"},
				Usage:   "Workflow id (defaults to the current workflow)",
				EnvVars: []string{"WORKFLOW_ID"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "read",
				Usage:  "Print unread messages (a fresh process sees every message)",
				Action: readMessages,
			},
			{
				Name:      "ack",
				Usage:     "Acknowledge a message",
				ArgsUsage: "<msgId> [status]",
				Action:    ackMessage,
			},
			{
				Name:  "heartbeat",
				Usage: "Record that this agent is alive",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "loop",
						Usage: "Keep beating until interrupted",
					},
				},
				Action: heartbeat,
			},
			{
				Name:      "send",
				Usage:     "Send a message from this agent",
				ArgsUsage: "<to> <type> [jsonPayload]",
				Action:    sendMessage,
			},
			{
				Name:  "complete",
				Usage: "Report task completion to the orchestrator",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "output",
						Usage:    "Task output/results",
						Required: true,
					},
				},
				Action: completeTask,
			},
			{
				Name:  "watch",
				Usage: "Print messages as they arrive",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "ack",
						Usage: "Ack messages that require it with status received",
					},
				},
				Action: watchMessages,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func commandNotFound(c *cli.Context, command string) {
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
	_ = cli.ShowAppHelp(c)
	os.Exit(1)
}

func agentID(c *cli.Context) (string, error) {
	id := c.String("agent")
	if id == "" {
		return "", fmt.Errorf("agent id is required: set WORKFLOW_AGENT_ID or pass --agent")
	}
	return id, nil
}

func setup(c *cli.Context) (*cliapp.Env, string, error) {
	agent, err := agentID(c)
	if err != nil {
		return nil, "", err
	}
	env, err := cliapp.Setup(c.Bool("verbose"))
	if err != nil {
		return nil, "", err
	}
	return env, agent, nil
}

func readMessages(c *cli.Context) error {
	env, agent, err := setup(c)
	if err != nil {
		return err
	}

	msgs, err := env.Queue.NewReader().ReadMessages(c.String("workflow"), agent)
	if err != nil {
		return err
	}
	return cliapp.PrintJSON(os.Stdout, msgs)
}

func ackMessage(c *cli.Context) error {
	msgID := c.Args().First()
	if msgID == "" {
		return fmt.Errorf("message id is required")
	}
	env, agent, err := setup(c)
	if err != nil {
		return err
	}

	status := c.Args().Get(1)
	if status == "" {
		status = workflow.AckStatusReceived
	}

	ack, err := env.Queue.SendAck(c.String("workflow"), agent, msgID, status)
	if err != nil {
		return err
	}
	return cliapp.PrintJSON(os.Stdout, ack)
}

func heartbeat(c *cli.Context) error {
	env, agent, err := setup(c)
	if err != nil {
		return err
	}
	wf := c.String("workflow")

	at, err := env.Queue.UpdateHeartbeat(wf, agent)
	if err != nil {
		return err
	}
	if !c.Bool("loop") {
		fmt.Printf("Heartbeat: %s\n", at.Format(time.RFC3339))
		return nil
	}

	ctx, cancel := cliapp.SignalContext()
	defer cancel()

	ticker := time.NewTicker(env.Config.HeartbeatInterval)
	defer ticker.Stop()

	env.Logger.Info("heartbeat loop started", "agent", agent, "interval", env.Config.HeartbeatInterval)
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if _, err := env.Queue.UpdateHeartbeat(wf, agent); err != nil {
				env.Logger.Warn("heartbeat failed", "agent", agent, "err", err)
			}
		}
	}
}

func sendMessage(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: %s send %s", c.App.Name, c.Command.ArgsUsage)
	}
	payload, err := cliapp.ParsePayload(c.Args().Get(2))
	if err != nil {
		return err
	}
	env, agent, err := setup(c)
	if err != nil {
		return err
	}

	id, err := env.Queue.Send(c.String("workflow"), agent, c.Args().Get(0), workflow.MessageType(c.Args().Get(1)), payload)
	if err != nil {
		return err
	}
	fmt.Printf("Message sent: %s\n", id)
	return nil
}

func completeTask(c *cli.Context) error {
	env, agent, err := setup(c)
	if err != nil {
		return err
	}

	payload := map[string]string{"output": c.String("output")}
	id, err := env.Queue.Send(c.String("workflow"), agent, workflow.Orchestrator, workflow.MessageTaskComplete, payload)
	if err != nil {
		return err
	}
	fmt.Printf("Task completion reported: %s\n", id)
	return nil
}

func watchMessages(c *cli.Context) error {
	env, agent, err := setup(c)
	if err != nil {
		return err
	}

	wf := c.String("workflow")
	if wf == "" {
		wf = env.Queue.Current()
	}
	if wf == "" {
		return queue.ErrNoActiveWorkflow
	}

	ctx, cancel := cliapp.SignalContext()
	defer cancel()

	w := &watcher{
		q:      env.Queue,
		reader: env.Queue.NewReader(),
		wf:     wf,
		agent:  agent,
		ack:    c.Bool("ack"),
	}
	return w.run(ctx, env)
}

type watcher struct {
	q      *queue.Queue
	reader *queue.Reader
	wf     string
	agent  string
	ack    bool
}

func (w *watcher) run(ctx context.Context, env *cliapp.Env) error {
	var events <-chan queue.ChannelEvent
	monitor, err := w.q.NewChannelMonitor(w.wf)
	if err == nil {
		if err = monitor.Start(); err != nil {
			monitor.Stop()
		}
	}
	if err != nil {
		env.Logger.Warn("file monitor unavailable, polling only", "err", err)
	} else {
		defer monitor.Stop()
		events = monitor.Events()
	}

	if err := w.drain(env); err != nil {
		return err
	}

	ticker := time.NewTicker(env.Config.PollingInterval)
	defer ticker.Stop()

	inbox := "agents/" + w.agent
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-events:
			if ev.Ack || (ev.Channel != inbox && ev.Channel != workflow.Broadcast) {
				continue
			}
			if err := w.drain(env); err != nil {
				env.Logger.Error("read failed", "err", err)
			}

		case <-ticker.C:
			if err := w.drain(env); err != nil {
				env.Logger.Error("read failed", "err", err)
			}
		}
	}
}

func (w *watcher) drain(env *cliapp.Env) error {
	msgs, err := w.reader.ReadMessages(w.wf, w.agent)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if err := cliapp.PrintJSON(os.Stdout, msg); err != nil {
			return err
		}
		if !w.ack || !msg.RequiresAck {
			continue
		}
		if _, err := w.q.SendAck(w.wf, w.agent, msg.ID, workflow.AckStatusReceived); err != nil {
			env.Logger.Warn("failed to ack message", "msg_id", msg.ID, "err", err)
		}
	}
	return nil
}
