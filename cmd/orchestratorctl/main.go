// Command orchestratorctl is the operator control surface for an embedded
// orchestrator: it wires up the same components internal/app/app.go wires
// for the long-running server, performs one operation against the
// executor, prints the result, and exits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/app"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/config"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/orchestration"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/registry"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/transport"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const usage = `orchestratorctl [--config path] <command> [args]

Commands:
  run <request>                 call the executor, print the execution id
  status [execution_id]         print one or all execution snapshots
  pause <execution_id>          forward to executor
  resume <execution_id>         forward to executor
  cancel <execution_id>         forward to executor
  rollback <execution_id> [checkpoint_id]   forward to recovery
  metrics                       print executor and pool aggregates
`

// Exit codes: 0 success, 1 operation failed, 2 usage error.
func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("orchestratorctl %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		return 0
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Error("failed to load configuration")
		return 1
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	application := app.New(cfg)
	executor := application.Executor()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return cmdRun(executor, rest)
	case "status":
		return cmdStatus(executor, rest)
	case "pause":
		return cmdTransition(executor.Pause, rest)
	case "resume":
		return cmdTransition(executor.Resume, rest)
	case "cancel":
		return cmdTransition(executor.Cancel, rest)
	case "rollback":
		return cmdRollback(executor, rest)
	case "metrics":
		return cmdMetrics(application)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func cmdRun(executor *orchestration.Executor, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "run requires a request string")
		return 2
	}
	request := strings.Join(args, " ")

	gen := &transport.StubPlanGenerator{DefaultRole: registry.RoleImplementation, DefaultPriority: task.PriorityMedium}
	plan, err := gen.GeneratePlan(context.Background(), request)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	execID, err := executor.Execute(plan, orchestration.Callbacks{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(execID)
	return 0
}

func cmdStatus(executor *orchestration.Executor, args []string) int {
	if len(args) == 0 {
		ids := executor.ActiveExecutions()
		snapshots := make([]*orchestration.WorkflowExecution, 0, len(ids))
		for _, id := range ids {
			we, err := executor.Status(id)
			if err != nil {
				continue
			}
			snapshots = append(snapshots, we)
		}
		return printJSON(snapshots)
	}

	we, err := executor.Status(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return printJSON(we)
}

func cmdTransition(fn func(string) error, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "execution id is required")
		return 2
	}
	if err := fn(args[0]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("ok")
	return 0
}

func cmdRollback(executor *orchestration.Executor, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "execution id is required")
		return 2
	}
	checkpointID := ""
	if len(args) > 1 {
		checkpointID = args[1]
	}
	if err := executor.Rollback(args[0], checkpointID); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("ok")
	return 0
}

func cmdMetrics(application *app.App) int {
	return printJSON(map[string]interface{}{
		"pools": application.Executor().Metrics(),
	})
}

func printJSON(v interface{}) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
