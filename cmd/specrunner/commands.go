package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aristath/specrunner/internal/backlog"
	"github.com/aristath/specrunner/internal/config"
	"github.com/aristath/specrunner/internal/orchestrator"
	"github.com/aristath/specrunner/internal/scheduler"
)

func addCommonFlags(fs *flag.FlagSet, c *commonFlags) {
	fs.StringVar(&c.storePath, "store", "", "task store path (overrides store_path)")
	fs.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")
}

func runRun(ctx context.Context, stop func(), args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	var runMode, execMode, tool, taskList string
	var concurrency int
	var files stringFlags
	var timeout time.Duration
	addCommonFlags(fs, &common)
	fs.StringVar(&runMode, "mode", "", "llm or cli (overrides run_mode)")
	fs.StringVar(&execMode, "exec", "", "sequential or parallel (overrides execution_mode)")
	fs.StringVar(&tool, "tool", "", "CLI tool name (overrides cli_tool)")
	fs.IntVar(&concurrency, "concurrency", 0, "parallel worker limit (overrides max_concurrency)")
	fs.StringVar(&taskList, "tasks", "", "comma-separated task ids to run (default: all)")
	fs.Var(&files, "file", "file to attach to every prompt (repeatable)")
	fs.DurationVar(&timeout, "timeout", 0, "cancel the run after this long")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, _, err := loadConfig(common)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	applyRunOverrides(cfg, runMode, execMode, tool, concurrency)

	a, err := newApp(ctx, cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "run failed: %v\n", err)
		return 1
	}
	defer a.Close()
	a.dispatcher.Files().Pin(files...)

	batch, err := selectTasks(ctx, a.store, taskList)
	if err != nil {
		fmt.Fprintf(stderr, "run failed: %v\n", err)
		return 1
	}
	if len(batch) == 0 {
		fmt.Fprintln(stdout, "no tasks to run")
		return 0
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	summary := newSummary(stdout)
	a.runner.AddListener(summary)

	if err := a.runner.RunTasks(runCtx, batch); err != nil {
		fmt.Fprintf(stderr, "run failed: %v\n", err)
		return 1
	}

	select {
	case <-a.runner.Done():
	case <-ctx.Done():
		// Restore default handling so a second signal force-exits.
		stop()
		fmt.Fprintln(stderr, "interrupt received, cancelling run...")
		<-a.runner.Done()
	}

	if summary.state != orchestrator.StateAllCompleted || summary.skipped > 0 {
		return 1
	}
	return 0
}

func applyRunOverrides(cfg *config.Config, runMode, execMode, tool string, concurrency int) {
	if runMode != "" {
		cfg.RunMode = runMode
	}
	if execMode != "" {
		cfg.ExecutionMode = execMode
	}
	if tool != "" {
		cfg.CLITool = tool
	}
	if concurrency > 0 {
		cfg.MaxConcurrency = concurrency
	}
}

// taskLister is the read side of the store used by the commands.
type taskLister interface {
	ListSpecs(ctx context.Context) ([]scheduler.Task, error)
}

// selectTasks returns the stored tasks named in list, or every stored task
// when list is empty. Unknown ids are an error.
func selectTasks(ctx context.Context, store taskLister, list string) ([]scheduler.Task, error) {
	all, err := store.ListSpecs(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(list) == "" {
		return all, nil
	}

	byKey := make(map[string]scheduler.Task, len(all))
	for _, t := range all {
		byKey[scheduler.Key(t.ID)] = t
	}

	var batch []scheduler.Task
	var missing []string
	for _, id := range strings.Split(list, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		t, ok := byKey[scheduler.Key(id)]
		if !ok {
			missing = append(missing, id)
			continue
		}
		batch = append(batch, t)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown tasks: %s", strings.Join(missing, ", "))
	}
	return batch, nil
}

// summary prints one line per task outcome and remembers how the run ended.
// A run that skipped any task exits non-zero.
type summary struct {
	out     io.Writer
	state   orchestrator.RunState
	skipped int
}

func newSummary(out io.Writer) *summary {
	return &summary{out: out, state: orchestrator.StateIdle}
}

func (s *summary) OnRunStarted(total int) {
	fmt.Fprintf(s.out, "running %d tasks\n", total)
}

func (s *summary) OnTaskStarted(task scheduler.Task, index, total int) {
	fmt.Fprintf(s.out, "[%d/%d] ▶ %s %s\n", index+1, total, task.ID, task.Title)
}

func (s *summary) OnTaskCompleted(task scheduler.Task, index, total int) {
	fmt.Fprintf(s.out, "[%d/%d] ✓ %s\n", index+1, total, task.ID)
}

func (s *summary) OnTaskSkipped(task scheduler.Task, index, total int, reason string) {
	fmt.Fprintf(s.out, "[%d/%d] ✗ %s: %s\n", index+1, total, task.ID, reason)
}

func (s *summary) OnRunFinished(completed, skipped, total int, state orchestrator.RunState) {
	s.state = state
	s.skipped = skipped
	fmt.Fprintf(s.out, "%s: %d completed, %d skipped, %d total\n", state, completed, skipped, total)
}

func runImport(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	addCommonFlags(fs, &common)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "import requires a backlog file")
		return 2
	}

	cfg, _, _, err := loadConfig(common)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "import failed: %v\n", err)
		return 1
	}
	defer store.Close()

	total := 0
	for _, path := range fs.Args() {
		tasks, err := backlog.LoadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "import failed: %v\n", err)
			return 1
		}
		n, err := backlog.Import(ctx, store, tasks)
		total += n
		if err != nil {
			fmt.Fprintf(stderr, "import failed after %d tasks: %v\n", total, err)
			return 1
		}
	}
	fmt.Fprintf(stdout, "imported %d tasks\n", total)
	return 0
}

func runList(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	addCommonFlags(fs, &common)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, _, err := loadConfig(common)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "list failed: %v\n", err)
		return 1
	}
	defer store.Close()

	tasks, err := store.ListSpecs(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "list failed: %v\n", err)
		return 1
	}
	if err := printTasks(stdout, tasks); err != nil {
		fmt.Fprintf(stderr, "list failed: %v\n", err)
		return 1
	}
	return 0
}

// printTasks writes tasks in run order. A cycle falls back to store order
// and is reported after the table.
func printTasks(w io.Writer, tasks []scheduler.Task) error {
	order, sortErr := scheduler.Sort(tasks, tasks)
	if sortErr != nil {
		order = tasks
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tORDINAL\tDEPENDS ON\tTITLE")
	for _, t := range order {
		ordinal := "-"
		if t.Ordinal != 0 {
			ordinal = fmt.Sprint(t.Ordinal)
		}
		deps := strings.Join(t.Dependencies, ",")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, ordinal, deps, t.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if sortErr != nil {
		fmt.Fprintf(w, "\nwarning: %v\n", sortErr)
	}
	return nil
}

func runValidate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	var file string
	addCommonFlags(fs, &common)
	fs.StringVar(&file, "file", "", "validate an HCL backlog file instead of the store")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var tasks []scheduler.Task
	if file != "" {
		var err error
		if tasks, err = backlog.LoadFile(file); err != nil {
			fmt.Fprintf(stderr, "validate failed: %v\n", err)
			return 1
		}
	} else {
		cfg, _, _, err := loadConfig(common)
		if err != nil {
			fmt.Fprintf(stderr, "config: %v\n", err)
			return 1
		}
		store, err := openStore(ctx, cfg)
		if err != nil {
			fmt.Fprintf(stderr, "validate failed: %v\n", err)
			return 1
		}
		defer store.Close()
		if tasks, err = store.ListSpecs(ctx); err != nil {
			fmt.Fprintf(stderr, "validate failed: %v\n", err)
			return 1
		}
	}

	return validateTasks(tasks, stdout, stderr)
}

func validateTasks(tasks []scheduler.Task, stdout, stderr io.Writer) int {
	dag, err := scheduler.NewDAGFromTasks(tasks)
	if err != nil {
		fmt.Fprintf(stderr, "invalid backlog: %v\n", err)
		return 1
	}

	report, err := dag.Validate()
	var cycle *scheduler.CycleError
	if errors.As(err, &cycle) {
		fmt.Fprintf(stderr, "invalid backlog: %v\n", cycle)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "invalid backlog: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, report.String())
	return 0
}
