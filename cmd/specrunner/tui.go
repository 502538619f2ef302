package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/specrunner/internal/tui"
)

// runController lets the TUI start and cancel runs over all stored tasks.
type runController struct {
	ctx context.Context
	app *app
}

func (c *runController) Start() error {
	if c.app.runner.IsRunning() {
		return errors.New("a run is already active")
	}
	batch, err := c.app.store.ListSpecs(c.ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return errors.New("no tasks in the store")
	}
	return c.app.runner.RunTasks(c.ctx, batch)
}

func (c *runController) Cancel() {
	c.app.runner.Cancel()
}

func runTUI(ctx context.Context, stop func(), args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tui", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	addCommonFlags(fs, &common)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, globalPath, projectPath, err := loadConfig(common)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	// Logs would corrupt the alternate screen.
	a, err := newApp(ctx, cfg, io.Discard)
	if err != nil {
		fmt.Fprintf(stderr, "tui failed: %v\n", err)
		return 1
	}
	defer a.Close()

	model := tui.New(tui.Options{
		Bus:         a.bus,
		Holder:      a.holder,
		Controller:  &runController{ctx: ctx, app: a},
		GlobalPath:  globalPath,
		ProjectPath: projectPath,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithOutput(stdout))

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	select {
	case err := <-errChan:
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		stop()
		a.runner.Cancel()
		if err := a.pm.KillAll(); err != nil {
			fmt.Fprintf(stderr, "Error killing subprocesses: %v\n", err)
		}
		p.Quit()

		select {
		case err := <-errChan:
			if err != nil {
				fmt.Fprintf(stderr, "TUI exit error: %v\n", err)
			}
		case <-time.After(10 * time.Second):
			fmt.Fprintln(stderr, "Shutdown timeout exceeded, forcing exit")
		}
	}
	return 0
}
