package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aristath/specrunner/internal/backend"
	"github.com/aristath/specrunner/internal/chat"
	"github.com/aristath/specrunner/internal/config"
	"github.com/aristath/specrunner/internal/events"
	"github.com/aristath/specrunner/internal/logging"
	"github.com/aristath/specrunner/internal/orchestrator"
	"github.com/aristath/specrunner/internal/persistence"
	"github.com/aristath/specrunner/internal/scheduler"
	"github.com/aristath/specrunner/internal/toolexec"
)

// commonFlags are accepted by every command that opens the store.
type commonFlags struct {
	storePath string
	logLevel  string
}

// loadConfig reads the layered configuration and applies flag overrides.
func loadConfig(common commonFlags) (*config.Config, string, string, error) {
	globalPath, projectPath, err := config.DefaultPaths()
	if err != nil {
		return nil, "", "", err
	}
	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return nil, "", "", err
	}
	if common.storePath != "" {
		cfg.StorePath = common.storePath
	}
	if common.logLevel != "" {
		cfg.LogLevel = common.logLevel
	}
	return cfg, globalPath, projectPath, nil
}

// openStore opens the task store named by cfg.
func openStore(ctx context.Context, cfg *config.Config) (*persistence.SQLiteStore, error) {
	store, err := persistence.NewSQLiteStore(ctx, cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.StorePath, err)
	}
	return store, nil
}

// app is the fully wired runtime used by run and tui.
type app struct {
	holder     *config.Holder
	logger     *slog.Logger
	store      *persistence.SQLiteStore
	bus        *events.EventBus
	pm         *backend.ProcessManager
	tools      *toolexec.Service
	dispatcher *chat.Dispatcher
	chat       *chat.Service
	runner     *orchestrator.Runner

	stopChat context.CancelFunc
}

// newApp wires the store, backends and runner. logOut receives log output.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		holder: config.NewHolder(cfg),
		logger: logger,
		store:  store,
		bus:    events.NewEventBus(),
		pm:     backend.NewProcessManager(),
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	a.tools = toolexec.New(toolexec.Config{
		WorkDir:        workDir,
		ProcessManager: a.pm,
		Bus:            a.bus,
		Logger:         logger,
	})

	a.dispatcher = chat.NewDispatcher(a.bus)
	model, err := chat.NewModel(cfg.Chat)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.chat = chat.NewService(chat.ServiceConfig{
		Bus:          a.bus,
		Project:      cfg.Project,
		Model:        model,
		Memory:       a.dispatcher.Memory(),
		History:      store,
		SystemPrompt: cfg.Chat.SystemPrompt,
		Concurrency:  cfg.MaxConcurrency,
		Logger:       logger,
	})

	a.runner = orchestrator.NewRunner(orchestrator.RunnerConfig{
		Store:    store,
		Prompts:  a.dispatcher,
		Tools:    a.tools,
		Settings: a.holder,
		Logger:   logger,
	})
	a.tools.Bind(a.runner)
	a.chat.Bind(a.runner)

	a.runner.AddListener(events.NewBusListener(a.bus, a.runner))
	a.runner.AddListener(newStatusWriter(store, logger))

	chatCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopChat = cancel
	a.chat.Start(chatCtx)

	return a, nil
}

// Close stops the runner and backends, then releases the store.
func (a *app) Close() {
	a.runner.Dispose()
	a.tools.CancelAllProcesses()
	a.tools.Wait()
	a.stopChat()
	a.chat.Wait()
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

// statusWriter persists Done for every task the runner completes.
type statusWriter struct {
	orchestrator.ListenerFuncs
}

func newStatusWriter(store *persistence.SQLiteStore, logger *slog.Logger) *statusWriter {
	w := &statusWriter{}
	w.TaskCompleted = func(task scheduler.Task, _, _ int) {
		if task.IsDone() {
			return
		}
		if err := store.UpdateTaskStatus(context.Background(), task.ID, scheduler.StatusDone); err != nil {
			logger.Warn("failed to mark task done", "task_id", task.ID, "error", err)
		}
	}
	return w
}
