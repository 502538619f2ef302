package chat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/specrunner/internal/events"
	"github.com/aristath/specrunner/internal/logging"
)

// Notifier receives the outcome of each answered prompt.
type Notifier interface {
	NotifyPromptExecutionCompleted(taskID string)
	NotifyTaskFailed(taskID, reason string)
}

// HistoryStore persists the transcript of each task.
type HistoryStore interface {
	SaveMessage(ctx context.Context, taskID, role, content string) error
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Bus          *events.EventBus
	Project      string
	Model        Model
	Memory       *Memory      // Shared with the Dispatcher; created when nil
	History      HistoryStore // Optional
	SystemPrompt string
	Concurrency  int // Prompts answered at once; defaults to 1
	Retry        *RetryConfig
	Breakers     *BreakerRegistry
	Logger       *slog.Logger
}

// Service answers prompts published on a project's prompt topic.
type Service struct {
	bus      *events.EventBus
	project  string
	model    Model
	memory   *Memory
	history  HistoryStore
	system   string
	limit    int
	retry    RetryConfig
	breakers *BreakerRegistry
	logger   *slog.Logger

	mu       sync.Mutex
	notifier Notifier
	wg       sync.WaitGroup
}

// NewService creates a service. Call Bind and then Start.
func NewService(cfg ServiceConfig) *Service {
	logger := logging.OrDefault(cfg.Logger)
	s := &Service{
		bus:      cfg.Bus,
		project:  cfg.Project,
		model:    cfg.Model,
		memory:   cfg.Memory,
		history:  cfg.History,
		system:   cfg.SystemPrompt,
		limit:    cfg.Concurrency,
		retry:    DefaultRetryConfig(),
		breakers: cfg.Breakers,
		logger:   logger.With("component", "chat"),
	}
	if s.memory == nil {
		s.memory = &Memory{}
	}
	if s.limit <= 0 {
		s.limit = 1
	}
	if cfg.Retry != nil {
		s.retry = *cfg.Retry
	}
	if s.breakers == nil {
		s.breakers = NewBreakerRegistry(logger)
	}
	return s
}

// Bind sets the receiver of prompt outcomes.
func (s *Service) Bind(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Start subscribes to the prompt topic and answers prompts until ctx ends.
func (s *Service) Start(ctx context.Context) {
	sub := s.bus.Subscribe(events.PromptTopic(s.project), 256)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.bus.Unsubscribe(sub)

		var g errgroup.Group
		g.SetLimit(s.limit)
		defer g.Wait()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				prompt, ok := ev.(events.PromptSubmittedEvent)
				if !ok {
					continue
				}
				g.Go(func() error {
					s.answer(ctx, prompt)
					return nil
				})
			}
		}
	}()
}

// Wait blocks until the service has stopped and in-flight prompts returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) answer(ctx context.Context, ev events.PromptSubmittedEvent) {
	log := s.logger.With("task_id", ev.ID)

	content := withFiles(ev.Prompt, ev.Files, log)
	user := Message{Role: RoleUser, Content: content}
	messages := append(s.memory.Turns(), user)

	log.Debug("sending prompt", "provider", s.model.Provider(), "turns", len(messages))
	reply, err := completeWithRetry(ctx, s.model, s.system, messages, s.breakers.Get(s.model.Provider()), s.retry)
	if ctx.Err() != nil {
		log.Debug("prompt abandoned", "error", ctx.Err())
		return
	}
	if err != nil {
		log.Warn("prompt failed", "error", err)
		s.notify(func(n Notifier) { n.NotifyTaskFailed(ev.ID, fmt.Sprintf("chat failed: %v", err)) })
		return
	}

	assistant := Message{Role: RoleAssistant, Content: reply}
	s.memory.Append(user, assistant)
	s.record(ctx, ev.ID, user, assistant)

	log.Info("prompt answered", "reply_bytes", len(reply))
	s.notify(func(n Notifier) { n.NotifyPromptExecutionCompleted(ev.ID) })
}

func (s *Service) record(ctx context.Context, taskID string, turns ...Message) {
	if s.history == nil {
		return
	}
	for _, t := range turns {
		if err := s.history.SaveMessage(ctx, taskID, t.Role, t.Content); err != nil {
			s.logger.Warn("failed to save transcript", "task_id", taskID, "error", err)
			return
		}
	}
}

func (s *Service) notify(fn func(Notifier)) {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n != nil {
		fn(n)
	}
}

// withFiles appends the contents of attached files to the prompt.
// Unreadable files are noted inline rather than failing the prompt.
func withFiles(prompt string, files []string, log *slog.Logger) string {
	if len(files) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("cannot attach file", "path", path, "error", err)
			fmt.Fprintf(&b, "\n\n<file path=%q unavailable=\"true\"/>", path)
			continue
		}
		fmt.Fprintf(&b, "\n\n<file path=%q>\n%s\n</file>", path, strings.TrimRight(string(data), "\n"))
	}
	return b.String()
}
