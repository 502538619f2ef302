// Package chat is the conversational backend: prompts are published on the
// event bus, answered by a language model and reported back to the runner.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/specrunner/internal/events"
)

// ErrNoBus is returned when a Dispatcher has nowhere to publish.
var ErrNoBus = errors.New("chat: no event bus")

// ErrPromptDropped is returned when a prompt subscriber could not take the
// prompt because its queue was full.
var ErrPromptDropped = errors.New("chat: prompt queue full")

// Dispatcher publishes rendered task prompts for a Service to answer.
type Dispatcher struct {
	bus    *events.EventBus
	memory *Memory
	files  *FileContext
}

// NewDispatcher creates a dispatcher with fresh memory and file context.
func NewDispatcher(bus *events.EventBus) *Dispatcher {
	return &Dispatcher{
		bus:    bus,
		memory: &Memory{},
		files:  &FileContext{},
	}
}

// Memory returns the conversation shared with the answering Service.
func (d *Dispatcher) Memory() *Memory { return d.memory }

// Files returns the file context attached to each prompt.
func (d *Dispatcher) Files() *FileContext { return d.files }

// SubmitPrompt publishes the prompt on the project's prompt topic.
func (d *Dispatcher) SubmitPrompt(ctx context.Context, project, taskID, prompt string) error {
	if d.bus == nil {
		return ErrNoBus
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	missed := d.bus.Publish(events.PromptTopic(project), events.PromptSubmittedEvent{
		ID:        taskID,
		Project:   project,
		Prompt:    prompt,
		Files:     d.files.Files(),
		Timestamp: time.Now(),
	})
	if missed > 0 {
		return fmt.Errorf("%w: task %s", ErrPromptDropped, taskID)
	}
	return nil
}

// ResetMemory clears the conversation before a new unit of work.
func (d *Dispatcher) ResetMemory() { d.memory.Reset() }

// ResetFileContext detaches all files.
func (d *Dispatcher) ResetFileContext() { d.files.Reset() }
