package chat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// scriptedModel returns its replies in order; an error entry is returned as a failure.
type scriptedModel struct {
	mu       sync.Mutex
	provider string
	replies  []any
	calls    int
	seen     [][]Message
	system   string
	block    chan struct{}
}

func (m *scriptedModel) Provider() string {
	if m.provider == "" {
		return "scripted"
	}
	return m.provider
}

func (m *scriptedModel) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.system = system
	m.seen = append(m.seen, append([]Message(nil), messages...))
	if m.calls >= len(m.replies) {
		m.calls++
		return "", fmt.Errorf("unexpected call %d", m.calls)
	}
	r := m.replies[m.calls]
	m.calls++
	switch v := r.(type) {
	case string:
		return v, nil
	case error:
		return "", v
	default:
		return "", fmt.Errorf("invalid reply type %T", v)
	}
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *scriptedModel) conversations() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.seen...)
}

type outcome struct {
	taskID string
	failed bool
	reason string
}

type recordingNotifier struct {
	ch chan outcome
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan outcome, 16)}
}

func (n *recordingNotifier) NotifyPromptExecutionCompleted(taskID string) {
	n.ch <- outcome{taskID: taskID}
}

func (n *recordingNotifier) NotifyTaskFailed(taskID, reason string) {
	n.ch <- outcome{taskID: taskID, failed: true, reason: reason}
}

func (n *recordingNotifier) next(timeout time.Duration) (outcome, bool) {
	select {
	case o := <-n.ch:
		return o, true
	case <-time.After(timeout):
		return outcome{}, false
	}
}

type memHistory struct {
	mu    sync.Mutex
	saved map[string][]Message
}

func (h *memHistory) SaveMessage(_ context.Context, taskID, role, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.saved == nil {
		h.saved = make(map[string][]Message)
	}
	h.saved[taskID] = append(h.saved[taskID], Message{Role: role, Content: content})
	return nil
}

func (h *memHistory) get(taskID string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.saved[taskID]...)
}

func fastRetry() *RetryConfig {
	return &RetryConfig{
		InitialInterval:     5 * time.Millisecond,
		MaxInterval:         20 * time.Millisecond,
		MaxElapsedTime:      200 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	}
}
