package chat

import (
	"slices"
	"sync"
)

// Roles used in conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
}

// Memory holds the running conversation shared by consecutive prompts.
type Memory struct {
	mu    sync.Mutex
	turns []Message
}

// Append adds turns to the end of the conversation.
func (m *Memory) Append(turns ...Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
}

// Turns returns a copy of the conversation so far.
func (m *Memory) Turns() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.turns...)
}

// Len returns the number of stored turns.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// Reset forgets the conversation.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
}

// FileContext is the set of files attached to outgoing prompts. Pinned
// files survive Reset; the runner resets between tasks.
type FileContext struct {
	mu     sync.Mutex
	pinned []string
	paths  []string
}

// Add attaches paths until the next Reset, ignoring ones already attached.
func (f *FileContext) Add(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		if p == "" || slices.Contains(f.pinned, p) || slices.Contains(f.paths, p) {
			continue
		}
		f.paths = append(f.paths, p)
	}
}

// Pin attaches paths to every prompt.
func (f *FileContext) Pin(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		if p == "" || slices.Contains(f.pinned, p) {
			continue
		}
		f.pinned = append(f.pinned, p)
	}
}

// Files returns pinned paths followed by the others, in attach order.
func (f *FileContext) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.pinned)+len(f.paths))
	out = append(out, f.pinned...)
	return append(out, f.paths...)
}

// Reset detaches every file that is not pinned.
func (f *FileContext) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = nil
}
