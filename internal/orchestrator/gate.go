package orchestrator

import "sync"

// gateResult is what a parallel worker learns when its gate opens.
type gateResult struct {
	failed bool
	reason string
}

// gate is a one-shot completion signal for one in-flight task.
// Only the first open has an effect.
type gate struct {
	ch   chan gateResult
	once sync.Once
}

func newGate() *gate {
	return &gate{ch: make(chan gateResult, 1)}
}

func (g *gate) open(res gateResult) {
	g.once.Do(func() {
		g.ch <- res
	})
}
