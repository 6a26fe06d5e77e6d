package runner

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate admits one transfer at a time across every unit sharing it. Key
// generation and authorization happen outside the gate.
type Gate struct {
	sem *semaphore.Weighted
}

func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the gate is free or ctx ends.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *Gate) Release() {
	g.sem.Release(1)
}
