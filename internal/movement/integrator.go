// Package movement turns held keys into a predicted local position at a
// fixed tick rate.
package movement

import (
	"context"
	"sync"
	"time"

	"github.com/DoyleJ11/arena-sync/internal/engine"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

type Integrator struct {
	mu     sync.Mutex
	pos    types.Position
	keys   engine.Keys
	bounds engine.Bounds
	speed  int
	period time.Duration
}

func NewIntegrator(start types.Position) *Integrator {
	return &Integrator{
		pos:    engine.Clamp(start, engine.FieldBounds()),
		keys:   make(engine.Keys),
		bounds: engine.FieldBounds(),
		speed:  engine.Speed,
		period: time.Second / engine.TicksPerSec,
	}
}

// Press marks key as held. Keys that do not move the player are ignored.
func (in *Integrator) Press(key string) {
	key = engine.NormalizeKey(key)
	if !engine.IsMovementKey(key) {
		return
	}
	in.mu.Lock()
	in.keys[key] = true
	in.mu.Unlock()
}

func (in *Integrator) Release(key string) {
	key = engine.NormalizeKey(key)
	in.mu.Lock()
	delete(in.keys, key)
	in.mu.Unlock()
}

// ReleaseAll drops every held key, e.g. when the page loses focus.
func (in *Integrator) ReleaseAll() {
	in.mu.Lock()
	clear(in.keys)
	in.mu.Unlock()
}

func (in *Integrator) Held() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]string, 0, len(in.keys))
	for k := range in.keys {
		out = append(out, k)
	}
	return out
}

// Tick advances one step and returns the new position.
func (in *Integrator) Tick() types.Position {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pos = engine.Step(in.pos, in.keys, in.bounds, in.speed)
	return in.pos
}

func (in *Integrator) Position() types.Position {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pos
}

// Reset moves the predicted position to pos and releases every key.
func (in *Integrator) Reset(pos types.Position) {
	in.mu.Lock()
	in.pos = engine.Clamp(pos, in.bounds)
	clear(in.keys)
	in.mu.Unlock()
}

// MoveTo moves the predicted position to pos and keeps held keys.
func (in *Integrator) MoveTo(pos types.Position) {
	in.mu.Lock()
	in.pos = engine.Clamp(pos, in.bounds)
	in.mu.Unlock()
}

// Run ticks until ctx is cancelled.
func (in *Integrator) Run(ctx context.Context) error {
	t := time.NewTicker(in.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			in.Tick()
		}
	}
}
