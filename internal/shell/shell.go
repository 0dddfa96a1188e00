// Package shell joins the name gate, the movement integrator, the session and
// the renderer into the running client.
package shell

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/arena-sync/internal/engine"
	"github.com/DoyleJ11/arena-sync/internal/movement"
	"github.com/DoyleJ11/arena-sync/internal/render"
	"github.com/DoyleJ11/arena-sync/internal/session"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

var ErrAlreadyInSession = errors.New("already in session")
var ErrNotInSession = errors.New("not in session")

// Synchronizer is the part of session.Session the shell drives.
type Synchronizer interface {
	Initialize(ctx context.Context, name string) error
	UpdatePosition(pos types.Position) error
	Disconnect(ctx context.Context) error
	View() session.View
}

type Gate string

const (
	GateAwaitingName Gate = "awaiting_name"
	GateInSession    Gate = "in_session"
)

type Overlay struct {
	State  Gate   `json:"state"`
	Name   string `json:"name,omitempty"`
	Online int    `json:"online"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Error  string `json:"error,omitempty"`
}

type Frame struct {
	PNG   []byte
	Image image.Image
	Seq   uint64
}

type Shell struct {
	sess       Synchronizer
	integrator *movement.Integrator
	renderer   *render.Renderer
	logger     *zap.SugaredLogger

	joinMu sync.Mutex // serializes Join and Leave
	syncMu sync.Mutex // serializes Sync

	mu     sync.Mutex
	name   string
	pushed types.Position
	frame  Frame
	next   chan struct{}
}

func New(s Synchronizer, in *movement.Integrator, r *render.Renderer, logger *zap.SugaredLogger) *Shell {
	return &Shell{
		sess:       s,
		integrator: in,
		renderer:   r,
		logger:     logger.Named("shell"),
		next:       make(chan struct{}),
	}
}

func (sh *Shell) Gate() Gate {
	if sh.sess.View().Ready() {
		return GateInSession
	}
	return GateAwaitingName
}

// Join validates name and starts a session with it.
func (sh *Shell) Join(ctx context.Context, name string) error {
	name, err := engine.NormalizeName(name)
	if err != nil {
		return err
	}

	sh.joinMu.Lock()
	defer sh.joinMu.Unlock()
	if sh.Gate() == GateInSession {
		return ErrAlreadyInSession
	}
	if err := sh.sess.Initialize(ctx, name); err != nil {
		if errors.Is(err, session.ErrInvalidTransition) {
			return ErrAlreadyInSession
		}
		return err
	}

	start := engine.Spawn
	if self := sh.sess.View().Self; self != nil {
		start = self.Position()
	}
	sh.integrator.Reset(start)

	sh.mu.Lock()
	sh.name = name
	sh.pushed = start
	sh.mu.Unlock()

	sh.logger.Infow("joined", "name", name)
	return nil
}

// Leave tears the session down and returns to the name gate. The gate is
// reset even when teardown reports an error.
func (sh *Shell) Leave(ctx context.Context) error {
	sh.joinMu.Lock()
	defer sh.joinMu.Unlock()
	if sh.Gate() != GateInSession {
		return ErrNotInSession
	}

	err := sh.sess.Disconnect(ctx)
	sh.integrator.ReleaseAll()

	sh.mu.Lock()
	sh.name = ""
	sh.mu.Unlock()

	if err != nil {
		sh.logger.Warnw("left with teardown error", "error", err)
	}
	return err
}

func (sh *Shell) KeyDown(key string) { sh.integrator.Press(key) }
func (sh *Shell) KeyUp(key string)   { sh.integrator.Release(key) }
func (sh *Shell) Blur()              { sh.integrator.ReleaseAll() }

// Sync pushes the predicted position when it differs from the synchronized
// one. A position the session reverted is adopted by the integrator.
func (sh *Shell) Sync() {
	sh.syncMu.Lock()
	defer sh.syncMu.Unlock()

	v := sh.sess.View()
	if !v.Ready() || v.Self == nil {
		return
	}
	auth := v.Self.Position()

	sh.mu.Lock()
	if sh.name == "" {
		sh.mu.Unlock()
		return // Join has not finished
	}
	if auth != sh.pushed {
		sh.integrator.MoveTo(auth)
		sh.pushed = auth
		sh.mu.Unlock()
		return
	}
	sh.mu.Unlock()

	predicted := sh.integrator.Position()
	if predicted == auth {
		return
	}
	// sh.mu is not held here so frames and the overlay stay readable.
	if err := sh.sess.UpdatePosition(predicted); err != nil {
		sh.logger.Debugw("position not pushed", "error", err)
		return
	}
	sh.mu.Lock()
	sh.pushed = predicted
	sh.mu.Unlock()
}

func (sh *Shell) Overlay() Overlay {
	v := sh.sess.View()

	sh.mu.Lock()
	name := sh.name
	sh.mu.Unlock()

	o := Overlay{State: GateAwaitingName, Online: v.Online()}
	if v.Ready() {
		o.State = GateInSession
		o.Name = name
	}
	if v.Self != nil {
		o.X, o.Y = v.Self.X, v.Self.Y
	}
	if v.Err != nil {
		o.Error = v.Err.Error()
	}
	return o
}

// Frame returns the latest encoded frame and a channel closed when the
// next one is ready.
func (sh *Shell) Frame() (Frame, <-chan struct{}) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.frame, sh.next
}

func (sh *Shell) storeFrame(img image.Image) {
	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, img); err != nil {
		sh.logger.Errorw("encode frame", "error", err)
		return
	}
	sh.mu.Lock()
	sh.frame = Frame{PNG: buf.Bytes(), Image: img, Seq: sh.frame.Seq + 1}
	close(sh.next)
	sh.next = make(chan struct{})
	sh.mu.Unlock()
}

func (sh *Shell) players() []types.Player {
	sh.Sync()
	return sh.sess.View().Players
}

// Run syncs and renders one frame per interval until ctx is cancelled.
func (sh *Shell) Run(ctx context.Context, interval time.Duration) error {
	sh.logger.Infow("render loop started", "interval", interval)
	return sh.renderer.Run(ctx, interval, sh.players, sh.storeFrame)
}
