package picasaweb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrTransferStalled is returned when an upload or download moves no bytes
// for the client's timeout. It is an item failure, not a network outage.
var ErrTransferStalled = errors.New("transfer stalled")

// stallGuard cancels a transfer whose body has been idle for too long. Every
// read through one of its readers pushes the deadline back.
type stallGuard struct {
	idle   time.Duration
	timer  *time.Timer
	cancel context.CancelCauseFunc
}

func newStallGuard(ctx context.Context, idle time.Duration) (context.Context, *stallGuard) {
	ctx, cancel := context.WithCancelCause(ctx)
	g := &stallGuard{idle: idle, cancel: cancel}
	g.timer = time.AfterFunc(idle, func() { cancel(ErrTransferStalled) })
	return ctx, g
}

func (g *stallGuard) reader(r io.Reader) io.Reader {
	return &guardedReader{r: r, g: g}
}

func (g *stallGuard) stop() {
	g.timer.Stop()
	g.cancel(nil)
}

// err replaces a failure caused by the guard firing with ErrTransferStalled.
// Cancellation of the parent context passes through unchanged.
func (g *stallGuard) err(ctx context.Context, err error) error {
	if err != nil && errors.Is(context.Cause(ctx), ErrTransferStalled) {
		return fmt.Errorf("no progress for %s: %w", g.idle, ErrTransferStalled)
	}
	return err
}

type guardedReader struct {
	r io.Reader
	g *stallGuard
}

func (gr *guardedReader) Read(p []byte) (int, error) {
	n, err := gr.r.Read(p)
	if n > 0 {
		gr.g.timer.Reset(gr.g.idle)
	}
	return n, err
}
