package node

import (
	"context"
	"sync"
	"time"
)

// Post enqueues an event for the event loop. It returns false once the
// loop no longer accepts events.
type Post func(Event) bool

// Source is a background producer feeding the event loop. Run must return
// promptly after ctx is cancelled or post returns false.
type Source interface {
	Run(ctx context.Context, self string, post Post)
}

// Ticker posts a TickEvent every Interval.
type Ticker struct {
	Interval time.Duration
}

func (t Ticker) Run(ctx context.Context, _ string, post Post) {
	tk := time.NewTicker(t.Interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tk.C:
			if !post(TickEvent{At: now}) {
				return
			}
		}
	}
}

// sourceGroup runs sources until Stop. Stop cancels them and waits for
// every one to return; it is safe to call any number of times.
type sourceGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func newSourceGroup(parent context.Context) *sourceGroup {
	ctx, cancel := context.WithCancel(parent)
	return &sourceGroup{ctx: ctx, cancel: cancel}
}

func (g *sourceGroup) Go(src Source, self string, post Post) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		src.Run(g.ctx, self, post)
	}()
}

func (g *sourceGroup) Stop() {
	g.once.Do(func() {
		g.cancel()
		g.wg.Wait()
	})
}

// Done is closed once Stop begins.
func (g *sourceGroup) Done() <-chan struct{} {
	return g.ctx.Done()
}
