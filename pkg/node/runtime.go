package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/message"
	"github.com/ryandielhenn/zephyrmesh/pkg/transport"
)

// eventBuffer decouples the reader and ticker from the event loop.
const eventBuffer = 128

// Runtime drives one Node over a byte stream: it performs the handshake,
// merges inbound envelopes, ticks and other sources into a single queue,
// and drains that queue one event at a time.
type Runtime struct {
	In       io.Reader
	Out      io.Writer
	Strategy Strategy
	Logger   *zap.Logger
	Layout   Layout
	// Tick is the strategy's round interval. Zero disables the ticker.
	Tick time.Duration
	// Sources are extra producers started after the handshake.
	Sources []Source
	// Status, when set, receives a snapshot after every event.
	Status *StatusBoard
}

// Registry returns the payload registry for the runtime's strategy.
func (rt *Runtime) Registry() *message.Registry {
	return message.NewRegistry(message.Common(), rt.Strategy.Variants())
}

// Run blocks until end of input or a fatal error. A clean end of input
// returns nil.
func (rt *Runtime) Run(ctx context.Context) error {
	log := rt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	out := transport.NewWriter(rt.Out)
	dec := transport.NewDecoder(rt.In, rt.Registry())

	n, err := rt.handshake(dec, out, log)
	if err != nil {
		return err
	}
	if n == nil {
		log.Info("input closed before init")
		return nil
	}
	log = n.Logger()
	rt.publish(n)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Event, eventBuffer)
	postUntil := func(done <-chan struct{}) Post {
		return func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-done:
				return false
			}
		}
	}

	go readLoop(dec, postUntil(runCtx.Done()))

	sources := newSourceGroup(runCtx)
	defer sources.Stop()
	post := postUntil(sources.Done())
	if rt.Tick > 0 {
		sources.Go(Ticker{Interval: rt.Tick}, n.ID(), post)
	}
	for _, src := range rt.Sources {
		sources.Go(src, n.ID(), post)
	}

	log.Info("node started",
		zap.String("strategy", rt.Strategy.Name()),
		zap.Strings("neighbors", n.Neighbors()),
		zap.Duration("tick", rt.Tick),
	)

	for {
		select {
		case <-ctx.Done():
			sources.Stop()
			return ctx.Err()
		case ev := <-events:
			start := time.Now()
			err := n.Handle(ev)
			telemetry.EventsTotal.WithLabelValues(ev.kind()).Inc()
			telemetry.HandleDuration.WithLabelValues(ev.kind()).Observe(time.Since(start).Seconds())
			rt.publish(n)

			if err != nil {
				log.Error("fatal error handling event", zap.String("event", ev.kind()), zap.Error(err))
				sources.Stop()
				return err
			}
			if eof, ok := ev.(EOFEvent); ok {
				sources.Stop()
				if eof.Err != nil {
					return eof.Err
				}
				log.Info("input closed, node stopped", zap.Int("values", n.Values().Len()))
				return nil
			}
		}
	}
}

// handshake reads init, builds the node and acknowledges it with msg_id 0.
// It returns a nil node when the input ends before any message.
func (rt *Runtime) handshake(dec *transport.Decoder, out Sender, log *zap.Logger) (*Node, error) {
	first, err := dec.Next()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	init, ok := first.Body.Payload.(message.Init)
	if !ok {
		return nil, fmt.Errorf("%w: got %q from %s before init", ErrNotInitialized, first.Body.Payload.Type(), first.Src)
	}
	n, err := New(init, Config{
		Strategy: rt.Strategy,
		Sender:   out,
		Logger:   log,
		Layout:   rt.Layout,
	})
	if err != nil {
		return nil, err
	}
	telemetry.ObserveEnvelope("in", init.Type())
	if err := n.ackInit(first); err != nil {
		return nil, fmt.Errorf("ack init: %w", err)
	}
	return n, nil
}

func (rt *Runtime) publish(n *Node) {
	if rt.Status != nil {
		rt.Status.Publish(n.Status())
	}
}

// readLoop decodes envelopes until end of input or a framing error, and
// always finishes with exactly one EOFEvent.
func readLoop(dec *transport.Decoder, post Post) {
	for {
		env, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			post(EOFEvent{Err: err})
			return
		}
		if !post(MessageEvent{Envelope: env}) {
			return
		}
	}
}
