package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/teslashibe/transync/internal/log"
)

// DefaultCooldown is the pause after a failed item.
const DefaultCooldown = 500 * time.Millisecond

// Func processes one item. It returns ok=false to drop the item without
// forwarding anything downstream.
type Func[In, Out any] func(ctx context.Context, in In) (out Out, ok bool, err error)

// Observer receives per-item outcomes.
type Observer interface {
	ObserveItem(stage string, elapsed time.Duration, err error)
}

// Stage is a long-lived worker bound to one input queue. It processes
// exactly one item at a time and pushes results onto the output queue.
type Stage[In, Out any] struct {
	name     string
	in       *Queue[In]
	out      *Queue[Out]
	fn       Func[In, Out]
	cooldown time.Duration
	logger   *slog.Logger
	observer Observer
	suppress *log.Suppressor

	busy      atomic.Bool
	processed atomic.Int64
	forwarded atomic.Int64
	failed    atomic.Int64
}

// Option configures a Stage.
type Option func(*options)

type options struct {
	cooldown time.Duration
	logger   *slog.Logger
	observer Observer
}

// WithCooldown sets the pause after a failed item.
func WithCooldown(d time.Duration) Option {
	return func(o *options) { o.cooldown = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver sets the per-item observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// New creates a stage. out may be nil for a terminal stage.
func New[In, Out any](name string, in *Queue[In], out *Queue[Out], fn Func[In, Out], opts ...Option) *Stage[In, Out] {
	o := options{cooldown: DefaultCooldown}
	for _, opt := range opts {
		opt(&o)
	}

	return &Stage[In, Out]{
		name:     name,
		in:       in,
		out:      out,
		fn:       fn,
		cooldown: o.cooldown,
		logger:   log.Or(o.logger).With("component", "stage", "stage", name),
		observer: o.observer,
		suppress: log.NewSuppressor(0),
	}
}

// Name returns the stage name.
func (s *Stage[In, Out]) Name() string {
	return s.name
}

// Run processes items until ctx is done. Cancelling ctx wakes an idle
// stage but does not reach fn: an in-flight item runs to completion with
// ctx's values and no cancellation, and Run returns after it.
func (s *Stage[In, Out]) Run(ctx context.Context) {
	s.logger.Debug("stage started")
	defer s.logger.Debug("stage stopped")

	work := context.WithoutCancel(ctx)

	for {
		item, err := s.in.Pop(ctx)
		if err != nil {
			return
		}

		s.busy.Store(true)
		start := time.Now()
		out, ok, err := s.invoke(work, item)
		elapsed := time.Since(start)
		s.busy.Store(false)
		s.processed.Add(1)

		if s.observer != nil {
			s.observer.ObserveItem(s.name, elapsed, err)
		}

		if err != nil {
			s.failed.Add(1)
			s.logFailure(err)
			if !Sleep(ctx, s.cooldown) {
				return
			}
			continue
		}

		if ok && s.out != nil {
			if s.out.Push(out) {
				s.logger.Warn("downstream queue full, dropped oldest item")
			}
			s.forwarded.Add(1)
		}
	}
}

// invoke calls fn, converting a panic into an error for this item.
func (s *Stage[In, Out]) invoke(ctx context.Context, item In) (out Out, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("recovered panic", "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			ok = false
		}
	}()
	return s.fn(ctx, item)
}

func (s *Stage[In, Out]) logFailure(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	msg := err.Error()
	if s.suppress.First(msg) {
		s.logger.Error("item failed", "error", err)
		return
	}
	s.logger.Debug("item failed again", "error", err, "count", s.suppress.Count(msg))
}

// Busy reports whether an item is being processed.
func (s *Stage[In, Out]) Busy() bool {
	return s.busy.Load()
}

// Stats is a point-in-time view of a stage.
type Stats struct {
	Name      string `json:"name"`
	Queued    int    `json:"queued"`
	Busy      bool   `json:"busy"`
	Processed int64  `json:"processed"`
	Forwarded int64  `json:"forwarded"`
	Failed    int64  `json:"failed"`
}

// Stats returns counters for the stage.
func (s *Stage[In, Out]) Stats() Stats {
	return Stats{
		Name:      s.name,
		Queued:    s.in.Len(),
		Busy:      s.busy.Load(),
		Processed: s.processed.Load(),
		Forwarded: s.forwarded.Load(),
		Failed:    s.failed.Load(),
	}
}

// ErrPanic marks an item whose processing panicked.
var ErrPanic = errors.New("stage: panic")

// Sleep waits d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
