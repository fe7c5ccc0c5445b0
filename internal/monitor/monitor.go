// Package monitor dispatches filesystem events on the source directory to the
// reconciler, one event at a time and in delivery order.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/schaermu/component-monitor/internal/reconcile"
	"github.com/schaermu/component-monitor/internal/tree"
	"github.com/schaermu/component-monitor/internal/watch"
)

// ErrSourceGone is returned when the watched source directory is deleted or
// renamed away.
var ErrSourceGone = errors.New("monitored directory disappeared")

// Reconciler is the subset of reconcile.Reconciler driven by events.
type Reconciler interface {
	Populate() (reconcile.Result, error)
	Cleanup() (tree.Report, error)
}

// State is the dispatcher lifecycle state.
type State int32

const (
	// StateRunning is normal operation.
	StateRunning State = iota
	// StateTerminated is entered on a fatal error and never left.
	StateTerminated
)

func (s State) String() string {
	if s == StateTerminated {
		return "terminated"
	}
	return "running"
}

// Dispatcher routes sentinel events to the reconciler.
type Dispatcher struct {
	watcher    watch.Watcher
	sentinel   string
	reconciler Reconciler
	logger     *slog.Logger
	state      atomic.Int32
}

// NewDispatcher creates a Dispatcher reading from watcher.
func NewDispatcher(watcher watch.Watcher, sentinel string, reconciler Reconciler, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		watcher:    watcher,
		sentinel:   sentinel,
		reconciler: reconciler,
		logger:     logger,
	}
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Run blocks reading event batches and dispatching each event synchronously
// until a fatal error occurs. Cancelling ctx closes the watcher; Run then
// returns ctx.Err(). Every other return is fatal and leaves the dispatcher
// terminated.
func (d *Dispatcher) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = d.watcher.Close()
	})
	defer stop()

	d.logger.Info("starting event monitoring")

	for {
		events, err := d.watcher.Next()
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, watch.ErrClosed) {
				d.logger.Info("event monitoring stopped")
				return ctx.Err()
			}
			return d.terminate(fmt.Errorf("error reading events: %w", err))
		}

		for _, ev := range events {
			if err := d.Dispatch(ev); err != nil {
				return d.terminate(err)
			}
		}
	}
}

// Dispatch handles a single event. It returns an error only for fatal
// conditions.
func (d *Dispatcher) Dispatch(ev watch.Event) error {
	d.logger.Debug("handling event", "kind", ev.Kind.String(), "name", ev.Name)

	switch {
	case ev.Kind == watch.KindSelfDeleted || ev.Kind == watch.KindSelfMoved:
		return fmt.Errorf("%w (%s)", ErrSourceGone, ev.Kind)

	case ev.Kind == watch.KindOverflow:
		d.logger.Warn("event queue overflowed, some events were lost")
		return nil

	case ev.Name != d.sentinel:
		return nil

	case ev.Kind == watch.KindWriteCompleted:
		if _, err := d.reconciler.Populate(); err != nil {
			return fmt.Errorf("populate failed: %w", err)
		}
		return nil

	case ev.Kind == watch.KindDeleted:
		if _, err := d.reconciler.Cleanup(); err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		return nil

	default:
		d.logger.Debug("ignoring sentinel event", "kind", ev.Kind.String())
		return nil
	}
}

func (d *Dispatcher) terminate(err error) error {
	d.state.Store(int32(StateTerminated))
	d.logger.Error("event monitoring terminated", "error", err)
	return err
}
