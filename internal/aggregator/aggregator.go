// Package aggregator coalesces bursts of change events into batches.
//
// Each Aggregator owns one goroutine that holds the buffer, the quiet-window
// timer and the busy flag; callers only talk to it through channels. A batch
// is released when the timer lapses, and no new batch is released while the
// previous one is still being dispatched: events arriving meanwhile collect
// into the next batch, which goes out once the dispatch returns.
package aggregator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/starford/devpulse/internal/models"
)

// DispatchFunc handles one released batch. The batch is never empty.
type DispatchFunc func(batch []models.RawChangeEvent)

// Aggregator buffers events for one project.
type Aggregator struct {
	quiet    time.Duration
	dispatch DispatchFunc

	in      chan models.RawChangeEvent
	pending chan chan int
	done    chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
	inflight sync.WaitGroup
}

// New returns an aggregator releasing a batch after quiet of inactivity.
func New(quiet time.Duration, dispatch DispatchFunc) *Aggregator {
	return &Aggregator{
		quiet:    quiet,
		dispatch: dispatch,
		in:       make(chan models.RawChangeEvent),
		pending:  make(chan chan int),
		done:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

// ErrStopped is returned by Add after Stop.
var ErrStopped = errors.New("aggregator: stopped")

// Start runs the event loop until Stop or ctx is done.
func (a *Aggregator) Start(ctx context.Context) {
	go a.run(ctx)
}

// Add appends ev to the pending buffer and restarts the quiet window.
func (a *Aggregator) Add(ev models.RawChangeEvent) error {
	select {
	case a.in <- ev:
		return nil
	case <-a.stopped:
		return ErrStopped
	}
}

// Pending returns the number of buffered events not yet released.
func (a *Aggregator) Pending() int {
	reply := make(chan int, 1)
	select {
	case a.pending <- reply:
		return <-reply
	case <-a.stopped:
		return 0
	}
}

// Stop cancels the pending timer and discards the buffer. A dispatch already
// running is not interrupted; use Wait to block until it returns.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stopped) })
}

// Wait blocks until in-flight dispatches finish or ctx is done.
func (a *Aggregator) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Aggregator) run(ctx context.Context) {
	var (
		buf    []models.RawChangeEvent
		timer  *time.Timer
		timerC <-chan time.Time
		busy   bool
		// due is set when the window lapsed while a dispatch was running.
		due bool
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	release := func() {
		if len(buf) == 0 {
			return
		}
		select {
		case <-a.stopped:
			return
		default:
		}
		batch := buf
		buf = nil
		busy, due = true, false
		a.inflight.Add(1)
		go func() {
			defer a.inflight.Done()
			a.dispatch(batch)
			a.done <- struct{}{}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			a.Stop()
			stopTimer()
			return

		case <-a.stopped:
			stopTimer()
			return

		case ev := <-a.in:
			buf = append(buf, ev)
			stopTimer()
			due = false
			timer = time.NewTimer(a.quiet)
			timerC = timer.C

		case <-timerC:
			timer, timerC = nil, nil
			if busy {
				due = true
				continue
			}
			release()

		case <-a.done:
			busy = false
			if due {
				release()
			}

		case reply := <-a.pending:
			reply <- len(buf)
		}
	}
}
