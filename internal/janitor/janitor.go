// Package janitor implements the periodic reaper that reclaims tasks stuck
// in PROCESSING past their timeout: a worker that crashes mid-task must not
// leave its task permanently unclaimable.
package janitor

import (
	"context"
	"time"

	"github.com/giantswarm/muster-scenario-core/internal/scenario"
	"github.com/giantswarm/muster-scenario-core/pkg/logging"
)

// Reclaimer is the subset of scenario.Dispatcher the Janitor depends on,
// kept as an interface so tests can exercise the ticking/shutdown behaviour
// against a fake without a real store.
type Reclaimer interface {
	ReclaimStuck(ctx context.Context, timeout time.Duration) (int, error)
}

var _ Reclaimer = (*scenario.Dispatcher)(nil)

// Janitor runs Reclaimer.ReclaimStuck on a fixed interval until stopped,
// failing tasks that have been PROCESSING longer than the configured
// timeout rather than re-queuing them. One goroutine, a ticker, a stop
// channel, and context cancellation as the other shutdown path.
type Janitor struct {
	reclaimer Reclaimer
	interval  time.Duration
	timeout   time.Duration

	stop chan struct{}
	done chan struct{}
}

// New returns a Janitor that, once Start is called, reclaims tasks that
// have been PROCESSING for longer than timeout, checking every interval.
func New(reclaimer Reclaimer, interval, timeout time.Duration) *Janitor {
	return &Janitor{
		reclaimer: reclaimer,
		interval:  interval,
		timeout:   timeout,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the sweep loop in a new goroutine. It returns immediately;
// call Stop (or cancel ctx) to shut it down.
func (j *Janitor) Start(ctx context.Context) {
	go j.run(ctx)
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	logging.Info("Janitor", "started, sweeping every %s for tasks stuck >%s", j.interval, j.timeout)
	for {
		select {
		case <-ticker.C:
			j.sweep(ctx)
		case <-j.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.reclaimer.ReclaimStuck(ctx, j.timeout)
	if err != nil {
		logging.Error("Janitor", err, "sweep failed")
		return
	}
	if n > 0 {
		logging.Info("Janitor", "reclaimed %d stuck task(s)", n)
	} else {
		logging.Debug("Janitor", "sweep found nothing to reclaim")
	}
}

// Stop halts the sweep loop and blocks until its goroutine has exited.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}

// RunOnce performs a single sweep synchronously, for the `janitor run`
// one-shot CLI command (as opposed to `serve`'s long-running loop).
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	return j.reclaimer.ReclaimStuck(ctx, j.timeout)
}
