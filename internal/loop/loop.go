// Package loop runs the event loop that owns the timer scheduler
//
// Every scheduler operation, including callback invocation, happens on the
// loop goroutine. Other goroutines reach the scheduler by posting closures
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quaver-audio/quaver/pkg/timers"
)

type (
	// Loop drives a timer scheduler from a single goroutine. It arms a
	// resettable timer from the scheduler's next fire time, pumps the
	// scheduler on each wake-up, and executes posted requests in between
	Loop struct {
		sched     *timers.Scheduler
		clock     timers.Clock
		makeTimer TimerConstructor
		logger    *slog.Logger
		reqs      chan func()
		ctx       context.Context
		cancel    context.CancelFunc
		skew      time.Duration
		wg        sync.WaitGroup
	}

	// Option configures a Loop at construction
	Option func(*Loop)
)

const (
	// DefaultSkewThreshold is the wake-up drift beyond which the loop
	// treats the wall clock as having jumped and shifts pending timers
	DefaultSkewThreshold = 10 * time.Second

	requestBufferSize = 64
)

// ErrLoopStopped is returned by Post and Do after the loop has shut down
var ErrLoopStopped = errors.New("event loop stopped")

// New creates a loop around the given scheduler and clock
func New(sched *timers.Scheduler, clock timers.Clock, opts ...Option) *Loop {
	if clock == nil {
		clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		sched:     sched,
		clock:     clock,
		makeTimer: NewTimer,
		logger:    slog.Default(),
		reqs:      make(chan func(), requestBufferSize),
		ctx:       ctx,
		cancel:    cancel,
		skew:      DefaultSkewThreshold,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithTimerConstructor substitutes the timer implementation, letting tests
// drive the loop deterministically
func WithTimerConstructor(ctor TimerConstructor) Option {
	return func(l *Loop) {
		l.makeTimer = ctor
	}
}

// WithLogger sets the loop's log sink
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithSkewThreshold overrides the clock-jump detection threshold. Zero
// disables skew adjustment
func WithSkewThreshold(d time.Duration) Option {
	return func(l *Loop) {
		l.skew = d
	}
}

// Start launches the loop goroutine
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
}

// Stop shuts the loop down and waits for the goroutine to exit. Pending
// timer records are dropped, not fired
func (l *Loop) Stop() {
	l.cancel()
	l.wg.Wait()
}

// Post enqueues fn for execution on the loop goroutine
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.ctx.Done():
		return ErrLoopStopped
	default:
	}
	select {
	case l.reqs <- fn:
		return nil
	case <-l.ctx.Done():
		return ErrLoopStopped
	}
}

// Scheduler exposes the owned scheduler. It must only be touched from the
// loop goroutine, i.e. from timer callbacks and posted requests; Do and
// Post are the safe routes in from anywhere else
func (l *Loop) Scheduler() *timers.Scheduler {
	return l.sched
}

// Do runs fn on the loop goroutine with the scheduler and waits for it to
// finish. Calling Do from the loop goroutine itself would deadlock; code
// already on the loop uses Scheduler directly
func (l *Loop) Do(fn func(s *timers.Scheduler)) error {
	done := make(chan struct{})
	err := l.Post(func() {
		defer close(done)
		fn(l.sched)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-l.ctx.Done():
		return ErrLoopStopped
	}
}

func (l *Loop) run() {
	defer l.wg.Done()

	timer := l.makeTimer(0)
	var timerCh <-chan time.Time
	var expected time.Time

	rearm := func() {
		d, ok := l.sched.TimeUntilNext()
		if !ok {
			timer.Stop()
			timerCh = nil
			expected = time.Time{}
			return
		}
		timer.Reset(d)
		timerCh = timer.Channel()
		expected = l.clock().Add(d)
	}

	rearm()

	for {
		select {
		case <-l.ctx.Done():
			timer.Stop()
			return

		case fn := <-l.reqs:
			fn()
			rearm()

		case <-timerCh:
			now := l.clock()
			l.adjustForSkew(now, expected)
			l.sched.Pump(now)
			rearm()
		}
	}
}

// adjustForSkew shifts every pending fire time when the observed wake-up
// drifts past the threshold, which happens after suspend/resume or an NTP
// step. The shift is applied before pumping so a forward jump does not dump
// every pending timer at once
func (l *Loop) adjustForSkew(now, expected time.Time) {
	if l.skew <= 0 || expected.IsZero() {
		return
	}
	drift := now.Sub(expected)
	if drift < l.skew && drift > -l.skew {
		return
	}
	l.logger.Info("Wall clock jumped, shifting pending timers",
		slog.Duration("delta", drift))
	l.sched.AdjustAll(drift)
}
