package timers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/quaver-audio/quaver/pkg/log"
)

type (
	// Scheduler holds the high and normal timer queues and enforces the
	// pump policy. It is single-threaded and cooperative: every operation,
	// including callback invocation, must run on the event-loop goroutine
	Scheduler struct {
		clock       Clock
		logger      *slog.Logger
		between     func()
		normalLimit int
		high        timerQueue
		normal      timerQueue
	}

	// Option configures a Scheduler at construction
	Option func(*Scheduler)
)

const (
	// DefaultNormalQueueLimit caps the normal queue. A queue this deep
	// means timers are being scheduled far faster than they fire; the host
	// treats the overflow as fatal
	DefaultNormalQueueLimit = 500

	highQueueName   = "high"
	normalQueueName = "normal"
)

// ErrQueueOverflow is returned when a normal-queue insert would exceed the
// configured limit. No record is inserted
var ErrQueueOverflow = errors.New("normal timer queue overflow")

// New creates a scheduler using the provided clock. A nil clock falls back
// to time.Now
func New(clock Clock, opts ...Option) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	s := &Scheduler{
		clock:       clock,
		logger:      slog.Default(),
		normalLimit: DefaultNormalQueueLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithLogger sets the diagnostic log sink
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithBetweenPasses installs the host hook invoked after the high-priority
// drain and before the normal-queue step of each pump
func WithBetweenPasses(fn func()) Option {
	return func(s *Scheduler) {
		s.between = fn
	}
}

// WithNormalQueueLimit overrides the normal-queue overflow cap
func WithNormalQueueLimit(n int) Option {
	return func(s *Scheduler) {
		s.normalLimit = n
	}
}

// ScheduleNormal inserts a record into the normal queue, keeping the queue
// sorted by fire time with ties broken by insertion order. Fails with
// ErrQueueOverflow when the queue is at its limit
func (s *Scheduler) ScheduleNormal(
	target any, fireAt time.Time, cb Callback, args ...any,
) (Handle, error) {
	if s.normal.len() >= s.normalLimit {
		return "", ErrQueueOverflow
	}
	return s.schedule(&s.normal, target, fireAt, cb, args), nil
}

// ScheduleHigh inserts a record into the high-priority queue. The high
// queue has no overflow cap
func (s *Scheduler) ScheduleHigh(
	target any, fireAt time.Time, cb Callback, args ...any,
) Handle {
	return s.schedule(&s.high, target, fireAt, cb, args)
}

func (s *Scheduler) schedule(
	q *timerQueue, target any, fireAt time.Time, cb Callback, args []any,
) Handle {
	r := newRecord(target, fireAt, cb, args)
	if fireAt.Before(s.clock()) {
		s.logger.Info("Timer scheduled in the past",
			log.Target(target),
			log.FireAt(fireAt),
			log.Callback(callbackName(r.cbKey)))
	}
	q.insert(r)
	return r.handle
}

// CancelMatching removes every record in both queues whose target and
// callback both match, returning the number removed. A nil target or
// callback matches nothing
func (s *Scheduler) CancelMatching(target any, cb Callback) int {
	if target == nil || cb == nil {
		return 0
	}
	key := callbackKey(cb)
	match := func(r *record) bool {
		return r.target == target && r.cbKey == key
	}
	return s.high.removeWhere(match, -1) + s.normal.removeWhere(match, -1)
}

// CancelOneMatching removes at most one record whose target and callback
// both match, searching the high queue first
func (s *Scheduler) CancelOneMatching(target any, cb Callback) {
	if target == nil || cb == nil {
		return
	}
	key := callbackKey(cb)
	match := func(r *record) bool {
		return r.target == target && r.cbKey == key
	}
	if s.high.removeWhere(match, 1) > 0 {
		return
	}
	s.normal.removeWhere(match, 1)
}

// CancelByTarget removes every record in both queues scheduled against the
// given target, irrespective of callback, returning the number removed
func (s *Scheduler) CancelByTarget(target any) int {
	if target == nil {
		return 0
	}
	match := func(r *record) bool {
		return r.target == target
	}
	return s.high.removeWhere(match, -1) + s.normal.removeWhere(match, -1)
}

// CancelSpecific removes exactly the record named by the handle, searching
// both queues, and reports whether it was found. A miss is logged
func (s *Scheduler) CancelSpecific(h Handle) bool {
	match := func(r *record) bool {
		return r.handle == h
	}
	if h != "" {
		if s.high.removeWhere(match, 1) > 0 {
			return true
		}
		if s.normal.removeWhere(match, 1) > 0 {
			return true
		}
	}
	s.logger.Warn("Cancel of unknown timer handle",
		log.Handle(string(h)))
	return false
}

// CountMatching counts records in both queues whose target and callback
// both match, without removing them
func (s *Scheduler) CountMatching(target any, cb Callback) int {
	if target == nil || cb == nil {
		return 0
	}
	key := callbackKey(cb)
	count := 0
	for _, q := range []*timerQueue{&s.high, &s.normal} {
		for _, r := range q.records {
			if r.target == target && r.cbKey == key {
				count++
			}
		}
	}
	return count
}

// FireOneMatching removes the first record matching target and callback
// (high queue searched first) and invokes its callback immediately with the
// captured arguments, returning the callback's result
func (s *Scheduler) FireOneMatching(target any, cb Callback) (any, bool) {
	if target == nil || cb == nil {
		return nil, false
	}
	key := callbackKey(cb)
	for _, q := range []*timerQueue{&s.high, &s.normal} {
		for i, r := range q.records {
			if r.target == target && r.cbKey == key {
				q.removeAt(i)
				return r.callback(r.target, r.args...), true
			}
		}
	}
	return nil, false
}

// TimeUntilNext returns the time from now until the earliest executable
// record fires, clamped at zero when overdue. A queue already being pumped
// is skipped. The second result is false when no queue has an eligible
// candidate. This is the value the event loop uses for its I/O wait timeout
func (s *Scheduler) TimeUntilNext() (time.Duration, bool) {
	var next time.Time
	for _, q := range []*timerQueue{&s.high, &s.normal} {
		if q.running || q.len() == 0 {
			continue
		}
		if next.IsZero() || q.head.Before(next) {
			next = q.head
		}
	}
	if next.IsZero() {
		return 0, false
	}
	d := next.Sub(s.clock())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Pump runs due timers. The high queue is drained completely; if anything
// fired there, the normal queue is not touched so the caller can service
// I/O first. Otherwise, after the optional between-passes hook, at most one
// due normal record fires. Each queue's running flag blocks reentrant
// pumping and is released on every exit path, including a panicking
// callback
func (s *Scheduler) Pump(now time.Time) {
	if s.high.running {
		s.logger.Debug("Timer pump re-entered while draining")
		return
	}
	if s.pumpHigh(now) > 0 {
		return
	}
	if s.between != nil {
		s.between()
	}
	s.pumpNormal(now)
}

func (s *Scheduler) pumpHigh(now time.Time) (fired int) {
	s.high.running = true
	defer func() {
		s.high.running = false
	}()
	for s.high.due(now) {
		r := s.high.popHead()
		r.callback(r.target, r.args...)
		fired++
	}
	return fired
}

func (s *Scheduler) pumpNormal(now time.Time) {
	if s.normal.running {
		s.logger.Debug("Normal timer pass re-entered")
		return
	}
	s.normal.running = true
	defer func() {
		s.normal.running = false
	}()
	if s.normal.due(now) {
		r := s.normal.popHead()
		r.callback(r.target, r.args...)
	}
}

// AdjustAll adds delta to every pending record's fire time in both queues,
// refreshing the head caches. Called by the host when it detects a
// wall-clock jump; must not be called from within a callback
func (s *Scheduler) AdjustAll(delta time.Duration) {
	s.high.shift(delta)
	s.normal.shift(delta)
}

// Pending returns the total number of pending records across both queues
func (s *Scheduler) Pending() int {
	return s.high.len() + s.normal.len()
}

// ListPending returns a snapshot of every pending record for debugging
func (s *Scheduler) ListPending() []PendingInfo {
	infos := make([]PendingInfo, 0, s.Pending())
	for _, r := range s.high.records {
		infos = append(infos, r.pendingInfo(highQueueName))
	}
	for _, r := range s.normal.records {
		infos = append(infos, r.pendingInfo(normalQueueName))
	}
	return infos
}
