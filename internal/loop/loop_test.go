package loop_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quaver-audio/quaver/internal/loop"
	"github.com/quaver-audio/quaver/pkg/timers"
)

type (
	testTimerConstructor struct {
		created chan *fakeTimer
	}

	fakeTimer struct {
		ch      chan time.Time
		resets  chan time.Duration
		stops   chan struct{}
		stopped atomic.Bool
	}

	testClock struct {
		mu  sync.Mutex
		now time.Time
	}
)

const loopWaitTimeout = time.Second

var loopEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func withFakeLoop(
	t *testing.T, fn func(l *loop.Loop, timer *fakeTimer, clock *testClock),
) {
	t.Helper()
	clock := &testClock{now: loopEpoch}
	ctor := &testTimerConstructor{created: make(chan *fakeTimer, 1)}
	l := loop.New(
		timers.New(clock.Now),
		clock.Now,
		loop.WithTimerConstructor(ctor.NewTimer),
		loop.WithSkewThreshold(10*time.Second),
	)
	l.Start()
	defer l.Stop()

	fn(l, ctor.WaitTimer(t), clock)
}

func TestLoopRunsDueTimer(t *testing.T) {
	withFakeLoop(t, func(l *loop.Loop, timer *fakeTimer, clock *testClock) {
		done := make(chan struct{}, 1)

		err := l.Do(func(s *timers.Scheduler) {
			_, err := s.ScheduleNormal(
				"test", loopEpoch.Add(40*time.Millisecond),
				func(any, ...any) any {
					done <- struct{}{}
					return nil
				},
			)
			assert.NoError(t, err)
		})
		assert.NoError(t, err)
		assert.Equal(t, 40*time.Millisecond, timer.WaitReset(t))

		clock.Set(loopEpoch.Add(40 * time.Millisecond))
		timer.Fire(clock.Now())

		select {
		case <-done:
		case <-time.After(loopWaitTimeout):
			t.Fatal("scheduled timer did not run")
		}
	})
}

func TestLoopPostRunsRequest(t *testing.T) {
	withFakeLoop(t, func(l *loop.Loop, timer *fakeTimer, clock *testClock) {
		done := make(chan struct{}, 1)

		err := l.Post(func() {
			done <- struct{}{}
		})
		assert.NoError(t, err)

		select {
		case <-done:
		case <-time.After(loopWaitTimeout):
			t.Fatal("posted request did not run")
		}
	})
}

func TestLoopCancelStopsTimer(t *testing.T) {
	withFakeLoop(t, func(l *loop.Loop, timer *fakeTimer, clock *testClock) {
		var ran atomic.Bool
		cb := func(any, ...any) any {
			ran.Store(true)
			return nil
		}

		err := l.Do(func(s *timers.Scheduler) {
			_, err := s.ScheduleNormal(
				"test", loopEpoch.Add(100*time.Millisecond), cb,
			)
			assert.NoError(t, err)
		})
		assert.NoError(t, err)
		assert.Equal(t, 100*time.Millisecond, timer.WaitReset(t))

		err = l.Do(func(s *timers.Scheduler) {
			assert.Equal(t, 1, s.CancelByTarget("test"))
		})
		assert.NoError(t, err)
		timer.WaitStop(t)

		clock.Set(loopEpoch.Add(100 * time.Millisecond))
		timer.Fire(clock.Now())
		time.Sleep(50 * time.Millisecond)
		assert.False(t, ran.Load())
	})
}

func TestLoopAdjustsForClockJump(t *testing.T) {
	withFakeLoop(t, func(l *loop.Loop, timer *fakeTimer, clock *testClock) {
		done := make(chan struct{}, 1)
		var farRuns atomic.Int32

		err := l.Do(func(s *timers.Scheduler) {
			_, err := s.ScheduleNormal(
				"near", loopEpoch.Add(100*time.Millisecond),
				func(any, ...any) any {
					done <- struct{}{}
					return nil
				},
			)
			assert.NoError(t, err)
			_, err = s.ScheduleNormal(
				"far", loopEpoch.Add(30*time.Minute),
				func(any, ...any) any {
					farRuns.Add(1)
					return nil
				},
			)
			assert.NoError(t, err)
		})
		assert.NoError(t, err)
		assert.Equal(t, 100*time.Millisecond, timer.WaitReset(t))

		// Simulate suspend/resume: the wall clock jumps an hour forward
		// before the armed timer is serviced
		jumped := loopEpoch.Add(time.Hour)
		clock.Set(jumped)
		timer.Fire(jumped)

		select {
		case <-done:
		case <-time.After(loopWaitTimeout):
			t.Fatal("near timer did not run after clock jump")
		}

		// The far timer must have been shifted past the jump rather than
		// becoming due
		err = l.Do(func(s *timers.Scheduler) {
			d, ok := s.TimeUntilNext()
			assert.True(t, ok)
			assert.Greater(t, d, 29*time.Minute)
		})
		assert.NoError(t, err)
		assert.Equal(t, int32(0), farRuns.Load())
	})
}

func TestLoopStop(t *testing.T) {
	clock := &testClock{now: loopEpoch}
	ctor := &testTimerConstructor{created: make(chan *fakeTimer, 1)}
	l := loop.New(
		timers.New(clock.Now),
		clock.Now,
		loop.WithTimerConstructor(ctor.NewTimer),
	)
	l.Start()
	l.Stop()

	err := l.Post(func() {})
	assert.ErrorIs(t, err, loop.ErrLoopStopped)
}

func (c *testTimerConstructor) NewTimer(delay time.Duration) loop.Timer {
	timer := newFakeTimer()
	select {
	case c.created <- timer:
	default:
	}
	return timer
}

func (c *testTimerConstructor) WaitTimer(t *testing.T) *fakeTimer {
	t.Helper()
	select {
	case timer := <-c.created:
		return timer
	case <-time.After(loopWaitTimeout):
		t.Fatal("loop timer was not created")
		return nil
	}
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{
		ch:     make(chan time.Time, 1),
		resets: make(chan time.Duration, 16),
		stops:  make(chan struct{}, 16),
	}
}

func (t *fakeTimer) Channel() <-chan time.Time {
	return t.ch
}

func (t *fakeTimer) Reset(delay time.Duration) bool {
	t.stopped.Store(false)
	drainTimeChan(t.ch)
	t.resets <- delay
	return true
}

func (t *fakeTimer) Stop() bool {
	alreadyStopped := t.stopped.Load()
	t.stopped.Store(true)
	drainTimeChan(t.ch)
	select {
	case t.stops <- struct{}{}:
	default:
	}
	return !alreadyStopped
}

func (t *fakeTimer) Fire(at time.Time) {
	if t.stopped.Load() {
		return
	}
	select {
	case t.ch <- at:
	default:
	}
}

func (t *fakeTimer) WaitReset(test *testing.T) time.Duration {
	test.Helper()
	select {
	case delay := <-t.resets:
		return delay
	case <-time.After(loopWaitTimeout):
		test.Fatal("loop timer reset not observed")
		return 0
	}
}

func (t *fakeTimer) WaitStop(test *testing.T) {
	test.Helper()
	select {
	case <-t.stops:
	case <-time.After(loopWaitTimeout):
		test.Fatal("loop timer stop not observed")
	}
}

func drainTimeChan(ch chan time.Time) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
