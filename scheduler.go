package gobayeux

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const minimumDelay = time.Millisecond

// scheduler runs at most one delayed task per session. Scheduling a new task
// replaces the pending one, and cancel drops whatever is pending so that no
// timer survives an abort or a disconnect.
type scheduler struct {
	clock clock.Clock

	lock       sync.Mutex
	timer      *clock.Timer
	generation uint64
}

func newScheduler(c clock.Clock) *scheduler {
	if c == nil {
		c = clock.New()
	}
	return &scheduler{clock: c}
}

func (s *scheduler) schedule(delay time.Duration, task func()) {
	if delay < minimumDelay {
		delay = minimumDelay
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.stopLocked()
	generation := s.generation
	s.timer = s.clock.AfterFunc(delay, func() {
		s.lock.Lock()
		current := generation == s.generation
		if current {
			s.timer = nil
		}
		s.lock.Unlock()

		if current {
			task()
		}
	})
}

func (s *scheduler) cancel() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stopLocked()
}

func (s *scheduler) pending() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.timer != nil
}

func (s *scheduler) stopLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
