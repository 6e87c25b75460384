package service

import (
	"sync"
	"time"
)

// Scheduler runs deferred tasks keyed by an identity. Scheduling a key again
// replaces its pending task.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*scheduledTask
	running sync.WaitGroup
	stopped bool
	now     func() time.Time
}

type scheduledTask struct {
	timer *time.Timer
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*scheduledTask), now: time.Now}
}

// Schedule runs fn at the given time, or immediately if it has already passed.
func (s *Scheduler) Schedule(key string, at time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}

	task := &scheduledTask{}
	task.timer = time.AfterFunc(at.Sub(s.now()), func() {
		s.mu.Lock()
		if s.tasks[key] != task || s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		fn()
	})
	s.tasks[key] = task
}

// Cancel drops the pending task for key. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[key]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending reports whether a task is waiting for key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Stop cancels all pending tasks and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	s.running.Wait()
}
