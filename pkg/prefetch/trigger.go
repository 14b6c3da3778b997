package prefetch

import (
	"sync"
	"time"
)

// TriggerSource emits hints about what will be needed soon. The host
// environment implements it; the queue only registers callbacks.
type TriggerSource interface {
	// OnEnter registers fn for targets that became visible.
	OnEnter(fn func(target string))
	// OnHoverStart registers fn for targets the user started hovering.
	OnHoverStart(fn func(target string))
	// OnIdle registers fn for idle ticks.
	OnIdle(fn func())
}

// Attach wires src into the queue: enter enqueues at medium priority, hover
// enqueues at high priority after the hover debounce, and idle ticks enqueue
// the registered idle candidates at low priority.
func (q *Queue) Attach(src TriggerSource) {
	src.OnEnter(func(target string) {
		_, _ = q.Enqueue(target, WithPriority(PriorityMedium))
	})
	src.OnHoverStart(q.hover)
	src.OnIdle(q.idleTick)
}

// WhenIdle registers target as a candidate for idle ticks.
func (q *Queue) WhenIdle(targets ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, target := range targets {
		if !containsString(q.idle, target) {
			q.idle = append(q.idle, target)
		}
	}
}

// hover restarts the debounce timer of target.
func (q *Queue) hover(target string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if timer, ok := q.hovers[target]; ok {
		timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(q.opts.hoverDebounce, func() {
		q.mu.Lock()
		current := q.hovers[target] == timer
		if current {
			delete(q.hovers, target)
		}
		q.mu.Unlock()

		if current {
			_, _ = q.Enqueue(target, WithPriority(PriorityHigh))
		}
	})
	q.hovers[target] = timer
}

func (q *Queue) idleTick() {
	q.mu.Lock()
	candidates := append([]string(nil), q.idle...)
	q.mu.Unlock()

	for _, target := range candidates {
		_, _ = q.Enqueue(target, WithPriority(PriorityLow))
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ManualSource is a TriggerSource driven by explicit calls.
// Hosts use it to forward events received over the network.
type ManualSource struct {
	enter []func(string)
	hover []func(string)
	idle  []func()
	mu    sync.RWMutex
}

// NewManualSource creates an empty source.
func NewManualSource() *ManualSource {
	return &ManualSource{}
}

func (s *ManualSource) OnEnter(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enter = append(s.enter, fn)
}

func (s *ManualSource) OnHoverStart(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hover = append(s.hover, fn)
}

func (s *ManualSource) OnIdle(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = append(s.idle, fn)
}

// Enter reports that target became visible.
func (s *ManualSource) Enter(target string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.enter {
		fn(target)
	}
}

// Hover reports that the user started hovering target.
func (s *ManualSource) Hover(target string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.hover {
		fn(target)
	}
}

// Idle reports an idle tick.
func (s *ManualSource) Idle() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.idle {
		fn()
	}
}

var _ TriggerSource = (*ManualSource)(nil)
