package prefetch

import (
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
)

// CronSource fires idle ticks on a cron schedule. It never reports enter or
// hover events.
//
// The schedule accepts standard five-field expressions and descriptors such
// as "@every 30s" or "@hourly".
type CronSource struct {
	cron *cron.Cron
	idle []func()
	mu   sync.RWMutex
}

// NewCronSource parses schedule and prepares the source. Call Start to run it.
func NewCronSource(schedule string) (*CronSource, error) {
	s := &CronSource{cron: cron.New()}
	if _, err := s.cron.AddFunc(schedule, s.fire); err != nil {
		return nil, errors.Join(ErrInvalidCron, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *CronSource) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running tick to return.
func (s *CronSource) Stop() {
	<-s.cron.Stop().Done()
}

func (s *CronSource) OnEnter(func(string)) {}

func (s *CronSource) OnHoverStart(func(string)) {}

func (s *CronSource) OnIdle(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = append(s.idle, fn)
}

func (s *CronSource) fire() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.idle {
		fn()
	}
}

var _ TriggerSource = (*CronSource)(nil)
