package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks.
type TaskFn func()

// Task kinds reported by List.
const (
	KindTicker = "ticker"
	KindCron   = "cron"
	KindDelay  = "delay"
)

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
}

// Scheduler manages periodic, cron and delayed tasks.
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*tickerEntry
	timers  map[string]*timerEntry
	crons   map[string]*cronEntry
	cron    *cron.Cron
	logger  *zap.Logger
	stopCh  chan struct{}
	once    sync.Once
}

type tickerEntry struct {
	ticker   *time.Ticker
	interval time.Duration
	stopCh   chan struct{}
}

type timerEntry struct {
	timer *time.Timer
	due   time.Time
}

type cronEntry struct {
	id   cron.EntryID
	spec string
}

// New creates a new Scheduler. The cron runner starts immediately.
func New(logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		tickers: make(map[string]*tickerEntry),
		timers:  make(map[string]*timerEntry),
		crons:   make(map[string]*cronEntry),
		cron:    cron.New(),
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
	s.cron.Start()
	return s
}

// run invokes fn and recovers from panics so one task cannot take down the process.
func (s *Scheduler) run(name string, fn TaskFn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked",
				zap.String("task", name),
				zap.Any("recover", r))
		}
	}()
	fn()
}

// AddTicker registers a task to run on a fixed interval.
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(name)

	entry := &tickerEntry{
		ticker:   time.NewTicker(interval),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	s.tickers[name] = entry

	go func() {
		for {
			select {
			case <-entry.ticker.C:
				s.run(name, fn)
			case <-entry.stopCh:
				entry.ticker.Stop()
				return
			case <-s.stopCh:
				entry.ticker.Stop()
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

// AddCron registers a task on a standard cron spec ("0 3 * * *", "@daily", "@every 1h").
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddCron(name, spec string, fn TaskFn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return err
	}
	s.removeLocked(name)
	s.crons[name] = &cronEntry{id: id, spec: spec}
	s.logger.Info("scheduler cron registered", zap.String("name", name), zap.String("spec", spec))
	return nil
}

// AddDelay runs fn once after the given delay.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(name)
	entry := &timerEntry{due: time.Now().Add(delay)}
	entry.timer = time.AfterFunc(delay, func() {
		defer func() {
			s.mu.Lock()
			if cur, ok := s.timers[name]; ok && cur == entry {
				delete(s.timers, name)
			}
			s.mu.Unlock()
		}()
		s.run(name, fn)
	})
	s.timers[name] = entry
}

// Remove stops and removes a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
}

func (s *Scheduler) removeLocked(name string) {
	if entry, ok := s.tickers[name]; ok {
		close(entry.stopCh)
		delete(s.tickers, name)
	}
	if t, ok := s.timers[name]; ok {
		t.timer.Stop()
		delete(s.timers, name)
	}
	if c, ok := s.crons[name]; ok {
		s.cron.Remove(c.id)
		delete(s.crons, name)
	}
}

// Stop stops all tasks. Running cron jobs are allowed to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
		<-s.cron.Stop().Done()
		s.mu.Lock()
		for _, t := range s.timers {
			t.timer.Stop()
		}
		s.mu.Unlock()
	})
}

// ListTickers returns the names of all registered ticker tasks.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tickers))
	for name := range s.tickers {
		names = append(names, name)
	}
	return names
}

// List returns every registered task sorted by name.
func (s *Scheduler) List() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskInfo, 0, len(s.tickers)+len(s.crons)+len(s.timers))
	for name, t := range s.tickers {
		out = append(out, TaskInfo{Name: name, Kind: KindTicker, Schedule: t.interval.String()})
	}
	for name, c := range s.crons {
		out = append(out, TaskInfo{Name: name, Kind: KindCron, Schedule: c.spec, Next: s.cron.Entry(c.id).Next})
	}
	for name, t := range s.timers {
		out = append(out, TaskInfo{Name: name, Kind: KindDelay, Next: t.due})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
