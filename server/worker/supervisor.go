package worker

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/trace"
	"golang.org/x/sync/errgroup"

	"github.com/porpoises/clusterapp/server/config"
)

type SupervisorOptions struct {
	Workers int
	Worker  WorkerOptions

	AlarmCount   int
	AlarmWindow  time.Duration
	RespawnRetry time.Duration

	// OnExit, if set, is called from the supervisor loop with the final
	// record of every worker that terminated.
	OnExit func(Record)
}

// Supervisor keeps Workers worker processes alive. Every worker that
// terminates, for any reason, is replaced at once and without limit.
type Supervisor struct {
	opts *SupervisorOptions

	alarm  *alarm
	events trace.EventLog

	exits chan exit
	retry chan int

	mu      sync.Mutex
	live    map[int]*Worker
	spawned int
}

type exit struct {
	worker *Worker
	state  *os.ProcessState
	at     time.Time
}

func NewSupervisor(opts *SupervisorOptions) *Supervisor {
	if opts.AlarmCount == 0 {
		opts.AlarmCount = config.DefaultAlarmCount
	}
	if opts.AlarmWindow == 0 {
		opts.AlarmWindow = config.DefaultAlarmWindow
	}
	if opts.RespawnRetry == 0 {
		opts.RespawnRetry = config.DefaultRespawnRetry
	}
	return &Supervisor{
		opts: opts,

		alarm: &alarm{
			count:  opts.AlarmCount,
			window: opts.AlarmWindow,
		},

		live: make(map[int]*Worker),
	}
}

// Start forks every worker and then supervises them until ctx is done. A
// fork failure during startup kills the workers already forked and is
// returned; after startup Start only returns ctx.Err().
func (s *Supervisor) Start(ctx context.Context) error {
	if s.opts.Workers < 1 {
		return fmt.Errorf("need at least one worker, got %d", s.opts.Workers)
	}

	s.events = trace.NewEventLog("supervisor", fmt.Sprintf("pid %d", os.Getpid()))
	defer s.events.Finish()

	// Workers are bound to runCtx so cancelling it kills all of them.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.exits = make(chan exit, s.opts.Workers)
	s.retry = make(chan int)

	var g errgroup.Group
	for slot := 0; slot < s.opts.Workers; slot++ {
		slot := slot
		g.Go(func() error {
			return s.spawn(runCtx, slot)
		})
	}
	if err := g.Wait(); err != nil {
		s.events.Errorf("startup failed: %v", err)
		cancel()
		s.reap()
		return errors.Wrap(err, "failed to start workers")
	}
	s.events.Printf("started %d workers", s.opts.Workers)

	for {
		select {
		case <-ctx.Done():
			s.events.Printf("stopping: %v", ctx.Err())
			cancel()
			s.reap()
			return ctx.Err()

		case e := <-s.exits:
			s.onExit(runCtx, e)

		case slot := <-s.retry:
			s.respawn(runCtx, slot)
		}
	}
}

func (s *Supervisor) spawn(ctx context.Context, slot int) error {
	w, err := newWorker(ctx, &s.opts.Worker, slot)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.live[slot] = w
	s.spawned++
	s.mu.Unlock()

	s.events.Printf("forked %s", w.Record)

	go func() {
		state := w.wait()
		s.exits <- exit{worker: w, state: state, at: time.Now()}
	}()
	return nil
}

// retire marks the worker of e as exited, drops it from the live set and
// returns its final record.
func (s *Supervisor) retire(e exit) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.worker.markExited(e.state, e.at)
	delete(s.live, e.worker.Slot)
	return e.worker.Record
}

func (s *Supervisor) onExit(ctx context.Context, e exit) {
	record := s.retire(e)

	glog.Infof("worker %d died: %s", record.Pid, record)
	s.events.Printf("died %s", record)
	if s.opts.OnExit != nil {
		s.opts.OnExit(record)
	}

	if s.alarm.restart(time.Now()) {
		glog.Warningf("Restart loop: %d worker restarts within %s", len(s.alarm.restarts), s.alarm.window)
		s.events.Errorf("restart loop: %d restarts within %s", len(s.alarm.restarts), s.alarm.window)
	}

	glog.Info("Let's fork another worker!")
	s.respawn(ctx, record.Slot)
}

// respawn forks a replacement for slot. On failure the slot is queued again
// after RespawnRetry; it is never given up.
func (s *Supervisor) respawn(ctx context.Context, slot int) {
	err := s.spawn(ctx, slot)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	glog.Errorf("%v; retrying in %s", err, s.opts.RespawnRetry)
	s.events.Errorf("respawn of slot %d failed: %v", slot, err)

	time.AfterFunc(s.opts.RespawnRetry, func() {
		select {
		case s.retry <- slot:
		case <-ctx.Done():
		}
	})
}

// reap waits for every live worker to terminate. Callers cancel the workers'
// context first.
func (s *Supervisor) reap() {
	for {
		s.mu.Lock()
		n := len(s.live)
		s.mu.Unlock()
		if n == 0 {
			return
		}

		record := s.retire(<-s.exits)
		glog.Infof("worker %d stopped: %s", record.Pid, record)
	}
}

// Records returns the live workers ordered by slot.
func (s *Supervisor) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Record, 0, len(s.live))
	for _, w := range s.live {
		records = append(records, w.Record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Slot < records[j].Slot
	})
	return records
}

// Spawned is the number of successful forks so far, replacements included.
func (s *Supervisor) Spawned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned
}
