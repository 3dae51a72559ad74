package action

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/dalfy/build2/internal/target"
)

// Result is one structured-result line emitted by the scheduler for a
// single target's outcome within a batch (§6 "--structured-result").
type Result struct {
	RunID  string
	Action Key
	Target string
	State  string
	Err    error
}

// SchedulerOptions configures a Scheduler's concurrency and failure
// handling (§5, §6 CLI flags jobs/max-jobs/queue-depth/serial-stop).
type SchedulerOptions struct {
	// Jobs is the number of worker goroutines; 0 selects DefaultJobs()
	// (eight per logical CPU, regardless of pointer width).
	Jobs int
	// MaxJobs caps Jobs regardless of what was requested. It has no default;
	// 0 leaves Jobs uncapped.
	MaxJobs int
	// QueueDepth is the per-worker queue depth (0 selects 4): up to
	// QueueDepth x Jobs targets may be queued awaiting a worker before
	// submission blocks, smoothing memory use on huge batches.
	QueueDepth int
	// SerialStop, if true, stops scheduling further targets in the batch
	// as soon as one fails (§6 "--serial-stop").
	SerialStop bool
}

// DefaultJobs returns a job count derived from the live logical CPU count
// (eight workers per logical CPU), the way the teacher's config derives size-sensitive defaults from the
// running environment rather than a hard-coded constant.
func DefaultJobs() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU() * 8
	}
	return n * 8
}

// Scheduler runs a batch of (action, target) pairs through Execute with
// bounded concurrency (§5 "bounded worker pool").
type Scheduler struct {
	opts    SchedulerOptions
	RunID   string
	metrics *schedulerMetrics
}

// NewScheduler constructs a scheduler, applying MaxJobs/DefaultJobs
// fallbacks and registering its metrics.
func NewScheduler(opts SchedulerOptions, reg prometheus.Registerer) *Scheduler {
	if opts.Jobs <= 0 {
		opts.Jobs = DefaultJobs()
	}
	if opts.MaxJobs > 0 && opts.Jobs > opts.MaxJobs {
		opts.Jobs = opts.MaxJobs
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 4
	}
	opts.QueueDepth *= opts.Jobs
	return &Scheduler{
		opts:    opts,
		RunID:   uuid.NewString(),
		metrics: newSchedulerMetrics(reg),
	}
}

// Batch is one operation batch: a single action applied across a list of
// targets (§4.F "operation batch lists targets").
type Batch struct {
	Action  Key
	Targets []*target.Target
}

// Run executes batch against actx with the scheduler's bounded
// concurrency, returning a Result per target and an aggregated error (via
// go-multierror) of every target's execution failure. In --serial-stop
// mode, the first failure prevents any not-yet-started target from running,
// whether or not it was already queued; already-running targets still
// finish.
func (s *Scheduler) Run(ctx context.Context, actx *Context, batch Batch) ([]Result, error) {
	jobs := make(chan *target.Target, s.opts.QueueDepth)
	results := make([]Result, len(batch.Targets))

	var stopped int32 // atomic flag set once serial-stop trips
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error

	worker := func() {
		for t := range jobs {
			if atomic.LoadInt32(&stopped) == 1 {
				wg.Done()
				continue
			}
			s.metrics.active.Inc()
			state, err := Execute(ctx, actx, batch.Action, t)
			s.metrics.active.Dec()
			s.metrics.completed.Inc()

			mu.Lock()
			idx := indexOf(batch.Targets, t)
			results[idx] = Result{RunID: s.RunID, Action: batch.Action, Target: t.Key().String(), State: state.String(), Err: err}
			if err != nil || state == target.Failed {
				errs = multierror.Append(errs, err)
				if s.opts.SerialStop {
					atomic.StoreInt32(&stopped, 1)
				}
			}
			mu.Unlock()
			wg.Done()
		}
	}

	n := s.opts.Jobs
	if n > len(batch.Targets) {
		n = len(batch.Targets)
	}
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go worker()
	}

	wg.Add(len(batch.Targets))
	for _, t := range batch.Targets {
		if atomic.LoadInt32(&stopped) == 1 {
			wg.Done()
			continue
		}
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	return results, errs.ErrorOrNil()
}

func indexOf(ts []*target.Target, t *target.Target) int {
	for i, v := range ts {
		if v == t {
			return i
		}
	}
	return -1
}
