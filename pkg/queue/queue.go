// Package queue implements the minimal Redis-backed job queue and
// worker pool standing in for the task-queue runtime this expansion's
// core composes against but does not itself provide (SPEC_FULL.md §A4).
//
// Grounded on the original system's reliance on a Redis-backed celery
// broker for task dispatch, and on original_source/cu/utils/redis's
// Redis_Dictionary for job-state tracking (reused here as pkg/distmap).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskmemo.dev/taskmemo/pkg/distmap"
	"taskmemo.dev/taskmemo/pkg/errkind"
	"taskmemo.dev/taskmemo/pkg/osutil"
)

// fdsPerWorker estimates the open-file budget one worker can consume at
// once: the job's cache-fn leaf output, a remote-path download into the
// local mirror, and the artifact's sibling _meta file.
const fdsPerWorker = 8

// State is one of the job states the dispatch front-end polls for,
// mirroring SPEC_FULL.md §4.11's enumerated set.
type State string

const (
	Pending State = "PENDING"
	Started State = "STARTED"
	Success State = "SUCCESS"
	Failure State = "FAILURE"
	Retry   State = "RETRY"
	Revoked State = "REVOKED"
)

// Result is what a job's state entry carries: its terminal state plus
// either a value or an error message.
type Result struct {
	State State  `json:"state"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// Job is one unit of work: a registered task name plus its keyword
// arguments, serialized onto the Redis list backing the queue.
type Job struct {
	ID       string         `json:"id"`
	TaskName string         `json:"task_name"`
	Kwargs   map[string]any `json:"kwargs"`
}

// TaskFunc is a registered task's body.
type TaskFunc func(ctx context.Context, kwargs map[string]any) (any, error)

// Queue submits jobs onto a Redis list and tracks their state in a
// distmap.Map keyed by job id.
type Queue struct {
	client  *redis.Client
	listKey string
	results *distmap.Map
}

// New builds a Queue over client. listKey names the Redis list jobs are
// pushed onto; resultExpire bounds how long a job's terminal state
// survives in the results map (SPEC_FULL.md §4.5's result_expires).
func New(client *redis.Client, listKey string, resultExpire time.Duration) *Queue {
	return &Queue{
		client:  client,
		listKey: listKey,
		results: distmap.New(client, "jobstate", resultExpire),
	}
}

// Submit enqueues a job invoking taskName with kwargs, recording it as
// Pending, and returns its job id.
func (q *Queue) Submit(ctx context.Context, taskName string, kwargs map[string]any) (string, error) {
	id := uuid.NewString()
	job := Job{ID: id, TaskName: taskName, Kwargs: kwargs}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", errkind.Wrap(errkind.MalformedArgument, "queue: encoding job", err)
	}
	if err := q.results.Set(ctx, id, Result{State: Pending}); err != nil {
		return "", err
	}
	if err := q.client.RPush(ctx, q.listKey, raw).Err(); err != nil {
		return "", fmt.Errorf("queue: submit: %w", err)
	}
	return id, nil
}

// State returns the current tracked state of job id. Absent entries
// surface as errkind.NotInStore.
func (q *Queue) State(ctx context.Context, id string) (Result, error) {
	var r Result
	if err := q.results.Get(ctx, id, &r); err != nil {
		if errors.Is(err, distmap.ErrNotFound) {
			return Result{}, errkind.New(errkind.NotInStore, id)
		}
		return Result{}, err
	}
	return r, nil
}

// Forget deletes job id's tracked state entry. The dispatch front-end's
// queue-tracking entry (dispatch key to job id) lives in a separate map
// and is not touched.
func (q *Queue) Forget(ctx context.Context, id string) error {
	return q.results.Delete(ctx, id)
}

func (q *Queue) setState(ctx context.Context, id string, r Result) {
	q.results.Set(ctx, id, r)
}

func (q *Queue) dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	res, err := q.client.BLPop(ctx, timeout, q.listKey).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

// Registry maps task names to their bodies, registered once at startup
// by cmd/taskmemod (SPEC_FULL.md §A5's "register example tasks" step).
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskFunc
}

// NewRegistry builds an empty task Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]TaskFunc)}
}

// Register binds name to fn, overwriting any existing binding.
func (r *Registry) Register(name string, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = fn
}

func (r *Registry) lookup(name string) (TaskFunc, bool) {
	return r.Lookup(name)
}

// Lookup returns the TaskFunc bound to name, if any. Exported so other
// collaborators (e.g. pkg/taskdecorator's synchronous pipeline
// interpreter) can invoke a registered task directly without going
// through the queue.
func (r *Registry) Lookup(name string) (TaskFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tasks[name]
	return fn, ok
}

// Pool runs N goroutines pulling jobs off a Queue and invoking them
// against a Registry, grounded on the teacher's bounded goroutine
// fan-out idiom (N workers, one sync.WaitGroup, a stop channel) rather
// than on any Perkeep-specific concurrency helper, since pkg/syncutil's
// abstractions (singleflight groups, leaky buckets) do not fit a simple
// worker-pool shape.
type Pool struct {
	Queue    *Queue
	Registry *Registry
	Workers  int
	Log      zerolog.Logger
}

// Run starts the pool's workers and blocks until stop is closed. The
// configured worker count is clamped against the process's file
// descriptor limit (pkg/osutil.MaxFD) so a burst of cache misses can't
// open enough concurrent downloads to exhaust descriptors shared with
// the local mirror; systems where the limit can't be read run
// unclamped.
func (p *Pool) Run(ctx context.Context, stop <-chan struct{}) {
	n := p.Workers
	if n < 1 {
		n = 1
	}
	if max, err := osutil.MaxFD(); err == nil {
		clamped := clampWorkers(n, max)
		if clamped != n {
			p.Log.Warn().Int("configured", n).Int("clamped_to", clamped).Msg("queue: clamping worker count to file descriptor limit")
		}
		n = clamped
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			p.runOne(ctx, stop)
		}()
	}
	wg.Wait()
}

// clampWorkers caps n to what maxFD open descriptors can support at
// fdsPerWorker each, leaving n unchanged if that would raise it.
func clampWorkers(n int, maxFD uint64) int {
	fdCap := int(maxFD / fdsPerWorker)
	if fdCap > 0 && n > fdCap {
		return fdCap
	}
	return n
}

func (p *Pool) runOne(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		job, ok, err := p.Queue.dequeue(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.Log.Warn().Err(err).Msg("queue: dequeue failed")
			continue
		}
		if !ok {
			continue
		}
		p.execute(ctx, job)
	}
}

func (p *Pool) execute(ctx context.Context, job Job) {
	fn, ok := p.Registry.lookup(job.TaskName)
	if !ok {
		p.Queue.setState(ctx, job.ID, Result{State: Failure, Error: fmt.Sprintf("queue: unknown task %q", job.TaskName)})
		return
	}
	p.Queue.setState(ctx, job.ID, Result{State: Started})

	val, err := fn(ctx, job.Kwargs)
	if err != nil {
		p.Queue.setState(ctx, job.ID, Result{State: Failure, Error: err.Error()})
		return
	}
	p.Queue.setState(ctx, job.ID, Result{State: Success, Value: val})
}
