package systems

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
)

// Job runs Run on a worker goroutine. OnComplete or OnFailure run later on the
// goroutine calling JobSystem.Update, which is where GPU objects may be created.
type Job struct {
	Name       string
	Run        func() (interface{}, error)
	OnComplete func(result interface{}) error
	OnFailure  func(err error)
}

type jobResult struct {
	job    Job
	result interface{}
	err    error
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan Job
	wg         sync.WaitGroup

	mu       sync.Mutex
	finished []jobResult
	pending  int
}

var ErrNoWorkers = errors.New("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan Job, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				result, err := job.Run()
				js.mu.Lock()
				js.finished = append(js.finished, jobResult{job: job, result: result, err: err})
				js.mu.Unlock()
			}
		}()
	}
}

/**
 * @brief Submits the provided job to be queued for execution.
 * Blocks while the queue is full.
 */
func (js *JobSystem) Submit(job Job) {
	js.mu.Lock()
	js.pending++
	js.mu.Unlock()
	js.jobQueue <- job
}

// Pending is the number of submitted jobs whose callbacks have not run yet.
func (js *JobSystem) Pending() int {
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.pending
}

/**
 * @brief Runs the callbacks of the jobs finished since the last call.
 * Should happen once an update cycle, on the render thread.
 */
func (js *JobSystem) Update() error {
	js.mu.Lock()
	finished := js.finished
	js.finished = nil
	js.pending -= len(finished)
	js.mu.Unlock()

	var errs error
	for _, r := range finished {
		if r.err != nil {
			core.LogError("job '%s' failed: %s", r.job.Name, r.err.Error())
			if r.job.OnFailure != nil {
				r.job.OnFailure(r.err)
			}
			continue
		}
		if r.job.OnComplete != nil {
			if err := r.job.OnComplete(r.result); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "job '%s'", r.job.Name))
			}
		}
	}
	return errs
}

/**
 * @brief Shuts the job system down. Jobs already queued still run;
 * their callbacks run on the next Update.
 */
func (js *JobSystem) Shutdown() error {
	close(js.jobQueue)
	js.wg.Wait()
	return nil
}
