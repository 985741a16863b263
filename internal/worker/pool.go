package worker

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/common"
)

// Task is one unit of work submitted to the pool
type Task struct {
	ID  string
	Run func(ctx context.Context) error
}

// Result reports the outcome of a task, in submission order
type Result struct {
	ID  string
	Err error
}

// WorkerPool runs batches of tasks on a fixed number of workers
type WorkerPool struct {
	logger     arbor.ILogger
	numWorkers int
}

func NewWorkerPool(logger arbor.ILogger, numWorkers int) *WorkerPool {
	if logger == nil {
		logger = common.GetLogger()
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool{
		logger:     logger,
		numWorkers: numWorkers,
	}
}

// Run executes every task and blocks until all have finished.
// Tasks not yet started when ctx is cancelled report ctx.Err().
func (wp *WorkerPool) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	indexes := make(chan int)
	var wg sync.WaitGroup

	workers := wp.numWorkers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go wp.worker(ctx, i, tasks, results, indexes, &wg)
	}

	for i := range tasks {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return results
}

// worker is the main worker loop
func (wp *WorkerPool) worker(ctx context.Context, workerID int, tasks []Task, results []Result, indexes <-chan int, wg *sync.WaitGroup) {
	defer wg.Done()

	for i := range indexes {
		task := tasks[i]
		results[i] = Result{ID: task.ID}

		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}

		wp.logger.Debug().
			Int("worker_id", workerID).
			Str("task_id", task.ID).
			Msg("Processing task")

		results[i].Err = wp.execute(ctx, task)
		if results[i].Err != nil {
			wp.logger.Warn().
				Err(results[i].Err).
				Int("worker_id", workerID).
				Str("task_id", task.ID).
				Msg("Task failed")
		}
	}
}

// execute runs a task, converting a panic into an error
func (wp *WorkerPool) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{TaskID: task.ID, Value: r}
		}
	}()
	return task.Run(ctx)
}
