package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Job is one unit of work for the Dispatcher: either a new request or a
// snapshot to resume.
type Job struct {
	Direction Direction
	Request   *TransferRequest
	Snapshot  *Snapshot
}

func (j Job) transferID() string {
	if j.Snapshot != nil {
		return j.Snapshot.TransferID
	}
	return j.Request.ID
}

var (
	// ErrDispatcherStopped is returned by Enqueue after Start has returned.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	// ErrTransferInFlight is returned by Enqueue while a job for the same
	// transfer is queued or running.
	ErrTransferInFlight = errors.New("transfer already queued or running")
)

// Dispatcher runs queued transfers concurrently, one goroutine per pipeline.
// Outcomes are observed through the orchestrators' Recorder.
type Dispatcher struct {
	pipelines map[Direction]*Orchestrator
	jobs      chan Job
	done      chan struct{}
	logger    *zap.Logger

	// stopMu orders Enqueue sends against the shutdown drain.
	stopMu  sync.RWMutex
	stopped bool

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewDispatcher creates a dispatcher over one orchestrator per direction.
func NewDispatcher(logger *zap.Logger, queueSize int, pipelines ...*Orchestrator) *Dispatcher {
	byDirection := make(map[Direction]*Orchestrator, len(pipelines))
	for _, p := range pipelines {
		byDirection[p.Direction()] = p
	}
	return &Dispatcher{
		pipelines: byDirection,
		jobs:      make(chan Job, queueSize),
		done:      make(chan struct{}),
		inflight:  make(map[string]struct{}),
		logger:    logger.With(zap.String("component", "Dispatcher")),
	}
}

// Pipeline returns the orchestrator of a direction.
func (d *Dispatcher) Pipeline(direction Direction) (*Orchestrator, bool) {
	p, ok := d.pipelines[direction]
	return p, ok
}

// Enqueue hands a job to the dispatcher. It blocks while the queue is full.
// A transfer is claimed from Enqueue until its job finishes; a second job for
// the same transfer fails with ErrTransferInFlight.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	if _, ok := d.pipelines[job.Direction]; !ok {
		return fmt.Errorf("%w: no pipeline for direction %q", ErrValidation, job.Direction)
	}
	if (job.Request == nil) == (job.Snapshot == nil) {
		return errors.New("job needs exactly one of request or snapshot")
	}

	d.stopMu.RLock()
	defer d.stopMu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	id := job.transferID()
	if !d.claim(id) {
		return fmt.Errorf("%w: %s", ErrTransferInFlight, id)
	}
	select {
	case d.jobs <- job:
		return nil
	case <-d.done:
		d.release(id)
		return ErrDispatcherStopped
	case <-ctx.Done():
		d.release(id)
		return ctx.Err()
	}
}

func (d *Dispatcher) claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[id]; ok {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)
}

// Start processes jobs until ctx is done. On shutdown in-flight pipelines are
// cancelled at their next stage boundary and Start waits for them to record
// their Failed snapshots. Jobs still queued run against the cancelled context
// so they are recorded as resumable failures too.
func (d *Dispatcher) Start(ctx context.Context) error {
	var wg sync.WaitGroup

	processingCtx, cancelProcessing := context.WithCancel(context.Background())
	defer cancelProcessing()

	spawn := func(job Job) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.process(processingCtx, job)
		}()
	}

	d.logger.Info("Dispatcher started", zap.Int("pipelines", len(d.pipelines)))

	for {
		// Shutdown wins over queued jobs.
		select {
		case <-ctx.Done():
		default:
			select {
			case <-ctx.Done():
			case job := <-d.jobs:
				spawn(job)
				continue
			}
		}

		close(d.done)
		d.logger.Info("Shutting down dispatcher")
		cancelProcessing()

		// Blocked Enqueue calls return on d.done and release the lock.
		d.stopMu.Lock()
		d.stopped = true
		d.stopMu.Unlock()

		if queued := len(d.jobs); queued > 0 {
			d.logger.Info("Cancelling queued transfers", zap.Int("count", queued))
			for len(d.jobs) > 0 {
				spawn(<-d.jobs)
			}
		}
		d.logger.Info("Waiting for in-flight transfers to stop")
		wg.Wait()
		d.logger.Info("Shutdown complete")
		return nil
	}
}

func (d *Dispatcher) process(ctx context.Context, job Job) {
	defer d.release(job.transferID())
	pipeline := d.pipelines[job.Direction]

	var (
		result *TransferResult
		err    error
		id     string
	)
	if job.Snapshot != nil {
		id = job.Snapshot.TransferID
		result, err = pipeline.Resume(ctx, *job.Snapshot)
	} else {
		id = job.Request.ID
		result, err = pipeline.Transfer(ctx, *job.Request)
	}

	logger := d.logger.With(zap.String("transferId", id), zap.String("direction", string(job.Direction)))
	if err != nil {
		var te *TransferError
		if errors.As(err, &te) {
			logger.Warn("Transfer stopped",
				zap.String("stage", string(te.Stage)),
				zap.String("kind", KindName(te.Kind)),
				zap.Bool("resumable", te.Resumable()))
			return
		}
		logger.Error("Transfer failed", zap.Error(err))
		return
	}
	logger.Info("Transfer finished",
		zap.String("sourceTxID", result.SourceTxID),
		zap.String("destinationTxID", result.DestinationTxID))
}

// NewRequest builds and validates a request for direction.
func (d *Dispatcher) NewRequest(direction Direction, asset, amount, sender, recipient, label string) (TransferRequest, error) {
	pipeline, ok := d.pipelines[direction]
	if !ok {
		return TransferRequest{}, fmt.Errorf("%w: no pipeline for direction %q", ErrValidation, direction)
	}
	req, err := pipeline.NewRequest(asset, amount, sender, recipient, label)
	if err != nil {
		return TransferRequest{}, err
	}
	if err := Validate(req, pipeline.config); err != nil {
		return TransferRequest{}, err
	}
	return req, nil
}
