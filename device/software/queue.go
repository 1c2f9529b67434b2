package software

import (
	"context"
	"sync"

	"github.com/achilleasa/vkrt/device"
	"github.com/pkg/errors"
)

// The number of submissions that can be queued before Submit blocks.
const queueDepth = 64

type queueJob struct {
	submits []device.SubmitInfo
	fence   *fence
}

// queue serializes submissions on a single worker goroutine.
type queue struct {
	dev *Device

	sync.Mutex
	wg sync.WaitGroup

	// A channel for receiving submissions.
	jobChan chan queueJob

	// A channel for signaling the worker to exit.
	closeChan chan struct{}
}

func newQueue(dev *Device) *queue {
	return &queue{
		dev:     dev,
		jobChan: make(chan queueJob, queueDepth),
	}
}

// Validate and enqueue submissions.
func (q *queue) Submit(ctx context.Context, f device.Fence, submits ...device.SubmitInfo) error {
	if err := q.dev.checkAlive(); err != nil {
		return err
	}

	var cbs []*commandBuffer
	for si, submit := range submits {
		if len(submit.WaitStages) != len(submit.WaitSemaphores) {
			return errors.Errorf("software device (%s): submit %d has %d wait semaphores but %d wait stages", q.dev.name(), si, len(submit.WaitSemaphores), len(submit.WaitStages))
		}
		for _, cb := range submit.CommandBuffers {
			scb, err := asCommandBuffer(cb)
			if err != nil {
				return err
			}
			if err = scb.checkExecutable(); err != nil {
				return err
			}
			cbs = append(cbs, scb)
		}
	}

	// The lock is held while enqueueing so stopWorker cannot close the
	// queue between the running check and the send.
	q.Lock()
	defer q.Unlock()
	if q.closeChan == nil {
		return errors.Wrapf(device.ErrReleased, "software device (%s): queue is not running", q.dev.name())
	}

	job := queueJob{submits: submits}
	if f != nil {
		sf, err := asFence(f)
		if err != nil {
			return err
		}
		if err = sf.arm(); err != nil {
			return err
		}
		job.fence = sf
	}
	for _, scb := range cbs {
		scb.setPending(true)
	}
	cancel := func() {
		for _, scb := range cbs {
			scb.setPending(false)
		}
		if job.fence != nil {
			job.fence.disarm()
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Wait for all previously submitted work to complete.
func (q *queue) WaitIdle(ctx context.Context) error {
	f := &fence{dev: q.dev, done: make(chan struct{})}
	if err := f.arm(); err != nil {
		return err
	}

	q.Lock()
	if q.closeChan == nil {
		q.Unlock()
		return nil
	}
	select {
	case q.jobChan <- queueJob{fence: f}:
		q.Unlock()
	case <-ctx.Done():
		q.Unlock()
		return ctx.Err()
	}

	// Execution errors have already been reported through the fences of
	// the failing submissions.
	if err := f.Wait(ctx); err == ctx.Err() && err != nil {
		return err
	}
	return nil
}

func (q *queue) startWorker() {
	q.Lock()
	defer q.Unlock()

	q.closeChan = make(chan struct{})
	q.wg.Add(1)
	go q.worker(q.closeChan)
}

func (q *queue) stopWorker() {
	q.Lock()
	closeChan := q.closeChan
	q.closeChan = nil
	q.Unlock()

	if closeChan == nil {
		return
	}
	close(closeChan)
	q.wg.Wait()
}

// The worker executes jobs in submission order until the queue is stopped.
func (q *queue) worker(closeChan chan struct{}) {
	defer q.wg.Done()

	for {
		select {
		case job := <-q.jobChan:
			err := q.execute(job, closeChan)
			if job.fence != nil {
				job.fence.signal(err)
			}
		case <-closeChan:
			// Fail anything that is still queued so waiters do not block.
			for {
				select {
				case job := <-q.jobChan:
					q.abandon(job)
				default:
					return
				}
			}
		}
	}
}

func (q *queue) abandon(job queueJob) {
	for _, submit := range job.submits {
		for _, cb := range submit.CommandBuffers {
			cb.(*commandBuffer).setPending(false)
		}
	}
	if job.fence != nil {
		job.fence.signal(errors.Wrapf(device.ErrReleased, "software device (%s): queue shut down", q.dev.name()))
	}
}

func (q *queue) execute(job queueJob, closeChan chan struct{}) error {
	var firstErr error
	for _, submit := range job.submits {
		for _, sem := range submit.WaitSemaphores {
			s, err := asSemaphore(sem)
			if err == nil {
				err = s.wait(context.Background(), closeChan)
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}

		for _, cb := range submit.CommandBuffers {
			scb := cb.(*commandBuffer)
			if firstErr == nil {
				if firstErr = q.dev.checkAlive(); firstErr == nil {
					if firstErr = scb.execute(); firstErr != nil {
						q.dev.markLost(firstErr)
					}
				}
			}
			scb.setPending(false)
		}

		// Semaphores are signaled even on failure so presentation does
		// not deadlock; the fence carries the error.
		for _, sem := range submit.SignalSemaphores {
			s, err := asSemaphore(sem)
			if err == nil {
				err = s.signal()
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
