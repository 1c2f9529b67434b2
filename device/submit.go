package device

import (
	"context"
	"sync"
	"time"

	"github.com/achilleasa/vkrt/log"
	"github.com/pkg/errors"
)

// Records commands into a command buffer that is already in the recording
// state.
type RecordFunc func(cb CommandBuffer) error

// A command buffer and the fence that tracks its submission.
type submitSlot struct {
	cb    CommandBuffer
	fence Fence
}

// Submitter wraps the record/submit/wait cycle used for one-off work such as
// uploads and acceleration structure builds. Command buffers and fences are
// pooled and recycled after each wait, so callers never touch fences.
type Submitter struct {
	logger log.Logger
	dev    Device

	mutex sync.Mutex
	free  []*submitSlot
	all   []*submitSlot
}

// Pending tracks an in-flight submission.
type Pending struct {
	name      string
	submitter *Submitter
	slot      *submitSlot
	started   time.Time

	mutex sync.Mutex
	done  bool
	err   error
}

// Create a submitter for dev.
func NewSubmitter(dev Device) *Submitter {
	return &Submitter{
		logger: log.New("submitter"),
		dev:    dev,
	}
}

func (s *Submitter) acquire() (*submitSlot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if n := len(s.free); n != 0 {
		slot := s.free[n-1]
		s.free = s.free[:n-1]
		return slot, nil
	}

	cb, err := s.dev.CreateCommandBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "submitter: could not create command buffer")
	}
	fence, err := s.dev.CreateFence(false)
	if err != nil {
		cb.Release()
		return nil, errors.Wrap(err, "submitter: could not create fence")
	}
	slot := &submitSlot{cb: cb, fence: fence}
	s.all = append(s.all, slot)
	return slot, nil
}

func (s *Submitter) recycle(slot *submitSlot) {
	if err := slot.cb.Reset(); err != nil {
		s.logger.Warningf("could not reset command buffer: %v", err)
		return
	}
	if err := slot.fence.Reset(); err != nil {
		s.logger.Warningf("could not reset fence: %v", err)
		return
	}
	s.mutex.Lock()
	s.free = append(s.free, slot)
	s.mutex.Unlock()
}

// Record commands and submit them without waiting. The returned Pending must
// be waited on for the slot to be recycled.
func (s *Submitter) Submit(ctx context.Context, name string, record RecordFunc) (*Pending, error) {
	slot, err := s.acquire()
	if err != nil {
		return nil, err
	}

	if err = slot.cb.Begin(); err != nil {
		s.recycle(slot)
		return nil, errors.Wrapf(err, "submitter: %s: could not begin command buffer", name)
	}
	if err = record(slot.cb); err != nil {
		s.recycle(slot)
		return nil, errors.Wrapf(err, "submitter: %s: recording failed", name)
	}
	if err = slot.cb.End(); err != nil {
		s.recycle(slot)
		return nil, errors.Wrapf(err, "submitter: %s: could not end command buffer", name)
	}

	err = s.dev.Queue().Submit(ctx, slot.fence, SubmitInfo{CommandBuffers: []CommandBuffer{slot.cb}})
	if err != nil {
		s.recycle(slot)
		return nil, errors.Wrapf(err, "submitter: %s: submit failed", name)
	}

	s.logger.Debugf("submitted %q", name)
	return &Pending{
		name:      name,
		submitter: s,
		slot:      slot,
		started:   time.Now(),
	}, nil
}

// Record, submit and block until the work completes.
//
// If ctx expires while the work is queued, Run still waits for the queue to
// retire the submission before returning the context error. Callers release
// the buffers the recorded commands reference as soon as Run returns.
func (s *Submitter) Run(ctx context.Context, name string, record RecordFunc) error {
	pending, err := s.Submit(ctx, name, record)
	if err != nil {
		return err
	}
	if err = pending.Wait(ctx); err != nil && ctx.Err() != nil && errors.Cause(err) == ctx.Err() {
		if drainErr := pending.Wait(context.Background()); drainErr != nil {
			s.logger.Warningf("%q failed after its wait was interrupted: %v", name, drainErr)
		}
	}
	return err
}

// Release all pooled command buffers and fences. Pending submissions must
// have been waited on.
func (s *Submitter) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, slot := range s.all {
		slot.cb.Release()
		slot.fence.Release()
	}
	s.all = nil
	s.free = nil
}

// Name of the submission.
func (p *Pending) Name() string {
	return p.name
}

// Block until the submission completes and return its execution error. If
// ctx expires first the context error is returned and Wait may be called
// again later.
func (p *Pending) Wait(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.done {
		return p.err
	}

	err := p.slot.fence.Wait(ctx)
	if err != nil && (err == ctx.Err()) {
		return errors.Wrapf(err, "submitter: %s: wait interrupted", p.name)
	}

	p.done = true
	if err != nil {
		p.err = errors.Wrapf(err, "submitter: %s: execution failed", p.name)
	}
	p.submitter.logger.Debugf("%q completed in %s", p.name, time.Since(p.started))
	p.submitter.recycle(p.slot)
	p.slot = nil
	return p.err
}
