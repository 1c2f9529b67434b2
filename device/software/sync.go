package software

import (
	"context"
	"sync"

	"github.com/achilleasa/vkrt/device"
	"github.com/pkg/errors"
)

type fence struct {
	dev *Device

	mutex    sync.Mutex
	done     chan struct{}
	signaled bool
	pending  bool
	err      error
	released bool
}

// Create a fence.
func (d *Device) CreateFence(signaled bool) (device.Fence, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	f := &fence{
		dev:  d,
		done: make(chan struct{}),
	}
	if signaled {
		f.signaled = true
		close(f.done)
	}
	return f, nil
}

// Called by the queue worker when the guarded submission completes.
func (f *fence) signal(err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.signaled {
		return
	}
	f.err = err
	f.signaled = true
	f.pending = false
	close(f.done)
}

// Mark the fence as owned by a queued submission.
func (f *fence) arm() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.released {
		return errors.Wrap(device.ErrReleased, "software device: fence")
	}
	if f.signaled || f.pending {
		return errors.New("software device: fence must be unsignaled and idle before submission")
	}
	f.pending = true
	return nil
}

// Undo arm for a submission that never reached the queue.
func (f *fence) disarm() {
	f.mutex.Lock()
	f.pending = false
	f.mutex.Unlock()
}

// Wait for the fence.
func (f *fence) Wait(ctx context.Context) error {
	f.mutex.Lock()
	done := f.done
	f.mutex.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.err
}

// Reset the fence to the unsignaled state.
func (f *fence) Reset() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.pending {
		return errors.New("software device: cannot reset a fence guarding a pending submission")
	}
	if f.signaled {
		f.done = make(chan struct{})
		f.signaled = false
	}
	f.err = nil
	return nil
}

// Returns true if the fence is signaled.
func (f *fence) Signaled() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.signaled
}

func (f *fence) Release() {
	f.mutex.Lock()
	f.released = true
	f.mutex.Unlock()
}

// A binary semaphore backed by a one-slot channel.
type semaphore struct {
	dev *Device
	ch  chan struct{}
}

// Create a binary semaphore.
func (d *Device) CreateSemaphore() (device.Semaphore, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	return &semaphore{dev: d, ch: make(chan struct{}, 1)}, nil
}

// Signal the semaphore. Signaling an already signaled binary semaphore is a
// usage error.
func (s *semaphore) signal() error {
	select {
	case s.ch <- struct{}{}:
		return nil
	default:
		return errors.New("software device: binary semaphore signaled twice without a wait")
	}
}

// Block until the semaphore is signaled and consume the signal.
func (s *semaphore) wait(ctx context.Context, abort <-chan struct{}) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-abort:
		return errors.Wrap(device.ErrReleased, "software device: queue shut down while waiting on semaphore")
	}
}

func (s *semaphore) Release() {}

func asSemaphore(sem device.Semaphore) (*semaphore, error) {
	s, ok := sem.(*semaphore)
	if !ok || s == nil {
		return nil, errors.Errorf("software device: foreign semaphore %T", sem)
	}
	return s, nil
}

func asFence(f device.Fence) (*fence, error) {
	sf, ok := f.(*fence)
	if !ok || sf == nil {
		return nil, errors.Errorf("software device: foreign fence %T", f)
	}
	return sf, nil
}
