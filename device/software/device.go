package software

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/log"
	"github.com/pkg/errors"
)

// Device emulates a ray-tracing capable driver on the host. All objects it
// creates live in a flat emulated address space; recorded commands execute
// on a single queue worker goroutine.
type Device struct {
	logger  log.Logger
	profile Profile

	mem *addressSpace

	// Guards the contents of every buffer.
	memLock sync.RWMutex

	queue *queue

	// Trace dispatches are split into row blocks between workers.
	workers   int
	scheduler *rowScheduler

	mutex      sync.Mutex
	lost       error
	closed     bool
	structures map[device.DeviceAddress]*accelStructure
	handles    map[string]groupRef
	pipelineID uint64
}

// Create a software device with the given profile.
func New(profile Profile) *Device {
	d := &Device{
		logger:     log.New(fmt.Sprintf("software device (%s)", profile.Info.Name)),
		profile:    profile,
		mem:        newAddressSpace(profile.MemorySize),
		structures: make(map[device.DeviceAddress]*accelStructure),
		handles:    make(map[string]groupRef),
		workers:    runtime.GOMAXPROCS(0),
		scheduler:  newRowScheduler(),
	}
	d.queue = newQueue(d)
	d.queue.startWorker()

	d.logger.Debugf("created device with %d bytes of memory", profile.MemorySize)
	return d
}

// Create a software device using a named profile.
func NewByName(name string) (*Device, error) {
	profile, err := ProfileByName(name)
	if err != nil {
		return nil, err
	}
	return New(profile), nil
}

// Get device info.
func (d *Device) Info() device.Info {
	info := d.profile.Info
	info.Extensions = append([]string{}, info.Extensions...)
	return info
}

// Get the profile this device emulates.
func (d *Device) Profile() Profile {
	return d.profile
}

// Number of bytes currently allocated from the address space.
func (d *Device) MemoryUsed() uint64 {
	return d.mem.used()
}

func (d *Device) name() string {
	return d.profile.Info.Name
}

// Returns an error if the device is closed or lost.
func (d *Device) checkAlive() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return errors.Wrapf(device.ErrReleased, "software device (%s): device closed", d.name())
	}
	if d.lost != nil {
		return errors.Wrapf(device.ErrDeviceLost, "software device (%s): %v", d.name(), d.lost)
	}
	return nil
}

// Mark the device as lost after an execution error.
func (d *Device) markLost(cause error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.lost == nil {
		d.lost = cause
		d.logger.Errorf("device lost: %v", cause)
	}
}

// Get the device queue.
func (d *Device) Queue() device.Queue {
	return d.queue
}

// Block until all submitted work completes.
func (d *Device) WaitIdle(ctx context.Context) error {
	return d.queue.WaitIdle(ctx)
}

// Shutdown the queue worker. Objects created by the device must be released
// by their owners before calling Close.
func (d *Device) Close() {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return
	}
	d.closed = true
	d.mutex.Unlock()

	d.queue.stopWorker()
	if used := d.mem.used(); used != 0 {
		d.logger.Warningf("closing device with %d bytes still allocated", used)
	}
	d.logger.Debug("device closed")
}
