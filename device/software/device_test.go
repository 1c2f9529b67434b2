package software

import (
	"context"
	"testing"
	"time"

	"github.com/achilleasa/vkrt/device"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func newTestDevice(t *testing.T, profile string) *Device {
	t.Helper()
	dev, err := NewByName(profile)
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func hostBuffer(t *testing.T, dev *Device, name string, size uint64, usage ...vk.BufferUsageFlagBits) device.Buffer {
	t.Helper()
	buf, err := dev.CreateBuffer(device.BufferInfo{
		Name:   name,
		Size:   size,
		Usage:  device.BufferUsage(usage...),
		Memory: device.MemoryProperties(vk.MemoryPropertyHostVisibleBit, vk.MemoryPropertyHostCoherentBit),
	})
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func mustAddress(t *testing.T, buf device.Buffer) device.DeviceAddress {
	t.Helper()
	addr, err := buf.DeviceAddress()
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestProfileByName(t *testing.T) {
	for _, p := range Profiles() {
		got, err := ProfileByName(p.Info.Name)
		if err != nil {
			t.Fatal(err)
		}
		if got.Info.Name != p.Info.Name {
			t.Fatalf("expected profile %q; got %q", p.Info.Name, got.Info.Name)
		}
	}

	def, err := ProfileByName("")
	if err != nil {
		t.Fatal(err)
	}
	if def.Info.Name != DefaultProfile {
		t.Fatalf("expected empty name to select %q; got %q", DefaultProfile, def.Info.Name)
	}

	if _, err = ProfileByName("voodoo2"); err == nil {
		t.Fatal("expected an error for an unknown profile")
	}
}

func TestProfileCapabilities(t *testing.T) {
	specs := []struct {
		profile string
		expErr  error
	}{
		{"nvidia-like", nil},
		{"amd-like", nil},
		{"strict", nil},
		{"legacy", device.ErrUnsupportedHandleSize},
	}

	for specIndex, spec := range specs {
		p, err := ProfileByName(spec.profile)
		if err != nil {
			t.Fatal(err)
		}
		err = device.CheckCapabilities(p.Info)
		if errors.Cause(err) != spec.expErr {
			t.Fatalf("[spec %d] expected profile %s capability error %v; got %v", specIndex, spec.profile, spec.expErr, err)
		}
	}
}

func TestBufferDeviceAddress(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	plain := hostBuffer(t, dev, "plain", 64, vk.BufferUsageStorageBufferBit)
	defer plain.Release()
	if _, err := plain.DeviceAddress(); errors.Cause(err) != device.ErrNoDeviceAddress {
		t.Fatalf("expected ErrNoDeviceAddress; got %v", err)
	}

	addressable := hostBuffer(t, dev, "addressable", 64, vk.BufferUsageStorageBufferBit, device.BufferUsageShaderDeviceAddressBit)
	defer addressable.Release()
	addr := mustAddress(t, addressable)
	if addr == 0 {
		t.Fatal("expected a non-zero device address")
	}
	if uint64(addr)%dev.Profile().BufferPlacement != 0 {
		t.Fatalf("expected address 0x%x to honor the profile placement of %d", uint64(addr), dev.Profile().BufferPlacement)
	}

	if err := addressable.Write(8, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	if err := dev.readAddress(addr.Add(8), got); err != nil {
		t.Fatal(err)
	}
	for i, exp := range []byte{1, 2, 3, 4} {
		if got[i] != exp {
			t.Fatalf("expected byte %d read through the device address to be %d; got %d", i, exp, got[i])
		}
	}

	if err := dev.readAddress(addr.Add(62), make([]byte, 4)); errors.Cause(err) != device.ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange for a read overrunning the buffer; got %v", err)
	}
}

func TestBufferHostAccess(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	local, err := dev.CreateBuffer(device.BufferInfo{
		Name:   "local",
		Size:   32,
		Usage:  device.BufferUsage(vk.BufferUsageStorageBufferBit),
		Memory: device.MemoryProperties(vk.MemoryPropertyDeviceLocalBit),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer local.Release()

	if err = local.Write(0, []byte{1}); errors.Cause(err) != device.ErrNotHostVisible {
		t.Fatalf("expected ErrNotHostVisible; got %v", err)
	}

	host := hostBuffer(t, dev, "host", 32, vk.BufferUsageStorageBufferBit)
	defer host.Release()
	if err = host.Write(30, []byte{1, 2, 3}); errors.Cause(err) != device.ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange; got %v", err)
	}
}

func TestBufferReleaseFreesMemory(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	buf := hostBuffer(t, dev, "tmp", 1024, vk.BufferUsageStorageBufferBit)
	if got := dev.MemoryUsed(); got != 1024 {
		t.Fatalf("expected 1024 bytes in use; got %d", got)
	}
	buf.Release()
	if got := dev.MemoryUsed(); got != 0 {
		t.Fatalf("expected no memory in use after release; got %d", got)
	}
}

func TestStrictProfileSkewsBuffers(t *testing.T) {
	dev := newTestDevice(t, "strict")
	defer dev.Close()

	buf := hostBuffer(t, dev, "sbt", 512, device.BufferUsageShaderBindingTableBit, device.BufferUsageShaderDeviceAddressBit)
	defer buf.Release()

	align := uint64(dev.Info().RayTracing.ShaderGroupBaseAlignment)
	if addr := uint64(mustAddress(t, buf)); addr%align == 0 {
		t.Fatalf("expected strict profile to place buffers off the %d byte base alignment; got 0x%x", align, addr)
	}
}

func TestSubmitterCopyBuffer(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	src := hostBuffer(t, dev, "src", 16, vk.BufferUsageTransferSrcBit)
	defer src.Release()
	dst := hostBuffer(t, dev, "dst", 16, vk.BufferUsageTransferDstBit)
	defer dst.Release()
	if err := src.Write(0, []byte("0123456789abcdef")); err != nil {
		t.Fatal(err)
	}

	submitter := device.NewSubmitter(dev)
	defer submitter.Close()

	// Run twice so the pooled command buffer and fence get recycled.
	for run := 0; run < 2; run++ {
		err := submitter.Run(context.Background(), "copy", func(cb device.CommandBuffer) error {
			cb.CopyBuffer(src, dst, device.BufferCopy{SrcOffset: 4, DstOffset: 0, Size: 8})
			return nil
		})
		if err != nil {
			t.Fatalf("[run %d] %v", run, err)
		}
	}

	got := make([]byte, 8)
	if err := dst.Read(0, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "456789ab" {
		t.Fatalf("expected copied bytes %q; got %q", "456789ab", got)
	}
}

func TestRecordingErrorsAreReportedByEnd(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	// The source lacks transfer usage.
	src := hostBuffer(t, dev, "src", 16, vk.BufferUsageStorageBufferBit)
	defer src.Release()
	dst := hostBuffer(t, dev, "dst", 16, vk.BufferUsageTransferDstBit)
	defer dst.Release()

	cb, err := dev.CreateCommandBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if err = cb.Begin(); err != nil {
		t.Fatal(err)
	}
	cb.CopyBuffer(src, dst, device.BufferCopy{Size: 4})
	if err = cb.End(); errors.Cause(err) != device.ErrInvalidUsage {
		t.Fatalf("expected End to report ErrInvalidUsage; got %v", err)
	}

	// Commands recorded outside Begin/End are rejected too.
	cb.MemoryBarrier(0, 0, device.MemoryBarrier{})
	if err = cb.End(); errors.Cause(err) != device.ErrNotRecording {
		t.Fatalf("expected ErrNotRecording; got %v", err)
	}
}

func TestExecutionErrorLosesDevice(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	submitter := device.NewSubmitter(dev)
	defer submitter.Close()

	// Tracing without a bound pipeline fails at execution time.
	err := submitter.Run(context.Background(), "bad trace", func(cb device.CommandBuffer) error {
		cb.TraceRays(device.StridedRegion{}, device.StridedRegion{}, device.StridedRegion{}, device.StridedRegion{}, 1, 1, 1)
		return nil
	})
	if errors.Cause(err) != device.ErrNoPipelineBound {
		t.Fatalf("expected ErrNoPipelineBound from the fence; got %v", err)
	}

	if _, err = dev.CreateBuffer(device.BufferInfo{Name: "after", Size: 4, Usage: device.BufferUsage(vk.BufferUsageStorageBufferBit)}); errors.Cause(err) != device.ErrDeviceLost {
		t.Fatalf("expected ErrDeviceLost after an execution error; got %v", err)
	}
}

func TestFenceWaitTimeout(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	fence, err := dev.CreateFence(false)
	if err != nil {
		t.Fatal(err)
	}
	defer fence.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err = fence.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded; got %v", err)
	}

	signaled, err := dev.CreateFence(true)
	if err != nil {
		t.Fatal(err)
	}
	defer signaled.Release()
	if err = signaled.Wait(context.Background()); err != nil {
		t.Fatalf("expected a signaled fence to return immediately; got %v", err)
	}
}

func TestQueueSemaphores(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	sem, err := dev.CreateSemaphore()
	if err != nil {
		t.Fatal(err)
	}
	fence1, _ := dev.CreateFence(false)
	fence2, _ := dev.CreateFence(false)
	cb1, _ := dev.CreateCommandBuffer()
	cb2, _ := dev.CreateCommandBuffer()
	for _, cb := range []device.CommandBuffer{cb1, cb2} {
		if err = cb.Begin(); err != nil {
			t.Fatal(err)
		}
		cb.MemoryBarrier(0, 0, device.MemoryBarrier{})
		if err = cb.End(); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	q := dev.Queue()
	if err = q.Submit(ctx, fence1, device.SubmitInfo{CommandBuffers: []device.CommandBuffer{cb1}, SignalSemaphores: []device.Semaphore{sem}}); err != nil {
		t.Fatal(err)
	}
	if err = q.Submit(ctx, fence2, device.SubmitInfo{
		WaitSemaphores: []device.Semaphore{sem},
		WaitStages:     []vk.PipelineStageFlags{device.PipelineStages(device.PipelineStageRayTracingShaderBit)},
		CommandBuffers: []device.CommandBuffer{cb2},
	}); err != nil {
		t.Fatal(err)
	}
	if err = fence2.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if !fence1.Signaled() {
		t.Fatal("expected the first submission to complete before the second")
	}

	// Mismatched wait stages are rejected at submit time.
	err = q.Submit(ctx, nil, device.SubmitInfo{WaitSemaphores: []device.Semaphore{sem}})
	if err == nil {
		t.Fatal("expected an error for wait semaphores without stages")
	}
}

func TestImageLayoutTransitions(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	img, err := dev.CreateImage(device.ImageInfo{
		Name:   "output",
		Width:  4,
		Height: 4,
		Format: vk.FormatR8g8b8a8Unorm,
		Usage:  device.ImageUsage(vk.ImageUsageStorageBit, vk.ImageUsageTransferSrcBit),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer img.Release()

	if got := img.Layout(); got != vk.ImageLayoutUndefined {
		t.Fatalf("expected new image to be undefined; got %s", device.LayoutName(got))
	}

	submitter := device.NewSubmitter(dev)
	defer submitter.Close()

	barrier := func(oldLayout, newLayout vk.ImageLayout) error {
		return submitter.Run(context.Background(), "barrier", func(cb device.CommandBuffer) error {
			cb.PipelineImageBarrier(
				device.PipelineStages(vk.PipelineStageTopOfPipeBit),
				device.PipelineStages(device.PipelineStageRayTracingShaderBit),
				device.ImageBarrier{Image: img, OldLayout: oldLayout, NewLayout: newLayout},
			)
			return nil
		})
	}

	if err = barrier(vk.ImageLayoutUndefined, vk.ImageLayoutGeneral); err != nil {
		t.Fatal(err)
	}
	if got := img.Layout(); got != vk.ImageLayoutGeneral {
		t.Fatalf("expected general layout; got %s", device.LayoutName(got))
	}
	if err = barrier(vk.ImageLayoutGeneral, vk.ImageLayoutTransferSrcOptimal); err != nil {
		t.Fatal(err)
	}

	// A barrier naming the wrong old layout fails execution.
	if err = barrier(vk.ImageLayoutGeneral, vk.ImageLayoutTransferSrcOptimal); errors.Cause(err) != device.ErrInvalidLayout {
		t.Fatalf("expected ErrInvalidLayout; got %v", err)
	}
}

func TestSwapchainPresent(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	sc, err := NewSwapchain(dev, 2, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Release()

	sem, err := dev.CreateSemaphore()
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	index, err := sc.AcquireNextImage(ctx, sem)
	if err != nil {
		t.Fatal(err)
	}
	if index != 0 {
		t.Fatalf("expected first acquired image to be 0; got %d", index)
	}

	// The image is still undefined so presenting fails.
	if err = sc.Present(ctx, index, sem); errors.Cause(err) != device.ErrInvalidLayout {
		t.Fatalf("expected ErrInvalidLayout; got %v", err)
	}
	if sc.LastFrame() != nil {
		t.Fatal("expected no frame to be captured")
	}

	index, err = sc.AcquireNextImage(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	submitter := device.NewSubmitter(dev)
	defer submitter.Close()
	err = submitter.Run(ctx, "to present", func(cb device.CommandBuffer) error {
		cb.PipelineImageBarrier(
			device.PipelineStages(vk.PipelineStageTransferBit),
			device.PipelineStages(vk.PipelineStageBottomOfPipeBit),
			device.ImageBarrier{Image: sc.Images()[index], OldLayout: vk.ImageLayoutUndefined, NewLayout: vk.ImageLayoutPresentSrc},
		)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = sc.Present(ctx, index, nil); err != nil {
		t.Fatal(err)
	}
	if frame := sc.LastFrame(); frame == nil || frame.Rect.Dx() != 2 {
		t.Fatalf("expected a captured 2x2 frame; got %v", frame)
	}
	if got := sc.Presented(); got != 1 {
		t.Fatalf("expected 1 presented frame; got %d", got)
	}
}
