package sbt

import (
	"bytes"
	"fmt"

	"github.com/achilleasa/vkrt/device"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
)

// Size of the inline data of a hit record: an RGB color as three float32
// values.
const HitDataSize = 12

// Round value up to a multiple of alignment which must be a power of two.
func AlignTo(value, alignment uint64) uint64 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// Params are the inputs of ComputeLayout.
type Params struct {
	HandleSize      uint32
	HandleAlignment uint32
	BaseAlignment   uint32

	// Zero disables the stride limit.
	MaxStride uint32

	MissCount      uint32
	HitRecordCount uint32
	HitDataSize    uint32
	CallableCount  uint32
}

// Fill the device-dependent parameters from the reported properties.
func ParamsFromDevice(props device.RayTracingProperties, missCount, hitRecordCount, hitDataSize, callableCount uint32) Params {
	return Params{
		HandleSize:      props.ShaderGroupHandleSize,
		HandleAlignment: props.ShaderGroupHandleAlignment,
		BaseAlignment:   props.ShaderGroupBaseAlignment,
		MaxStride:       props.MaxShaderGroupStride,
		MissCount:       missCount,
		HitRecordCount:  hitRecordCount,
		HitDataSize:     hitDataSize,
		CallableCount:   callableCount,
	}
}

// A region of the table relative to its start.
type Region struct {
	Offset uint64
	Stride uint64
	Size   uint64
}

// The offset one past the last byte of the region.
func (r Region) End() uint64 {
	return r.Offset + r.Size
}

// The offset of record i.
func (r Region) RecordOffset(i uint32) uint64 {
	return r.Offset + uint64(i)*r.Stride
}

// Layout describes where each record lives in the table.
type Layout struct {
	Params Params

	RayGen   Region
	Miss     Region
	Hit      Region
	Callable Region

	// Table size in bytes.
	Total uint64
}

// ComputeLayout places the raygen, miss, hit and callable regions. Every
// region starts at a multiple of the base alignment and every stride is a
// multiple of the handle alignment.
func ComputeLayout(p Params) (Layout, error) {
	for _, a := range []struct {
		name  string
		value uint32
	}{
		{"handle alignment", p.HandleAlignment},
		{"base alignment", p.BaseAlignment},
	} {
		if !device.IsPowerOfTwo(uint64(a.value)) {
			return Layout{}, errors.Wrapf(device.ErrInvalidAlignment, "sbt: %s %d", a.name, a.value)
		}
	}
	if p.HandleSize != device.RequiredShaderGroupHandleSize {
		return Layout{}, errors.Wrapf(device.ErrUnsupportedHandleSize, "sbt: handle size %d; expected %d", p.HandleSize, device.RequiredShaderGroupHandleSize)
	}
	if p.MissCount == 0 {
		return Layout{}, errors.Wrap(ErrInvalidParams, "sbt: at least one miss record is required")
	}
	if p.HitRecordCount == 0 {
		return Layout{}, errors.Wrap(ErrInvalidParams, "sbt: at least one hit record is required")
	}

	handleSize := uint64(p.HandleSize)
	handleAlign := uint64(p.HandleAlignment)
	base := uint64(p.BaseAlignment)
	handleStride := AlignTo(handleSize, handleAlign)

	l := Layout{Params: p}
	l.RayGen = Region{Offset: 0, Stride: handleStride, Size: handleStride}
	l.Miss = Region{
		Offset: AlignTo(l.RayGen.Size, base),
		Stride: handleStride,
		Size:   handleStride * uint64(p.MissCount),
	}
	hitStride := AlignTo(handleSize+uint64(p.HitDataSize), handleAlign)
	l.Hit = Region{
		Offset: AlignTo(l.Miss.End(), base),
		Stride: hitStride,
		Size:   hitStride * uint64(p.HitRecordCount),
	}
	l.Total = l.Hit.End()
	if p.CallableCount != 0 {
		l.Callable = Region{
			Offset: AlignTo(l.Hit.End(), base),
			Stride: handleStride,
			Size:   handleStride * uint64(p.CallableCount),
		}
		l.Total = l.Callable.End()
	}

	if p.MaxStride != 0 && hitStride > uint64(p.MaxStride) {
		return Layout{}, errors.Wrapf(ErrInvalidParams, "sbt: hit record stride %d exceeds the max stride %d", hitStride, p.MaxStride)
	}
	return l, nil
}

// Render the layout as a table.
func (l Layout) String() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Region", "Records", "Offset", "Stride", "Size"})

	for _, r := range []struct {
		name   string
		count  uint32
		region Region
	}{
		{"raygen", 1, l.RayGen},
		{"miss", l.Params.MissCount, l.Miss},
		{"hit", l.Params.HitRecordCount, l.Hit},
		{"callable", l.Params.CallableCount, l.Callable},
	} {
		table.Append([]string{
			r.name,
			fmt.Sprintf("%d", r.count),
			fmt.Sprintf("%d", r.region.Offset),
			fmt.Sprintf("%d", r.region.Stride),
			fmt.Sprintf("%d", r.region.Size),
		})
	}
	table.SetFooter([]string{"Total", "", "", "", fmt.Sprintf("%d", l.Total)})
	table.Render()
	return buf.String()
}
