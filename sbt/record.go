package sbt

import (
	"encoding/binary"
	"math"

	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
)

// HitRecord selects the hit group handle of one record and the color stored
// inline after it.
type HitRecord struct {
	// Index into Handles.Hit.
	Group uint32
	Color types.Vec3
}

// The inline record data.
func (r HitRecord) Data() []byte {
	out := make([]byte, HitDataSize)
	for i, c := range r.Color {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(c))
	}
	return out
}

// Decode the color stored in the inline data of a hit record.
func DecodeColor(data []byte) (types.Vec3, error) {
	if len(data) < HitDataSize {
		return types.Vec3{}, errors.Wrapf(ErrRecordOutOfBounds, "color needs %d bytes; got %d", HitDataSize, len(data))
	}
	return types.XYZ(
		math.Float32frombits(binary.LittleEndian.Uint32(data[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(data[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(data[8:])),
	), nil
}

// Write a record of stride bytes at offset: the handle, then data, then zero
// padding up to the stride.
func WriteRecord(dst []byte, offset, stride uint64, handle, data []byte) error {
	if offset > uint64(len(dst)) || stride > uint64(len(dst))-offset {
		return errors.Wrapf(ErrRecordOutOfBounds, "record [%d, %d) in a table of %d bytes", offset, offset+stride, len(dst))
	}
	if uint64(len(handle)+len(data)) > stride {
		return errors.Wrapf(ErrDataTooLarge, "%d byte handle and %d bytes of data in a %d byte stride", len(handle), len(data), stride)
	}

	rec := dst[offset : offset+stride]
	n := copy(rec, handle)
	n += copy(rec[n:], data)
	for i := n; i < len(rec); i++ {
		rec[i] = 0
	}
	return nil
}

// Read the record of stride bytes at offset and split it into the handle and
// the data that follows.
func ReadRecord(src []byte, offset, stride uint64, handleSize uint32) ([]byte, []byte, error) {
	if offset > uint64(len(src)) || stride > uint64(len(src))-offset {
		return nil, nil, errors.Wrapf(ErrRecordOutOfBounds, "record [%d, %d) in a table of %d bytes", offset, offset+stride, len(src))
	}
	if uint64(handleSize) > stride {
		return nil, nil, errors.Wrapf(ErrDataTooLarge, "%d byte handle in a %d byte stride", handleSize, stride)
	}
	rec := src[offset : offset+stride]
	return rec[:handleSize], rec[handleSize:], nil
}

// Handles holds the shader group handles of each table region.
type Handles struct {
	RayGen   []byte
	Miss     [][]byte
	Hit      [][]byte
	Callable [][]byte
}

// Encode fills a table laid out as l. The output depends only on the
// arguments.
func Encode(l Layout, handles Handles, hitRecords []HitRecord) ([]byte, error) {
	if uint32(len(handles.Miss)) != l.Params.MissCount {
		return nil, errors.Wrapf(ErrHandleCount, "%d miss handles for %d miss records", len(handles.Miss), l.Params.MissCount)
	}
	if uint32(len(hitRecords)) != l.Params.HitRecordCount {
		return nil, errors.Wrapf(ErrHandleCount, "%d hit records for a layout of %d", len(hitRecords), l.Params.HitRecordCount)
	}
	if uint32(len(handles.Callable)) != l.Params.CallableCount {
		return nil, errors.Wrapf(ErrHandleCount, "%d callable handles for %d callable records", len(handles.Callable), l.Params.CallableCount)
	}
	handleSize := int(l.Params.HandleSize)
	checkHandle := func(kind string, index int, h []byte) error {
		if len(h) != handleSize {
			return errors.Wrapf(ErrHandleCount, "%s handle %d has %d bytes; expected %d", kind, index, len(h), handleSize)
		}
		return nil
	}

	out := make([]byte, l.Total)
	if err := checkHandle("raygen", 0, handles.RayGen); err != nil {
		return nil, err
	}
	if err := WriteRecord(out, l.RayGen.Offset, l.RayGen.Stride, handles.RayGen, nil); err != nil {
		return nil, errors.Wrap(err, "raygen record")
	}

	for i, h := range handles.Miss {
		if err := checkHandle("miss", i, h); err != nil {
			return nil, err
		}
		if err := WriteRecord(out, l.Miss.RecordOffset(uint32(i)), l.Miss.Stride, h, nil); err != nil {
			return nil, errors.Wrapf(err, "miss record %d", i)
		}
	}

	for i, rec := range hitRecords {
		if int(rec.Group) >= len(handles.Hit) {
			return nil, errors.Wrapf(ErrHandleCount, "hit record %d uses hit group %d of %d", i, rec.Group, len(handles.Hit))
		}
		h := handles.Hit[rec.Group]
		if err := checkHandle("hit", int(rec.Group), h); err != nil {
			return nil, err
		}
		if err := WriteRecord(out, l.Hit.RecordOffset(uint32(i)), l.Hit.Stride, h, rec.Data()); err != nil {
			return nil, errors.Wrapf(err, "hit record %d", i)
		}
	}

	for i, h := range handles.Callable {
		if err := checkHandle("callable", i, h); err != nil {
			return nil, err
		}
		if err := WriteRecord(out, l.Callable.RecordOffset(uint32(i)), l.Callable.Stride, h, nil); err != nil {
			return nil, errors.Wrapf(err, "callable record %d", i)
		}
	}
	return out, nil
}
