package device

import (
	"encoding/binary"
	"strings"

	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
)

// The size of a packed VkAccelerationStructureInstanceKHR.
const InstanceRecordSize = 64

// Limits of the 24-bit packed instance fields.
const (
	MaxInstanceCustomIndex     = 0xFFFFFF
	MaxInstanceSBTRecordOffset = 0xFFFFFF
)

type InstanceFlags uint8

const (
	InstanceTriangleFacingCullDisableBit InstanceFlags = 0x1
	InstanceTriangleFlipFacingBit        InstanceFlags = 0x2
	InstanceForceOpaqueBit               InstanceFlags = 0x4
	InstanceForceNoOpaqueBit             InstanceFlags = 0x8
)

var instanceFlagNames = []struct {
	flag InstanceFlags
	name string
}{
	{InstanceTriangleFacingCullDisableBit, "cull-disable"},
	{InstanceTriangleFlipFacingBit, "flip-facing"},
	{InstanceForceOpaqueBit, "force-opaque"},
	{InstanceForceNoOpaqueBit, "force-no-opaque"},
}

// Parse a flag name as used in scene files.
func ParseInstanceFlag(name string) (InstanceFlags, error) {
	for _, f := range instanceFlagNames {
		if f.name == name {
			return f.flag, nil
		}
	}
	return 0, errors.Errorf("device: unknown instance flag %q", name)
}

func (f InstanceFlags) String() string {
	var names []string
	for _, fn := range instanceFlagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// InstanceRecord is the host view of one TLAS instance.
//
// The encoded layout is little-endian:
//
//	[0,48)  3x4 row-major float32 transform
//	[48,52) customIndex (24 bits) | mask << 24
//	[52,56) sbtRecordOffset (24 bits) | flags << 24
//	[56,64) acceleration structure device address
type InstanceRecord struct {
	Transform                      types.Transform
	CustomIndex                    uint32
	Mask                           uint8
	SBTRecordOffset                uint32
	Flags                          InstanceFlags
	AccelerationStructureReference DeviceAddress
}

// Check that the packed fields fit.
func (r InstanceRecord) Validate() error {
	if r.CustomIndex > MaxInstanceCustomIndex {
		return errors.Wrapf(ErrFieldOverflow, "instance custom index %d exceeds 24 bits", r.CustomIndex)
	}
	if r.SBTRecordOffset > MaxInstanceSBTRecordOffset {
		return errors.Wrapf(ErrFieldOverflow, "instance SBT record offset %d exceeds 24 bits", r.SBTRecordOffset)
	}
	return nil
}

// Encode the record into dst which must hold at least InstanceRecordSize bytes.
func (r InstanceRecord) Put(dst []byte) error {
	if len(dst) < InstanceRecordSize {
		return errors.Wrapf(ErrOutOfRange, "instance record needs %d bytes; got %d", InstanceRecordSize, len(dst))
	}
	if err := r.Validate(); err != nil {
		return err
	}

	r.Transform.Put(dst[0:types.TransformSize])
	binary.LittleEndian.PutUint32(dst[48:], r.CustomIndex|uint32(r.Mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], r.SBTRecordOffset|uint32(r.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], uint64(r.AccelerationStructureReference))
	return nil
}

// Encode the record into a new slice.
func (r InstanceRecord) Bytes() ([]byte, error) {
	out := make([]byte, InstanceRecordSize)
	if err := r.Put(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode a record.
func DecodeInstanceRecord(src []byte) (InstanceRecord, error) {
	if len(src) < InstanceRecordSize {
		return InstanceRecord{}, errors.Wrapf(ErrOutOfRange, "instance record needs %d bytes; got %d", InstanceRecordSize, len(src))
	}

	word0 := binary.LittleEndian.Uint32(src[48:])
	word1 := binary.LittleEndian.Uint32(src[52:])
	return InstanceRecord{
		Transform:                      types.TransformFromBytes(src[0:types.TransformSize]),
		CustomIndex:                    word0 & MaxInstanceCustomIndex,
		Mask:                           uint8(word0 >> 24),
		SBTRecordOffset:                word1 & MaxInstanceSBTRecordOffset,
		Flags:                          InstanceFlags(word1 >> 24),
		AccelerationStructureReference: DeviceAddress(binary.LittleEndian.Uint64(src[56:])),
	}, nil
}

// Encode a list of records back to back.
func EncodeInstanceRecords(records []InstanceRecord) ([]byte, error) {
	out := make([]byte, len(records)*InstanceRecordSize)
	for i, r := range records {
		if err := r.Put(out[i*InstanceRecordSize:]); err != nil {
			return nil, errors.Wrapf(err, "instance %d", i)
		}
	}
	return out, nil
}

// Decode count records packed back to back.
func DecodeInstanceRecords(src []byte, count int) ([]InstanceRecord, error) {
	if len(src) < count*InstanceRecordSize {
		return nil, errors.Wrapf(ErrOutOfRange, "%d instance records need %d bytes; got %d", count, count*InstanceRecordSize, len(src))
	}
	out := make([]InstanceRecord, count)
	for i := range out {
		out[i], _ = DecodeInstanceRecord(src[i*InstanceRecordSize:])
	}
	return out, nil
}
