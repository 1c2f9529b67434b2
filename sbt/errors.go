package sbt

import "github.com/pkg/errors"

var (
	ErrInvalidParams     = errors.New("sbt: invalid layout parameters")
	ErrRecordOutOfBounds = errors.New("sbt: record does not fit in the table")
	ErrDataTooLarge      = errors.New("sbt: handle and data do not fit in the record stride")
	ErrHandleCount       = errors.New("sbt: handle count does not match the layout")
	ErrMisalignedTable   = errors.New("sbt: table address is not aligned to the shader group base alignment")
)
