package cmd

import (
	"github.com/achilleasa/vkrt/sbt"
	"github.com/urfave/cli"
)

// Compute and display an SBT layout for the given device properties and
// record counts.
func ShowLayout(ctx *cli.Context) error {
	if err := setupLogging(ctx, ""); err != nil {
		return err
	}

	l, err := sbt.ComputeLayout(sbt.Params{
		HandleSize:      uint32(ctx.Uint("handle-size")),
		HandleAlignment: uint32(ctx.Uint("handle-alignment")),
		BaseAlignment:   uint32(ctx.Uint("base-alignment")),
		MaxStride:       uint32(ctx.Uint("max-stride")),
		MissCount:       uint32(ctx.Uint("miss")),
		HitRecordCount:  uint32(ctx.Uint("hit-records")),
		HitDataSize:     uint32(ctx.Uint("data-size")),
		CallableCount:   uint32(ctx.Uint("callables")),
	})
	if err != nil {
		return err
	}

	logger.Noticef("shader binding table layout (%d bytes):\n%s", l.Total, l.String())
	return nil
}
