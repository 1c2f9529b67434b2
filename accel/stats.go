package accel

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
)

// Build a tabular summary of bottom-level structures.
func BLASStats(list []*BLAS) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"BLAS", "Geometries", "Triangles", "Address", "Size", "Scratch", "Build time"})

	var total uint64
	for _, b := range list {
		sizes := b.Sizes()
		total += sizes.AccelerationStructureSize
		table.Append([]string{
			b.Name(),
			fmt.Sprintf("%d", b.GeometryCount()),
			fmt.Sprintf("%d", b.TriangleCount()),
			fmt.Sprintf("0x%x", uint64(b.Address())),
			fmtBytes(sizes.AccelerationStructureSize),
			fmtBytes(sizes.BuildScratchSize),
			b.BuildTime().String(),
		})
	}
	table.SetFooter([]string{"Total", "", "", "", fmtBytes(total), "", ""})
	table.Render()
	return buf.String()
}

// Build a table of the instance records stored in a TLAS.
func InstanceStats(t *TLAS) (string, error) {
	records, err := t.Instances()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Instance", "BLAS", "Custom index", "Mask", "SBT offset", "Flags", "BLAS address"})
	for i, rec := range records {
		blasName := "?"
		if i < len(t.instances) && t.instances[i].BLAS != nil {
			blasName = t.instances[i].BLAS.Name()
		}
		table.Append([]string{
			fmt.Sprintf("%d", i),
			blasName,
			fmt.Sprintf("%d", rec.CustomIndex),
			fmt.Sprintf("0x%02x", rec.Mask),
			fmt.Sprintf("%d", rec.SBTRecordOffset),
			rec.Flags.String(),
			fmt.Sprintf("0x%x", uint64(rec.AccelerationStructureReference)),
		})
	}
	table.SetFooter([]string{"TLAS", t.Name(), "", "", "", fmtBytes(t.Sizes().AccelerationStructureSize), fmt.Sprintf("0x%x", uint64(t.Address()))})
	table.Render()
	return buf.String(), nil
}

// Format a byte count with the appropriate unit.
func fmtBytes(n uint64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%3.1f mb", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%3.1f kb", float64(n)/float64(1<<10))
	}
	return fmt.Sprintf("%d b", n)
}
