package cmd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/achilleasa/vkrt/device/software"
	"github.com/achilleasa/vkrt/pipeline"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// List the available software device profiles.
func ListDevices(ctx *cli.Context) error {
	if err := setupLogging(ctx, ""); err != nil {
		return err
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Device", "Handle size", "Handle alignment", "Base alignment", "Max stride", "Max recursion", "Buffer placement", "Usable"})
	for _, p := range software.Profiles() {
		rt := p.Info.RayTracing
		usable := "yes"
		if err := pipeline.CheckCapabilities(p.Info); err != nil {
			usable = err.Error()
		}
		placement := fmt.Sprintf("%d", p.BufferPlacement)
		if p.BufferSkew != 0 {
			placement += fmt.Sprintf(" + %d", p.BufferSkew)
		}
		table.Append([]string{
			p.Info.Name,
			fmt.Sprintf("%d", rt.ShaderGroupHandleSize),
			fmt.Sprintf("%d", rt.ShaderGroupHandleAlignment),
			fmt.Sprintf("%d", rt.ShaderGroupBaseAlignment),
			fmt.Sprintf("%d", rt.MaxShaderGroupStride),
			fmt.Sprintf("%d", rt.MaxRayRecursionDepth),
			placement,
			usable,
		})
	}
	table.Render()

	names := make([]string, 0)
	for _, p := range software.Profiles() {
		names = append(names, p.Info.Name)
	}
	logger.Noticef("system provides %d device profile(s) (%s):\n%s", len(names), strings.Join(names, ", "), buf.String())
	return nil
}
