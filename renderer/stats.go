package renderer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
)

type FrameStat struct {
	// Frame number.
	Index uint32

	// The camera used for this frame.
	Camera string

	// Time from fence wait to present.
	RenderTime time.Duration
}

type FrameStats struct {
	// Time spent building the acceleration structures and the SBT.
	BuildTime time.Duration

	// Individual frame stats.
	Frames []FrameStat

	// Total render time for all frames.
	RenderTime time.Duration
}

// Render the stats as a table.
func (s FrameStats) String() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Frame", "Camera", "Render time"})
	for _, stat := range s.Frames {
		table.Append([]string{
			fmt.Sprintf("%d", stat.Index),
			stat.Camera,
			stat.RenderTime.String(),
		})
	}
	table.SetFooter([]string{fmt.Sprintf("build %s", s.BuildTime), "TOTAL", s.RenderTime.String()})
	table.Render()
	return buf.String()
}
