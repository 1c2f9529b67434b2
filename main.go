package main

import (
	"os"

	"github.com/achilleasa/vkrt/cmd"
	"github.com/achilleasa/vkrt/log"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	deviceFlag := cli.StringFlag{
		Name:  "device, d",
		Usage: "software device profile (see list-devices)",
	}

	app := cli.NewApp()
	app.Name = "vkrt"
	app.Usage = "build ray-tracing acceleration structures and shader binding tables and trace scenes"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "list-devices",
			Usage:  "list available software device profiles",
			Action: cmd.ListDevices,
		},
		{
			Name:  "layout",
			Usage: "compute a shader binding table layout",
			Description: `
Place the raygen, miss, hit and callable regions of a shader binding table for
the given shader group handle properties and record counts and print the
offset, stride and size of each region.`,
			Flags: []cli.Flag{
				cli.UintFlag{
					Name:  "handle-size",
					Value: 32,
					Usage: "shader group handle size",
				},
				cli.UintFlag{
					Name:  "handle-alignment",
					Value: 32,
					Usage: "shader group handle alignment",
				},
				cli.UintFlag{
					Name:  "base-alignment",
					Value: 64,
					Usage: "shader group base alignment",
				},
				cli.UintFlag{
					Name:  "max-stride",
					Value: 4096,
					Usage: "max shader group stride; 0 disables the check",
				},
				cli.UintFlag{
					Name:  "miss",
					Value: 1,
					Usage: "number of miss records",
				},
				cli.UintFlag{
					Name:  "hit-records",
					Value: 4,
					Usage: "number of hit records",
				},
				cli.UintFlag{
					Name:  "data-size",
					Value: 12,
					Usage: "inline data bytes per hit record",
				},
				cli.UintFlag{
					Name:  "callables",
					Value: 0,
					Usage: "number of callable records",
				},
			},
			Action: cmd.ShowLayout,
		},
		{
			Name:  "inspect",
			Usage: "build a scene and display its acceleration structures and shader binding table",
			Description: `
Upload the scene geometry, build one BLAS per mesh and a TLAS over the scene
instances, and lay out the shader binding table. Without a scene file the
reference scene is used.`,
			ArgsUsage: "[scene.json]",
			Flags:     []cli.Flag{deviceFlag},
			Action:    cmd.InspectScene,
		},
		{
			Name:  "render",
			Usage: "render a scene and export the last presented frame",
			Description: `
Render frames through the ray dispatcher and export the last frame presented to
the offscreen swapchain. Settings are read from the config file, then the .env
file, then VKRT_* environment variables, then these flags.`,
			ArgsUsage: "[scene.json]",
			Flags: []cli.Flag{
				deviceFlag,
				cli.StringFlag{
					Name:  "config, c",
					Usage: "JSON config file",
				},
				cli.StringFlag{
					Name:  "env",
					Value: ".env",
					Usage: "dotenv file with VKRT_* settings",
				},
				cli.UintFlag{
					Name:  "width",
					Usage: "frame width",
				},
				cli.UintFlag{
					Name:  "height",
					Usage: "frame height",
				},
				cli.UintFlag{
					Name:  "frames",
					Usage: "number of frames to render",
				},
				cli.UintFlag{
					Name:  "frames-in-flight",
					Usage: "number of frames that may be in flight",
				},
				cli.StringFlag{
					Name:  "out, o",
					Usage: "image filename for the rendered frame (.png, .webp or .tga)",
				},
				cli.UintFlag{
					Name:  "scale",
					Usage: "resample the exported frame to this width",
				},
				cli.BoolFlag{
					Name:  "upload",
					Usage: "upload the exported frame to the configured S3 bucket",
				},
			},
			Action: cmd.RenderFrame,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.New(app.Name).Errorf("%s: %v", app.Name, err)
		os.Exit(1)
	}
}
