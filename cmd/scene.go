package cmd

import (
	"context"

	"github.com/achilleasa/vkrt/device/software"
	"github.com/achilleasa/vkrt/renderer"
	"github.com/achilleasa/vkrt/scene"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Load the scene named by the first argument or the reference scene when no
// argument is given.
func loadScene(path string) (*scene.Scene, error) {
	if path == "" {
		logger.Notice("no scene file given; using the reference scene")
		return scene.Reference(), nil
	}
	return scene.Load(path)
}

// Build the acceleration structures and SBT of a scene and display them.
func InspectScene(ctx *cli.Context) error {
	if err := setupLogging(ctx, ""); err != nil {
		return err
	}
	if ctx.NArg() > 1 {
		return errors.New("inspect expects at most one scene file argument")
	}

	sc, err := loadScene(ctx.Args().First())
	if err != nil {
		return err
	}

	dev, err := software.NewByName(ctx.String("device"))
	if err != nil {
		return err
	}
	defer dev.Close()

	r, err := renderer.NewContext(context.Background(), dev, sc, renderer.Options{FrameW: 1, FrameH: 1, Frames: 1})
	if err != nil {
		return err
	}
	defer r.Close()

	summary, err := r.Summary()
	if err != nil {
		return err
	}
	logger.Noticef("scene information (%s):\n%s", dev.Info().Name, summary)
	return nil
}
