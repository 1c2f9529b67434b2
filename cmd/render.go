package cmd

import (
	"context"
	"time"

	"github.com/achilleasa/vkrt/config"
	"github.com/achilleasa/vkrt/device/software"
	"github.com/achilleasa/vkrt/frame"
	"github.com/achilleasa/vkrt/renderer"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Collect the render flags.
func renderFlags(ctx *cli.Context) config.Flags {
	return config.Flags{
		ConfigFile:     ctx.String("config"),
		Device:         ctx.String("device"),
		Width:          uint32(ctx.Uint("width")),
		Height:         uint32(ctx.Uint("height")),
		Frames:         uint32(ctx.Uint("frames")),
		FramesInFlight: uint32(ctx.Uint("frames-in-flight")),
		Out:            ctx.String("out"),
		Scale:          ctx.Uint("scale"),
		Upload:         ctx.Bool("upload"),
		Scene:          ctx.Args().First(),
	}
}

// Render the scene and export the last presented frame.
func RenderFrame(ctx *cli.Context) error {
	if ctx.NArg() > 1 {
		return errors.New("render expects at most one scene file argument")
	}
	cfg, err := config.FromSources(renderFlags(ctx), ctx.String("env"))
	if err != nil {
		return err
	}
	if err = setupLogging(ctx, cfg.LogLevel); err != nil {
		return err
	}

	sc, err := loadScene(cfg.Scene)
	if err != nil {
		return err
	}

	dev, err := software.NewByName(cfg.Device)
	if err != nil {
		return err
	}
	defer dev.Close()
	logger.Noticef(`using device "%s"`, dev.Info().Name)

	r, err := renderer.NewContext(context.Background(), dev, sc, renderer.Options{
		FrameW:         cfg.Width,
		FrameH:         cfg.Height,
		Frames:         cfg.Frames,
		FramesInFlight: cfg.FramesInFlight,
		Orbit:          cfg.Orbit,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	swapchain, err := software.NewSwapchain(dev, cfg.Width, cfg.Height, cfg.SwapchainImages)
	if err != nil {
		return err
	}
	defer swapchain.Release()

	logger.Noticef("rendering %d frame(s) at %dx%d", cfg.Frames, cfg.Width, cfg.Height)
	if err = r.Render(context.Background(), swapchain); err != nil {
		return err
	}
	logger.Noticef("frame statistics\n%s", r.Stats().String())

	// Export
	start := time.Now()
	enc, err := frame.EncodeForPath(swapchain.LastFrame(), cfg.Out, cfg.Scale)
	if err != nil {
		return err
	}
	if err = enc.WriteFile(cfg.Out); err != nil {
		return err
	}
	logger.Noticef("wrote %dx%d %s frame to %s in %d ms", enc.Width, enc.Height, enc.Format, cfg.Out, time.Since(start).Nanoseconds()/1000000)

	if !cfg.Upload.Enabled {
		return nil
	}
	up, err := frame.NewS3Uploader(frame.S3Options{
		Bucket:    cfg.Upload.Bucket,
		Endpoint:  cfg.Upload.Endpoint,
		Region:    cfg.Upload.Region,
		AccessKey: cfg.Upload.AccessKey,
		SecretKey: cfg.Upload.SecretKey,
		ACL:       cfg.Upload.ACL,
	})
	if err != nil {
		return err
	}
	return up.Upload(context.Background(), enc, cfg.UploadKey())
}
