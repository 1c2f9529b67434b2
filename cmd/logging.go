package cmd

import (
	"github.com/achilleasa/vkrt/log"
	"github.com/urfave/cli"
)

var logger = log.New("vkrt")

// Apply the -v/-vv flags. When neither is set, level (if not empty) is
// used instead.
func setupLogging(ctx *cli.Context, level string) error {
	switch {
	case ctx.GlobalBool("vv"):
		log.SetLevel(log.Debug)
	case ctx.GlobalBool("v"):
		log.SetLevel(log.Info)
	case level != "":
		lvl, err := log.ParseLevel(level)
		if err != nil {
			return err
		}
		log.SetLevel(lvl)
	}
	return nil
}
