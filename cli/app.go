// Package cli contains the thermalign command line.
package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
)

// Flags.
const (
	flagConfig       = "config"
	flagDebug        = "debug"
	flagForce        = "force"
	flagScale        = "scale"
	flagObservations = "observations"
	flagOutput       = "output"
	flagMinDepth     = "min-depth"
	flagMaxDepth     = "max-depth"
	flagMarker       = "marker"
)

// NewApp returns the thermalign CLI with Writer set to out and ErrWriter set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "thermalign",
		Usage:           "register thermal images onto visible light reconstructions",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "calibrate",
				Usage: "calibrate both cameras and cache the transfer operator",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagForce,
						Usage: "recalibrate even if a cached operator exists",
					},
				},
				Action: CalibrateAction,
			},
			{
				Name:  "estimate",
				Usage: "estimate the depth scale of every view and aggregate",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagOutput,
						Usage: "write the per view observations as JSON to `FILE`",
					},
				},
				Action: EstimateAction,
			},
			{
				Name:  "register",
				Usage: "composite the thermal image onto every view at a fixed scale",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  flagScale,
						Usage: "depth scale; overrides the configured scale",
					},
					&cli.StringFlag{
						Name:  flagObservations,
						Usage: "aggregate the scale from observations written by estimate to `FILE`",
					},
				},
				Action: RegisterAction,
			},
			{
				Name:   "run",
				Usage:  "calibrate, estimate and register in one go",
				Action: RunAction,
			},
			{
				Name:      "depth",
				Usage:     "render a depth container as a colorized image",
				ArgsUsage: "<depth-file> <image-file>",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  flagMinDepth,
						Usage: "clamp depth below this value",
						Value: 0,
					},
					&cli.Float64Flag{
						Name:  flagMaxDepth,
						Usage: "clamp depth above this value",
						Value: 1e9,
					},
				},
				Action: DepthAction,
			},
			{
				Name:  "copy-thermal",
				Usage: "copy thermal shots, oldest first, into the scene views",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagMarker,
						Usage: "only copy into views containing this file",
						Value: "original.jpg",
					},
				},
				Action: CopyThermalAction,
			},
		},
	}
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}
