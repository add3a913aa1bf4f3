// Package cmdutil provides the small pieces of CLI scaffolding every
// cmd/* binary in this repository shares: a global log-level/color flag
// set, a console logger built from them, and a generic cliconfig.Loader
// wrapper.
package cmdutil

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/kcls/osrfgo/cliconfig"
	"github.com/kcls/osrfgo/logger"
)

// GlobalConfig holds the flags every binary in this repository accepts,
// meant to be embedded in each binary's own Config struct.
type GlobalConfig struct {
	Debug    bool   `cli:"debug"`
	LogLevel string `cli:"log-level"`
	NoColor  bool   `cli:"no-color"`
}

// GlobalFlags returns the urfave/cli flags backing GlobalConfig.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		cli.BoolFlag{
			Name:   "debug",
			Usage:  "Enable debug logging (synonym for --log-level debug)",
			EnvVar: "OSRFGO_DEBUG",
		},
		cli.StringFlag{
			Name:   "log-level",
			Value:  "notice",
			Usage:  "Set the log level: debug, info, notice, warn, error, fatal",
			EnvVar: "OSRFGO_LOG_LEVEL",
		},
		cli.BoolFlag{
			Name:   "no-color",
			Usage:  "Disable colored log output",
			EnvVar: "OSRFGO_NO_COLOR",
		},
	}
}

// CreateLogger builds a console logger from a GlobalConfig. There is no
// JSON-printer branch: none of these binaries need it, since text is what
// operators tail.
func CreateLogger(g GlobalConfig) logger.Logger {
	printer := logger.NewTextPrinter(os.Stderr)
	printer.Colors = !g.NoColor

	l := logger.NewConsoleLogger(printer, os.Exit)
	l.SetLevel(logger.NOTICE)

	if g.LogLevel != "" {
		level, err := logger.LevelFromString(g.LogLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "osrfgo: %v\n", err)
		} else {
			l.SetLevel(level)
		}
	}
	if g.Debug {
		l.SetLevel(logger.DEBUG)
	}
	return l
}

// LoadConfig populates a fresh T from c's flags/environment via
// cliconfig.Loader, returning any non-fatal warnings alongside the config.
func LoadConfig[T any](c *cli.Context) (cfg T, warnings []string, err error) {
	loader := cliconfig.Loader{CLI: c, Config: &cfg}
	warnings, err = loader.Load()
	return cfg, warnings, err
}
