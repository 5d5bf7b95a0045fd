// Command coursetrack serves and inspects course progress for the Python
// course site.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Impulse-Zero/python.github.io/internal/logger"
)

// init initializes the logger with default values
func init() {
	logger.Setup(logger.Config{
		Level:      "info",
		Format:     logger.FormatJSON,
		TimeFormat: time.RFC3339,
	})
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "coursetrack",
		Usage:   "Track lesson progress for the Python course site",
		Version: fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "Storage profile to read and write",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API for page sessions",
				Action: serve,
			},
			{
				Name:   "status",
				Usage:  "Show completion percentages, streak and study time",
				Action: status,
			},
			{
				Name:  "complete",
				Usage: "Complete the lesson at a page URL",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "url",
						Usage:    "Lesson page `URL`, e.g. /courses/basics/lesson3.html",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "score",
						Usage: "Score between 0 and 100",
						Value: 100,
					},
					&cli.StringFlag{
						Name:  "type",
						Usage: "Completion type (manual, exercise, ...)",
						Value: "manual",
					},
				},
				Action: complete,
			},
			{
				Name:      "theme",
				Usage:     "Show the stored color theme",
				ArgsUsage: "[toggle]",
				Action:    theme,
			},
			{
				Name:  "api",
				Usage: "Send a request to the course API",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "GET an endpoint",
						ArgsUsage: "ENDPOINT",
						Action:    apiRequest("GET"),
					},
					{
						Name:      "post",
						Usage:     "POST JSON to an endpoint",
						ArgsUsage: "ENDPOINT",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "data",
								Usage: "JSON request body",
								Value: "{}",
							},
						},
						Action: apiRequest("POST"),
					},
				},
			},
			{
				Name:  "config",
				Usage: "Manage the configuration file",
				Subcommands: []*cli.Command{
					{
						Name:      "init",
						Usage:     "Write a configuration file with the defaults",
						ArgsUsage: "PATH",
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "force",
								Usage: "Overwrite an existing file",
							},
						},
						Action: configInit,
					},
				},
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// Use the logger to ensure consistent format
		logger.Get().Error("Error running application", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}
