package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	sessionload "github.com/skudasov/sessionload"
	"github.com/skudasov/sessionload/load"
)

func generatorConfig(c *cli.Context) (*sessionload.GeneratorConfig, error) {
	return sessionload.LoadDefaultGeneratorConfig(c.String("gen_config"))
}

func main() {
	app := &cli.App{
		Name:  "loadcli",
		Usage: "session store load generator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gen_config",
				Value: "generator.yaml",
				Usage: "generator config filepath",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Aliases:   []string{"r"},
				Usage:     "run load test suite",
				ArgsUsage: "<suite.yaml>",
				Action: func(c *cli.Context) error {
					suiteCfg := c.Args().Get(0)
					if suiteCfg == "" {
						return cli.Exit("path to load suite config must be specified", 1)
					}
					lm, err := sessionload.RunSuiteFromFiles(context.Background(), sessionload.SuiteOptions{
						SuiteConfigPath:     suiteCfg,
						GeneratorConfigPath: c.String("gen_config"),
						Factory:             load.AttackerFromName,
						ChecksFactory:       load.CheckFromName,
					})
					if err != nil {
						return cli.Exit(err, 1)
					}
					if lm.Failed || lm.Degradation {
						return cli.Exit(fmt.Sprintf("suite failed: errors: %t, degradation: %t", lm.Failed, lm.Degradation), 1)
					}
					return nil
				},
			},
			{
				Name:      "test",
				Aliases:   []string{"t"},
				Usage:     "perform a few calls of a handle and print results",
				ArgsUsage: "<handle>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "count",
						Aliases: []string{"n"},
						Value:   1,
						Usage:   "amount of calls",
					},
				},
				Action: func(c *cli.Context) error {
					handle := c.Args().Get(0)
					if handle == "" {
						handle = load.SessionLabel
					}
					cfg, err := generatorConfig(c)
					if err != nil {
						return cli.Exit(err, 1)
					}
					results, err := sessionload.TestHandle(context.Background(), cfg, load.AttackerFromName, handle, c.Int("count"))
					if err != nil {
						return cli.Exit(err, 1)
					}
					for _, r := range results {
						fmt.Printf("%s status: %d, bytes: %d, error: %v\n", r.RequestLabel, r.StatusCode, r.BytesIn, r.Error)
					}
					return nil
				},
			},
			{
				Name:      "summary",
				Aliases:   []string{"s"},
				Usage:     "print summary table of a stored report",
				ArgsUsage: "<report.json>",
				Action: func(c *cli.Context) error {
					path := c.Args().Get(0)
					if path == "" {
						return cli.Exit("path to report must be specified", 1)
					}
					rep, err := sessionload.LoadReport(path)
					if err != nil {
						return cli.Exit(err, 1)
					}
					return sessionload.PrintSummary(os.Stdout, rep)
				},
			},
			{
				Name:      "chart",
				Usage:     "render latency chart of a stored report",
				ArgsUsage: "<report.json> <out.png>",
				Action: func(c *cli.Context) error {
					in, out := c.Args().Get(0), c.Args().Get(1)
					if in == "" || out == "" {
						return cli.Exit("usage: provide report file and png name, ex: session-1600000000.json latency.png", 1)
					}
					if err := sessionload.WriteLatencyChart(in, out); err != nil {
						return cli.Exit(err, 1)
					}
					return nil
				},
			},
			{
				Name:      "init",
				Aliases:   []string{"i"},
				Usage:     "write a default suite config for the session handle",
				ArgsUsage: "<suite.yaml>",
				Action: func(c *cli.Context) error {
					path := c.Args().Get(0)
					if path == "" {
						path = "suite.yaml"
					}
					return sessionload.WriteSuiteConfig(path, sessionload.DefaultSuiteConfig(load.SessionLabel))
				},
			},
			{
				Name:      "new",
				Aliases:   []string{"n"},
				Usage:     "generates code for a new handle",
				ArgsUsage: "<snake_case_label>",
				Action: func(c *cli.Context) error {
					label := c.Args().Get(0)
					if label == "" {
						return cli.Exit("label must not be empty, prefer snake_case labels", 1)
					}
					cfg, err := generatorConfig(c)
					if err != nil {
						return cli.Exit(err, 1)
					}
					return sessionload.GenerateNewTestCommand(cfg.LoadScriptsDir, label)
				},
			},
			{
				Name:      "build",
				Aliases:   []string{"b"},
				Usage:     "build load test for specified platform",
				ArgsUsage: "<linux|darwin>",
				Action: func(c *cli.Context) error {
					cfg, err := generatorConfig(c)
					if err != nil {
						return cli.Exit(err, 1)
					}
					return sessionload.BuildSuiteCommand(cfg.LoadScriptsDir, c.Args().Get(0))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		sessionload.L().Fatal(err)
	}
}
